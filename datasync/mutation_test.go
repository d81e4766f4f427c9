package datasync

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/goliatone/go-tenant-sync/cache"
	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
	"github.com/goliatone/go-tenant-sync/remote/remotetest"
)

func newTestManager(t *testing.T) (*Manager, *Executor, *remotetest.Store, *cache.Store) {
	t.Helper()
	rem := remotetest.NewStore()
	store := cache.New()
	scope := testScope(t, "t1")
	cfg := testConfig()
	mgr := NewManager(cfg, store, rem, scope, nil)
	exec := NewExecutor(cfg, store, rem, scope)
	return mgr, exec, rem, store
}

// prime populates the cache for a descriptor so mutations have entries to
// edit optimistically.
func prime(t *testing.T, exec *Executor, d query.Descriptor) remote.Result {
	t.Helper()
	res, err := exec.Fetch(context.Background(), d, FetchOptions{})
	if err != nil {
		t.Fatalf("prime Fetch() error: %v", err)
	}
	return res
}

func TestManager_InsertConfirmedByServer(t *testing.T) {
	mgr, exec, rem, _ := newTestManager(t)
	prime(t, exec, query.New("products"))

	rec, err := mgr.Mutate(context.Background(), remote.EventInsert, "products", "", remote.Record{
		"name": "widget",
	})
	if err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}

	id, ok := rec.ID()
	if !ok || strings.HasPrefix(id, "optimistic-") {
		t.Errorf("confirmed record should carry the server id, got %q", id)
	}
	if rec[query.TenantField] != "t1" {
		t.Errorf("tenant not injected: %+v", rec)
	}

	rows := rem.Rows("products")
	if len(rows) != 1 || rows[0]["name"] != "widget" {
		t.Errorf("remote rows: %+v", rows)
	}
}

func TestManager_InsertIsVisibleBeforeCommit(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	d := query.New("products")
	prime(t, exec, d)

	gate := make(chan struct{})
	rem.InsertGate = func(int) <-chan struct{} { return gate }

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Mutate(context.Background(), remote.EventInsert, "products", "", remote.Record{
			"name": "widget",
		})
		done <- err
	}()

	// While the remote insert is held in flight the cached result already
	// contains the optimistic row.
	scoped, err := testScope(t, "t1").Apply(d)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	waitFor(t, func() bool {
		v, ok := store.Get(scoped.CacheKey())
		if !ok {
			return false
		}
		res := v.(remote.Result)
		return len(res.Rows) == 1 && res.TotalCount == 1
	})

	v, _ := store.Get(scoped.CacheKey())
	row := v.(remote.Result).Rows[0]
	if id, _ := row.ID(); !strings.HasPrefix(id, "optimistic-") {
		t.Errorf("optimistic row id = %q, want optimistic- prefix", id)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}
}

func TestManager_InsertFailureRollsBackExactly(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	rem.Seed("products", remote.Record{"id": "p1", "tenant_id": "t1", "name": "existing"})
	d := query.New("products")
	prime(t, exec, d)

	pattern := query.KeyPattern("products")
	before := store.Snapshot(pattern)

	rem.InsertErrs = []error{remote.ValidationError("rejected", map[string]string{"name": "taken"})}

	_, err := mgr.Mutate(context.Background(), remote.EventInsert, "products", "", remote.Record{
		"name": "dup",
	})
	if remote.KindOf(err) != remote.KindValidation {
		t.Fatalf("Mutate() error = %v, want validation", err)
	}

	after := store.Snapshot(pattern)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("rollback is not exact:\nbefore: %#v\nafter:  %#v", before, after)
	}
}

func TestManager_ConflictRemovesOptimisticRow(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	d := query.New("products")
	prime(t, exec, d)

	rem.InsertErrs = []error{remote.NewError(remote.KindConflict, "duplicate sku")}

	_, err := mgr.Mutate(context.Background(), remote.EventInsert, "products", "", remote.Record{
		"sku": "X-1",
	})
	if remote.KindOf(err) != remote.KindConflict {
		t.Fatalf("Mutate() error = %v, want conflict", err)
	}

	scoped, aerr := testScope(t, "t1").Apply(d)
	if aerr != nil {
		t.Fatalf("Apply() error: %v", aerr)
	}
	v, ok := store.Get(scoped.CacheKey())
	if !ok {
		t.Fatal("cache entry lost on rollback")
	}
	res := v.(remote.Result)
	if len(res.Rows) != 0 || res.TotalCount != 0 {
		t.Errorf("optimistic row survived the conflict: %+v", res)
	}
}

func TestManager_UpdateInvalidatesTablePattern(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	rem.Seed("orders",
		remote.Record{"id": "o1", "tenant_id": "t1", "status": "open"},
	)
	rem.Seed("plans", remote.Record{"id": "pl1", "name": "basic"})

	prime(t, exec, query.New("orders"))
	prime(t, exec, query.New("orders").Where("status", query.OpEq, "open"))
	prime(t, exec, query.New("plans"))

	if _, err := mgr.Mutate(context.Background(), remote.EventUpdate, "orders", "o1", remote.Record{
		"status": "shipped",
	}); err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}

	if n := len(store.Keys(query.KeyPattern("orders"))); n != 0 {
		t.Errorf("%d orders entries survived the invalidation", n)
	}
	if n := len(store.Keys(query.KeyPattern("plans"))); n != 1 {
		t.Errorf("unrelated table was invalidated, %d plans entries left", n)
	}

	rows := rem.Rows("orders")
	if rows[0]["status"] != "shipped" {
		t.Errorf("remote row not updated: %+v", rows[0])
	}
}

func TestManager_UpdateFailureRollsBack(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	rem.Seed("orders", remote.Record{"id": "o1", "tenant_id": "t1", "status": "open"})
	d := query.New("orders")
	prime(t, exec, d)

	pattern := query.KeyPattern("orders")
	before := store.Snapshot(pattern)

	rem.UpdateErrs = []error{remote.NewError(remote.KindPermission, "forbidden")}

	_, err := mgr.Mutate(context.Background(), remote.EventUpdate, "orders", "o1", remote.Record{
		"status": "shipped",
	})
	if remote.KindOf(err) != remote.KindPermission {
		t.Fatalf("Mutate() error = %v, want permission", err)
	}

	if after := store.Snapshot(pattern); !reflect.DeepEqual(before, after) {
		t.Errorf("rollback is not exact")
	}
}

func TestManager_DeleteFailureRollsBack(t *testing.T) {
	mgr, exec, rem, store := newTestManager(t)
	rem.Seed("orders", remote.Record{"id": "o1", "tenant_id": "t1", "status": "open"})
	d := query.New("orders")
	prime(t, exec, d)

	pattern := query.KeyPattern("orders")
	before := store.Snapshot(pattern)

	rem.DeleteErrs = []error{remote.NewError(remote.KindNotFound, "gone")}

	_, err := mgr.Mutate(context.Background(), remote.EventDelete, "orders", "o1", nil)
	if remote.KindOf(err) != remote.KindNotFound {
		t.Fatalf("Mutate() error = %v, want not_found", err)
	}

	if after := store.Snapshot(pattern); !reflect.DeepEqual(before, after) {
		t.Errorf("rollback is not exact")
	}
}

func TestManager_Delete(t *testing.T) {
	mgr, _, rem, _ := newTestManager(t)
	rem.Seed("orders", remote.Record{"id": "o1", "tenant_id": "t1"})

	rec, err := mgr.Mutate(context.Background(), remote.EventDelete, "orders", "o1", nil)
	if err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}
	if rec != nil {
		t.Errorf("delete should return no record, got %+v", rec)
	}
	if rows := rem.Rows("orders"); len(rows) != 0 {
		t.Errorf("remote rows after delete: %+v", rows)
	}
}

func TestManager_CrossTenantUpdateRejected(t *testing.T) {
	mgr, _, rem, _ := newTestManager(t)
	rem.Seed("orders", remote.Record{"id": "o-b", "tenant_id": "t2", "status": "open"})

	_, err := mgr.Mutate(context.Background(), remote.EventUpdate, "orders", "o-b", remote.Record{
		"status": "shipped",
	})
	if remote.KindOf(err) != remote.KindNotFound {
		t.Fatalf("Mutate() error = %v, want not_found for another tenant's record", err)
	}

	rows := rem.Rows("orders")
	if len(rows) != 1 || rows[0]["status"] != "open" || rows[0]["tenant_id"] != "t2" {
		t.Errorf("foreign tenant's row was touched: %+v", rows)
	}
}

func TestManager_CrossTenantDeleteRejected(t *testing.T) {
	mgr, _, rem, _ := newTestManager(t)
	rem.Seed("orders", remote.Record{"id": "o-b", "tenant_id": "t2", "status": "open"})

	_, err := mgr.Mutate(context.Background(), remote.EventDelete, "orders", "o-b", nil)
	if remote.KindOf(err) != remote.KindNotFound {
		t.Fatalf("Mutate() error = %v, want not_found for another tenant's record", err)
	}

	if rows := rem.Rows("orders"); len(rows) != 1 {
		t.Errorf("foreign tenant's row was deleted: %+v", rows)
	}
}

func TestManager_QuantityUpdateRecordsMovement(t *testing.T) {
	mgr, exec, rem, _ := newTestManager(t)
	rem.Seed("products", remote.Record{"id": "p1", "tenant_id": "t1", "name": "widget", "stock_quantity": 10})
	prime(t, exec, query.New("products"))

	if _, err := mgr.Mutate(context.Background(), remote.EventUpdate, "products", "p1", remote.Record{
		"stock_quantity": 7,
	}); err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}

	movements := rem.Rows("stock_movements")
	if len(movements) != 1 {
		t.Fatalf("got %d movements, want 1: %+v", len(movements), movements)
	}
	mv := movements[0]
	if mv["record_id"] != "p1" || mv["direction"] != "out" {
		t.Errorf("movement: %+v", mv)
	}
	if delta, ok := mv["delta"].(float64); !ok || delta != -3 {
		t.Errorf("delta = %v, want -3", mv["delta"])
	}
	if mv[query.TenantField] != "t1" {
		t.Errorf("movement missing tenant: %+v", mv)
	}
}

func TestManager_QuantityIncreaseRecordsInbound(t *testing.T) {
	mgr, exec, rem, _ := newTestManager(t)
	rem.Seed("products", remote.Record{"id": "p1", "tenant_id": "t1", "stock_quantity": 2})
	prime(t, exec, query.New("products"))

	if _, err := mgr.Mutate(context.Background(), remote.EventUpdate, "products", "p1", remote.Record{
		"stock_quantity": 12,
	}); err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}

	movements := rem.Rows("stock_movements")
	if len(movements) != 1 || movements[0]["direction"] != "in" {
		t.Fatalf("movements: %+v", movements)
	}
	if delta, _ := movements[0]["delta"].(float64); delta != 10 {
		t.Errorf("delta = %v, want 10", movements[0]["delta"])
	}
}

func TestManager_MovementSkippedWhenPreviousQuantityUnknown(t *testing.T) {
	mgr, _, rem, _ := newTestManager(t)
	rem.Seed("products", remote.Record{"id": "p1", "tenant_id": "t1", "stock_quantity": 10})

	// Nothing cached: there is no trustworthy previous quantity to diff
	// against, so no movement is derived.
	if _, err := mgr.Mutate(context.Background(), remote.EventUpdate, "products", "p1", remote.Record{
		"stock_quantity": 7,
	}); err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}

	if movements := rem.Rows("stock_movements"); len(movements) != 0 {
		t.Errorf("unexpected movements: %+v", movements)
	}
}

func TestManager_MovementFailureDoesNotFailMutation(t *testing.T) {
	mgr, exec, rem, _ := newTestManager(t)
	rem.Seed("products", remote.Record{"id": "p1", "tenant_id": "t1", "stock_quantity": 10})
	prime(t, exec, query.New("products"))

	rem.InsertErrs = []error{remote.NewError(remote.KindValidation, "audit rejected")}

	rec, err := mgr.Mutate(context.Background(), remote.EventUpdate, "products", "p1", remote.Record{
		"stock_quantity": 4,
	})
	if err != nil {
		t.Fatalf("Mutate() should survive an audit write failure, got %v", err)
	}
	if q, _ := rec["stock_quantity"].(int); q != 4 {
		t.Errorf("primary update lost: %+v", rec)
	}
	if movements := rem.Rows("stock_movements"); len(movements) != 0 {
		t.Errorf("failed audit write left rows: %+v", movements)
	}
}

func TestManager_GlobalTableSkipsTenantInjection(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	rec, err := mgr.Mutate(context.Background(), remote.EventInsert, "plans", "", remote.Record{
		"name": "premium",
	})
	if err != nil {
		t.Fatalf("Mutate() error: %v", err)
	}
	if _, ok := rec[query.TenantField]; ok {
		t.Errorf("global table got a tenant column: %+v", rec)
	}
}

func TestManager_Validation(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	tests := []struct {
		name  string
		kind  remote.EventKind
		table query.TableID
		id    string
	}{
		{"unregistered table", remote.EventInsert, "unknown", ""},
		{"wildcard kind", remote.EventAny, "products", "p1"},
		{"update without id", remote.EventUpdate, "products", ""},
		{"delete without id", remote.EventDelete, "products", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Mutate(context.Background(), tt.kind, tt.table, tt.id, remote.Record{"x": 1})
			if remote.KindOf(err) != remote.KindValidation {
				t.Errorf("Mutate() error = %v, want validation", err)
			}
		})
	}
}
