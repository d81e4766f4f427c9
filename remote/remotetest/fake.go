// Package remotetest provides in-memory fakes for the remote collaborators.
// Tests script failures and block in-flight calls through exported hooks
// instead of spinning up real backends.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// Store is an in-memory remote.Store. Seeded rows are filtered, ordered and
// paginated the way a real driver would, so executor and mutation tests can
// assert on row-level behavior.
type Store struct {
	mu     sync.Mutex
	tables map[query.TableID][]remote.Record
	nextID int

	queryCalls  int
	insertCalls int
	updateCalls int
	deleteCalls int

	// Error queues: each call shifts one entry; a nil entry means success.
	QueryErrs  []error
	InsertErrs []error
	UpdateErrs []error
	DeleteErrs []error

	// QueryGate, when non-nil, is consulted with the 1-based call index.
	// A non-nil channel blocks the query until it is closed (or the call's
	// context is done), which is how tests hold a fetch in flight.
	QueryGate func(call int) <-chan struct{}

	// InsertGate is the Insert-side counterpart of QueryGate, used to hold
	// a mutation in flight while its optimistic window is inspected.
	InsertGate func(call int) <-chan struct{}

	// IgnoreCancel makes gated calls run to completion even when their
	// context is cancelled while they wait, modeling a response that was
	// already on the wire when the caller gave up.
	IgnoreCancel bool
}

// NewStore returns an empty fake store.
func NewStore() *Store {
	return &Store{tables: make(map[query.TableID][]remote.Record)}
}

// Seed adds rows to a table verbatim.
func (s *Store) Seed(table query.TableID, rows ...remote.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], r.Clone())
	}
}

// Rows returns a copy of the table's current contents.
func (s *Store) Rows(table query.TableID) []remote.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]remote.Record, len(s.tables[table]))
	for i, r := range s.tables[table] {
		rows[i] = r.Clone()
	}
	return rows
}

// QueryCalls reports how many Query calls reached the store.
func (s *Store) QueryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalls
}

// InsertCalls reports how many Insert calls reached the store.
func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

// UpdateCalls reports how many Update calls reached the store.
func (s *Store) UpdateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls
}

// DeleteCalls reports how many Delete calls reached the store.
func (s *Store) DeleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteCalls
}

func shiftErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, d query.Descriptor) (remote.Result, error) {
	s.mu.Lock()
	s.queryCalls++
	call := s.queryCalls
	err := shiftErr(&s.QueryErrs)
	gate := s.QueryGate
	ignoreCancel := s.IgnoreCancel
	s.mu.Unlock()

	if gate != nil {
		if ch := gate(call); ch != nil {
			if ignoreCancel {
				<-ch
			} else {
				select {
				case <-ch:
				case <-ctx.Done():
					return remote.Result{}, ctx.Err()
				}
			}
		}
	}
	if err != nil {
		return remote.Result{}, err
	}
	if !ignoreCancel && ctx.Err() != nil {
		return remote.Result{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []remote.Record
	for _, r := range s.tables[d.Table()] {
		if matches(r, d.Filters()) {
			matched = append(matched, r.Clone())
		}
	}
	orderRows(matched, d.Orderings())

	total := len(matched)
	if off, ok := d.OffsetValue(); ok {
		if off >= len(matched) {
			matched = nil
		} else {
			matched = matched[off:]
		}
	}
	if lim, ok := d.LimitValue(); ok && lim < len(matched) {
		matched = matched[:lim]
	}

	return remote.Result{Rows: matched, TotalCount: total}, nil
}

// Insert implements remote.Store. Server-generated fields (id) are assigned
// here, mirroring a real store being authoritative for them.
func (s *Store) Insert(ctx context.Context, table query.TableID, payload remote.Record) (remote.Record, error) {
	s.mu.Lock()
	s.insertCalls++
	call := s.insertCalls
	gate := s.InsertGate
	s.mu.Unlock()

	if gate != nil {
		if ch := gate(call); ch != nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := shiftErr(&s.InsertErrs); err != nil {
		return nil, err
	}

	rec := payload.Clone()
	if _, ok := rec.ID(); !ok {
		s.nextID++
		rec["id"] = fmt.Sprintf("srv-%d", s.nextID)
	}
	s.tables[table] = append(s.tables[table], rec)
	return rec.Clone(), nil
}

// Update implements remote.Store. The target row must match id and every
// scope filter; a row outside the scope is reported as not found.
func (s *Store) Update(_ context.Context, table query.TableID, id string, payload remote.Record, scope []query.Filter) (remote.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if err := shiftErr(&s.UpdateErrs); err != nil {
		return nil, err
	}

	for i, r := range s.tables[table] {
		if rid, _ := r.ID(); rid == id && matches(r, scope) {
			merged := r.Merge(payload)
			s.tables[table][i] = merged
			return merged.Clone(), nil
		}
	}
	return nil, remote.NewError(remote.KindNotFound, fmt.Sprintf("%s/%s", table, id))
}

// Delete implements remote.Store. Scope filters constrain the target the
// same way they do for Update.
func (s *Store) Delete(_ context.Context, table query.TableID, id string, scope []query.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if err := shiftErr(&s.DeleteErrs); err != nil {
		return err
	}

	rows := s.tables[table]
	for i, r := range rows {
		if rid, _ := r.ID(); rid == id && matches(r, scope) {
			s.tables[table] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return remote.NewError(remote.KindNotFound, fmt.Sprintf("%s/%s", table, id))
}

func matches(r remote.Record, filters []query.Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case query.OpEq:
			if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", f.Value) {
				return false
			}
		case query.OpLike:
			if !strings.Contains(fmt.Sprintf("%v", v), fmt.Sprintf("%v", f.Value)) {
				return false
			}
		case query.OpGte:
			if toFloat(v) < toFloat(f.Value) {
				return false
			}
		case query.OpLte:
			if toFloat(v) > toFloat(f.Value) {
				return false
			}
		case query.OpIn:
			if !containsValue(f.Value, v) {
				return false
			}
		}
	}
	return true
}

func containsValue(set any, v any) bool {
	switch vs := set.(type) {
	case []string:
		for _, s := range vs {
			if s == fmt.Sprintf("%v", v) {
				return true
			}
		}
	case []any:
		for _, s := range vs {
			if fmt.Sprintf("%v", s) == fmt.Sprintf("%v", v) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func orderRows(rows []remote.Record, orderings []query.Ordering) {
	if len(orderings) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderings {
			a := fmt.Sprintf("%v", rows[i][o.Field])
			b := fmt.Sprintf("%v", rows[j][o.Field])
			if a == b {
				continue
			}
			if o.Dir == query.Desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}
