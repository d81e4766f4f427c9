package datasync

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/goliatone/go-tenant-sync/cache"
	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
	"github.com/goliatone/go-tenant-sync/retry"
)

// optimisticIDPrefix marks synthesized ids on optimistically inserted rows
// until the server-confirmed record replaces them.
const optimisticIDPrefix = "optimistic-"

// Manager is the central write path: optimistic cache update, remote commit
// through the retry policy, rollback on failure, and table-pattern
// invalidation on success. The UI reflects a mutation before the network
// round-trip completes and never sees an unconfirmed state survive a failure.
type Manager struct {
	store  *cache.Store
	rem    remote.Store
	scope  query.Scope
	policy retry.Policy
	logger *slog.Logger
}

// NewManager wires the write path. A nil logger falls back to slog.Default.
func NewManager(cfg Config, store *cache.Store, rem remote.Store, scope query.Scope, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		rem:    rem,
		scope:  scope,
		policy: cfg.retryPolicy(),
		logger: logger,
	}
}

// Mutate applies one insert, update or delete. kind must be one of
// remote.EventInsert, remote.EventUpdate, remote.EventDelete. For updates and
// deletes, id names the target record; for inserts it is ignored.
//
// The returned record is the server-confirmed value (nil for deletes); the
// server stays authoritative for generated fields such as ids and timestamps.
func (m *Manager) Mutate(ctx context.Context, kind remote.EventKind, table query.TableID, id string, payload remote.Record) (remote.Record, error) {
	tbl, ok := m.scope.Registry().Lookup(table)
	if !ok {
		return nil, remote.NewError(remote.KindValidation, fmt.Sprintf("table %q is not registered", table))
	}
	if kind != remote.EventInsert && kind != remote.EventUpdate && kind != remote.EventDelete {
		return nil, remote.NewError(remote.KindValidation, "mutation kind must be insert, update or delete")
	}
	if kind != remote.EventInsert && id == "" {
		return nil, remote.NewError(remote.KindValidation, "update and delete require a record id")
	}

	payload = payload.Clone()
	if !tbl.Global && kind != remote.EventDelete {
		// Tenant injection mirrors read scoping: callers cannot write
		// into another tenant's partition.
		if payload == nil {
			payload = remote.Record{}
		}
		payload[query.TenantField] = string(m.scope.Tenant())
	}

	pattern := query.KeyPattern(table)
	snap := m.store.Snapshot(pattern)

	var oldQuantity float64
	var oldKnown bool
	if kind == remote.EventUpdate && tbl.QuantityField != "" {
		oldQuantity, oldKnown = cachedQuantity(snap, id, tbl.QuantityField)
	}

	optimisticID := id
	if kind == remote.EventInsert {
		optimisticID = optimisticIDPrefix + uuid.NewString()
	}
	m.applyOptimistic(snap, kind, optimisticID, payload)

	confirmed, err := m.commit(ctx, kind, tbl, id, payload)
	if err != nil {
		m.store.Restore(snap)
		return nil, err
	}

	m.confirm(pattern, kind, optimisticID, confirmed)
	m.store.Invalidate(pattern)

	if kind == remote.EventUpdate && tbl.QuantityField != "" {
		m.recordMovement(ctx, tbl, id, confirmed, oldQuantity, oldKnown)
	}

	return confirmed, nil
}

// applyOptimistic edits every pre-mutation cached result for the table so the
// UI reflects the change immediately. Edits are copy-on-write: the snapshot
// keeps the originals for rollback.
func (m *Manager) applyOptimistic(snap cache.Snapshot, kind remote.EventKind, id string, payload remote.Record) {
	for key := range snap {
		m.store.Update(key, func(data any) any {
			res, ok := data.(remote.Result)
			if !ok {
				return data
			}
			res = res.Clone()
			switch kind {
			case remote.EventInsert:
				rec := payload.Clone()
				rec["id"] = id
				res.Rows = append(res.Rows, rec)
				res.TotalCount++
			case remote.EventUpdate:
				for i, row := range res.Rows {
					if rid, _ := row.ID(); rid == id {
						res.Rows[i] = row.Merge(payload)
					}
				}
			case remote.EventDelete:
				for i, row := range res.Rows {
					if rid, _ := row.ID(); rid == id {
						res.Rows = append(res.Rows[:i:i], res.Rows[i+1:]...)
						res.TotalCount--
						break
					}
				}
			}
			return res
		})
	}
}

// commit performs the remote write. Updates and deletes carry the scope's
// predicates so the remote store refuses to touch a row outside the caller's
// tenant partition, mirroring the read-side scoping.
func (m *Manager) commit(ctx context.Context, kind remote.EventKind, tbl query.Table, id string, payload remote.Record) (remote.Record, error) {
	scope := m.scope.WriteFilters(tbl)
	return retry.Do(ctx, m.policy, func(ctx context.Context) (remote.Record, error) {
		switch kind {
		case remote.EventInsert:
			return m.rem.Insert(ctx, tbl.ID, payload)
		case remote.EventUpdate:
			return m.rem.Update(ctx, tbl.ID, id, payload, scope)
		default:
			return nil, m.rem.Delete(ctx, tbl.ID, id, scope)
		}
	})
}

// confirm swaps the optimistic row for the server record in every cached
// result before the pattern invalidation drops them, so a read racing the
// invalidation observes server truth rather than the optimistic merge.
func (m *Manager) confirm(pattern *regexp.Regexp, kind remote.EventKind, optimisticID string, confirmed remote.Record) {
	if confirmed == nil || kind == remote.EventDelete {
		return
	}
	for _, key := range m.store.Keys(pattern) {
		m.store.Update(key, func(data any) any {
			res, ok := data.(remote.Result)
			if !ok {
				return data
			}
			res = res.Clone()
			for i, row := range res.Rows {
				if rid, _ := row.ID(); rid == optimisticID {
					res.Rows[i] = confirmed.Clone()
				}
			}
			return res
		})
	}
}

// recordMovement issues the derived audit write for a quantity change. It is
// fire-and-forget by contract: failure is logged and never rolls back the
// primary mutation.
func (m *Manager) recordMovement(ctx context.Context, tbl query.Table, id string, confirmed remote.Record, oldQuantity float64, oldKnown bool) {
	if confirmed == nil {
		return
	}
	newQuantity, ok := numericField(confirmed, tbl.QuantityField)
	if !ok {
		return
	}
	if !oldKnown {
		m.logger.Debug("skipping movement record, previous quantity not cached",
			"table", tbl.ID, "record", id)
		return
	}
	delta := newQuantity - oldQuantity
	if delta == 0 {
		return
	}

	direction := "in"
	if delta < 0 {
		direction = "out"
	}
	movement := remote.Record{
		query.TenantField: string(m.scope.Tenant()),
		"record_id":       id,
		"delta":           delta,
		"direction":       direction,
	}

	_, err := retry.Do(ctx, m.policy, func(ctx context.Context) (remote.Record, error) {
		return m.rem.Insert(ctx, tbl.AuditTable, movement)
	})
	if err != nil {
		m.logger.Warn("movement record write failed",
			"table", tbl.ID, "audit_table", tbl.AuditTable, "record", id, "error", err)
	}
}

func cachedQuantity(snap cache.Snapshot, id, field string) (float64, bool) {
	for _, e := range snap {
		res, ok := e.Data.(remote.Result)
		if !ok {
			continue
		}
		for _, row := range res.Rows {
			if rid, _ := row.ID(); rid == id {
				if q, ok := numericField(row, field); ok {
					return q, true
				}
			}
		}
	}
	return 0, false
}

func numericField(r remote.Record, field string) (float64, bool) {
	switch n := r[field].(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
