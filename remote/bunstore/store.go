// Package bunstore implements the remote store contract over a SQL database
// through uptrace/bun. It translates descriptors mechanically; tenant scoping
// has already happened upstream and no policy is added here.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenant-sync/query"
	"github.com/goliatone/go-tenant-sync/remote"
)

// Store is a bun-backed remote.Store.
type Store struct {
	db *bun.DB
}

// New wraps a bun database handle.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, d query.Descriptor) (remote.Result, error) {
	q := s.db.NewSelect().Table(string(d.Table()))

	for _, f := range d.Filters() {
		cond, args := filterWhere(f)
		q = q.Where(cond, args...)
	}

	for _, o := range d.Orderings() {
		if o.Dir == query.Desc {
			q = q.OrderExpr("? DESC", bun.Ident(o.Field))
		} else {
			q = q.OrderExpr("? ASC", bun.Ident(o.Field))
		}
	}

	if lim, ok := d.LimitValue(); ok {
		q = q.Limit(lim)
	}
	if off, ok := d.OffsetValue(); ok {
		q = q.Offset(off)
	}

	var rows []map[string]interface{}
	total, err := q.ScanAndCount(ctx, &rows)
	if err != nil {
		return remote.Result{}, classify(err, "query "+string(d.Table()))
	}

	out := make([]remote.Record, len(rows))
	for i, row := range rows {
		out[i] = toRecord(row)
	}
	return remote.Result{Rows: out, TotalCount: total}, nil
}

// Insert implements remote.Store. Records without an id get a generated one;
// the stored row is read back so the caller sees database defaults.
func (s *Store) Insert(ctx context.Context, table query.TableID, payload remote.Record) (remote.Record, error) {
	rec := payload.Clone()
	if rec == nil {
		rec = remote.Record{}
	}
	id, ok := rec.ID()
	if !ok || id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}

	values := map[string]interface{}(rec)
	if _, err := s.db.NewInsert().Model(&values).Table(string(table)).Exec(ctx); err != nil {
		return nil, classify(err, "insert into "+string(table))
	}

	return s.fetchByID(ctx, table, id)
}

// Update implements remote.Store. Scope filters join the id in the WHERE
// clause, so a row outside the caller's tenant partition is never touched and
// surfaces as not found.
func (s *Store) Update(ctx context.Context, table query.TableID, id string, payload remote.Record, scope []query.Filter) (remote.Record, error) {
	q := s.db.NewUpdate().Table(string(table)).Where("id = ?", id)
	for _, f := range scope {
		cond, args := filterWhere(f)
		q = q.Where(cond, args...)
	}
	for k, v := range payload {
		if k == "id" {
			continue
		}
		q = q.Set("? = ?", bun.Ident(k), v)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, classify(err, "update "+string(table))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, remote.NewError(remote.KindNotFound, fmt.Sprintf("%s/%s", table, id))
	}

	return s.fetchByID(ctx, table, id)
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, table query.TableID, id string, scope []query.Filter) error {
	q := s.db.NewDelete().Table(string(table)).Where("id = ?", id)
	for _, f := range scope {
		cond, args := filterWhere(f)
		q = q.Where(cond, args...)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return classify(err, "delete from "+string(table))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return remote.NewError(remote.KindNotFound, fmt.Sprintf("%s/%s", table, id))
	}
	return nil
}

func (s *Store) fetchByID(ctx context.Context, table query.TableID, id string) (remote.Record, error) {
	var row map[string]interface{}
	err := s.db.NewSelect().Table(string(table)).Where("id = ?", id).Limit(1).Scan(ctx, &row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.NewError(remote.KindNotFound, fmt.Sprintf("%s/%s", table, id))
		}
		return nil, classify(err, "select from "+string(table))
	}
	return toRecord(row), nil
}

// filterWhere translates one filter predicate into a bun WHERE fragment.
func filterWhere(f query.Filter) (string, []interface{}) {
	switch f.Op {
	case query.OpLike:
		return "? LIKE ?", []interface{}{bun.Ident(f.Field), "%" + fmt.Sprintf("%v", f.Value) + "%"}
	case query.OpGte:
		return "? >= ?", []interface{}{bun.Ident(f.Field), f.Value}
	case query.OpLte:
		return "? <= ?", []interface{}{bun.Ident(f.Field), f.Value}
	case query.OpIn:
		return "? IN (?)", []interface{}{bun.Ident(f.Field), bun.In(f.Value)}
	default:
		return "? = ?", []interface{}{bun.Ident(f.Field), f.Value}
	}
}

func toRecord(row map[string]interface{}) remote.Record {
	rec := make(remote.Record, len(row))
	for k, v := range row {
		// SQL drivers hand text columns back as []byte.
		if b, ok := v.([]byte); ok {
			rec[k] = string(b)
		} else {
			rec[k] = v
		}
	}
	return rec
}

// classify maps database errors onto the shared taxonomy. Uniqueness
// violations surface as user-correctable conflicts; everything else
// unrecognized counts as a server fault and stays retryable.
func classify(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return remote.WrapError(remote.KindNotFound, op, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") { // postgres
		return remote.WrapError(remote.KindConflict, op, err)
	}
	return remote.WrapError(remote.KindServer, op, err)
}
