// Package remote defines the abstract collaborators the sync layer talks to:
// a query/mutation store and a change-feed, plus the error taxonomy both use.
// Concrete drivers live in subpackages (bunstore, natsfeed, pgfeed) and in
// remotetest for the in-memory fakes the test suite runs against.
package remote

import (
	"context"

	"github.com/goliatone/go-tenant-sync/query"
)

// Record is one row of a remote table. Server-generated fields (id,
// timestamps) are authoritative; optimistic values are always replaced by the
// record the store returns.
type Record map[string]any

// ID returns the record's id field as a string, if present.
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow-field copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Merge returns a copy of r with fields from patch layered on top.
func (r Record) Merge(patch Record) Record {
	c := r.Clone()
	if c == nil {
		c = make(Record, len(patch))
	}
	for k, v := range patch {
		c[k] = v
	}
	return c
}

// Result is the answer to one query: the matching page of rows plus the total
// row count across all pages.
type Result struct {
	Rows       []Record
	TotalCount int
}

// Clone deep-copies the result so cached data can be handed out and mutated
// independently.
func (res Result) Clone() Result {
	rows := make([]Record, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = r.Clone()
	}
	return Result{Rows: rows, TotalCount: res.TotalCount}
}

// Store is the remote query/mutation service. All descriptors reaching Query
// have already been tenant-scoped, and writes carry the scope's predicates
// alongside the record id; drivers translate both mechanically and never add
// policy of their own.
//
// Update and Delete target the record matching id AND every scope filter. A
// record that exists but fails the scope predicates is reported as not found,
// so a caller can never touch a row outside its own tenant partition.
type Store interface {
	Query(ctx context.Context, d query.Descriptor) (Result, error)
	Insert(ctx context.Context, table query.TableID, payload Record) (Record, error)
	Update(ctx context.Context, table query.TableID, id string, payload Record, scope []query.Filter) (Record, error)
	Delete(ctx context.Context, table query.TableID, id string, scope []query.Filter) error
}
