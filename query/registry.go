package query

import "fmt"

// Table declares one remote table in the closed registry. Cache key derivation
// and the query builder only accept registered tables, so table identifiers
// stay compile-time constants rather than free-form strings.
type Table struct {
	// ID is the remote table name.
	ID TableID

	// Global marks a tenant-global table (e.g. a shared plan catalog).
	// Tenant scoping is not injected for global tables and their cache
	// entries are shared across tenants.
	Global bool

	// QuantityField, when set, marks the table as inventory-like: updates
	// that change this field produce a derived movement row in AuditTable.
	QuantityField string

	// AuditTable receives movement rows for quantity changes. Must itself
	// be registered when QuantityField is set.
	AuditTable TableID
}

// Registry is the closed set of tables the sync layer may touch.
type Registry struct {
	tables map[TableID]Table
}

// NewRegistry builds a registry from table declarations. Declarations must be
// unique, and audit targets must themselves be declared.
func NewRegistry(tables ...Table) (*Registry, error) {
	r := &Registry{tables: make(map[TableID]Table, len(tables))}
	for _, t := range tables {
		if t.ID == "" {
			return nil, fmt.Errorf("query: table declaration missing ID")
		}
		if _, dup := r.tables[t.ID]; dup {
			return nil, fmt.Errorf("query: table %q declared twice", t.ID)
		}
		if (t.QuantityField == "") != (t.AuditTable == "") {
			return nil, fmt.Errorf("query: table %q must set QuantityField and AuditTable together", t.ID)
		}
		r.tables[t.ID] = t
	}
	for _, t := range r.tables {
		if t.AuditTable == "" {
			continue
		}
		if _, ok := r.tables[t.AuditTable]; !ok {
			return nil, fmt.Errorf("query: audit table %q for %q is not registered", t.AuditTable, t.ID)
		}
	}
	return r, nil
}

// Lookup returns the declaration for a table.
func (r *Registry) Lookup(id TableID) (Table, bool) {
	t, ok := r.tables[id]
	return t, ok
}

// Global reports whether the table is tenant-global.
func (r *Registry) Global(id TableID) bool {
	t, ok := r.tables[id]
	return ok && t.Global
}

// IDs returns the registered table identifiers.
func (r *Registry) IDs() []TableID {
	ids := make([]TableID, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	return ids
}
