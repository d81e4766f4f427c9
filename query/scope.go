package query

import "fmt"

// TenantField is the column every tenant-owned table keys its partition on.
const TenantField = "tenant_id"

// Scope binds queries and mutations to one tenant. Every read and write passes
// through Apply before reaching the remote store; callers cannot express a
// cross-tenant query because caller-supplied tenant predicates are discarded
// and replaced with the scope's own.
type Scope struct {
	tenant   TenantID
	registry *Registry
}

// NewScope creates a scope for the given tenant over a table registry.
func NewScope(tenant TenantID, registry *Registry) Scope {
	return Scope{tenant: tenant, registry: registry}
}

// Tenant returns the bound tenant.
func (s Scope) Tenant() TenantID { return s.tenant }

// Registry returns the table registry the scope validates against.
func (s Scope) Registry() *Registry { return s.registry }

// Apply returns a descriptor bound to the scope's tenant. For tenant-owned
// tables it injects an equality filter on TenantField, overriding anything the
// caller put there. For tables on the global allow-list it clears the tenant
// binding instead, so all tenants share one set of cache entries.
func (s Scope) Apply(d Descriptor) (Descriptor, error) {
	tbl, ok := s.registry.Lookup(d.Table())
	if !ok {
		return Descriptor{}, fmt.Errorf("query: table %q is not registered", d.Table())
	}

	scoped := New(d.table)
	for _, f := range d.filters {
		if f.Field == TenantField {
			continue
		}
		scoped = scoped.Where(f.Field, f.Op, f.Value)
	}
	for _, o := range d.orderBy {
		scoped = scoped.OrderBy(o.Field, o.Dir)
	}
	if d.limit != nil {
		scoped = scoped.Limit(*d.limit)
	}
	if d.offset != nil {
		scoped = scoped.Offset(*d.offset)
	}

	if tbl.Global {
		return scoped, nil
	}

	scoped = scoped.WithTenant(s.tenant)
	scoped = scoped.Where(TenantField, OpEq, string(s.tenant))
	return scoped, nil
}

// WriteFilters returns the predicates the target row of a write must satisfy
// in addition to its id. Tenant-owned tables are constrained to the scope's
// tenant, so an update or delete against another tenant's record misses and
// reports not-found. Global tables carry no constraint.
func (s Scope) WriteFilters(tbl Table) []Filter {
	if tbl.Global {
		return nil
	}
	return []Filter{{Field: TenantField, Op: OpEq, Value: string(s.tenant)}}
}
