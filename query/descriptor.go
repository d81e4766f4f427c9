package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// keyPrefix namespaces descriptor-derived keys so table-wide invalidation
// patterns can anchor on it.
const keyPrefix = "q"

// TableID identifies a remote table.
type TableID string

// TenantID identifies the organizational partition a caller belongs to.
type TenantID string

// Direction controls sort order for an ordering clause.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// FilterOp enumerates the filter operators the remote store supports.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpLike
	OpGte
	OpLte
	OpIn
)

func (op FilterOp) String() string {
	switch op {
	case OpLike:
		return "like"
	case OpGte:
		return "gte"
	case OpLte:
		return "lte"
	case OpIn:
		return "in"
	default:
		return "eq"
	}
}

// Filter is a single predicate on a field.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Ordering is a single sort clause. Clause order is significant, so orderings
// are never canonically reordered the way filters are.
type Ordering struct {
	Field string
	Dir   Direction
}

// Descriptor is an immutable description of a query: table, tenant, filters,
// ordering and pagination. Its serialized form is the cache key. All builder
// methods return a copy; a Descriptor can be shared freely once constructed.
type Descriptor struct {
	table   TableID
	tenant  TenantID
	filters []Filter
	orderBy []Ordering
	limit   *int
	offset  *int
}

// New creates a descriptor for the given table.
func New(table TableID) Descriptor {
	return Descriptor{table: table}
}

// WithTenant returns a copy bound to the given tenant.
func (d Descriptor) WithTenant(tenant TenantID) Descriptor {
	c := d.clone()
	c.tenant = tenant
	return c
}

// Where returns a copy with an additional filter predicate.
func (d Descriptor) Where(field string, op FilterOp, value any) Descriptor {
	c := d.clone()
	c.filters = append(c.filters, Filter{Field: field, Op: op, Value: value})
	return c
}

// OrderBy returns a copy with an additional ordering clause.
func (d Descriptor) OrderBy(field string, dir Direction) Descriptor {
	c := d.clone()
	c.orderBy = append(c.orderBy, Ordering{Field: field, Dir: dir})
	return c
}

// Limit returns a copy with a row limit.
func (d Descriptor) Limit(n int) Descriptor {
	c := d.clone()
	c.limit = &n
	return c
}

// Offset returns a copy with a row offset.
func (d Descriptor) Offset(n int) Descriptor {
	c := d.clone()
	c.offset = &n
	return c
}

// Table returns the target table.
func (d Descriptor) Table() TableID { return d.table }

// Tenant returns the tenant the descriptor is bound to. Empty means unbound
// (or tenant-global once scoped).
func (d Descriptor) Tenant() TenantID { return d.tenant }

// Filters returns a copy of the filter predicates in declaration order.
func (d Descriptor) Filters() []Filter {
	return append([]Filter(nil), d.filters...)
}

// Orderings returns a copy of the ordering clauses.
func (d Descriptor) Orderings() []Ordering {
	return append([]Ordering(nil), d.orderBy...)
}

// LimitValue reports the limit, if one was set.
func (d Descriptor) LimitValue() (int, bool) {
	if d.limit == nil {
		return 0, false
	}
	return *d.limit, true
}

// OffsetValue reports the offset, if one was set.
func (d Descriptor) OffsetValue() (int, bool) {
	if d.offset == nil {
		return 0, false
	}
	return *d.offset, true
}

func (d Descriptor) clone() Descriptor {
	return Descriptor{
		table:   d.table,
		tenant:  d.tenant,
		filters: append([]Filter(nil), d.filters...),
		orderBy: append([]Ordering(nil), d.orderBy...),
		limit:   copyInt(d.limit),
		offset:  copyInt(d.offset),
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}

// CacheKey serializes the descriptor into a deterministic cache key. Filters
// are canonically ordered before serialization so two descriptors with the
// same predicates produce the same key regardless of construction order.
func (d Descriptor) CacheKey() string {
	parts := []string{keyPrefix, string(d.table), string(d.tenant)}

	fs := make([]string, len(d.filters))
	for i, f := range d.filters {
		fs[i] = f.Field + "<" + f.Op.String() + ">" + serializeValue(f.Value)
	}
	sort.Strings(fs)
	parts = append(parts, "f{"+strings.Join(fs, ",")+"}")

	os := make([]string, len(d.orderBy))
	for i, o := range d.orderBy {
		os[i] = o.Field + ":" + o.Dir.String()
	}
	parts = append(parts, "s{"+strings.Join(os, ",")+"}")

	parts = append(parts, "l"+optInt(d.limit), "o"+optInt(d.offset))

	return strings.Join(parts, KeySeparator)
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// KeyPattern returns an anchored pattern matching every cache key derived from
// the given table, across all filter, ordering, pagination and tenant
// variants. Used for table-wide invalidation.
func KeyPattern(table TableID) *regexp.Regexp {
	return regexp.MustCompile("^" + keyPrefix + KeySeparator + regexp.QuoteMeta(string(table)) + KeySeparator)
}
