// Package storage defines the boundary between the mapping engine and the
// storage back-ends: the Client executing reads and writes, and the Adapter
// converting values and resolving relations for a given back-end.
package storage

import (
	"context"
	"sort"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

// Record is a raw storage record keyed by storage field name
type Record map[string]interface{}

// Criteria matches records by exact equality on every key
type Criteria map[string]interface{}

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a property that was never set. It is distinct from nil,
// which is an explicit null, and is stripped before records reach a Client.
var Undefined interface{} = undefined{}

// IsUndefined returns true if v is the Undefined marker
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

// SortField orders query results by one storage field
type SortField struct {
	Field     string
	Direction metadata.Direction
}

// Query is a criteria with ordering, paging and an optional set-membership
// filter on a single field
type Query struct {
	Criteria Criteria
	Sort     []SortField
	Limit    int
	Offset   int
	// In restricts InField to one of the listed values
	InField  string
	InValues []interface{}
}

// NewQuery creates a query for the given criteria
func NewQuery(criteria Criteria) *Query {
	if criteria == nil {
		criteria = Criteria{}
	}
	return &Query{Criteria: criteria}
}

// OrderBy appends a sort field and returns the query for chaining
func (q *Query) OrderBy(field string, dir metadata.Direction) *Query {
	q.Sort = append(q.Sort, SortField{Field: field, Direction: dir})
	return q
}

// Page sets the offset and limit and returns the query for chaining
func (q *Query) Page(offset, limit int) *Query {
	q.Offset = offset
	q.Limit = limit
	return q
}

// WhereIn sets the set-membership filter and returns the query for chaining
func (q *Query) WhereIn(field string, values []interface{}) *Query {
	q.InField = field
	q.InValues = values
	return q
}

// Copy returns a shallow copy of the record
func (r Record) Copy() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Keys returns the record keys in sorted order
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Client executes storage operations against one back-end
type Client interface {
	// Insert stores a record and returns the storage-assigned id (nil when the
	// record carried its own id)
	Insert(ctx context.Context, meta *metadata.Metadata, collection string, rec Record) (interface{}, error)
	Update(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}, rec Record) error
	Remove(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}) error

	// Find returns the record with the given id, or nil when none exists
	Find(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}) (Record, error)
	FindBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria Criteria) ([]Record, error)
	FindByQuery(ctx context.Context, meta *metadata.Metadata, collection string, query *Query) ([]Record, error)
	FindCountBy(ctx context.Context, meta *metadata.Metadata, collection string, query *Query) (int64, error)

	UpdateBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria Criteria, patch Record) (int64, error)
	RemoveBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria Criteria) (int64, error)
}

// Locker is implemented by clients able to serialize flushes
type Locker interface {
	CreateLock(ctx context.Context, name string) error
	ReleaseLock(ctx context.Context, name string) error
}

// Transactional is implemented by clients supporting transactions. The
// returned context carries the transaction and must be passed to every
// operation that should run inside it.
type Transactional interface {
	StartTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
}

// Converter translates single values between model and storage form
type Converter interface {
	ToModelValue(fieldType metadata.FieldType, raw interface{}) (interface{}, error)
	ToStorageValue(fieldType metadata.FieldType, value interface{}) (interface{}, error)
}

// Related is the outcome of resolving one relation of one record. Raw holds
// storage records still to be hydrated; Docs holds values that already are
// document instances and must not be hydrated again.
type Related struct {
	Raw  []Record
	Docs []interface{}
}

// Empty returns true if nothing was resolved
func (r Related) Empty() bool {
	return len(r.Raw) == 0 && len(r.Docs) == 0
}

// RelationResolver fetches and serializes relation data for one back-end
type RelationResolver interface {
	// ResolveRelation returns the related data referenced by raw
	ResolveRelation(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, raw Record) (Related, error)
	// ResolveRelationBatch resolves one relation for a whole batch in as few
	// round-trips as possible; the result is aligned with raws
	ResolveRelationBatch(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, raws []Record) ([]Related, error)
	// DehydrateRelation converts a relation into its stored form. References
	// receive an IDReader or []IDReader (nil entries for unset documents);
	// embeds receive the already dehydrated Record or []Record.
	DehydrateRelation(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, value interface{}) (interface{}, error)
}

// Adapter bundles the conversion and relation hooks of one back-end
type Adapter interface {
	Converter
	RelationResolver
	// GenerateIDs reports whether MANUAL documents without an id should get
	// one from the configured id strategy
	GenerateIDs() bool
}

// IDReader exposes the identity of a related document to an Adapter
type IDReader interface {
	ID() interface{}
}
