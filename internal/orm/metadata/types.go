// Package metadata describes document types: their fields, identity, relations,
// embeds, indexes and lifecycle bindings. A Metadata is built once, registered
// into a Registry, optionally flattened through inheritance, and treated as
// read-only afterwards.
package metadata

import (
	"context"
	"fmt"
	"strings"

	strutil "github.com/conduit-lang/docmapper/internal/util/strings"
)

// TypeTag is the stable per-document-type identity assigned by a Registry
type TypeTag uint32

// NoTag is the zero TypeTag carried by unregistered metadata
const NoTag TypeTag = 0

// FieldType is the semantic type of a field
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeBoolean
	TypeDate
	TypeObject
	TypeID
)

// String returns the string representation of the field type
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeObject:
		return "object"
	case TypeID:
		return "id"
	default:
		return "unknown"
	}
}

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "string", "":
		return TypeString, nil
	case "number":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date":
		return TypeDate, nil
	case "object":
		return TypeObject, nil
	case "id":
		return TypeID, nil
	default:
		return 0, fmt.Errorf("unknown field type: %s", s)
	}
}

// IDStrategy describes who assigns the identity value of a new document
type IDStrategy int

const (
	// IDStrategyUnset inherits the parent's strategy and otherwise resolves
	// to IDStrategyAuto when the metadata is registered
	IDStrategyUnset IDStrategy = iota
	// IDStrategyAuto lets the storage assign the id on insert
	IDStrategyAuto
	// IDStrategyManual requires the id before insert (caller or id strategy)
	IDStrategyManual
)

// String returns the string representation of the id strategy
func (s IDStrategy) String() string {
	switch s {
	case IDStrategyUnset:
		return "UNSET"
	case IDStrategyAuto:
		return "AUTO"
	case IDStrategyManual:
		return "MANUAL"
	default:
		return "unknown"
	}
}

// ParseIDStrategy converts a string to an IDStrategy
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch strings.ToUpper(s) {
	case "":
		return IDStrategyUnset, nil
	case "AUTO":
		return IDStrategyAuto, nil
	case "MANUAL":
		return IDStrategyManual, nil
	default:
		return 0, fmt.Errorf("unknown id strategy: %s", s)
	}
}

// RelationKind is the kind of a relation or embed
type RelationKind int

const (
	OneToOne RelationKind = iota
	OneToMany
	EmbedOne
	EmbedMany
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case EmbedOne:
		return "embed-one"
	case EmbedMany:
		return "embed-many"
	default:
		return "unknown"
	}
}

// ParseRelationKind converts a string to a RelationKind
func ParseRelationKind(s string) (RelationKind, error) {
	switch strings.ToLower(s) {
	case "one-to-one", "one_to_one":
		return OneToOne, nil
	case "one-to-many", "one_to_many":
		return OneToMany, nil
	case "embed-one", "embed_one", "one":
		return EmbedOne, nil
	case "embed-many", "embed_many", "many":
		return EmbedMany, nil
	default:
		return 0, fmt.Errorf("unknown relation kind: %s", s)
	}
}

// IsEmbed reports whether the relation is serialized inline
func (k RelationKind) IsEmbed() bool {
	return k == EmbedOne || k == EmbedMany
}

// IsMany reports whether the relation holds a list of documents
func (k RelationKind) IsMany() bool {
	return k == OneToMany || k == EmbedMany
}

// Direction is a sort direction for one-to-many relations
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseDirection converts a string to a Direction
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "asc", "ascending", "":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return 0, fmt.Errorf("unknown sort direction: %s", s)
	}
}

// SetterFunc transforms a value before it is stored on a document property
type SetterFunc func(value interface{}) (interface{}, error)

// Accessor is the view of a document handed to method hooks
type Accessor interface {
	Get(property string) interface{}
	Set(property string, value interface{}) error
	ID() interface{}
}

// MethodHook is a lifecycle hook declared on the document type itself
type MethodHook func(ctx context.Context, target Accessor) error

// Field describes a scalar field
type Field struct {
	// Name is the storage name
	Name string
	// Property is the in-memory property name; defaults to Name
	Property string
	Type     FieldType
	// Table names the sub-table owning this field; empty means the main collection
	Table    string
	Default  interface{}
	ReadOnly bool
	// Setter, when set, is applied by Document.Set instead of direct assignment
	Setter SetterFunc
}

// PropertyName returns the in-memory property name
func (f *Field) PropertyName() string {
	if f.Property != "" {
		return f.Property
	}
	return f.Name
}

// Relation describes a one-to-one/one-to-many reference or an embed
type Relation struct {
	Kind RelationKind
	// Property is the in-memory property holding the related document(s)
	Property string
	// StorageName is the key used in storage records; defaults to Property
	StorageName string
	// Target is the related document type name
	Target    string
	Sort      string
	Direction Direction
}

// StorageKey returns the key used for the relation in storage records
func (r *Relation) StorageKey() string {
	if r.StorageName != "" {
		return r.StorageName
	}
	return r.Property
}

// Index is a descriptive single or compound index declaration
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Metadata is the compiled description of one document type
type Metadata struct {
	Name       string
	Collection string
	IDField    string
	IDStrategy IDStrategy

	Fields    []*Field
	Relations []*Relation
	Indexes   []*Index

	// Listeners names the document-type listeners bound to this type
	Listeners []string
	// Events maps a lifecycle event to method names resolved through Methods
	Events  map[string][]string
	Methods map[string]MethodHook

	Inherits []string

	tag        TypeTag
	inherited  bool
	byProperty map[string]*Field
	byName     map[string]*Field
	relations  map[string]*Relation
}

// New creates a new Metadata for the given document type name
func New(name string) *Metadata {
	m := &Metadata{
		Name:    name,
		Fields:  make([]*Field, 0),
		Events:  make(map[string][]string),
		Methods: make(map[string]MethodHook),
	}
	m.reindex()
	return m
}

// AddField appends a field and returns the metadata for chaining
func (m *Metadata) AddField(f *Field) *Metadata {
	m.Fields = append(m.Fields, f)
	m.reindex()
	return m
}

// AddRelation appends a relation or embed and returns the metadata for chaining
func (m *Metadata) AddRelation(r *Relation) *Metadata {
	m.Relations = append(m.Relations, r)
	m.reindex()
	return m
}

// AddIndex appends an index declaration
func (m *Metadata) AddIndex(idx *Index) *Metadata {
	m.Indexes = append(m.Indexes, idx)
	return m
}

// On binds a method hook to a lifecycle event
func (m *Metadata) On(event, method string, hook MethodHook) *Metadata {
	if m.Events == nil {
		m.Events = make(map[string][]string)
	}
	if m.Methods == nil {
		m.Methods = make(map[string]MethodHook)
	}
	m.Events[event] = append(m.Events[event], method)
	m.Methods[method] = hook
	return m
}

// Tag returns the registry-assigned type tag
func (m *Metadata) Tag() TypeTag {
	return m.tag
}

// Inherited reports whether inheritance has been resolved for this metadata
func (m *Metadata) Inherited() bool {
	return m.inherited
}

// CollectionName returns the storage collection, deriving it from Name when unset
func (m *Metadata) CollectionName() string {
	if m.Collection != "" {
		return m.Collection
	}
	return strutil.CollectionName(m.Name)
}

// Field returns the field mapped to the given property
func (m *Metadata) Field(property string) (*Field, bool) {
	f, ok := m.byProperty[property]
	return f, ok
}

// FieldByName returns the field with the given storage name
func (m *Metadata) FieldByName(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// IdentityField returns the field holding the identity value
func (m *Metadata) IdentityField() (*Field, error) {
	f, ok := m.byProperty[m.IDField]
	if !ok {
		return nil, fmt.Errorf("document %s has no id field %q", m.Name, m.IDField)
	}
	return f, nil
}

// Relation returns the relation or embed mapped to the given property
func (m *Metadata) Relation(property string) (*Relation, bool) {
	r, ok := m.relations[property]
	return r, ok
}

// RelationsOf returns the relations of the given kind in declaration order
func (m *Metadata) RelationsOf(kind RelationKind) []*Relation {
	var result []*Relation
	for _, r := range m.Relations {
		if r.Kind == kind {
			result = append(result, r)
		}
	}
	return result
}

// References returns the one-to-one and one-to-many relations
func (m *Metadata) References() []*Relation {
	var result []*Relation
	for _, r := range m.Relations {
		if !r.Kind.IsEmbed() {
			result = append(result, r)
		}
	}
	return result
}

// Embeds returns the embed-one and embed-many relations
func (m *Metadata) Embeds() []*Relation {
	var result []*Relation
	for _, r := range m.Relations {
		if r.Kind.IsEmbed() {
			result = append(result, r)
		}
	}
	return result
}

// HasProperty returns true if the property is a field or relation
func (m *Metadata) HasProperty(property string) bool {
	if _, ok := m.byProperty[property]; ok {
		return true
	}
	_, ok := m.relations[property]
	return ok
}

// HasListener returns true if the document-type listener is bound to this type
func (m *Metadata) HasListener(name string) bool {
	for _, l := range m.Listeners {
		if l == name {
			return true
		}
	}
	return false
}

// MethodHooks resolves the method hooks bound to an event, in declaration order
func (m *Metadata) MethodHooks(event string) []MethodHook {
	names := m.Events[event]
	if len(names) == 0 {
		return nil
	}
	hooks := make([]MethodHook, 0, len(names))
	for _, name := range names {
		if hook, ok := m.Methods[name]; ok && hook != nil {
			hooks = append(hooks, hook)
		}
	}
	return hooks
}

// reindex rebuilds the property and name lookup tables
func (m *Metadata) reindex() {
	m.byProperty = make(map[string]*Field, len(m.Fields))
	m.byName = make(map[string]*Field, len(m.Fields))
	for _, f := range m.Fields {
		m.byProperty[f.PropertyName()] = f
		m.byName[f.Name] = f
	}
	m.relations = make(map[string]*Relation, len(m.Relations))
	for _, r := range m.Relations {
		m.relations[r.Property] = r
	}
}
