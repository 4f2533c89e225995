// Package document provides the in-memory document instance mapped by the
// engine. A Document carries its type tag, its property values and the
// engine-private bookkeeping used by the unit of work; none of the bookkeeping
// is ever written to storage.
package document

import (
	"fmt"
	"sync"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// Processing marks the in-flight unit of work operation of a document
type Processing int

const (
	ProcessingNone Processing = iota
	ProcessingInsert
	ProcessingUpdate
	ProcessingRemove
)

// String returns the string representation of the processing marker
func (p Processing) String() string {
	switch p {
	case ProcessingNone:
		return "none"
	case ProcessingInsert:
		return "insert"
	case ProcessingUpdate:
		return "update"
	case ProcessingRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Document is an application-level object mapped through a Metadata
type Document struct {
	mu     sync.RWMutex
	meta   *metadata.Metadata
	values map[string]interface{}

	objectID   string
	isNew      bool
	markedNew  bool
	processing Processing
	snapshot   map[string]interface{}
}

// New creates an empty document explicitly marked as new
func New(meta *metadata.Metadata) *Document {
	return &Document{
		meta:      meta,
		values:    make(map[string]interface{}),
		markedNew: true,
	}
}

// NewWithValues creates a new document and assigns the given properties
// through their setters
func NewWithValues(meta *metadata.Metadata, values map[string]interface{}) (*Document, error) {
	doc := New(meta)
	for property, value := range values {
		if err := doc.Set(property, value); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// TypeTag returns the type tag of the document's metadata
func (d *Document) TypeTag() metadata.TypeTag {
	return d.meta.Tag()
}

// Type returns the document type name
func (d *Document) Type() string {
	return d.meta.Name
}

// Metadata returns the metadata describing the document
func (d *Document) Metadata() *metadata.Metadata {
	return d.meta
}

// Get returns the value of a property, or nil when unset
func (d *Document) Get(property string) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.values[property]
}

// Lookup returns the value of a property and whether it has been set
func (d *Document) Lookup(property string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[property]
	return v, ok
}

// Has returns true if the property has been set
func (d *Document) Has(property string) bool {
	_, ok := d.Lookup(property)
	return ok
}

// Set assigns a property. Fields with a setter are assigned through it;
// relation properties only accept documents.
func (d *Document) Set(property string, value interface{}) error {
	if field, ok := d.meta.Field(property); ok {
		if field.Setter != nil {
			converted, err := field.Setter(value)
			if err != nil {
				return ormerror.Conversion(err, "setter for %s.%s failed", d.meta.Name, property)
			}
			value = converted
		}
	} else if rel, ok := d.meta.Relation(property); ok {
		if err := checkRelationValue(rel, value); err != nil {
			return ormerror.InvalidOperation("%s.%s: %v", d.meta.Name, property, err)
		}
	} else {
		return ormerror.InvalidOperation("document %s has no property %s", d.meta.Name, property).
			WithDetail("property", property)
	}

	d.mu.Lock()
	d.values[property] = value
	d.mu.Unlock()
	return nil
}

// Unset removes a property value, making it undefined
func (d *Document) Unset(property string) {
	d.mu.Lock()
	delete(d.values, property)
	d.mu.Unlock()
}

// Values returns a copy of all property values
func (d *Document) Values() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]interface{}, len(d.values))
	for k, v := range d.values {
		result[k] = v
	}
	return result
}

// ID returns the identity value
func (d *Document) ID() interface{} {
	return d.Get(d.meta.IDField)
}

// HasID returns true if the identity value is set and non-nil
func (d *Document) HasID() bool {
	return d.ID() != nil
}

// SetID assigns the identity value
func (d *Document) SetID(id interface{}) error {
	return d.Set(d.meta.IDField, id)
}

// Related returns the documents held by a relation property
func (d *Document) Related(property string) []*Document {
	switch v := d.Get(property).(type) {
	case *Document:
		if v == nil {
			return nil
		}
		return []*Document{v}
	case []*Document:
		result := make([]*Document, 0, len(v))
		for _, doc := range v {
			if doc != nil {
				result = append(result, doc)
			}
		}
		return result
	default:
		return nil
	}
}

// String returns a short description used in logs
func (d *Document) String() string {
	return fmt.Sprintf("%s(%v)", d.meta.Name, d.ID())
}

func checkRelationValue(rel *metadata.Relation, value interface{}) error {
	switch value.(type) {
	case nil, *Document:
		if rel.Kind.IsMany() && value != nil {
			return fmt.Errorf("%s relation expects a list of documents", rel.Kind)
		}
		return nil
	case []*Document:
		if !rel.Kind.IsMany() {
			return fmt.Errorf("%s relation expects a single document", rel.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%s relation cannot hold %T", rel.Kind, value)
	}
}
