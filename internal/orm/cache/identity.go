// Package cache provides the identity map of live documents and a
// second-level cache of raw storage records.
package cache

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/spf13/cast"

	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

type identityKey struct {
	typeName string
	id       string
}

func keyFor(typeName string, id interface{}) identityKey {
	return identityKey{typeName: typeName, id: fmt.Sprint(id)}
}

// DocumentCache is the identity map: at most one live instance per
// (type, id) pair
type DocumentCache struct {
	mu       sync.RWMutex
	registry *metadata.Registry
	docs     map[identityKey]*document.Document
}

// NewDocumentCache creates an identity map resolving types through registry
func NewDocumentCache(registry *metadata.Registry) *DocumentCache {
	return &DocumentCache{
		registry: registry,
		docs:     make(map[identityKey]*document.Document),
	}
}

// Add stores a document under its type and identity value, replacing any
// previous instance
func (c *DocumentCache) Add(doc *document.Document) error {
	meta, err := c.registry.ForDocument(doc)
	if err != nil {
		return err
	}
	id := doc.ID()
	if id == nil {
		return ormerror.InvalidOperation("cannot cache %s without an id", meta.Name)
	}

	c.mu.Lock()
	c.docs[keyFor(meta.Name, id)] = doc
	c.mu.Unlock()
	return nil
}

// Get returns the cached instance or nil
func (c *DocumentCache) Get(typeName string, id interface{}) *document.Document {
	if id == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[keyFor(typeName, id)]
}

// Remove drops a document from the cache. Only the cached instance itself is
// removed; a different instance with the same identity is left in place.
func (c *DocumentCache) Remove(doc *document.Document) {
	id := doc.ID()
	if id == nil {
		return
	}
	key := keyFor(doc.Type(), id)

	c.mu.Lock()
	if c.docs[key] == doc {
		delete(c.docs, key)
	}
	c.mu.Unlock()
}

// RemoveByCriteria drops every cached document matching criteria by exact
// property equality. An empty typeName matches documents of all types.
func (c *DocumentCache) RemoveByCriteria(typeName string, criteria map[string]interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, doc := range c.docs {
		if typeName != "" && key.typeName != typeName {
			continue
		}
		if Matches(doc, criteria) {
			delete(c.docs, key)
			removed++
		}
	}
	return removed
}

// UpdateByCriteria applies patch to every cached document matching criteria.
// An empty typeName matches documents of all types; properties a document
// does not declare are skipped.
func (c *DocumentCache) UpdateByCriteria(typeName string, criteria, patch map[string]interface{}) (int, error) {
	c.mu.RLock()
	var matched []*document.Document
	for key, doc := range c.docs {
		if typeName != "" && key.typeName != typeName {
			continue
		}
		if Matches(doc, criteria) {
			matched = append(matched, doc)
		}
	}
	c.mu.RUnlock()

	for _, doc := range matched {
		for property, value := range patch {
			if !doc.Metadata().HasProperty(property) {
				continue
			}
			if err := doc.Set(property, value); err != nil {
				return 0, err
			}
		}
	}
	return len(matched), nil
}

// Documents returns the cached documents of one type, or all when typeName is empty
func (c *DocumentCache) Documents(typeName string) []*document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var docs []*document.Document
	for key, doc := range c.docs {
		if typeName == "" || key.typeName == typeName {
			docs = append(docs, doc)
		}
	}
	return docs
}

// Clear empties the cache
func (c *DocumentCache) Clear() {
	c.mu.Lock()
	c.docs = make(map[identityKey]*document.Document)
	c.mu.Unlock()
}

// Len returns the number of cached documents
func (c *DocumentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Matches reports whether every criteria property of doc equals the
// criteria value. Numbers compare by value regardless of their Go type.
func Matches(doc *document.Document, criteria map[string]interface{}) bool {
	for property, want := range criteria {
		got, ok := doc.Lookup(property)
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two scalar values for criteria matching
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	if isNumber(a) && isNumber(b) {
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		return errA == nil && errB == nil && fa == fb
	}
	return false
}

func isNumber(v interface{}) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
