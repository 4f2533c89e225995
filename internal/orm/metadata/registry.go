package metadata

import (
	"sort"
	"sync"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// Tagged is implemented by values carrying a document type tag
type Tagged interface {
	TypeTag() TypeTag
}

// Registry manages all document metadata of an application
type Registry struct {
	byName    map[string]*Metadata
	byTag     map[TypeTag]*Metadata
	nextTag   TypeTag
	validator *Validator
	mu        sync.RWMutex
}

// NewRegistry creates a new metadata registry
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Metadata),
		byTag:     make(map[TypeTag]*Metadata),
		validator: NewValidator(),
	}
}

// Register validates a metadata, assigns its type tag and stores it
func (r *Registry) Register(m *Metadata) error {
	if m == nil {
		return ormerror.Configuration("cannot register nil metadata")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Name == "" {
		return ormerror.Configuration("metadata has no name: a document type cannot be registered without an identity token")
	}
	if _, exists := r.byName[m.Name]; exists {
		return ormerror.Configuration("document %s is already registered", m.Name)
	}
	if m.tag != NoTag {
		return ormerror.Configuration("document %s is already registered with another registry", m.Name)
	}

	if len(m.Inherits) == 0 {
		if m.IDField == "" {
			m.IDField = "id"
		}
		if m.IDStrategy == IDStrategyUnset {
			m.IDStrategy = IDStrategyAuto
		}
	}
	m.reindex()

	if err := r.validator.ValidateStructural(m); err != nil {
		return err
	}

	r.nextTag++
	m.tag = r.nextTag
	r.byName[m.Name] = m
	r.byTag[m.tag] = m
	if len(m.Inherits) == 0 {
		m.inherited = true
	}

	return nil
}

// Get retrieves metadata by document type name
func (r *Registry) Get(name string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byName[name]
	if !ok {
		return nil, ormerror.NotFound("no metadata registered for document %s", name).
			WithDetail("document", name)
	}
	return m, nil
}

// Lookup retrieves metadata by name without building an error
func (r *Registry) Lookup(name string) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byName[name]
	return m, ok
}

// ForTag retrieves metadata by type tag
func (r *Registry) ForTag(tag TypeTag) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byTag[tag]
	if !ok {
		return nil, ormerror.NotFound("no metadata registered for type tag %d", tag)
	}
	return m, nil
}

// ForDocument resolves the metadata of a document through its type tag
func (r *Registry) ForDocument(doc Tagged) (*Metadata, error) {
	if doc == nil {
		return nil, ormerror.NotFound("no metadata for nil document")
	}
	return r.ForTag(doc.TypeTag())
}

// ForCollection retrieves the metadata whose collection matches
func (r *Registry) ForCollection(collection string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.sortedNames() {
		m := r.byName[name]
		if m.CollectionName() == collection {
			return m, nil
		}
	}
	return nil, ormerror.NotFound("no document mapped to collection %s", collection)
}

// List returns the registered document names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames()
}

// Count returns the number of registered documents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byName)
}

// Exists checks if a document type is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byName[name]
	return ok
}

// Clear removes all registered metadata (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.byName {
		m.tag = NoTag
	}
	r.byName = make(map[string]*Metadata)
	r.byTag = make(map[TypeTag]*Metadata)
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryStats summarizes the registered metadata
type RegistryStats struct {
	TotalDocuments int
	TotalFields    int
	TotalRelations int
	TotalEmbeds    int
	TotalIndexes   int
	TotalHooks     int
	Inheriting     int
	Unresolved     int
}

// Stats returns statistics about the registry
func (r *Registry) Stats() *RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &RegistryStats{TotalDocuments: len(r.byName)}
	for _, m := range r.byName {
		stats.TotalFields += len(m.Fields)
		stats.TotalIndexes += len(m.Indexes)
		for _, rel := range m.Relations {
			if rel.Kind.IsEmbed() {
				stats.TotalEmbeds++
			} else {
				stats.TotalRelations++
			}
		}
		for _, methods := range m.Events {
			stats.TotalHooks += len(methods)
		}
		if len(m.Inherits) > 0 {
			stats.Inheriting++
		}
		if !m.inherited {
			stats.Unresolved++
		}
	}
	return stats
}
