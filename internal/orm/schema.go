// Package orm ties the metadata registry to the event dispatcher scoped to it.
package orm

import (
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

// Schema is a registry of document types plus the dispatcher for their
// lifecycle events
type Schema struct {
	Registry *metadata.Registry
	Events   *events.Dispatcher
}

// NewSchema creates an empty schema
func NewSchema(opts ...events.Option) *Schema {
	return &Schema{
		Registry: metadata.NewRegistry(),
		Events:   events.NewDispatcher(opts...),
	}
}

// Register registers the metadata and resolves inheritance across the
// whole registry
func (s *Schema) Register(metas ...*metadata.Metadata) error {
	for _, m := range metas {
		if err := s.Registry.Register(m); err != nil {
			return err
		}
	}
	return s.Registry.HandleInheritance()
}

// LoadDefinitions registers declarative definitions
func (s *Schema) LoadDefinitions(defs []metadata.Definition) error {
	return s.Registry.RegisterDefinitions(defs)
}

// Close releases the dispatcher's async workers
func (s *Schema) Close() {
	s.Events.Close()
}
