// Package mapper converts between raw storage records and documents,
// resolving relations and embeds through the storage adapter.
package mapper

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// DefaultMaxDepth bounds relation nesting during hydration
const DefaultMaxDepth = 10

// Mapper hydrates and dehydrates documents
type Mapper struct {
	registry *metadata.Registry
	events   *events.Dispatcher
	adapter  storage.Adapter
	maxDepth int
	logger   *zap.Logger
}

// Option configures a Mapper
type Option func(*Mapper)

// WithMaxDepth sets the maximum relation nesting depth
func WithMaxDepth(depth int) Option {
	return func(m *Mapper) {
		m.maxDepth = depth
	}
}

// WithLogger sets the mapper's logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// New creates a mapper over a schema and a storage adapter
func New(schema *orm.Schema, adapter storage.Adapter, opts ...Option) *Mapper {
	m := &Mapper{
		registry: schema.Registry,
		events:   schema.Events,
		adapter:  adapter,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the metadata registry used by the mapper
func (m *Mapper) Registry() *metadata.Registry {
	return m.registry
}

// Adapter returns the storage adapter used by the mapper
func (m *Mapper) Adapter() storage.Adapter {
	return m.adapter
}

// Hydrate converts a raw record into a document, resolving its relations.
// A failed hydrate returns no document.
func (m *Mapper) Hydrate(ctx context.Context, meta *metadata.Metadata, raw storage.Record) (*document.Document, error) {
	if raw == nil {
		return nil, nil
	}
	return m.hydrate(ctx, newGraph(m.maxDepth), meta, raw, 0)
}

func (m *Mapper) hydrate(ctx context.Context, g *graph, meta *metadata.Metadata, raw storage.Record, depth int) (*document.Document, error) {
	if err := g.checkDepth(depth); err != nil {
		return nil, err
	}
	if existing := g.lookup(meta.Name, rawID(meta, raw)); existing != nil {
		return existing, nil
	}

	doc, meta, raw, err := m.hydrateScalars(ctx, meta, raw)
	if err != nil {
		return nil, err
	}
	if existing := g.claim(doc); existing != nil {
		return existing, nil
	}

	if err := m.resolveRelations(ctx, g, meta, raw, doc, depth); err != nil {
		return nil, err
	}
	if err := m.finish(ctx, meta, raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// hydrateScalars creates the document, dispatches preHydrate and converts
// every scalar field. It returns the metadata and data left by listeners.
func (m *Mapper) hydrateScalars(ctx context.Context, meta *metadata.Metadata, raw storage.Record) (*document.Document, *metadata.Metadata, storage.Record, error) {
	doc := document.New(meta)

	if m.events != nil {
		ec := &events.EventContext{Data: raw, Document: doc, Metadata: meta}
		if err := m.events.Dispatch(ctx, events.PreHydrate, ec); err != nil {
			return nil, nil, nil, fmt.Errorf("preHydrate %s: %w", meta.Name, err)
		}
		if ec.Metadata != nil {
			meta = ec.Metadata
		}
		if ec.Document != nil {
			doc = ec.Document
		}
		if ec.Data != nil {
			raw = ec.Data
		}
	}
	doc.MarkNew(false)

	for _, f := range meta.Fields {
		rawValue, present := raw[f.Name]
		if present && storage.IsUndefined(rawValue) {
			present = false
		}

		var value interface{}
		if present && rawValue != nil {
			converted, err := m.adapter.ToModelValue(f.Type, rawValue)
			if err != nil {
				return nil, nil, nil, ormerror.Conversion(err, "cannot convert %s.%s", meta.Name, f.Name).
					WithDetail("value", rawValue)
			}
			value, err = coerce(f.Type, converted)
			if err != nil {
				return nil, nil, nil, ormerror.Conversion(err, "cannot coerce %s.%s to %s", meta.Name, f.Name, f.Type)
			}
		}

		if !present {
			if f.Default == nil {
				continue
			}
			value = f.Default
		}
		if err := doc.Set(f.PropertyName(), value); err != nil {
			return nil, nil, nil, err
		}
	}

	return doc, meta, raw, nil
}

// resolveRelations resolves every relation and embed branch concurrently
func (m *Mapper) resolveRelations(ctx context.Context, g *graph, meta *metadata.Metadata, raw storage.Record, doc *document.Document, depth int) error {
	if len(meta.Relations) == 0 {
		return nil
	}

	grp, gctx := errgroup.WithContext(ctx)
	for _, rel := range meta.Relations {
		rel := rel
		grp.Go(func() error {
			related, err := m.adapter.ResolveRelation(gctx, meta, rel, raw)
			if err != nil {
				return fmt.Errorf("resolve %s.%s: %w", meta.Name, rel.Property, err)
			}
			return m.assign(gctx, g, meta, rel, raw, doc, related, depth)
		})
	}
	return grp.Wait()
}

// assign hydrates the resolved data of one relation and sets it on doc
func (m *Mapper) assign(ctx context.Context, g *graph, meta *metadata.Metadata, rel *metadata.Relation, raw storage.Record, doc *document.Document, related storage.Related, depth int) error {
	stored, present := raw[rel.StorageKey()]
	if (!present || storage.IsUndefined(stored)) && related.Empty() {
		return nil
	}

	target, err := m.registry.Get(rel.Target)
	if err != nil {
		return err
	}

	docs := make([]*document.Document, 0, len(related.Docs)+len(related.Raw))
	for _, v := range related.Docs {
		if d, ok := v.(*document.Document); ok && d != nil && d.Type() == target.Name {
			docs = append(docs, d)
		}
	}

	hydrated := make([]*document.Document, len(related.Raw))
	grp, gctx := errgroup.WithContext(ctx)
	for i, rec := range related.Raw {
		i, rec := i, rec
		if rec == nil {
			continue
		}
		grp.Go(func() error {
			child, err := m.hydrate(gctx, g, target, rec, depth+1)
			if err != nil {
				return err
			}
			hydrated[i] = child
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	for _, child := range hydrated {
		if child != nil {
			docs = append(docs, child)
		}
	}

	if rel.Kind.IsMany() {
		return doc.Set(rel.Property, docs)
	}
	if len(docs) == 0 {
		return doc.Set(rel.Property, nil)
	}
	return doc.Set(rel.Property, docs[0])
}

// finish dispatches postHydrate and captures the change-detection snapshot
func (m *Mapper) finish(ctx context.Context, meta *metadata.Metadata, raw storage.Record, doc *document.Document) error {
	if m.events != nil {
		ec := &events.EventContext{Data: raw, Document: doc, Metadata: meta}
		if err := m.events.Dispatch(ctx, events.PostHydrate, ec); err != nil {
			return fmt.Errorf("postHydrate %s: %w", meta.Name, err)
		}
	}
	doc.TakeSnapshot()
	return nil
}

// rawID returns the storage identity value of a raw record
func rawID(meta *metadata.Metadata, raw storage.Record) interface{} {
	f, err := meta.IdentityField()
	if err != nil {
		return nil
	}
	id := raw[f.Name]
	if storage.IsUndefined(id) {
		return nil
	}
	return id
}
