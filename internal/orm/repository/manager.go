// Package repository provides the Manager, the query and persistence facade
// composing the mapper, the unit of work, the identity cache and a storage
// client.
package repository

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/cache"
	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/mapper"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
	"github.com/conduit-lang/docmapper/internal/orm/unitofwork"
)

// Manager is one persistence session over a storage client
type Manager struct {
	registry *metadata.Registry
	events   *events.Dispatcher
	client   storage.Client
	adapter  storage.Adapter
	mapper   *mapper.Mapper
	uow      *unitofwork.UnitOfWork
	docs     *cache.DocumentCache
	records  *cache.RecordCache
	logger   *zap.Logger

	mapperOpts []mapper.Option
	uowOpts    []unitofwork.Option

	mu        sync.Mutex
	listeners []registration
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger of the manager and the components it creates
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRecordCache enables the second-level cache of raw records
func WithRecordCache(records *cache.RecordCache) Option {
	return func(m *Manager) {
		m.records = records
	}
}

// WithMapperOptions passes options to the manager's mapper
func WithMapperOptions(opts ...mapper.Option) Option {
	return func(m *Manager) {
		m.mapperOpts = append(m.mapperOpts, opts...)
	}
}

// WithUnitOfWorkOptions passes options to the manager's unit of work
func WithUnitOfWorkOptions(opts ...unitofwork.Option) Option {
	return func(m *Manager) {
		m.uowOpts = append(m.uowOpts, opts...)
	}
}

// New creates a manager for the documents of schema stored through client
func New(schema *orm.Schema, client storage.Client, adapter storage.Adapter, opts ...Option) *Manager {
	m := &Manager{
		registry: schema.Registry,
		events:   schema.Events,
		client:   client,
		adapter:  adapter,
		docs:     cache.NewDocumentCache(schema.Registry),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	mapperOpts := append([]mapper.Option{mapper.WithLogger(m.logger)}, m.mapperOpts...)
	m.mapper = mapper.New(schema, adapter, mapperOpts...)

	uowOpts := append([]unitofwork.Option{unitofwork.WithLogger(m.logger)}, m.uowOpts...)
	m.uow = unitofwork.New(schema, m.mapper, client, m.docs, uowOpts...)

	if m.records != nil {
		m.registerInvalidation()
	}
	return m
}

// Mapper returns the manager's mapper
func (m *Manager) Mapper() *mapper.Mapper {
	return m.mapper
}

// UnitOfWork returns the manager's unit of work
func (m *Manager) UnitOfWork() *unitofwork.UnitOfWork {
	return m.uow
}

// Cache returns the manager's identity map
func (m *Manager) Cache() *cache.DocumentCache {
	return m.docs
}

// Metadata returns the metadata of a document type
func (m *Manager) Metadata(name string) (*metadata.Metadata, error) {
	return m.registry.Get(name)
}

// CreateDocument creates a new document with field defaults and the given
// values, then dispatches createDocument
func (m *Manager) CreateDocument(ctx context.Context, name string, values map[string]interface{}) (*document.Document, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}

	doc := document.New(meta)
	for _, f := range meta.Fields {
		if f.Default == nil {
			continue
		}
		if err := doc.Set(f.PropertyName(), f.Default); err != nil {
			return nil, err
		}
	}
	for property, value := range values {
		if err := doc.Set(property, value); err != nil {
			return nil, err
		}
	}

	ec := &events.EventContext{Document: doc, Metadata: meta}
	if err := m.events.Dispatch(ctx, events.CreateDocument, ec); err != nil {
		return nil, fmt.Errorf("createDocument %s: %w", name, err)
	}
	if ec.Document != nil {
		doc = ec.Document
	}
	return doc, nil
}

// Find returns the document of the given type and id. A document already
// loaded in this session is returned as the same instance.
func (m *Manager) Find(ctx context.Context, name string, id interface{}) (*document.Document, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ormerror.InvalidOperation("cannot find %s without an id", name)
	}
	if cached := m.docs.Get(meta.Name, id); cached != nil {
		return cached, nil
	}

	idField, err := meta.IdentityField()
	if err != nil {
		return nil, ormerror.Configuration("%v", err)
	}
	storageID, err := m.adapter.ToStorageValue(idField.Type, id)
	if err != nil {
		return nil, ormerror.Conversion(err, "cannot convert id of %s", name)
	}

	collection := meta.CollectionName()
	raw, hit := m.loadRecord(ctx, collection, storageID)
	if !hit {
		raw, err = m.client.Find(ctx, meta, collection, storageID)
		if err != nil {
			return nil, ormerror.Storage("find", err)
		}
		if raw == nil {
			return nil, ormerror.NotFound("%s %v not found", name, id).WithDetail("id", id)
		}
		m.storeRecord(ctx, collection, storageID, raw)
	}

	doc, err := m.mapper.Hydrate(ctx, meta, raw)
	if err != nil {
		return nil, err
	}
	return m.register(doc), nil
}

// FindBy returns the documents matching property-keyed criteria
func (m *Manager) FindBy(ctx context.Context, name string, criteria map[string]interface{}) ([]*document.Document, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	translated, err := m.mapper.TranslateCriteria(meta, criteria)
	if err != nil {
		return nil, err
	}

	raws, err := m.client.FindBy(ctx, meta, meta.CollectionName(), translated)
	if err != nil {
		return nil, ormerror.Storage("findBy", err)
	}
	return m.load(ctx, meta, raws)
}

// FindByQuery returns the documents matching a property-level query
func (m *Manager) FindByQuery(ctx context.Context, name string, q *storage.Query) ([]*document.Document, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	translated, err := m.mapper.TranslateQuery(meta, q)
	if err != nil {
		return nil, err
	}

	raws, err := m.client.FindByQuery(ctx, meta, meta.CollectionName(), translated)
	if err != nil {
		return nil, ormerror.Storage("findByQuery", err)
	}
	return m.load(ctx, meta, raws)
}

// FindWhereIn returns the documents whose property holds one of values
func (m *Manager) FindWhereIn(ctx context.Context, name, property string, values []interface{}) ([]*document.Document, error) {
	if len(values) == 0 {
		return []*document.Document{}, nil
	}
	return m.FindByQuery(ctx, name, storage.NewQuery(nil).WhereIn(property, values))
}

// FindCountBy counts the documents matching a query, ignoring its paging
func (m *Manager) FindCountBy(ctx context.Context, name string, q *storage.Query) (int64, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return 0, err
	}
	translated, err := m.mapper.TranslateQuery(meta, q)
	if err != nil {
		return 0, err
	}

	count, err := m.client.FindCountBy(ctx, meta, meta.CollectionName(), translated)
	if err != nil {
		return 0, ormerror.Storage("findCountBy", err)
	}
	return count, nil
}

// UpdateBy patches every stored document matching criteria and applies the
// patch to the matching documents of this session
func (m *Manager) UpdateBy(ctx context.Context, name string, criteria, patch map[string]interface{}) (int64, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return 0, err
	}
	translatedCriteria, err := m.mapper.TranslateCriteria(meta, criteria)
	if err != nil {
		return 0, err
	}
	translatedPatch, err := m.mapper.TranslatePatch(meta, patch)
	if err != nil {
		return 0, err
	}

	count, err := m.client.UpdateBy(ctx, meta, meta.CollectionName(), translatedCriteria, translatedPatch)
	if err != nil {
		return 0, ormerror.Storage("updateBy", err)
	}
	m.invalidateCollection(ctx, meta)

	if _, err := m.docs.UpdateByCriteria(meta.Name, criteria, patch); err != nil {
		return count, err
	}
	return count, nil
}

// RemoveBy removes every stored document matching criteria and drops the
// matching documents of this session from the identity map
func (m *Manager) RemoveBy(ctx context.Context, name string, criteria map[string]interface{}) (int64, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return 0, err
	}
	translated, err := m.mapper.TranslateCriteria(meta, criteria)
	if err != nil {
		return 0, err
	}

	count, err := m.client.RemoveBy(ctx, meta, meta.CollectionName(), translated)
	if err != nil {
		return 0, ormerror.Storage("removeBy", err)
	}
	m.invalidateCollection(ctx, meta)
	m.docs.RemoveByCriteria(meta.Name, criteria)

	m.logger.Debug("removed documents",
		zap.String("document", meta.Name),
		zap.Int64("count", count))
	return count, nil
}

// Persist schedules a document for insert or update
func (m *Manager) Persist(doc *document.Document) error {
	return m.uow.Persist(doc)
}

// Remove schedules a stored document for removal
func (m *Manager) Remove(doc *document.Document) error {
	return m.uow.ScheduleRemoval(doc)
}

// Flush writes the given documents, or every scheduled document
func (m *Manager) Flush(ctx context.Context, docs ...*document.Document) error {
	return m.uow.Flush(ctx, docs...)
}

// Clear detaches every document and empties the identity map
func (m *Manager) Clear() {
	m.uow.Clear()
	m.docs.Clear()
}

// load turns raw records into documents, reusing the instances already in
// the identity map
func (m *Manager) load(ctx context.Context, meta *metadata.Metadata, raws []storage.Record) ([]*document.Document, error) {
	docs := make([]*document.Document, len(raws))

	var pending []storage.Record
	var slots []int
	for i, raw := range raws {
		if cached := m.cached(meta, raw); cached != nil {
			docs[i] = cached
			continue
		}
		pending = append(pending, raw)
		slots = append(slots, i)
	}
	if len(pending) == 0 {
		return docs, nil
	}

	hydrated, err := m.mapper.HydrateMany(ctx, meta, pending)
	if err != nil {
		return nil, err
	}
	for j, doc := range hydrated {
		docs[slots[j]] = m.register(doc)
	}
	return docs, nil
}

// cached returns the identity-map instance for a raw record, if any
func (m *Manager) cached(meta *metadata.Metadata, raw storage.Record) *document.Document {
	idField, err := meta.IdentityField()
	if err != nil {
		return nil
	}
	stored, ok := raw[idField.Name]
	if !ok || stored == nil {
		return nil
	}
	id, err := m.adapter.ToModelValue(idField.Type, stored)
	if err != nil {
		return nil
	}
	return m.docs.Get(meta.Name, id)
}

// register adds a hydrated document and the referenced documents reachable
// from it to the identity map. Instances already mapped win and replace the
// freshly hydrated copies in the relations holding them; the returned
// document is the mapped instance for doc.
func (m *Manager) register(doc *document.Document) *document.Document {
	mapped := make(map[*document.Document]*document.Document)

	var walk func(d *document.Document) *document.Document
	walk = func(d *document.Document) *document.Document {
		if d == nil {
			return nil
		}
		if r, ok := mapped[d]; ok {
			return r
		}
		mapped[d] = d

		if d.HasID() {
			if existing := m.docs.Get(d.Type(), d.ID()); existing != nil {
				mapped[d] = existing
				return existing
			}
			if err := m.docs.Add(d); err != nil {
				m.logger.Debug("document not cached", zap.String("document", d.Type()), zap.Error(err))
			}
		}
		for _, rel := range d.Metadata().References() {
			m.remap(d, rel, walk)
		}
		return d
	}
	return walk(doc)
}

// remap points a relation of d at the mapped instances of its documents
func (m *Manager) remap(d *document.Document, rel *metadata.Relation, walk func(*document.Document) *document.Document) {
	var value interface{}
	switch v := d.Get(rel.Property).(type) {
	case *document.Document:
		if v == nil {
			return
		}
		r := walk(v)
		if r == v {
			return
		}
		value = r
	case []*document.Document:
		list := make([]*document.Document, len(v))
		changed := false
		for i, child := range v {
			list[i] = walk(child)
			changed = changed || list[i] != child
		}
		if !changed {
			return
		}
		value = list
	default:
		return
	}
	if err := d.Set(rel.Property, value); err != nil {
		m.logger.Debug("relation not remapped",
			zap.String("document", d.Type()),
			zap.String("relation", rel.Property),
			zap.Error(err))
	}
}
