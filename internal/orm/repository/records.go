package repository

import (
	"context"

	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

func (m *Manager) loadRecord(ctx context.Context, collection string, id interface{}) (storage.Record, bool) {
	if m.records == nil {
		return nil, false
	}
	return m.records.Load(ctx, collection, id)
}

func (m *Manager) storeRecord(ctx context.Context, collection string, id interface{}, rec storage.Record) {
	if m.records == nil {
		return
	}
	m.records.Store(ctx, collection, id, rec)
}

func (m *Manager) invalidateCollection(ctx context.Context, meta *metadata.Metadata) {
	if m.records == nil {
		return
	}
	m.records.InvalidateCollection(ctx, meta.CollectionName())
}

// registerInvalidation drops cached records whenever a flush writes the
// document they were read from
func (m *Manager) registerInvalidation() {
	invalidate := func(ctx context.Context, ec *events.EventContext) error {
		if ec.Document == nil || ec.Metadata == nil || !ec.Document.HasID() {
			return nil
		}
		idField, err := ec.Metadata.IdentityField()
		if err != nil {
			return nil
		}
		id, err := m.adapter.ToStorageValue(idField.Type, ec.Document.ID())
		if err != nil {
			return err
		}
		m.records.Invalidate(ctx, ec.Metadata.CollectionName(), id)
		return nil
	}

	for _, event := range []string{events.PostPersist, events.PostUpdate, events.PostRemove} {
		l := &events.Listener{Name: "record-cache-invalidation", Fn: invalidate}
		m.events.AddListener(event, l)
		m.listeners = append(m.listeners, registration{event: event, listener: l})
	}
}

// registration is a listener the manager added to the shared dispatcher
type registration struct {
	event    string
	listener *events.Listener
}

// Close removes the listeners the manager registered on the schema's
// dispatcher. The manager's documents stay usable; the record cache is no
// longer invalidated by flushes of other managers.
func (m *Manager) Close() {
	m.mu.Lock()
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	for _, r := range listeners {
		m.events.RemoveListener(r.event, r.listener)
	}
}
