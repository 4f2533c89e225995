// Package unitofwork tracks documents pending insert, update or removal and
// writes them to storage in three ordered phases.
package unitofwork

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/cache"
	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/idstrategy"
	"github.com/conduit-lang/docmapper/internal/orm/mapper"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// flushLockName is the lock taken on clients implementing storage.Locker
const flushLockName = "docmapper:flush"

// entry is one document of the working set
type entry struct {
	doc    *document.Document
	remove bool
}

// UnitOfWork is the working set of one manager
type UnitOfWork struct {
	mu      sync.Mutex
	working map[string]*entry

	registry *metadata.Registry
	events   *events.Dispatcher
	mapper   *mapper.Mapper
	client   storage.Client
	docs     *cache.DocumentCache

	ids          *idstrategy.Strategy
	transactions bool
	locking      bool
	logger       *zap.Logger
}

// Option configures a UnitOfWork
type Option func(*UnitOfWork)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(u *UnitOfWork) {
		u.logger = logger
	}
}

// WithIDStrategy sets the strategy used for MANUAL documents inserted without
// an id when the adapter requests generation
func WithIDStrategy(s *idstrategy.Strategy) Option {
	return func(u *UnitOfWork) {
		u.ids = s
	}
}

// WithTransactions wraps each flush in a storage transaction when the client
// supports them
func WithTransactions(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.transactions = enabled
	}
}

// WithLocking takes the client's flush lock around each flush when the client
// supports locking. Enabled by default.
func WithLocking(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.locking = enabled
	}
}

// New creates a unit of work writing through client
func New(schema *orm.Schema, m *mapper.Mapper, client storage.Client, docs *cache.DocumentCache, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		working:  make(map[string]*entry),
		registry: schema.Registry,
		events:   schema.Events,
		mapper:   m,
		client:   client,
		docs:     docs,
		locking:  true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// GenerateObjectID returns a new internal correlation key
func (u *UnitOfWork) GenerateObjectID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Persist registers a document with the working set. A document without an
// id, or explicitly marked new, is scheduled for insert together with the new
// documents reachable through its references; any other document is
// scheduled for update. Persisting a tracked document re-registers it.
func (u *UnitOfWork) Persist(doc *document.Document) error {
	return u.persist(doc, make(map[string]bool))
}

func (u *UnitOfWork) persist(doc *document.Document, visited map[string]bool) error {
	if doc == nil {
		return ormerror.InvalidOperation("cannot persist a nil document")
	}
	meta, err := u.registry.ForDocument(doc)
	if err != nil {
		return err
	}

	oid := u.track(doc, false)
	if visited[oid] {
		return nil
	}
	visited[oid] = true

	if !isNew(doc) {
		doc.SetNew(false)
		return nil
	}
	doc.SetNew(true)

	for _, rel := range meta.References() {
		for _, child := range doc.Related(rel.Property) {
			if child == nil || !isNew(child) {
				continue
			}
			if err := u.persist(child, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// isNew reports whether a document has never been stored
func isNew(doc *document.Document) bool {
	return !doc.HasID() || doc.MarkedNew() || doc.IsNew()
}

// ScheduleInsert persists a document that must be new
func (u *UnitOfWork) ScheduleInsert(doc *document.Document) error {
	if err := u.Persist(doc); err != nil {
		return err
	}
	if !doc.IsNew() {
		u.Clear(doc)
		return ormerror.InvalidOperation("cannot insert existing document %s", doc).
			WithDetail("id", doc.ID())
	}
	return nil
}

// ScheduleUpdate persists a document that must already exist in storage
func (u *UnitOfWork) ScheduleUpdate(doc *document.Document) error {
	if err := u.Persist(doc); err != nil {
		return err
	}
	if doc.IsNew() {
		u.Clear(doc)
		return ormerror.InvalidOperation("cannot update new document %s", doc)
	}
	return nil
}

// ScheduleRemoval flags a stored document for removal on the next flush
func (u *UnitOfWork) ScheduleRemoval(doc *document.Document) error {
	if doc == nil {
		return ormerror.InvalidOperation("cannot remove a nil document")
	}
	if _, err := u.registry.ForDocument(doc); err != nil {
		return err
	}
	if isNew(doc) {
		return ormerror.InvalidOperation("cannot remove document %s: it was never persisted", doc)
	}
	doc.SetNew(false)
	u.track(doc, true)
	return nil
}

// track assigns an object id if needed and adds the document to the working
// set. remove flags the entry for removal; re-tracking without it keeps an
// existing flag.
func (u *UnitOfWork) track(doc *document.Document, remove bool) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	oid := doc.ObjectID()
	if oid == "" {
		oid = u.GenerateObjectID()
		doc.SetObjectID(oid)
	}
	e, ok := u.working[oid]
	if !ok {
		e = &entry{doc: doc}
		u.working[oid] = e
	}
	e.doc = doc
	if remove {
		e.remove = true
	}
	return oid
}

// untrack drops a document from the working set
func (u *UnitOfWork) untrack(doc *document.Document) {
	oid := doc.ObjectID()
	if oid == "" {
		return
	}
	u.mu.Lock()
	if e, ok := u.working[oid]; ok && e.doc == doc {
		delete(u.working, oid)
	}
	u.mu.Unlock()
}

// IsTracked reports whether a document is in the working set
func (u *UnitOfWork) IsTracked(doc *document.Document) bool {
	if doc == nil || doc.ObjectID() == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.working[doc.ObjectID()]
	return ok && e.doc == doc
}

// IsScheduledForRemoval reports whether a tracked document is flagged for removal
func (u *UnitOfWork) IsScheduledForRemoval(doc *document.Document) bool {
	if doc == nil || doc.ObjectID() == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.working[doc.ObjectID()]
	return ok && e.doc == doc && e.remove
}

// Len returns the number of tracked documents
func (u *UnitOfWork) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.working)
}

// Clear detaches the given documents, or every tracked document when none
// are given
func (u *UnitOfWork) Clear(docs ...*document.Document) {
	if len(docs) == 0 {
		u.mu.Lock()
		working := u.working
		u.working = make(map[string]*entry)
		u.mu.Unlock()

		for _, e := range working {
			e.doc.Detach()
		}
		return
	}

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		u.untrack(doc)
		doc.Detach()
	}
}

// entries returns the working-set entries to flush: the given documents, or
// the whole working set
func (u *UnitOfWork) entries(docs []*document.Document) []*entry {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(docs) == 0 {
		list := make([]*entry, 0, len(u.working))
		for _, e := range u.working {
			list = append(list, e)
		}
		return list
	}

	list := make([]*entry, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if e, ok := u.working[doc.ObjectID()]; ok && e.doc == doc {
			list = append(list, e)
		}
	}
	return list
}
