// Package memstore is an in-process document store. Records are kept BSON
// encoded so callers never share memory with stored data.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/adapter/docstore"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

type collection struct {
	records map[string][]byte
	order   []string
}

func newCollection() *collection {
	return &collection{records: make(map[string][]byte)}
}

func (c *collection) remove(key string) {
	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Client is an in-memory storage.Client
type Client struct {
	mu          sync.RWMutex
	collections map[string]*collection

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	logger *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client's logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an empty in-memory store
func New(opts ...Option) *Client {
	c := &Client{
		collections: make(map[string]*collection),
		locks:       make(map[string]chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func idKey(id interface{}) string {
	return fmt.Sprint(id)
}

func identity(meta *metadata.Metadata) (string, error) {
	f, err := meta.IdentityField()
	if err != nil {
		return "", ormerror.Configuration("%v", err)
	}
	return f.Name, nil
}

// Insert stores a record. AUTO documents without an id get a UUIDv7.
func (c *Client) Insert(ctx context.Context, meta *metadata.Metadata, name string, rec storage.Record) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idName, err := identity(meta)
	if err != nil {
		return nil, err
	}

	rec = rec.Copy()
	id := rec[idName]
	if id == nil {
		if meta.IDStrategy == metadata.IDStrategyManual {
			return nil, ormerror.InvalidOperation("cannot insert %s without an id", meta.Name)
		}
		generated, err := uuid.NewV7()
		if err != nil {
			return nil, ormerror.Storage("insert", err)
		}
		id = generated.String()
		rec[idName] = id
	}

	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return nil, ormerror.Storage("insert", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, ok := c.collections[name]
	if !ok {
		coll = newCollection()
		c.collections[name] = coll
	}
	key := idKey(id)
	if _, exists := coll.records[key]; exists {
		return nil, ormerror.Storage("insert", fmt.Errorf("duplicate id %v in %s", id, name))
	}
	coll.records[key] = data
	coll.order = append(coll.order, key)

	c.logger.Debug("inserted record", zap.String("collection", name), zap.Any("id", id))
	return id, nil
}

// Update merges rec into the stored record
func (c *Client) Update(ctx context.Context, meta *metadata.Metadata, name string, id interface{}, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, ok := c.collections[name]
	if !ok {
		return ormerror.NotFound("%s %v does not exist", meta.Name, id)
	}
	key := idKey(id)
	data, ok := coll.records[key]
	if !ok {
		return ormerror.NotFound("%s %v does not exist", meta.Name, id)
	}

	stored, err := storage.DecodeRecord(data)
	if err != nil {
		return ormerror.Storage("update", err)
	}
	docstore.PatchRecord(stored, rec)

	if coll.records[key], err = storage.EncodeRecord(stored); err != nil {
		coll.records[key] = data
		return ormerror.Storage("update", err)
	}
	return nil
}

// Remove deletes a record; removing a missing record is a no-op
func (c *Client) Remove(ctx context.Context, meta *metadata.Metadata, name string, id interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if coll, ok := c.collections[name]; ok {
		coll.remove(idKey(id))
	}
	return nil
}

// Find returns the record with the given id, or nil
func (c *Client) Find(ctx context.Context, meta *metadata.Metadata, name string, id interface{}) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	coll, ok := c.collections[name]
	var data []byte
	if ok {
		data = coll.records[idKey(id)]
	}
	c.mu.RUnlock()

	if data == nil {
		return nil, nil
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		return nil, ormerror.Storage("find", err)
	}
	return rec, nil
}

// FindBy returns the records matching criteria in insertion order
func (c *Client) FindBy(ctx context.Context, meta *metadata.Metadata, name string, criteria storage.Criteria) ([]storage.Record, error) {
	return c.FindByQuery(ctx, meta, name, storage.NewQuery(criteria))
}

// FindByQuery returns the records matching a query
func (c *Client) FindByQuery(ctx context.Context, meta *metadata.Metadata, name string, q *storage.Query) ([]storage.Record, error) {
	all, err := c.scan(ctx, name)
	if err != nil {
		return nil, err
	}
	return docstore.ApplyQuery(all, q), nil
}

// FindCountBy counts the records matching a query, ignoring paging
func (c *Client) FindCountBy(ctx context.Context, meta *metadata.Metadata, name string, q *storage.Query) (int64, error) {
	all, err := c.scan(ctx, name)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, rec := range all {
		if docstore.MatchQuery(rec, q) {
			count++
		}
	}
	return count, nil
}

// UpdateBy patches every record matching criteria
func (c *Client) UpdateBy(ctx context.Context, meta *metadata.Metadata, name string, criteria storage.Criteria, patch storage.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, ok := c.collections[name]
	if !ok {
		return 0, nil
	}

	var updated int64
	for _, key := range coll.order {
		rec, err := storage.DecodeRecord(coll.records[key])
		if err != nil {
			return updated, ormerror.Storage("updateBy", err)
		}
		if !docstore.MatchRecord(rec, criteria) {
			continue
		}
		docstore.PatchRecord(rec, patch)
		data, err := storage.EncodeRecord(rec)
		if err != nil {
			return updated, ormerror.Storage("updateBy", err)
		}
		coll.records[key] = data
		updated++
	}
	return updated, nil
}

// RemoveBy deletes every record matching criteria
func (c *Client) RemoveBy(ctx context.Context, meta *metadata.Metadata, name string, criteria storage.Criteria) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	coll, ok := c.collections[name]
	if !ok {
		return 0, nil
	}

	var doomed []string
	for _, key := range coll.order {
		rec, err := storage.DecodeRecord(coll.records[key])
		if err != nil {
			return 0, ormerror.Storage("removeBy", err)
		}
		if docstore.MatchRecord(rec, criteria) {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		coll.remove(key)
	}
	return int64(len(doomed)), nil
}

// Len returns the number of records in a collection
func (c *Client) Len(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if coll, ok := c.collections[name]; ok {
		return len(coll.records)
	}
	return 0
}

func (c *Client) scan(ctx context.Context, name string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	coll, ok := c.collections[name]
	if !ok {
		return nil, nil
	}
	records := make([]storage.Record, 0, len(coll.order))
	for _, key := range coll.order {
		rec, err := storage.DecodeRecord(coll.records[key])
		if err != nil {
			return nil, ormerror.Storage("scan", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
