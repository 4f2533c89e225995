package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// RecordCache caches raw storage records by collection and id in a
// Backend. Backend failures are logged and treated as misses.
type RecordCache struct {
	backend Backend
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRecordCache creates a record cache over backend
func NewRecordCache(backend Backend, ttl time.Duration, logger *zap.Logger) *RecordCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordCache{backend: backend, ttl: ttl, logger: logger}
}

// RecordKey builds the cache key of one record
func RecordKey(collection string, id interface{}) string {
	return fmt.Sprintf("record:%s:%v", collection, id)
}

func collectionPrefix(collection string) string {
	return fmt.Sprintf("record:%s:", collection)
}

// Load returns the cached record, or false on a miss
func (c *RecordCache) Load(ctx context.Context, collection string, id interface{}) (storage.Record, bool) {
	data, err := c.backend.Get(ctx, RecordKey(collection, id))
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("record cache read failed",
				zap.String("collection", collection),
				zap.Any("id", id),
				zap.Error(err))
		}
		return nil, false
	}

	rec, err := storage.DecodeRecord(data)
	if err != nil {
		c.logger.Warn("discarding undecodable cached record",
			zap.String("collection", collection),
			zap.Any("id", id),
			zap.Error(err))
		_ = c.backend.Delete(ctx, RecordKey(collection, id))
		return nil, false
	}
	return rec, true
}

// Store caches a record
func (c *RecordCache) Store(ctx context.Context, collection string, id interface{}, rec storage.Record) {
	data, err := storage.EncodeRecord(rec)
	if err == nil {
		err = c.backend.Set(ctx, RecordKey(collection, id), data, c.ttl)
	}
	if err != nil {
		c.logger.Warn("record cache write failed",
			zap.String("collection", collection),
			zap.Any("id", id),
			zap.Error(err))
	}
}

// Invalidate drops one cached record
func (c *RecordCache) Invalidate(ctx context.Context, collection string, id interface{}) {
	if err := c.backend.Delete(ctx, RecordKey(collection, id)); err != nil {
		c.logger.Warn("record cache invalidation failed",
			zap.String("collection", collection),
			zap.Any("id", id),
			zap.Error(err))
	}
}

// InvalidateCollection drops every cached record of a collection
func (c *RecordCache) InvalidateCollection(ctx context.Context, collection string) {
	if err := c.backend.ClearPrefix(ctx, collectionPrefix(collection)); err != nil {
		c.logger.Warn("record cache collection invalidation failed",
			zap.String("collection", collection),
			zap.Error(err))
	}
}
