package cache

import (
	"context"
	"errors"
	"time"
)

// Backend stores encoded storage records for a RecordCache. Keys are built
// by RecordKey, so every record of a collection shares one key prefix.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for ttl; a zero ttl uses the backend default and a
	// negative ttl never expires
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// ClearPrefix drops every key starting with prefix; used when a bulk
	// write invalidates a whole collection
	ClearPrefix(ctx context.Context, prefix string) error

	// Clear drops every key under the backend's namespace
	Clear(ctx context.Context) error
}

// BackendConfig holds the settings shared by record cache backends
type BackendConfig struct {
	// DefaultTTL applies to records stored with a zero ttl
	DefaultTTL time.Duration
	// Prefix namespaces the backend's keys, so several engines can share
	// one Redis database
	Prefix string
}

// DefaultBackendConfig returns the default record cache backend settings
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "docmapper:",
	}
}

// ErrMiss matches every MissError through errors.Is
var ErrMiss = errors.New("record cache miss")

// MissError is returned by a Backend for absent or expired keys
type MissError struct {
	Key string
}

func (e *MissError) Error() string {
	return "record cache miss: " + e.Key
}

func (e *MissError) Is(target error) bool {
	return target == ErrMiss
}

// IsCacheMiss reports whether err is a miss rather than a backend failure
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
