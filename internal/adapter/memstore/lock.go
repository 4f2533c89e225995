package memstore

import (
	"context"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

func (c *Client) lockChannel(name string) chan struct{} {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	ch, ok := c.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		c.locks[name] = ch
	}
	return ch
}

// CreateLock acquires the named lock, waiting until it is free or ctx ends
func (c *Client) CreateLock(ctx context.Context, name string) error {
	select {
	case c.lockChannel(name) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseLock releases the named lock
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	select {
	case <-c.lockChannel(name):
		return nil
	default:
		return ormerror.InvalidOperation("lock %s is not held", name)
	}
}
