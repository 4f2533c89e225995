package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// contextKeyTransaction is the key for storing a transaction in context
	contextKeyTransaction contextKey = "docmapper:sqlstore:transaction"
)

// txState is a transaction shared by the concurrent operations of a flush.
// mu serializes statements on the transaction's single connection.
type txState struct {
	mu sync.Mutex
	tx *sql.Tx
}

// fromContext retrieves the transaction carried by ctx
func fromContext(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(contextKeyTransaction).(*txState)
	return state, ok
}

// InTransaction reports whether ctx carries a transaction
func InTransaction(ctx context.Context) bool {
	_, ok := fromContext(ctx)
	return ok
}

// StartTransaction begins a transaction and returns a context carrying it.
// Nested transactions are not supported.
func (c *Client) StartTransaction(ctx context.Context) (context.Context, error) {
	if InTransaction(ctx) {
		return ctx, ormerror.InvalidOperation("a transaction is already in progress")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, contextKeyTransaction, &txState{tx: tx}), nil
}

// CommitTransaction commits the transaction carried by ctx
func (c *Client) CommitTransaction(ctx context.Context) error {
	state, ok := fromContext(ctx)
	if !ok {
		return ormerror.InvalidOperation("no transaction in context")
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := state.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the transaction carried by ctx
func (c *Client) RollbackTransaction(ctx context.Context) error {
	state, ok := fromContext(ctx)
	if !ok {
		return ormerror.InvalidOperation("no transaction in context")
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := state.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// executor is satisfied by *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withExecutor runs fn against the transaction in ctx, or against a new
// transaction when atomic is set, or directly against the database
func (c *Client) withExecutor(ctx context.Context, atomic bool, fn func(exec executor) error) error {
	if state, ok := fromContext(ctx); ok {
		state.mu.Lock()
		defer state.mu.Unlock()
		return fn(state.tx)
	}
	if !atomic {
		return fn(c.db)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
