// Package sqlstore stores documents as BSON bodies in a single SQL table
// keyed by collection and id. Queries are evaluated in Go over the decoded
// records; id lookups use the primary key.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/adapter/docstore"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// DefaultTable is the table holding every collection
const DefaultTable = "docmapper_records"

var (
	_ storage.Client        = (*Client)(nil)
	_ storage.Transactional = (*Client)(nil)
)

// Client is a storage.Client over database/sql
type Client struct {
	db      *sql.DB
	dialect Dialect
	table   string
	stmts   *statements
	logger  *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithDialect sets the SQL dialect
func WithDialect(d Dialect) Option {
	return func(c *Client) {
		c.dialect = d
	}
}

// WithTable sets the records table name
func WithTable(name string) Option {
	return func(c *Client) {
		c.table = name
	}
}

// WithLogger sets the client's logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client over an open database
func New(db *sql.DB, opts ...Option) (*Client, error) {
	c := &Client{
		db:      db,
		dialect: SQLite,
		table:   DefaultTable,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	stmts, err := newStatements(c.dialect, c.table)
	if err != nil {
		return nil, err
	}
	c.stmts = stmts
	return c, nil
}

// Open opens a database with a registered driver and creates a client for it
func Open(driver, dsn string, opts ...Option) (*Client, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	c, err := New(db, append([]Option{WithDialect(dialect)}, opts...)...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB returns the underlying database
func (c *Client) DB() *sql.DB {
	return c.db
}

// Dialect returns the client's SQL dialect
func (c *Client) Dialect() Dialect {
	return c.dialect
}

// EnsureSchema creates the records table if it does not exist
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, c.stmts.createTable()); err != nil {
		return convertDBError("ensure schema", err)
	}
	return nil
}

// Ping verifies the database connection
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return ormerror.Storage("ping", err)
	}
	return nil
}

// Close closes the database
func (c *Client) Close() error {
	return c.db.Close()
}

func identity(meta *metadata.Metadata) (string, error) {
	f, err := meta.IdentityField()
	if err != nil {
		return "", ormerror.Configuration("%v", err)
	}
	return f.Name, nil
}

func idKey(id interface{}) string {
	return fmt.Sprint(id)
}

// Insert stores a record. AUTO documents without an id get a UUIDv7.
func (c *Client) Insert(ctx context.Context, meta *metadata.Metadata, collection string, rec storage.Record) (interface{}, error) {
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

	body, err := storage.EncodeRecord(rec)
	if err != nil {
		return nil, ormerror.Storage("insert", err)
	}

	err = c.withExecutor(ctx, false, func(exec executor) error {
		_, err := exec.ExecContext(ctx, c.stmts.insert(), collection, idKey(id), body)
		return err
	})
	if err != nil {
		return nil, convertDBError("insert", err)
	}

	c.logger.Debug("inserted record", zap.String("collection", collection), zap.Any("id", id))
	return id, nil
}

// Update merges patch into the stored record
func (c *Client) Update(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}, patch storage.Record) error {
	return c.withExecutor(ctx, true, func(exec executor) error {
		rec, err := c.find(ctx, exec, collection, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ormerror.NotFound("%s %v not found", meta.Name, id).WithOp("update")
		}
		docstore.PatchRecord(rec, patch)
		return c.write(ctx, exec, collection, id, rec)
	})
}

// Remove deletes a record. Removing a missing record is not an error.
func (c *Client) Remove(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}) error {
	return c.withExecutor(ctx, false, func(exec executor) error {
		if _, err := exec.ExecContext(ctx, c.stmts.remove(), collection, idKey(id)); err != nil {
			return convertDBError("remove", err)
		}
		return nil
	})
}

// Find returns the record with the given id, or nil when none exists
func (c *Client) Find(ctx context.Context, meta *metadata.Metadata, collection string, id interface{}) (storage.Record, error) {
	var rec storage.Record
	err := c.withExecutor(ctx, false, func(exec executor) error {
		var err error
		rec, err = c.find(ctx, exec, collection, id)
		return err
	})
	return rec, err
}

// FindBy returns the records equal to criteria on every key
func (c *Client) FindBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria storage.Criteria) ([]storage.Record, error) {
	return c.FindByQuery(ctx, meta, collection, storage.NewQuery(criteria))
}

// FindByQuery returns the records matching q, sorted and paged
func (c *Client) FindByQuery(ctx context.Context, meta *metadata.Metadata, collection string, q *storage.Query) ([]storage.Record, error) {
	records, err := c.scanQuery(ctx, meta, collection, q)
	if err != nil {
		return nil, err
	}
	return docstore.ApplyQuery(records, q), nil
}

// FindCountBy counts the records matching q, ignoring paging
func (c *Client) FindCountBy(ctx context.Context, meta *metadata.Metadata, collection string, q *storage.Query) (int64, error) {
	records, err := c.scanQuery(ctx, meta, collection, q)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, rec := range records {
		if docstore.MatchQuery(rec, q) {
			count++
		}
	}
	return count, nil
}

// UpdateBy merges patch into every record matching criteria
func (c *Client) UpdateBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria storage.Criteria, patch storage.Record) (int64, error) {
	idName, err := identity(meta)
	if err != nil {
		return 0, err
	}

	var updated int64
	err = c.withExecutor(ctx, true, func(exec executor) error {
		records, err := c.scan(ctx, exec, collection, nil)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !docstore.MatchRecord(rec, criteria) {
				continue
			}
			id := rec[idName]
			docstore.PatchRecord(rec, patch)
			if err := c.write(ctx, exec, collection, id, rec); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// RemoveBy deletes every record matching criteria
func (c *Client) RemoveBy(ctx context.Context, meta *metadata.Metadata, collection string, criteria storage.Criteria) (int64, error) {
	idName, err := identity(meta)
	if err != nil {
		return 0, err
	}

	var removed int64
	err = c.withExecutor(ctx, true, func(exec executor) error {
		records, err := c.scan(ctx, exec, collection, nil)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !docstore.MatchRecord(rec, criteria) {
				continue
			}
			if _, err := exec.ExecContext(ctx, c.stmts.remove(), collection, idKey(rec[idName])); err != nil {
				return convertDBError("removeBy", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Client) find(ctx context.Context, exec executor, collection string, id interface{}) (storage.Record, error) {
	var body []byte
	err := exec.QueryRowContext(ctx, c.stmts.find(), collection, idKey(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, convertDBError("find", err)
	}
	rec, err := storage.DecodeRecord(body)
	if err != nil {
		return nil, ormerror.Storage("find", err)
	}
	return rec, nil
}

func (c *Client) write(ctx context.Context, exec executor, collection string, id interface{}, rec storage.Record) error {
	body, err := storage.EncodeRecord(rec)
	if err != nil {
		return ormerror.Storage("update", err)
	}
	res, err := exec.ExecContext(ctx, c.stmts.update(), body, collection, idKey(id))
	if err != nil {
		return convertDBError("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ormerror.NotFound("record %v not found in %s", id, collection).WithOp("update")
	}
	return nil
}

// scanQuery loads the candidate records of q. A where-in filter on the id
// field is pushed down to the primary key.
func (c *Client) scanQuery(ctx context.Context, meta *metadata.Metadata, collection string, q *storage.Query) ([]storage.Record, error) {
	var ids []interface{}
	if q != nil && q.InField != "" {
		if idName, err := identity(meta); err == nil && q.InField == idName {
			if len(q.InValues) == 0 {
				return nil, nil
			}
			ids = q.InValues
		}
	}

	var records []storage.Record
	err := c.withExecutor(ctx, false, func(exec executor) error {
		var err error
		records, err = c.scan(ctx, exec, collection, ids)
		return err
	})
	return records, err
}

func (c *Client) scan(ctx context.Context, exec executor, collection string, ids []interface{}) ([]storage.Record, error) {
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, idKey(id))
	}

	rows, err := exec.QueryContext(ctx, c.stmts.scan(len(ids)), args...)
	if err != nil {
		return nil, convertDBError("scan", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, convertDBError("scan", err)
		}
		rec, err := storage.DecodeRecord(body)
		if err != nil {
			return nil, ormerror.Storage("scan", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, convertDBError("scan", err)
	}
	return records, nil
}
