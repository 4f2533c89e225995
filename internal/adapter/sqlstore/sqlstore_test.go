package sqlstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

func userMeta(strategy metadata.IDStrategy) *metadata.Metadata {
	m := metadata.New("User").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddField(&metadata.Field{Name: "email", Type: metadata.TypeString}).
		AddField(&metadata.Field{Name: "age", Type: metadata.TypeNumber})
	m.IDField = "id"
	m.IDStrategy = strategy
	return m
}

func newMock(t *testing.T, dialect Dialect) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := New(db, WithDialect(dialect))
	require.NoError(t, err)
	return c, mock
}

func newSQLite(t *testing.T) *Client {
	t.Helper()
	c, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.EnsureSchema(context.Background()))
	return c
}

func encoded(t *testing.T, rec storage.Record) []byte {
	t.Helper()
	body, err := storage.EncodeRecord(rec)
	require.NoError(t, err)
	return body
}

func TestStatements(t *testing.T) {
	pg, err := newStatements(Postgres, "records")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO records (collection, id, body) VALUES ($1, $2, $3)", pg.insert())
	assert.Equal(t, "UPDATE records SET body = $1 WHERE collection = $2 AND id = $3", pg.update())
	assert.Equal(t, "SELECT body FROM records WHERE collection = $1 AND id IN ($2, $3) ORDER BY id", pg.scan(2))
	assert.Contains(t, pg.createTable(), "body BYTEA NOT NULL")

	lite, err := newStatements(SQLite, "records")
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM records WHERE collection = ? AND id = ?", lite.remove())
	assert.Equal(t, "SELECT body FROM records WHERE collection = ? ORDER BY id", lite.scan(0))
	assert.Contains(t, lite.createTable(), "body BLOB NOT NULL")

	_, err = newStatements(SQLite, "records; DROP TABLE x")
	assert.True(t, ormerror.IsConfiguration(err))
}

func TestDialectForDriver(t *testing.T) {
	tests := []struct {
		driver string
		want   Dialect
	}{
		{"sqlite3", SQLite},
		{"postgres", Postgres},
		{"pgx", Postgres},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := DialectForDriver(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DialectForDriver("oracle")
	assert.True(t, ormerror.IsConfiguration(err))
	assert.Equal(t, "postgres", Postgres.String())
}

func TestInsertStatement(t *testing.T) {
	c, mock := newMock(t, Postgres)

	mock.ExpectExec("INSERT INTO docmapper_records (collection, id, body) VALUES ($1, $2, $3)").
		WithArgs("users", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := c.Insert(context.Background(), userMeta(metadata.IDStrategyManual), "users", storage.Record{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateFromPostgres(t *testing.T) {
	c, mock := newMock(t, Postgres)

	mock.ExpectExec("INSERT INTO docmapper_records (collection, id, body) VALUES ($1, $2, $3)").
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (collection, id)=(users, u1) already exists."})

	_, err := c.Insert(context.Background(), userMeta(metadata.IDStrategyManual), "users", storage.Record{"id": "u1"})
	assert.True(t, IsDuplicateID(err))
	assert.True(t, ormerror.IsStorage(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissing(t *testing.T) {
	c, mock := newMock(t, Postgres)

	mock.ExpectQuery("SELECT body FROM docmapper_records WHERE collection = $1 AND id = $2").
		WithArgs("users", "u9").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	rec, err := c.Find(context.Background(), userMeta(metadata.IDStrategyManual), "users", "u9")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRollsBack(t *testing.T) {
	c, mock := newMock(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT body FROM docmapper_records WHERE collection = $1 AND id = $2").
		WithArgs("users", "u9").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	mock.ExpectRollback()

	err := c.Update(context.Background(), userMeta(metadata.IDStrategyManual), "users", "u9", storage.Record{"email": "x"})
	assert.True(t, ormerror.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWhereInIsPushedDown(t *testing.T) {
	c, mock := newMock(t, Postgres)

	rows := sqlmock.NewRows([]string{"body"}).
		AddRow(encoded(t, storage.Record{"id": "a", "age": 30})).
		AddRow(encoded(t, storage.Record{"id": "b", "age": 20}))
	mock.ExpectQuery("SELECT body FROM docmapper_records WHERE collection = $1 AND id IN ($2, $3) ORDER BY id").
		WithArgs("users", "a", "b").
		WillReturnRows(rows)

	q := storage.NewQuery(nil).
		WhereIn("id", []interface{}{"a", "b"}).
		OrderBy("age", metadata.Ascending)
	records, err := c.FindByQuery(context.Background(), userMeta(metadata.IDStrategyManual), "users", q)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := c.FindByQuery(context.Background(), userMeta(metadata.IDStrategyManual), "users",
		storage.NewQuery(nil).WhereIn("id", nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransactionStatements(t *testing.T) {
	c, mock := newMock(t, SQLite)
	meta := userMeta(metadata.IDStrategyManual)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO docmapper_records (collection, id, body) VALUES (?, ?, ?)").
		WithArgs("users", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM docmapper_records WHERE collection = ? AND id = ?").
		WithArgs("users", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, err := c.StartTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, InTransaction(ctx))

	_, err = c.StartTransaction(ctx)
	assert.True(t, ormerror.IsInvalidOperation(err))

	_, err = c.Insert(ctx, meta, "users", storage.Record{"id": "u1"})
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, meta, "users", "u2"))
	require.NoError(t, c.CommitTransaction(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, ormerror.IsInvalidOperation(c.CommitTransaction(context.Background())))
	assert.True(t, ormerror.IsInvalidOperation(c.RollbackTransaction(context.Background())))
}

func TestSQLiteCRUD(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)

	t.Run("auto id", func(t *testing.T) {
		meta := userMeta(metadata.IDStrategyAuto)
		id, err := c.Insert(ctx, meta, "auto_users", storage.Record{"email": "a@x.com"})
		require.NoError(t, err)

		parsed, err := uuid.Parse(id.(string))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())

		rec, err := c.Find(ctx, meta, "auto_users", id)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", rec["email"])
		assert.Equal(t, id, rec["id"])
	})

	t.Run("manual id is required", func(t *testing.T) {
		_, err := c.Insert(ctx, userMeta(metadata.IDStrategyManual), "users", storage.Record{"email": "a@x.com"})
		assert.True(t, ormerror.IsInvalidOperation(err))
	})

	t.Run("duplicate id", func(t *testing.T) {
		meta := userMeta(metadata.IDStrategyManual)
		_, err := c.Insert(ctx, meta, "dupes", storage.Record{"id": "u1"})
		require.NoError(t, err)

		_, err = c.Insert(ctx, meta, "dupes", storage.Record{"id": "u1"})
		assert.True(t, IsDuplicateID(err))
	})

	t.Run("update and remove", func(t *testing.T) {
		meta := userMeta(metadata.IDStrategyManual)
		_, err := c.Insert(ctx, meta, "people", storage.Record{"id": "p1", "email": "old@x.com", "age": 30})
		require.NoError(t, err)

		require.NoError(t, c.Update(ctx, meta, "people", "p1", storage.Record{"email": "new@x.com", "age": storage.Undefined}))
		rec, err := c.Find(ctx, meta, "people", "p1")
		require.NoError(t, err)
		assert.Equal(t, "new@x.com", rec["email"])
		assert.NotContains(t, rec, "age")

		require.NoError(t, c.Remove(ctx, meta, "people", "p1"))
		rec, err = c.Find(ctx, meta, "people", "p1")
		require.NoError(t, err)
		assert.Nil(t, rec)

		require.NoError(t, c.Remove(ctx, meta, "people", "p1"))
		assert.True(t, ormerror.IsNotFound(c.Update(ctx, meta, "people", "p1", storage.Record{"age": 1})))
	})

	t.Run("collections are separate", func(t *testing.T) {
		meta := userMeta(metadata.IDStrategyManual)
		_, err := c.Insert(ctx, meta, "left", storage.Record{"id": "x"})
		require.NoError(t, err)

		rec, err := c.Find(ctx, meta, "right", "x")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func seed(t *testing.T, c *Client, collection string) *metadata.Metadata {
	t.Helper()
	meta := userMeta(metadata.IDStrategyManual)
	for _, rec := range []storage.Record{
		{"id": "u1", "email": "a@x.com", "age": 30},
		{"id": "u2", "email": "b@x.com", "age": 20},
		{"id": "u3", "email": "c@x.com", "age": 30},
	} {
		_, err := c.Insert(context.Background(), meta, collection, rec)
		require.NoError(t, err)
	}
	return meta
}

func TestSQLiteQueries(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)
	meta := seed(t, c, "users")

	records, err := c.FindBy(ctx, meta, "users", storage.Criteria{"age": 30})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	q := storage.NewQuery(nil).OrderBy("age", metadata.Ascending).OrderBy("id", metadata.Descending).Page(1, 1)
	records, err = c.FindByQuery(ctx, meta, "users", q)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u3", records[0]["id"])

	count, err := c.FindCountBy(ctx, meta, "users", storage.NewQuery(storage.Criteria{"age": 30}).Page(0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	records, err = c.FindByQuery(ctx, meta, "users", storage.NewQuery(nil).WhereIn("id", []interface{}{"u2", "u9"}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b@x.com", records[0]["email"])
}

func TestSQLiteBulkOperations(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)
	meta := seed(t, c, "users")

	updated, err := c.UpdateBy(ctx, meta, "users", storage.Criteria{"age": 30}, storage.Record{"email": "same@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	records, err := c.FindBy(ctx, meta, "users", storage.Criteria{"email": "same@x.com"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	removed, err := c.RemoveBy(ctx, meta, "users", storage.Criteria{"email": "same@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := c.FindCountBy(ctx, meta, "users", storage.NewQuery(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteTransactions(t *testing.T) {
	c := newSQLite(t)
	meta := userMeta(metadata.IDStrategyManual)

	t.Run("rollback discards writes", func(t *testing.T) {
		ctx, err := c.StartTransaction(context.Background())
		require.NoError(t, err)

		_, err = c.Insert(ctx, meta, "users", storage.Record{"id": "r1"})
		require.NoError(t, err)
		rec, err := c.Find(ctx, meta, "users", "r1")
		require.NoError(t, err)
		assert.NotNil(t, rec)

		require.NoError(t, c.RollbackTransaction(ctx))

		rec, err = c.Find(context.Background(), meta, "users", "r1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("commit keeps writes", func(t *testing.T) {
		ctx, err := c.StartTransaction(context.Background())
		require.NoError(t, err)

		_, err = c.Insert(ctx, meta, "users", storage.Record{"id": "c1"})
		require.NoError(t, err)
		require.NoError(t, c.CommitTransaction(ctx))

		rec, err := c.Find(context.Background(), meta, "users", "c1")
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})
}
