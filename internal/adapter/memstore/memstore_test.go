package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
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

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("auto id is generated", func(t *testing.T) {
		c := New()
		id, err := c.Insert(ctx, userMeta(metadata.IDStrategyAuto), "users", storage.Record{"email": "a@x.com"})
		require.NoError(t, err)

		parsed, err := uuid.Parse(id.(string))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())

		rec, err := c.Find(ctx, userMeta(metadata.IDStrategyAuto), "users", id)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", rec["email"])
		assert.Equal(t, id, rec["id"])
	})

	t.Run("manual id is required", func(t *testing.T) {
		c := New()
		_, err := c.Insert(ctx, userMeta(metadata.IDStrategyManual), "users", storage.Record{"email": "a@x.com"})
		assert.True(t, ormerror.IsInvalidOperation(err))
	})

	t.Run("duplicate id", func(t *testing.T) {
		c := New()
		meta := userMeta(metadata.IDStrategyManual)
		_, err := c.Insert(ctx, meta, "users", storage.Record{"id": "u1"})
		require.NoError(t, err)

		_, err = c.Insert(ctx, meta, "users", storage.Record{"id": "u1"})
		assert.True(t, ormerror.IsStorage(err))
	})

	t.Run("records are isolated", func(t *testing.T) {
		c := New()
		meta := userMeta(metadata.IDStrategyManual)
		rec := storage.Record{"id": "u1", "email": "a@x.com"}
		_, err := c.Insert(ctx, meta, "users", rec)
		require.NoError(t, err)

		rec["email"] = "changed"
		found, err := c.Find(ctx, meta, "users", "u1")
		require.NoError(t, err)
		found["email"] = "changed again"

		again, err := c.Find(ctx, meta, "users", "u1")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", again["email"])
	})
}

func TestUpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	c := New()
	meta := userMeta(metadata.IDStrategyManual)

	_, err := c.Insert(ctx, meta, "users", storage.Record{"id": 1, "email": "a@x.com", "age": 30})
	require.NoError(t, err)

	require.NoError(t, c.Update(ctx, meta, "users", 1, storage.Record{"age": 31}))
	rec, err := c.Find(ctx, meta, "users", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 31, rec["age"])
	assert.Equal(t, "a@x.com", rec["email"])

	err = c.Update(ctx, meta, "users", 2, storage.Record{"age": 1})
	assert.True(t, ormerror.IsNotFound(err))

	require.NoError(t, c.Remove(ctx, meta, "users", 1))
	require.NoError(t, c.Remove(ctx, meta, "users", 1))
	rec, err = c.Find(ctx, meta, "users", 1)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func seed(t *testing.T, c *Client) *metadata.Metadata {
	t.Helper()
	meta := userMeta(metadata.IDStrategyManual)
	for i, email := range []string{"c@x.com", "a@x.com", "b@x.com", "a@x.com"} {
		_, err := c.Insert(context.Background(), meta, "users", storage.Record{"id": i + 1, "email": email, "age": 20 + i})
		require.NoError(t, err)
	}
	return meta
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	c := New()
	meta := seed(t, c)

	t.Run("find by criteria keeps insertion order", func(t *testing.T) {
		recs, err := c.FindBy(ctx, meta, "users", storage.Criteria{"email": "a@x.com"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.EqualValues(t, 2, recs[0]["id"])
		assert.EqualValues(t, 4, recs[1]["id"])
	})

	t.Run("sorting and paging", func(t *testing.T) {
		q := storage.NewQuery(nil).OrderBy("email", metadata.Ascending).OrderBy("age", metadata.Descending).Page(1, 2)
		recs, err := c.FindByQuery(ctx, meta, "users", q)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.EqualValues(t, 2, recs[0]["id"])
		assert.EqualValues(t, 3, recs[1]["id"])
	})

	t.Run("where in", func(t *testing.T) {
		q := storage.NewQuery(nil).WhereIn("id", []interface{}{1, 3, 99})
		recs, err := c.FindByQuery(ctx, meta, "users", q)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := c.FindCountBy(ctx, meta, "users", storage.NewQuery(storage.Criteria{"email": "a@x.com"}).Page(0, 1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("unknown collection is empty", func(t *testing.T) {
		recs, err := c.FindBy(ctx, meta, "missing", nil)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestBulkOperations(t *testing.T) {
	ctx := context.Background()
	c := New()
	meta := seed(t, c)

	n, err := c.UpdateBy(ctx, meta, "users", storage.Criteria{"email": "a@x.com"}, storage.Record{"age": 50})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := c.FindCountBy(ctx, meta, "users", storage.NewQuery(storage.Criteria{"age": 50}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	n, err = c.RemoveBy(ctx, meta, "users", storage.Criteria{"age": 50})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, c.Len("users"))
}

func TestLocks(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.CreateLock(ctx, "flush"))

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.CreateLock(timeout, "flush"), context.DeadlineExceeded)

	require.NoError(t, c.ReleaseLock(ctx, "flush"))
	assert.True(t, ormerror.IsInvalidOperation(c.ReleaseLock(ctx, "flush")))
	require.NoError(t, c.CreateLock(ctx, "flush"))
}

func TestCanceledContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Insert(ctx, userMeta(metadata.IDStrategyAuto), "users", storage.Record{})
	assert.ErrorIs(t, err, context.Canceled)
}
