package mapper_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmapper/internal/adapter/docstore"
	"github.com/conduit-lang/docmapper/internal/adapter/memstore"
	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/mapper"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

type countingClient struct {
	*memstore.Client
	queries int64
}

func (c *countingClient) FindByQuery(ctx context.Context, meta *metadata.Metadata, name string, q *storage.Query) ([]storage.Record, error) {
	atomic.AddInt64(&c.queries, 1)
	return c.Client.FindByQuery(ctx, meta, name, q)
}

type fixture struct {
	schema *orm.Schema
	client *countingClient
	mapper *mapper.Mapper
}

func (f *fixture) meta(t *testing.T, name string) *metadata.Metadata {
	t.Helper()
	m, err := f.schema.Registry.Get(name)
	require.NoError(t, err)
	return m
}

func (f *fixture) insert(t *testing.T, name string, rec storage.Record) {
	t.Helper()
	m := f.meta(t, name)
	_, err := f.client.Insert(context.Background(), m, m.CollectionName(), rec)
	require.NoError(t, err)
}

func newFixture(t *testing.T, opts ...mapper.Option) *fixture {
	t.Helper()

	schema := orm.NewSchema()
	t.Cleanup(schema.Close)

	author := metadata.New("Author").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddField(&metadata.Field{Name: "name", Type: metadata.TypeString, Setter: func(v interface{}) (interface{}, error) {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s), nil
			}
			return v, nil
		}}).
		AddRelation(&metadata.Relation{Kind: metadata.OneToOne, Property: "favorite", Target: "Post"})
	author.IDStrategy = metadata.IDStrategyManual

	address := metadata.New("Address").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddField(&metadata.Field{Name: "city", Type: metadata.TypeString})

	post := metadata.New("Post").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString}).
		AddField(&metadata.Field{Name: "view_count", Property: "views", Type: metadata.TypeNumber, Default: int64(0)}).
		AddField(&metadata.Field{Name: "published", Type: metadata.TypeBoolean}).
		AddField(&metadata.Field{Name: "published_at", Type: metadata.TypeDate}).
		AddField(&metadata.Field{Name: "slug", Type: metadata.TypeString, ReadOnly: true}).
		AddField(&metadata.Field{Name: "audit_note", Type: metadata.TypeString, Table: "post_audits"}).
		AddRelation(&metadata.Relation{Kind: metadata.OneToOne, Property: "author", Target: "Author"}).
		AddRelation(&metadata.Relation{Kind: metadata.OneToMany, Property: "related", StorageName: "related_ids", Target: "Post"}).
		AddRelation(&metadata.Relation{Kind: metadata.EmbedOne, Property: "location", Target: "Address"}).
		AddRelation(&metadata.Relation{Kind: metadata.EmbedMany, Property: "mirrors", Target: "Address"})
	post.IDStrategy = metadata.IDStrategyManual

	node := metadata.New("Node").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddRelation(&metadata.Relation{Kind: metadata.OneToOne, Property: "next", Target: "Node"})

	require.NoError(t, schema.Register(author, address, post, node))

	client := &countingClient{Client: memstore.New()}
	adapter := docstore.New(client, schema.Registry)
	return &fixture{
		schema: schema,
		client: client,
		mapper: mapper.New(schema, adapter, opts...),
	}
}

func TestHydrateScalars(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	doc, err := f.mapper.Hydrate(ctx, f.meta(t, "Post"), storage.Record{
		"id":           "p1",
		"title":        "Hello",
		"published":    "true",
		"published_at": when,
		"slug":         nil,
	})
	require.NoError(t, err)

	assert.Equal(t, "p1", doc.ID())
	assert.Equal(t, "Hello", doc.Get("title"))
	assert.Equal(t, true, doc.Get("published"))
	assert.Equal(t, int64(0), doc.Get("views"))
	assert.True(t, when.Equal(doc.Get("published_at").(time.Time)))

	v, ok := doc.Lookup("slug")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.False(t, doc.Has("audit_note"))

	assert.False(t, doc.MarkedNew())
	assert.True(t, doc.HasSnapshot())
	assert.False(t, doc.HasChanges())
}

func TestHydrateCoercesNumbers(t *testing.T) {
	f := newFixture(t)

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p1", "view_count": "42"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), doc.Get("views"))

	doc, err = f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p2", "view_count": int32(7)})
	require.NoError(t, err)
	assert.Equal(t, int32(7), doc.Get("views"))
}

func TestHydrateConversionFailure(t *testing.T) {
	f := newFixture(t)

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p1", "view_count": "many"})
	assert.Nil(t, doc)
	assert.True(t, ormerror.IsConversion(err))

	doc, err = f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p1", "published_at": true})
	assert.Nil(t, doc)
	assert.True(t, ormerror.IsConversion(err))
}

func TestHydrateAppliesSetters(t *testing.T) {
	f := newFixture(t)

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Author"), storage.Record{"id": "a1", "name": "  Ada  "})
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc.Get("name"))
}

func TestHydrateEvents(t *testing.T) {
	f := newFixture(t)

	special := metadata.New("FeaturedPost").
		AddField(&metadata.Field{Name: "id", Type: metadata.TypeID}).
		AddField(&metadata.Field{Name: "title", Type: metadata.TypeString})
	special.Collection = "posts"
	require.NoError(t, f.schema.Register(special))

	var order []string
	f.schema.Events.AddListener(events.PreHydrate, &events.Listener{Name: "discriminator", Fn: func(ctx context.Context, ec *events.EventContext) error {
		order = append(order, "pre:"+ec.Metadata.Name)
		if ec.Data["kind"] == "featured" {
			ec.Metadata = special
			ec.Document = document.New(special)
		}
		return nil
	}})
	f.schema.Events.AddListener(events.PostHydrate, &events.Listener{Name: "post", Fn: func(ctx context.Context, ec *events.EventContext) error {
		order = append(order, "post:"+ec.Document.Type())
		return nil
	}})

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p1", "title": "T", "kind": "featured"})
	require.NoError(t, err)

	assert.Equal(t, "FeaturedPost", doc.Type())
	assert.Equal(t, "T", doc.Get("title"))
	assert.False(t, doc.MarkedNew())
	assert.Equal(t, []string{"pre:Post", "post:FeaturedPost"}, order)
}

func TestHydrateAbortedByListener(t *testing.T) {
	f := newFixture(t)
	f.schema.Events.AddListener(events.PreHydrate, &events.Listener{Name: "guard", Fn: func(ctx context.Context, ec *events.EventContext) error {
		return events.Abort(errors.New("forbidden"))
	}})

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{"id": "p1"})
	assert.Nil(t, doc)
	assert.True(t, events.IsAbort(err))
}

func TestHydrateRelations(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "Author", storage.Record{"id": "a1", "name": "Ada"})
	f.insert(t, "Post", storage.Record{"id": "p2", "title": "Second"})
	f.insert(t, "Post", storage.Record{"id": "p3", "title": "Third"})

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{
		"id":          "p1",
		"author":      "a1",
		"related_ids": []interface{}{"p2", "p3"},
		"location":    storage.Record{"city": "London"},
		"mirrors":     []interface{}{storage.Record{"city": "Paris"}, storage.Record{"city": "Rome"}},
	})
	require.NoError(t, err)

	author, ok := doc.Get("author").(*document.Document)
	require.True(t, ok)
	assert.Equal(t, "Ada", author.Get("name"))

	related := doc.Related("related")
	require.Len(t, related, 2)
	assert.Equal(t, "Second", related[0].Get("title"))
	assert.Equal(t, "Third", related[1].Get("title"))

	location := doc.Get("location").(*document.Document)
	assert.Equal(t, "London", location.Get("city"))
	assert.Len(t, doc.Related("mirrors"), 2)
}

func TestHydrateCycleYieldsSingleInstance(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "Author", storage.Record{"id": "a1", "name": "Ada", "favorite": "p1"})
	f.insert(t, "Post", storage.Record{"id": "p1", "title": "Loop", "author": "a1", "related_ids": []interface{}{"p1"}})

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Post"), storage.Record{
		"id": "p1", "title": "Loop", "author": "a1", "related_ids": []interface{}{"p1"},
	})
	require.NoError(t, err)

	author := doc.Get("author").(*document.Document)
	assert.Same(t, doc, author.Get("favorite"))
	assert.Same(t, doc, doc.Related("related")[0])
}

func TestHydrateMaxDepth(t *testing.T) {
	f := newFixture(t, mapper.WithMaxDepth(1))
	f.insert(t, "Node", storage.Record{"id": "n2", "next": "n3"})
	f.insert(t, "Node", storage.Record{"id": "n3"})

	_, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Node"), storage.Record{"id": "n1", "next": "n2"})
	assert.ErrorIs(t, err, mapper.ErrMaxDepthExceeded)

	doc, err := f.mapper.Hydrate(context.Background(), f.meta(t, "Node"), storage.Record{"id": "n2", "next": "n3"})
	require.NoError(t, err)
	assert.Equal(t, "n3", doc.Get("next").(*document.Document).ID())
}

func TestHydrateMany(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "Author", storage.Record{"id": "a1", "name": "Ada"})
	f.insert(t, "Author", storage.Record{"id": "a2", "name": "Grace"})
	ctx := context.Background()

	raws := []storage.Record{
		{"id": "p1", "author": "a1"},
		{"id": "p2", "author": "a2"},
		{"id": "p3", "author": "a1"},
		{"id": "p1", "author": "a1"},
	}
	docs, err := f.mapper.HydrateMany(ctx, f.meta(t, "Post"), raws)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	assert.Equal(t, int64(1), atomic.LoadInt64(&f.client.queries), "one query for the author relation")
	assert.Same(t, docs[0], docs[3])
	assert.Same(t, docs[0].Get("author"), docs[2].Get("author"))
	assert.Equal(t, "Grace", docs[1].Get("author").(*document.Document).Get("name"))
	for _, d := range docs {
		assert.True(t, d.HasSnapshot())
	}

	empty, err := f.mapper.HydrateMany(ctx, f.meta(t, "Post"), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDehydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	postMeta := f.meta(t, "Post")

	author, err := document.NewWithValues(f.meta(t, "Author"), map[string]interface{}{"id": "a1"})
	require.NoError(t, err)
	location, err := document.NewWithValues(f.meta(t, "Address"), map[string]interface{}{"city": "Oslo"})
	require.NoError(t, err)
	doc, err := document.NewWithValues(postMeta, map[string]interface{}{
		"id":         "p1",
		"title":      "Hello",
		"views":      "12",
		"audit_note": "hidden",
		"author":     author,
		"location":   location,
		"mirrors":    []*document.Document{location},
	})
	require.NoError(t, err)

	rec, err := f.mapper.Dehydrate(ctx, postMeta, doc)
	require.NoError(t, err)

	assert.Equal(t, "p1", rec["id"])
	assert.Equal(t, 12.0, rec["view_count"])
	assert.Equal(t, "a1", rec["author"])
	assert.Equal(t, storage.Record{"city": "Oslo"}, rec["location"])
	assert.Equal(t, []storage.Record{{"city": "Oslo"}}, rec["mirrors"])
	assert.True(t, storage.IsUndefined(rec["published"]))
	assert.True(t, storage.IsUndefined(rec["related_ids"]))
	assert.NotContains(t, rec, "audit_note")

	compacted := mapper.Compact(rec)
	assert.NotContains(t, compacted, "published")
}

func TestDehydrateAutoSkipsID(t *testing.T) {
	f := newFixture(t)
	nodeMeta := f.meta(t, "Node")

	doc, err := document.NewWithValues(nodeMeta, map[string]interface{}{"id": "n1"})
	require.NoError(t, err)

	rec, err := f.mapper.Dehydrate(context.Background(), nodeMeta, doc)
	require.NoError(t, err)
	assert.NotContains(t, rec, "id")
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "Author", storage.Record{"id": "a1", "name": "Ada"})
	f.insert(t, "Post", storage.Record{"id": "p2"})
	postMeta := f.meta(t, "Post")
	ctx := context.Background()

	records := []storage.Record{
		{"id": "p1", "title": "A", "view_count": int64(3), "published": true, "slug": "a"},
		{"id": "p1", "title": nil, "view_count": int64(0), "author": "a1", "related_ids": []interface{}{"p2"}},
		{"id": "p1", "view_count": 1.5, "location": storage.Record{"city": "Oslo"}, "mirrors": []storage.Record{{"city": "Rome"}}},
		{"id": "p1", "view_count": int64(0), "published_at": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, raw := range records {
		doc, err := f.mapper.Hydrate(ctx, postMeta, raw)
		require.NoError(t, err)

		rec, err := f.mapper.Dehydrate(ctx, postMeta, doc)
		require.NoError(t, err)

		assert.Equal(t, f.mapper.ReduceForStorage(postMeta, raw), f.mapper.ReduceForStorage(postMeta, rec))
	}
}

func TestReduceForStorage(t *testing.T) {
	f := newFixture(t)

	reduced := f.mapper.ReduceForStorage(f.meta(t, "Post"), storage.Record{
		"title": "x",
		"slug":  "read-only",
		"views": storage.Undefined,
		"nil":   nil,
	})
	assert.Equal(t, storage.Record{"title": "x", "nil": nil}, reduced)
}

func TestNameTranslation(t *testing.T) {
	f := newFixture(t)
	postMeta := f.meta(t, "Post")

	collection, err := f.mapper.CollectionNameForDocument("Post")
	require.NoError(t, err)
	assert.Equal(t, "posts", collection)

	name, err := f.mapper.DocumentNameForCollection("authors")
	require.NoError(t, err)
	assert.Equal(t, "Author", name)

	_, err = f.mapper.DocumentNameForCollection("nothing")
	assert.True(t, ormerror.IsNotFound(err))

	storageName, err := f.mapper.StorageNameForProperty(postMeta, "views")
	require.NoError(t, err)
	assert.Equal(t, "view_count", storageName)

	storageName, err = f.mapper.StorageNameForProperty(postMeta, "related")
	require.NoError(t, err)
	assert.Equal(t, "related_ids", storageName)

	_, err = f.mapper.StorageNameForProperty(postMeta, "missing")
	assert.True(t, ormerror.IsInvalidOperation(err))
}

func TestTranslateCriteria(t *testing.T) {
	f := newFixture(t)
	postMeta := f.meta(t, "Post")

	criteria, err := f.mapper.TranslateCriteria(postMeta, map[string]interface{}{"views": "5", "title": nil})
	require.NoError(t, err)
	assert.Equal(t, storage.Criteria{"view_count": 5.0, "title": nil}, criteria)

	_, err = f.mapper.TranslateCriteria(postMeta, map[string]interface{}{"author": "a1"})
	assert.True(t, ormerror.IsInvalidOperation(err))

	_, err = f.mapper.TranslateCriteria(postMeta, map[string]interface{}{"bogus": 1})
	assert.True(t, ormerror.IsInvalidOperation(err))
}

func TestTranslateQueryAndPatch(t *testing.T) {
	f := newFixture(t)
	postMeta := f.meta(t, "Post")

	q := storage.NewQuery(map[string]interface{}{"title": "x"}).
		OrderBy("views", metadata.Descending).
		Page(5, 10).
		WhereIn("views", []interface{}{1, "2"})
	translated, err := f.mapper.TranslateQuery(postMeta, q)
	require.NoError(t, err)

	assert.Equal(t, storage.Criteria{"title": "x"}, translated.Criteria)
	assert.Equal(t, []storage.SortField{{Field: "view_count", Direction: metadata.Descending}}, translated.Sort)
	assert.Equal(t, 5, translated.Offset)
	assert.Equal(t, 10, translated.Limit)
	assert.Equal(t, "view_count", translated.InField)
	assert.Equal(t, []interface{}{1, 2.0}, translated.InValues)

	_, err = f.mapper.TranslateQuery(postMeta, storage.NewQuery(nil).OrderBy("nope", metadata.Ascending))
	assert.True(t, ormerror.IsInvalidOperation(err))

	patch, err := f.mapper.TranslatePatch(postMeta, map[string]interface{}{"views": 2})
	require.NoError(t, err)
	assert.Equal(t, storage.Record{"view_count": 2}, patch)

	_, err = f.mapper.TranslatePatch(postMeta, map[string]interface{}{"slug": "x"})
	assert.True(t, ormerror.IsInvalidOperation(err))
}
