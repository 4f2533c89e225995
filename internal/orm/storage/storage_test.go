package storage

import (
	"testing"
	"time"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndefined(t *testing.T) {
	assert.True(t, IsUndefined(Undefined))
	assert.False(t, IsUndefined(nil))
	assert.False(t, IsUndefined("undefined"))
}

func TestQueryBuilder(t *testing.T) {
	q := NewQuery(nil).
		OrderBy("name", metadata.Ascending).
		OrderBy("age", metadata.Descending).
		Page(10, 5).
		WhereIn("id", []interface{}{1, 2})

	assert.NotNil(t, q.Criteria)
	assert.Len(t, q.Sort, 2)
	assert.Equal(t, metadata.Descending, q.Sort[1].Direction)
	assert.Equal(t, 10, q.Offset)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, "id", q.InField)
}

func TestRecord(t *testing.T) {
	rec := Record{"b": 1, "a": 2}
	cp := rec.Copy()
	cp["c"] = 3

	assert.Len(t, rec, 2)
	assert.Equal(t, []string{"a", "b", "c"}, cp.Keys())
}

func TestRelated(t *testing.T) {
	assert.True(t, Related{}.Empty())
	assert.False(t, Related{Raw: []Record{{}}}.Empty())
}

func TestCodecRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		"name":    "Ada",
		"age":     36,
		"active":  true,
		"created": created,
		"address": Record{"city": "London"},
		"tags":    []interface{}{"math", "engines"},
		"deleted": nil,
	}

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, "Ada", decoded["name"])
	assert.EqualValues(t, 36, decoded["age"])
	assert.Equal(t, true, decoded["active"])
	assert.True(t, created.Equal(decoded["created"].(time.Time)))
	assert.Equal(t, Record{"city": "London"}, decoded["address"])
	assert.Equal(t, []interface{}{"math", "engines"}, decoded["tags"])
	assert.Contains(t, decoded, "deleted")
	assert.Nil(t, decoded["deleted"])
}

func TestCopyRecordIsolation(t *testing.T) {
	rec := Record{"address": Record{"city": "London"}}

	cp, err := CopyRecord(rec)
	require.NoError(t, err)

	cp["address"].(Record)["city"] = "Paris"
	assert.Equal(t, "London", rec["address"].(Record)["city"])
}

func TestDecodeRecordInvalid(t *testing.T) {
	_, err := DecodeRecord([]byte("not bson"))
	assert.Error(t, err)
}
