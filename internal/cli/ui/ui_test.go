package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "Property", "Type", "Storage")
	table.AddRow("id", "id", "id")
	table.AddRow("views", "number", "view_count")
	table.AddRow("title")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "Property  Type    Storage", lines[0])
	assert.Equal(t, "────────  ──────  ──────────", lines[1])
	assert.Equal(t, "views     number  view_count", lines[3])
	assert.Equal(t, "title             ", lines[4])
	assert.Equal(t, 3, table.Len())
}

func TestTableWithoutHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("driver", "sqlite3")
	kv.AddRow("records", 42)
	kv.Render()

	assert.Equal(t, "driver:  sqlite3\nrecords: 42\n", buf.String())
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "User", true)
	assert.Equal(t, "User\n────\n", buf.String())
}

func TestMessage(t *testing.T) {
	msg := UnknownType("Usr", []string{"User", "Comment", "Invoice"}, true)
	out := msg.Format()

	assert.Contains(t, out, "✗ UNKNOWN DOCUMENT TYPE: Usr")
	assert.Contains(t, out, "Did you mean: User?")
	assert.Contains(t, out, "→ List registered types: docmapper schema")

	var buf bytes.Buffer
	Message{Level: LevelWarning, Problem: "cache disabled", NoColor: true}.Write(&buf)
	assert.Equal(t, "! cache disabled\n", buf.String())

	buf.Reset()
	Success(&buf, "connected", true)
	assert.Equal(t, "✓ connected\n", buf.String())
}

func TestSuggest(t *testing.T) {
	candidates := []string{"Post", "Posts", "User", "Comment", "Product"}

	assert.Equal(t, []string{"Post", "Posts", "User"}, Suggest("pst", candidates, 5))
	assert.Equal(t, []string{"Post"}, Suggest("Pst", candidates, 1))
	assert.Empty(t, Suggest("Invoice", candidates, 3))
	assert.Empty(t, Suggest("user", []string{"User"}, 3))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("", ""))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, levenshtein("über", "uber"))
}
