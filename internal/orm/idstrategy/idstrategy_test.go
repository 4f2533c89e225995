package idstrategy

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		tokens  []string
		wantErr bool
	}{
		{name: "default", format: DefaultFormat, tokens: []string{"time", "pid", "random", "seq"}},
		{name: "single token", format: "{uuid}", tokens: []string{"uuid"}},
		{name: "literal prefix", format: "doc_{seq}", tokens: []string{"seq"}},
		{name: "unknown token", format: "{time}-{host}", wantErr: true},
		{name: "unclosed brace", format: "{time", wantErr: true},
		{name: "stray close", format: "time}", wantErr: true},
		{name: "close before open", format: "}{time}", wantErr: true},
		{name: "nested", format: "{ti{me}}", wantErr: true},
		{name: "empty", format: "  ", wantErr: true},
		{name: "literal only", format: "fixed", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ormerror.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tokens, s.Tokens())
			assert.Equal(t, tt.format, s.Format())
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Run("separators are kept", func(t *testing.T) {
		s := MustParse("{pid}:{seq}")
		s.pid = 35

		assert.Equal(t, "z:1", s.Generate())
		assert.Equal(t, "z:2", s.Generate())
	})

	t.Run("time token", func(t *testing.T) {
		s := MustParse("t{time}")
		fixed := time.UnixMilli(1700000000000)
		s.now = func() time.Time { return fixed }

		assert.Equal(t, "t"+strconv.FormatInt(1700000000000, 36), s.Generate())
	})

	t.Run("uuid token", func(t *testing.T) {
		id := MustParse("{uuid}").Generate()
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("random token", func(t *testing.T) {
		s := MustParse("{random}")
		a, b := s.Generate(), s.Generate()
		assert.Len(t, a, 8)
		assert.NotEqual(t, a, b)
	})

	t.Run("default format is unique", func(t *testing.T) {
		s := MustParse(DefaultFormat)
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := s.Generate()
			assert.False(t, seen[id])
			seen[id] = true
			assert.Len(t, strings.Split(id, "-"), 4)
		}
	})
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("{nope}") })
}
