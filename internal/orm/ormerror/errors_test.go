package ormerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSentinels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("metadata %s", "User"), IsNotFound},
		{"invalid operation", InvalidOperation("cannot insert"), IsInvalidOperation},
		{"configuration", Configuration("missing adapter"), IsConfiguration},
		{"conversion", Conversion(errors.New("bad"), "field %s", "age"), IsConversion},
		{"storage", Storage("insert", errors.New("connection reset")), IsStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped), "kind must survive wrapping")
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := NotFound("x")
	assert.False(t, IsInvalidOperation(err))
	assert.False(t, IsStorage(err))
}

func TestStorage_PreservesClassifiedErrors(t *testing.T) {
	nf := NotFound("record 1")
	err := Storage("find", nf)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsStorage(err))

	assert.Nil(t, Storage("find", nil))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Kind: KindStorage, Op: "unitofwork.insert", Message: "storage operation failed", Err: cause}
	assert.Equal(t, "unitofwork.insert: storage operation failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	err.WithDetail("document", "User")
	assert.Equal(t, "User", err.Details["document"])

	kind, ok := KindOf(fmt.Errorf("wrap: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindStorage, kind)
	assert.Equal(t, "storage", kind.String())
}
