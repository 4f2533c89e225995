// Package ormerror defines the error taxonomy shared by every layer of the
// persistence engine. Errors carry a Kind so callers can branch with errors.Is
// against the package sentinels regardless of how deeply they were wrapped.
package ormerror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error
type Kind int

const (
	// KindNotFound covers unknown document types, metadata, records and connections
	KindNotFound Kind = iota
	// KindInvalidOperation covers contract violations such as insert-on-existing
	KindInvalidOperation
	// KindConversion covers adapter value conversion failures
	KindConversion
	// KindStorage wraps failures reported by a storage client
	KindStorage
	// KindConfiguration covers schema and wiring mistakes detected before any I/O
	KindConfiguration
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindConversion:
		return "conversion"
	case KindStorage:
		return "storage"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is for every *Error of the corresponding kind
var (
	// ErrNotFound is matched by NotFound errors
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation is matched by InvalidOperation errors
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConversion is matched by Conversion errors
	ErrConversion = errors.New("conversion failed")

	// ErrStorage is matched by Storage errors
	ErrStorage = errors.New("storage failure")

	// ErrConfiguration is matched by Configuration errors
	ErrConfiguration = errors.New("configuration error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidOperation:
		return ErrInvalidOperation
	case KindConversion:
		return ErrConversion
	case KindStorage:
		return ErrStorage
	case KindConfiguration:
		return ErrConfiguration
	default:
		return nil
	}
}

// Error is the structured error returned by the engine
type Error struct {
	// Kind classifies the failure
	Kind Kind
	// Op names the operation that failed (e.g. "unitofwork.scheduleInsert")
	Op string
	// Message is a human-readable description
	Message string
	// Details carries optional context such as the document type or field
	Details map[string]interface{}
	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// WithDetail adds a key-value pair to the error details
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithOp sets the failing operation name
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// NotFound creates a NotFound error
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidOperation creates an InvalidOperation error
func InvalidOperation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// Configuration creates a Configuration error
func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Conversion wraps a value conversion failure
func Conversion(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConversion, Message: fmt.Sprintf(format, args...), Err: err}
}

// Storage wraps a failure reported by a storage client. Errors that already
// carry a Kind (for example a NotFound raised by the client) are returned as-is.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ormErr *Error
	if errors.As(err, &ormErr) {
		return err
	}
	return &Error{Kind: KindStorage, Op: op, Message: "storage operation failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var ormErr *Error
	if errors.As(err, &ormErr) {
		return ormErr.Kind, true
	}
	return 0, false
}

// IsNotFound returns true if err is a NotFound error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidOperation returns true if err is an InvalidOperation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsConversion returns true if err is a Conversion error
func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

// IsStorage returns true if err is a Storage error
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsConfiguration returns true if err is a Configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
