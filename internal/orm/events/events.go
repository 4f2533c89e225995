// Package events implements the ordered lifecycle event pipeline: global
// listeners, document-type listeners and method hooks declared on a type.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// Lifecycle event names
const (
	PreHydrate     = "preHydrate"
	PostHydrate    = "postHydrate"
	CreateDocument = "createDocument"
	PrePersist     = "prePersist"
	PostPersist    = "postPersist"
	PreUpdate      = "preUpdate"
	PostUpdate     = "postUpdate"
	PreRemove      = "preRemove"
	PostRemove     = "postRemove"
	ErrorInsert    = "errorInsert"
	ErrorUpdate    = "errorUpdate"
	ErrorRemoval   = "errorRemoval"
)

// Names lists every lifecycle event
var Names = []string{
	PreHydrate, PostHydrate, CreateDocument,
	PrePersist, PostPersist, PreUpdate, PostUpdate, PreRemove, PostRemove,
	ErrorInsert, ErrorUpdate, ErrorRemoval,
}

// IsKnown returns true if name is a lifecycle event
func IsKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// EventContext is the shared mutable context handed to every listener of one
// dispatch. preHydrate listeners may replace Document and Metadata.
type EventContext struct {
	Event    string
	Data     storage.Record
	Document *document.Document
	Metadata *metadata.Metadata
	// Changes holds the changed fields for preUpdate
	Changes map[string]*document.FieldChange
	// Err holds the storage failure for the error* events
	Err error
	// ListenerErrors collects the failures of listeners that did not abort
	ListenerErrors error
}

// copyForAsync returns a copy safe to hand to an asynchronous listener
func (ec *EventContext) copyForAsync() *EventContext {
	cp := *ec
	cp.Data = deepCopyRecord(ec.Data)
	if ec.Changes != nil {
		cp.Changes = make(map[string]*document.FieldChange, len(ec.Changes))
		for k, v := range ec.Changes {
			change := *v
			cp.Changes[k] = &change
		}
	}
	cp.ListenerErrors = nil
	return &cp
}

// HandlerFunc handles one dispatched event
type HandlerFunc func(ctx context.Context, ec *EventContext) error

// Listener is a registered event handler
type Listener struct {
	Name string
	Fn   HandlerFunc
	// Async listeners run on the dispatcher's queue and cannot abort
	Async bool
}

// AbortError stops the listener chain of a dispatch
type AbortError struct {
	Err error
}

// Abort wraps err so that returning it from a listener stops the chain
func Abort(err error) error {
	if err == nil {
		err = errors.New("aborted")
	}
	return &AbortError{Err: err}
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("listener aborted: %v", e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAbort returns true if err was produced by Abort
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}

// deepCopyRecord creates a deep copy of a record to ensure async listeners
// have fully isolated data
func deepCopyRecord(record storage.Record) storage.Record {
	if record == nil {
		return nil
	}
	cp := make(storage.Record, len(record))
	for k, v := range record {
		cp[k] = deepCopyValue(v)
	}
	return cp
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case storage.Record:
		return deepCopyRecord(val)
	case map[string]interface{}:
		return map[string]interface{}(deepCopyRecord(val))
	case []storage.Record:
		cp := make([]storage.Record, len(val))
		for i, item := range val {
			cp[i] = deepCopyRecord(item)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
