package unitofwork

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/conduit-lang/docmapper/internal/orm/document"
)

// OperationError is the failure of one document operation within a flush
type OperationError struct {
	Op       document.Processing
	Document *document.Document
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Document, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// FlushError reports every document operation that failed during a flush.
// Operations not listed completed successfully.
type FlushError struct {
	Failures []*OperationError
	err      error
}

func newFlushError(outcomes []*outcome) *FlushError {
	var fe FlushError
	for _, out := range outcomes {
		if out == nil || out.err == nil {
			continue
		}
		opErr := &OperationError{Op: out.op, Document: out.doc, Err: out.err}
		fe.Failures = append(fe.Failures, opErr)
		fe.err = multierr.Append(fe.err, opErr)
	}
	if len(fe.Failures) == 0 {
		return nil
	}
	return &fe
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for %d document(s): %v", len(e.Failures), e.err)
}

// Unwrap exposes the individual failures to errors.Is and errors.As
func (e *FlushError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Failed returns true if the operation on doc is among the failures
func (e *FlushError) Failed(doc *document.Document) bool {
	for _, f := range e.Failures {
		if f.Document == doc {
			return true
		}
	}
	return false
}
