package unitofwork

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/mapper"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// outcome is the result of one document operation
type outcome struct {
	doc *document.Document
	op  document.Processing
	// inserted is set once the record reached storage
	inserted bool
	// autoID is set when an insert assigned a storage-generated id
	autoID bool
	err    error
}

// Flush writes the given documents, or the whole working set when none are
// given. Inserts complete before any update starts and updates before any
// removal; operations within a phase run concurrently, except that a new
// document referencing another new document waits until that document has
// its id. A failing operation
// does not stop its siblings: the failure is dispatched as an error event,
// the document stays tracked and the failure is reported in a *FlushError.
func (u *UnitOfWork) Flush(ctx context.Context, docs ...*document.Document) (err error) {
	for _, doc := range docs {
		if doc != nil && !u.IsTracked(doc) {
			if err := u.Persist(doc); err != nil {
				return err
			}
		}
	}

	inserts, updates, removals := u.classify(u.entries(docs))
	total := len(inserts) + len(updates) + len(removals)
	if total == 0 {
		return nil
	}

	start := time.Now()
	u.logger.Debug("flushing",
		zap.Int("inserts", len(inserts)),
		zap.Int("updates", len(updates)),
		zap.Int("removals", len(removals)))

	if locker, ok := u.client.(storage.Locker); ok && u.locking {
		if err := locker.CreateLock(ctx, flushLockName); err != nil {
			u.release(append(append(inserts, updates...), removals...))
			return fmt.Errorf("failed to acquire flush lock: %w", err)
		}
		defer func() {
			if releaseErr := locker.ReleaseLock(ctx, flushLockName); releaseErr != nil {
				u.logger.Warn("failed to release flush lock", zap.Error(releaseErr))
			}
		}()
	}

	txCtx := ctx
	tx, useTx := u.client.(storage.Transactional)
	useTx = useTx && u.transactions
	if useTx {
		txCtx, err = tx.StartTransaction(ctx)
		if err != nil {
			u.release(append(append(inserts, updates...), removals...))
			return ormerror.Storage("start transaction", err)
		}
	}

	var outcomes []*outcome
	outcomes = append(outcomes, u.runInserts(txCtx, inserts)...)
	outcomes = append(outcomes, u.runPhase(txCtx, updates, u.update)...)
	outcomes = append(outcomes, u.runPhase(txCtx, removals, u.remove)...)

	flushErr := newFlushError(outcomes)
	if useTx {
		if flushErr != nil {
			if rbErr := tx.RollbackTransaction(txCtx); rbErr != nil {
				u.logger.Error("failed to roll back flush", zap.Error(rbErr))
			}
			u.revert(outcomes)
			u.logger.Warn("flush rolled back", zap.Error(flushErr))
			return flushErr
		}
		if err := tx.CommitTransaction(txCtx); err != nil {
			u.revert(outcomes)
			return ormerror.Storage("commit transaction", err)
		}
	}

	u.settle(outcomes)

	u.logger.Debug("flush complete",
		zap.Int("documents", total),
		zap.Duration("elapsed", time.Since(start)))
	if flushErr != nil {
		return flushErr
	}
	return nil
}

// classify builds the three phase queues. Each selected document is marked
// as processing before any operation starts; documents already in flight
// are skipped.
func (u *UnitOfWork) classify(entries []*entry) (inserts, updates, removals []*document.Document) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, e := range entries {
		doc := e.doc
		if doc == nil {
			continue
		}
		switch {
		case e.remove:
			if doc.BeginProcessing(document.ProcessingRemove) {
				removals = append(removals, doc)
			}
		case doc.IsNew():
			if doc.BeginProcessing(document.ProcessingInsert) {
				inserts = append(inserts, doc)
			}
		default:
			if doc.BeginProcessing(document.ProcessingUpdate) {
				updates = append(updates, doc)
			}
		}
	}
	return inserts, updates, removals
}

// release clears the processing marker of documents that were never run
func (u *UnitOfWork) release(docs []*document.Document) {
	for _, doc := range docs {
		doc.EndProcessing()
	}
}

type operation func(ctx context.Context, doc *document.Document) *outcome

// runPhase runs one operation per document concurrently and waits for all
func (u *UnitOfWork) runPhase(ctx context.Context, docs []*document.Document, op operation) []*outcome {
	outcomes := make([]*outcome, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc *document.Document) {
			defer wg.Done()
			defer doc.EndProcessing()
			outcomes[i] = op(ctx, doc)
		}(i, doc)
	}
	wg.Wait()

	return outcomes
}

// runInserts runs the insert phase in waves. A document whose references
// point at documents of the same phase that have no id yet waits for them;
// if one of them fails, the referencing document fails without being
// written. Documents left in a reference cycle are inserted together and
// then updated with the ids the cycle produced.
func (u *UnitOfWork) runInserts(ctx context.Context, docs []*document.Document) []*outcome {
	pending := make(map[*document.Document]bool, len(docs))
	for _, doc := range docs {
		pending[doc] = true
	}
	deps := make(map[*document.Document][]*document.Document, len(docs))
	for _, doc := range docs {
		deps[doc] = unresolvedReferences(doc, pending)
	}

	results := make(map[*document.Document]*outcome, len(docs))
	outcomes := make([]*outcome, 0, len(docs))
	remaining := docs
	for len(remaining) > 0 {
		var ready, waiting []*document.Document
		for _, doc := range remaining {
			if settled(deps[doc], results) {
				ready = append(ready, doc)
			} else {
				waiting = append(waiting, doc)
			}
		}
		cyclic := len(ready) == 0
		if cyclic {
			ready, waiting = waiting, nil
		}

		run := make([]*document.Document, 0, len(ready))
		for _, doc := range ready {
			if failed := failedDependency(deps[doc], results); failed != nil {
				doc.EndProcessing()
				out := &outcome{doc: doc, op: document.ProcessingInsert, err: unstoredReference(doc, failed)}
				results[doc] = out
				outcomes = append(outcomes, out)
				continue
			}
			run = append(run, doc)
		}

		for _, out := range u.runPhase(ctx, run, u.insert) {
			results[out.doc] = out
			outcomes = append(outcomes, out)
		}
		if cyclic {
			u.relink(ctx, run, deps, results)
		}
		remaining = waiting
	}
	return outcomes
}

// relink rewrites inserted documents whose references were stored before
// the referenced documents had ids
func (u *UnitOfWork) relink(ctx context.Context, docs []*document.Document, deps map[*document.Document][]*document.Document, results map[*document.Document]*outcome) {
	for _, doc := range docs {
		out := results[doc]
		if out.err != nil || len(deps[doc]) == 0 {
			continue
		}
		if failed := failedDependency(deps[doc], results); failed != nil {
			out.err = unstoredReference(doc, failed)
			continue
		}

		meta := doc.Metadata()
		id, err := u.storageID(meta, doc)
		if err != nil {
			out.err = err
			continue
		}
		rec, err := u.mapper.Dehydrate(ctx, meta, doc)
		if err != nil {
			out.err = err
			continue
		}
		rec = u.mapper.ReduceForStorage(meta, rec)
		if err := u.client.Update(ctx, meta, meta.CollectionName(), id, rec); err != nil {
			out.err = ormerror.Storage("update", err)
			u.failed(ctx, events.ErrorUpdate, doc, rec, out.err)
			continue
		}
		doc.TakeSnapshot()
	}
}

// unresolvedReferences returns the referenced documents of doc that are
// pending insert and have no id yet
func unresolvedReferences(doc *document.Document, pending map[*document.Document]bool) []*document.Document {
	var deps []*document.Document
	seen := make(map[*document.Document]bool)
	for _, rel := range doc.Metadata().References() {
		for _, child := range doc.Related(rel.Property) {
			if child == nil || seen[child] || !pending[child] || child.HasID() {
				continue
			}
			seen[child] = true
			deps = append(deps, child)
		}
	}
	return deps
}

// settled reports whether every dependency has an outcome
func settled(deps []*document.Document, results map[*document.Document]*outcome) bool {
	for _, dep := range deps {
		if _, ok := results[dep]; !ok {
			return false
		}
	}
	return true
}

func failedDependency(deps []*document.Document, results map[*document.Document]*outcome) *document.Document {
	for _, dep := range deps {
		if out, ok := results[dep]; ok && out.err != nil {
			return dep
		}
	}
	return nil
}

func unstoredReference(doc, dep *document.Document) error {
	return ormerror.InvalidOperation("cannot store %s: referenced document %s was not stored", doc, dep)
}

func (u *UnitOfWork) insert(ctx context.Context, doc *document.Document) *outcome {
	out := &outcome{doc: doc, op: document.ProcessingInsert}
	meta := doc.Metadata()

	if err := u.dispatch(ctx, events.PrePersist, &events.EventContext{Document: doc, Metadata: meta}); err != nil {
		out.err = err
		return out
	}

	if meta.IDStrategy == metadata.IDStrategyManual && !doc.HasID() &&
		u.ids != nil && u.mapper.Adapter().GenerateIDs() {
		if err := doc.SetID(u.ids.Generate()); err != nil {
			out.err = err
			return out
		}
	}

	rec, err := u.mapper.Dehydrate(ctx, meta, doc)
	if err != nil {
		out.err = err
		return out
	}
	rec = mapper.Compact(rec)

	id, err := u.client.Insert(ctx, meta, meta.CollectionName(), rec)
	if err != nil {
		out.err = ormerror.Storage("insert", err)
		u.failed(ctx, events.ErrorInsert, doc, rec, out.err)
		return out
	}

	if meta.IDStrategy != metadata.IDStrategyManual && id != nil {
		if err := u.assignStorageID(meta, doc, id); err != nil {
			out.err = err
			return out
		}
		out.autoID = true
	}

	out.inserted = true
	doc.MarkPersisted()
	doc.TakeSnapshot()
	if err := u.docs.Add(doc); err != nil {
		u.logger.Warn("failed to cache inserted document",
			zap.String("document", doc.Type()),
			zap.Error(err))
	}

	u.dispatch(ctx, events.PostPersist, &events.EventContext{Document: doc, Metadata: meta, Data: rec})
	return out
}

func (u *UnitOfWork) assignStorageID(meta *metadata.Metadata, doc *document.Document, id interface{}) error {
	idField, err := meta.IdentityField()
	if err != nil {
		return ormerror.Configuration("%v", err)
	}
	value, err := u.mapper.Adapter().ToModelValue(idField.Type, id)
	if err != nil {
		return ormerror.Conversion(err, "cannot convert storage id of %s", meta.Name).
			WithDetail("id", id)
	}
	return doc.SetID(value)
}

func (u *UnitOfWork) update(ctx context.Context, doc *document.Document) *outcome {
	out := &outcome{doc: doc, op: document.ProcessingUpdate}
	meta := doc.Metadata()

	if err := u.dispatch(ctx, events.PrePersist, &events.EventContext{Document: doc, Metadata: meta}); err != nil {
		out.err = err
		return out
	}
	if err := u.dispatch(ctx, events.PreUpdate, &events.EventContext{Document: doc, Metadata: meta, Changes: doc.Changes()}); err != nil {
		out.err = err
		return out
	}

	id, err := u.storageID(meta, doc)
	if err != nil {
		out.err = err
		return out
	}
	rec, err := u.mapper.Dehydrate(ctx, meta, doc)
	if err != nil {
		out.err = err
		return out
	}
	rec = u.mapper.ReduceForStorage(meta, rec)

	if err := u.client.Update(ctx, meta, meta.CollectionName(), id, rec); err != nil {
		out.err = ormerror.Storage("update", err)
		u.failed(ctx, events.ErrorUpdate, doc, rec, out.err)
		return out
	}

	doc.TakeSnapshot()
	u.dispatch(ctx, events.PostUpdate, &events.EventContext{Document: doc, Metadata: meta, Data: rec})
	return out
}

func (u *UnitOfWork) remove(ctx context.Context, doc *document.Document) *outcome {
	out := &outcome{doc: doc, op: document.ProcessingRemove}
	meta := doc.Metadata()

	if err := u.dispatch(ctx, events.PreRemove, &events.EventContext{Document: doc, Metadata: meta}); err != nil {
		out.err = err
		return out
	}

	id, err := u.storageID(meta, doc)
	if err != nil {
		out.err = err
		return out
	}

	if err := u.client.Remove(ctx, meta, meta.CollectionName(), id); err != nil {
		out.err = ormerror.Storage("remove", err)
		u.failed(ctx, events.ErrorRemoval, doc, nil, out.err)
		return out
	}

	u.dispatch(ctx, events.PostRemove, &events.EventContext{Document: doc, Metadata: meta})
	return out
}

func (u *UnitOfWork) storageID(meta *metadata.Metadata, doc *document.Document) (interface{}, error) {
	idField, err := meta.IdentityField()
	if err != nil {
		return nil, ormerror.Configuration("%v", err)
	}
	id, err := u.mapper.Adapter().ToStorageValue(idField.Type, doc.ID())
	if err != nil {
		return nil, ormerror.Conversion(err, "cannot convert id of %s", meta.Name)
	}
	return id, nil
}

// dispatch fires a lifecycle event. Only an aborting listener yields an error.
func (u *UnitOfWork) dispatch(ctx context.Context, event string, ec *events.EventContext) error {
	if u.events == nil {
		return nil
	}
	if err := u.events.Dispatch(ctx, event, ec); err != nil {
		return fmt.Errorf("%s %s: %w", event, ec.Metadata.Name, err)
	}
	return nil
}

// failed reports a storage failure through the matching error event
func (u *UnitOfWork) failed(ctx context.Context, event string, doc *document.Document, rec storage.Record, err error) {
	u.logger.Warn("document operation failed",
		zap.String("event", event),
		zap.String("document", doc.Type()),
		zap.Any("id", doc.ID()),
		zap.Error(err))
	u.dispatch(ctx, event, &events.EventContext{Document: doc, Metadata: doc.Metadata(), Data: rec, Err: err})
}

// settle applies the bookkeeping of a completed flush: succeeded documents
// leave the working set and removed documents leave the cache
func (u *UnitOfWork) settle(outcomes []*outcome) {
	for _, out := range outcomes {
		if out.err != nil {
			continue
		}
		u.untrack(out.doc)
		if out.op == document.ProcessingRemove {
			u.docs.Remove(out.doc)
			out.doc.Detach()
		}
	}
}

// revert undoes the in-memory effects of a rolled back flush. Every document
// stays tracked so the flush can be retried.
func (u *UnitOfWork) revert(outcomes []*outcome) {
	for _, out := range outcomes {
		if !out.inserted {
			continue
		}
		u.docs.Remove(out.doc)
		if out.autoID {
			out.doc.Unset(out.doc.Metadata().IDField)
		}
		out.doc.SetNew(true)
		out.doc.MarkNew(true)
	}
}
