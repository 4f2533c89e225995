package document

// ObjectID returns the internal correlation key assigned by a unit of work
func (d *Document) ObjectID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objectID
}

// SetObjectID assigns the internal correlation key
func (d *Document) SetObjectID(id string) {
	d.mu.Lock()
	d.objectID = id
	d.mu.Unlock()
}

// IsNew reports whether the unit of work classified the document as new
func (d *Document) IsNew() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isNew
}

// SetNew sets the new flag
func (d *Document) SetNew(isNew bool) {
	d.mu.Lock()
	d.isNew = isNew
	d.mu.Unlock()
}

// MarkedNew reports whether the document was explicitly marked new by its
// factory (freshly created rather than hydrated)
func (d *Document) MarkedNew() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.markedNew
}

// MarkNew sets or clears the explicit new mark
func (d *Document) MarkNew(marked bool) {
	d.mu.Lock()
	d.markedNew = marked
	d.mu.Unlock()
}

// Processing returns the in-flight operation marker
func (d *Document) Processing() Processing {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.processing
}

// BeginProcessing sets the marker if no operation is in flight and reports
// whether it did
func (d *Document) BeginProcessing(p Processing) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.processing != ProcessingNone {
		return false
	}
	d.processing = p
	return true
}

// EndProcessing clears the in-flight operation marker
func (d *Document) EndProcessing() {
	d.mu.Lock()
	d.processing = ProcessingNone
	d.mu.Unlock()
}

// MarkPersisted records a successful insert: the document is no longer new
func (d *Document) MarkPersisted() {
	d.mu.Lock()
	d.isNew = false
	d.markedNew = false
	d.mu.Unlock()
}

// Detach resets all unit of work bookkeeping
func (d *Document) Detach() {
	d.mu.Lock()
	d.objectID = ""
	d.isNew = false
	d.processing = ProcessingNone
	d.mu.Unlock()
}
