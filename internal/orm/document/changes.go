package document

import (
	"reflect"
	"sort"
)

// FieldChange represents a change to a single field since the last snapshot
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// TakeSnapshot captures the current scalar field values for change detection
func (d *Document) TakeSnapshot() {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := make(map[string]interface{}, len(d.meta.Fields))
	for _, f := range d.meta.Fields {
		prop := f.PropertyName()
		if v, ok := d.values[prop]; ok {
			snapshot[prop] = deepCopyValue(v)
		}
	}
	d.snapshot = snapshot
}

// HasSnapshot returns true if a snapshot has been captured
func (d *Document) HasSnapshot() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot != nil
}

// Changes returns the scalar fields changed since the last snapshot. Without
// a snapshot every set field is reported as changed.
func (d *Document) Changes() map[string]*FieldChange {
	d.mu.RLock()
	defer d.mu.RUnlock()

	changes := make(map[string]*FieldChange)
	for _, f := range d.meta.Fields {
		prop := f.PropertyName()
		newValue, hasNew := d.values[prop]
		oldValue, hadOld := d.snapshot[prop]

		switch {
		case !hasNew && !hadOld:
			continue
		case !hadOld || !hasNew || !deepEqual(oldValue, newValue):
			changes[prop] = &FieldChange{Field: prop, OldValue: oldValue, NewValue: newValue}
		}
	}
	return changes
}

// ChangedFields returns the names of changed fields in sorted order
func (d *Document) ChangedFields() []string {
	changes := d.Changes()
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// HasChanges returns true if any field changed since the last snapshot
func (d *Document) HasChanges() bool {
	return len(d.Changes()) > 0
}

// deepCopyValue creates a deep copy of slices and maps
func deepCopyValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Slice:
		if val.IsNil() {
			return v
		}
		cp := reflect.MakeSlice(val.Type(), val.Len(), val.Len())
		for i := 0; i < val.Len(); i++ {
			elem := deepCopyValue(val.Index(i).Interface())
			if elem == nil {
				continue
			}
			cp.Index(i).Set(reflect.ValueOf(elem))
		}
		return cp.Interface()
	case reflect.Map:
		if val.IsNil() {
			return v
		}
		cp := reflect.MakeMapWithSize(val.Type(), val.Len())
		for _, key := range val.MapKeys() {
			elem := deepCopyValue(val.MapIndex(key).Interface())
			if elem == nil {
				cp.SetMapIndex(key, reflect.Zero(val.Type().Elem()))
				continue
			}
			cp.SetMapIndex(key, reflect.ValueOf(elem))
		}
		return cp.Interface()
	default:
		return v
	}
}

// deepEqual compares two values for equality, handling nil
func deepEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
