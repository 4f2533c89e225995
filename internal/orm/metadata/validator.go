package metadata

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// ValidationError represents a metadata validation error with context
type ValidationError struct {
	Document string
	Field    string
	Message  string
	Hint     string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder

	if e.Document != "" {
		b.WriteString(e.Document)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}

// Validator checks the structural invariants of a Metadata
type Validator struct {
	errors []*ValidationError
}

// NewValidator creates a new metadata validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStructural validates a metadata without requiring its identity to
// resolve yet: a document with unresolved parents may inherit its id field.
func (v *Validator) ValidateStructural(m *Metadata) error {
	v.errors = nil

	if m.Name == "" {
		return ormerror.Configuration("metadata has no name: a document type cannot be registered without an identity token")
	}

	v.validateFields(m)
	v.validateRelations(m)
	v.validateIndexes(m)
	if len(m.Inherits) == 0 {
		v.validateIdentity(m)
	}

	return v.result()
}

// ValidateComplete validates a fully resolved metadata
func (v *Validator) ValidateComplete(m *Metadata) error {
	v.errors = nil

	v.validateFields(m)
	v.validateRelations(m)
	v.validateIndexes(m)
	v.validateIdentity(m)

	return v.result()
}

func (v *Validator) result() error {
	if len(v.errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		msgs = append(msgs, err.Error())
	}
	return ormerror.Configuration("metadata validation failed with %d errors:\n%s",
		len(v.errors), strings.Join(msgs, "\n"))
}

func (v *Validator) addError(m *Metadata, field, msg, hint string) {
	v.errors = append(v.errors, &ValidationError{
		Document: m.Name,
		Field:    field,
		Message:  msg,
		Hint:     hint,
	})
}

// validateFields ensures storage names and properties are unique
func (v *Validator) validateFields(m *Metadata) {
	names := make(map[string]bool, len(m.Fields))
	properties := make(map[string]bool, len(m.Fields))

	for _, f := range m.Fields {
		if f.Name == "" {
			v.addError(m, "", "field without a storage name", "")
			continue
		}
		if names[f.Name] {
			v.addError(m, f.Name, "duplicate field name", "field names must be unique per document")
		}
		names[f.Name] = true

		prop := f.PropertyName()
		if properties[prop] {
			v.addError(m, prop, "duplicate field property", "")
		}
		properties[prop] = true
	}
}

// validateRelations ensures relations are well formed and do not collide with fields
func (v *Validator) validateRelations(m *Metadata) {
	seen := make(map[string]bool, len(m.Relations))

	for _, r := range m.Relations {
		if r.Property == "" {
			v.addError(m, "", fmt.Sprintf("%s relation without a property", r.Kind), "")
			continue
		}
		if r.Target == "" {
			v.addError(m, r.Property, "relation has no target document type", "")
		}
		if seen[r.Property] {
			v.addError(m, r.Property, "duplicate relation property", "")
		}
		seen[r.Property] = true

		if _, ok := m.byProperty[r.Property]; ok {
			v.addError(m, r.Property, "relation collides with a plain field",
				"rename the relation or the field")
		}
		if _, ok := m.byName[r.StorageKey()]; ok {
			v.addError(m, r.StorageKey(), "relation storage name collides with a plain field", "")
		}
	}
}

// validateIndexes ensures index declarations refer to known storage names
func (v *Validator) validateIndexes(m *Metadata) {
	for _, idx := range m.Indexes {
		if len(idx.Fields) == 0 {
			v.addError(m, idx.Name, "index declares no fields", "")
		}
		for _, name := range idx.Fields {
			if _, ok := m.byName[name]; !ok {
				v.addError(m, idx.Name, fmt.Sprintf("index refers to unknown field %q", name), "")
			}
		}
	}
}

// validateIdentity ensures the id field resolves to exactly one field
func (v *Validator) validateIdentity(m *Metadata) {
	id := m.IDField
	if id == "" {
		id = "id"
	}
	count := 0
	for _, f := range m.Fields {
		if f.PropertyName() == id {
			count++
		}
	}
	switch count {
	case 0:
		v.addError(m, id, "id field does not resolve to a field", "declare a field for the identity value")
	case 1:
	default:
		v.addError(m, id, "id field resolves to more than one field", "")
	}
}
