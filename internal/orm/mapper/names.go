package mapper

import (
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// CollectionNameForDocument returns the storage collection of a document type
func (m *Mapper) CollectionNameForDocument(name string) (string, error) {
	meta, err := m.registry.Get(name)
	if err != nil {
		return "", err
	}
	return meta.CollectionName(), nil
}

// DocumentNameForCollection returns the document type stored in a collection
func (m *Mapper) DocumentNameForCollection(collection string) (string, error) {
	meta, err := m.registry.ForCollection(collection)
	if err != nil {
		return "", err
	}
	return meta.Name, nil
}

// StorageNameForProperty returns the storage name of a field or relation
func (m *Mapper) StorageNameForProperty(meta *metadata.Metadata, property string) (string, error) {
	if f, ok := meta.Field(property); ok {
		return f.Name, nil
	}
	if rel, ok := meta.Relation(property); ok {
		return rel.StorageKey(), nil
	}
	return "", ormerror.InvalidOperation("document %s has no property %s", meta.Name, property).
		WithDetail("property", property)
}

// scalarField resolves a property usable in criteria and sorting
func scalarField(meta *metadata.Metadata, property, usage string) (*metadata.Field, error) {
	if f, ok := meta.Field(property); ok {
		return f, nil
	}
	if _, ok := meta.Relation(property); ok {
		return nil, ormerror.InvalidOperation("cannot use relation %s.%s in %s", meta.Name, property, usage).
			WithDetail("property", property)
	}
	return nil, ormerror.InvalidOperation("invalid field %s.%s in %s", meta.Name, property, usage).
		WithDetail("property", property)
}

// TranslateCriteria maps property-keyed criteria to storage names and values
func (m *Mapper) TranslateCriteria(meta *metadata.Metadata, criteria map[string]interface{}) (storage.Criteria, error) {
	translated := make(storage.Criteria, len(criteria))
	for property, value := range criteria {
		f, err := scalarField(meta, property, "criteria")
		if err != nil {
			return nil, err
		}
		stored, err := m.toStorage(meta, f, value)
		if err != nil {
			return nil, err
		}
		translated[f.Name] = stored
	}
	return translated, nil
}

// TranslatePatch maps a property-keyed patch to a storage record. Read-only
// fields cannot be patched.
func (m *Mapper) TranslatePatch(meta *metadata.Metadata, patch map[string]interface{}) (storage.Record, error) {
	translated := make(storage.Record, len(patch))
	for property, value := range patch {
		f, err := scalarField(meta, property, "update")
		if err != nil {
			return nil, err
		}
		if f.ReadOnly {
			return nil, ormerror.InvalidOperation("field %s.%s is read-only", meta.Name, property)
		}
		stored, err := m.toStorage(meta, f, value)
		if err != nil {
			return nil, err
		}
		translated[f.Name] = stored
	}
	return translated, nil
}

// TranslateQuery maps a property-level query to a storage-level query
func (m *Mapper) TranslateQuery(meta *metadata.Metadata, q *storage.Query) (*storage.Query, error) {
	if q == nil {
		return storage.NewQuery(nil), nil
	}

	criteria, err := m.TranslateCriteria(meta, q.Criteria)
	if err != nil {
		return nil, err
	}
	translated := storage.NewQuery(criteria).Page(q.Offset, q.Limit)

	for _, s := range q.Sort {
		f, err := scalarField(meta, s.Field, "sort")
		if err != nil {
			return nil, err
		}
		translated.OrderBy(f.Name, s.Direction)
	}

	if q.InField != "" {
		f, err := scalarField(meta, q.InField, "where-in")
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, len(q.InValues))
		for i, v := range q.InValues {
			if values[i], err = m.toStorage(meta, f, v); err != nil {
				return nil, err
			}
		}
		translated.WhereIn(f.Name, values)
	}
	return translated, nil
}

func (m *Mapper) toStorage(meta *metadata.Metadata, f *metadata.Field, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	stored, err := m.adapter.ToStorageValue(f.Type, value)
	if err != nil {
		return nil, ormerror.Conversion(err, "cannot convert %s.%s for storage", meta.Name, f.Name)
	}
	return stored, nil
}
