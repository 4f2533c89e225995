package mapper

import (
	"context"

	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// Dehydrate converts a document into a raw storage record. Properties that
// were never set map to storage.Undefined.
func (m *Mapper) Dehydrate(ctx context.Context, meta *metadata.Metadata, doc *document.Document) (storage.Record, error) {
	rec := make(storage.Record, len(meta.Fields)+len(meta.Relations))
	collection := meta.CollectionName()

	idField, err := meta.IdentityField()
	if err != nil {
		return nil, ormerror.Configuration("%v", err)
	}

	if meta.IDStrategy == metadata.IDStrategyManual {
		value, err := m.storageValue(meta, idField, doc)
		if err != nil {
			return nil, err
		}
		rec[idField.Name] = value
	}

	for _, f := range meta.Fields {
		if f == idField {
			continue
		}
		if f.Table != "" && f.Table != collection {
			continue
		}
		value, err := m.storageValue(meta, f, doc)
		if err != nil {
			return nil, err
		}
		rec[f.Name] = value
	}

	for _, rel := range meta.Relations {
		value, ok := doc.Lookup(rel.Property)
		if !ok {
			rec[rel.StorageKey()] = storage.Undefined
			continue
		}

		var arg interface{}
		if rel.Kind.IsEmbed() {
			arg, err = m.dehydrateEmbed(ctx, rel, value)
		} else {
			arg = referenceArg(rel, value)
		}
		if err != nil {
			return nil, err
		}

		stored, err := m.adapter.DehydrateRelation(ctx, meta, rel, arg)
		if err != nil {
			return nil, ormerror.Conversion(err, "cannot dehydrate %s.%s", meta.Name, rel.Property)
		}
		rec[rel.StorageKey()] = stored
	}

	return rec, nil
}

func (m *Mapper) storageValue(meta *metadata.Metadata, f *metadata.Field, doc *document.Document) (interface{}, error) {
	value, ok := doc.Lookup(f.PropertyName())
	if !ok {
		return storage.Undefined, nil
	}
	if value == nil {
		return nil, nil
	}
	stored, err := m.adapter.ToStorageValue(f.Type, value)
	if err != nil {
		return nil, ormerror.Conversion(err, "cannot convert %s.%s for storage", meta.Name, f.Name).
			WithDetail("value", value)
	}
	return stored, nil
}

// dehydrateEmbed recursively dehydrates embedded documents into nested records
func (m *Mapper) dehydrateEmbed(ctx context.Context, rel *metadata.Relation, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case *document.Document:
		if v == nil {
			return nil, nil
		}
		return m.dehydrateNested(ctx, v)
	case []*document.Document:
		if v == nil {
			return nil, nil
		}
		list := make([]storage.Record, 0, len(v))
		for _, d := range v {
			if d == nil {
				continue
			}
			nested, err := m.dehydrateNested(ctx, d)
			if err != nil {
				return nil, err
			}
			list = append(list, nested)
		}
		return list, nil
	default:
		return nil, nil
	}
}

func (m *Mapper) dehydrateNested(ctx context.Context, doc *document.Document) (storage.Record, error) {
	nested, err := m.Dehydrate(ctx, doc.Metadata(), doc)
	if err != nil {
		return nil, err
	}
	return Compact(nested), nil
}

// referenceArg converts a reference value into the IDReader form handed to
// the adapter
func referenceArg(rel *metadata.Relation, value interface{}) interface{} {
	switch v := value.(type) {
	case *document.Document:
		if v == nil {
			return nil
		}
		return storage.IDReader(v)
	case []*document.Document:
		if v == nil {
			return nil
		}
		readers := make([]storage.IDReader, len(v))
		for i, d := range v {
			if d != nil {
				readers[i] = d
			}
		}
		return readers
	default:
		return nil
	}
}

// ReduceForStorage returns the part of a raw record that may be sent on
// update: undefined values and read-only fields are stripped
func (m *Mapper) ReduceForStorage(meta *metadata.Metadata, raw storage.Record) storage.Record {
	reduced := Compact(raw)
	for _, f := range meta.Fields {
		if f.ReadOnly {
			delete(reduced, f.Name)
		}
	}
	return reduced
}

// Compact returns a copy of raw without undefined values, recursing into
// nested records
func Compact(raw storage.Record) storage.Record {
	compacted := make(storage.Record, len(raw))
	for k, v := range raw {
		if storage.IsUndefined(v) {
			continue
		}
		switch nested := v.(type) {
		case storage.Record:
			compacted[k] = Compact(nested)
		case []storage.Record:
			list := make([]storage.Record, len(nested))
			for i, item := range nested {
				list[i] = Compact(item)
			}
			compacted[k] = list
		default:
			compacted[k] = v
		}
	}
	return compacted
}
