// Package docstore implements the storage adapter shared by the document-store
// clients: references are stored as related ids, embeds inline.
package docstore

import (
	"context"
	"fmt"

	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// Adapter converts values and resolves relations for document-store clients
type Adapter struct {
	Converter
	client      storage.Client
	registry    *metadata.Registry
	generateIDs bool
}

// Option configures an Adapter
type Option func(*Adapter)

// WithIDGeneration makes MANUAL documents without an id receive one from the
// configured id strategy
func WithIDGeneration(enabled bool) Option {
	return func(a *Adapter) {
		a.generateIDs = enabled
	}
}

// New creates an adapter resolving references through client
func New(client storage.Client, registry *metadata.Registry, opts ...Option) *Adapter {
	a := &Adapter{client: client, registry: registry}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateIDs reports whether ids are generated for MANUAL documents
func (a *Adapter) GenerateIDs() bool {
	return a.generateIDs
}

// ResolveRelation returns the related data referenced by one raw record
func (a *Adapter) ResolveRelation(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, raw storage.Record) (storage.Related, error) {
	if rel.Kind.IsEmbed() {
		return embedded(rel, raw[rel.StorageKey()])
	}

	results, err := a.ResolveRelationBatch(ctx, meta, rel, []storage.Record{raw})
	if err != nil {
		return storage.Related{}, err
	}
	return results[0], nil
}

// ResolveRelationBatch resolves one relation for a batch with a single
// where-in query on the target collection
func (a *Adapter) ResolveRelationBatch(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, raws []storage.Record) ([]storage.Related, error) {
	results := make([]storage.Related, len(raws))

	if rel.Kind.IsEmbed() {
		for i, raw := range raws {
			related, err := embedded(rel, raw[rel.StorageKey()])
			if err != nil {
				return nil, err
			}
			results[i] = related
		}
		return results, nil
	}

	target, err := a.registry.Get(rel.Target)
	if err != nil {
		return nil, err
	}
	idField, err := target.IdentityField()
	if err != nil {
		return nil, err
	}

	refs := make([][]interface{}, len(raws))
	var ids []interface{}
	seen := make(map[string]bool)
	for i, raw := range raws {
		refs[i] = referencedIDs(raw[rel.StorageKey()])
		for _, id := range refs[i] {
			key := fmt.Sprint(id)
			if !seen[key] {
				seen[key] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return results, nil
	}

	query := storage.NewQuery(nil).WhereIn(idField.Name, ids)
	records, err := a.client.FindByQuery(ctx, target, target.CollectionName(), query)
	if err != nil {
		return nil, fmt.Errorf("load %s for %s.%s: %w", target.Name, meta.Name, rel.Property, err)
	}

	byID := make(map[string]storage.Record, len(records))
	for _, rec := range records {
		byID[fmt.Sprint(rec[idField.Name])] = rec
	}

	var sortField string
	if rel.Sort != "" {
		if f, ok := target.Field(rel.Sort); ok {
			sortField = f.Name
		} else {
			sortField = rel.Sort
		}
	}

	for i, refIDs := range refs {
		var related []storage.Record
		for _, id := range refIDs {
			if rec, ok := byID[fmt.Sprint(id)]; ok {
				related = append(related, rec)
			}
		}
		if !rel.Kind.IsMany() && len(related) > 1 {
			related = related[:1]
		}
		if sortField != "" && len(related) > 1 {
			SortRecords(related, []storage.SortField{{Field: sortField, Direction: rel.Direction}})
		}
		results[i] = storage.Related{Raw: related}
	}
	return results, nil
}

// DehydrateRelation stores references as ids and embeds inline
func (a *Adapter) DehydrateRelation(ctx context.Context, meta *metadata.Metadata, rel *metadata.Relation, value interface{}) (interface{}, error) {
	if rel.Kind.IsEmbed() {
		return value, nil
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case storage.IDReader:
		if v == nil {
			return nil, nil
		}
		return a.storageID(v.ID())
	case []storage.IDReader:
		ids := make([]interface{}, 0, len(v))
		for _, r := range v {
			if r == nil || r.ID() == nil {
				continue
			}
			id, err := a.storageID(r.ID())
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unsupported %s value %T", rel.Kind, value)
	}
}

func (a *Adapter) storageID(id interface{}) (interface{}, error) {
	if id == nil {
		return nil, nil
	}
	return a.ToStorageValue(metadata.TypeID, id)
}

// embedded returns the inline records of an embed
func embedded(rel *metadata.Relation, value interface{}) (storage.Related, error) {
	if value == nil || storage.IsUndefined(value) {
		return storage.Related{}, nil
	}

	var related storage.Related
	add := func(item interface{}) error {
		switch v := item.(type) {
		case nil:
		case storage.Record:
			related.Raw = append(related.Raw, v)
		case map[string]interface{}:
			related.Raw = append(related.Raw, storage.Record(v))
		case storage.IDReader:
			related.Docs = append(related.Docs, v)
		default:
			return fmt.Errorf("embed %s holds unsupported value %T", rel.Property, item)
		}
		return nil
	}

	switch v := value.(type) {
	case []storage.Record:
		related.Raw = append(related.Raw, v...)
	case []interface{}:
		for _, item := range v {
			if err := add(item); err != nil {
				return storage.Related{}, err
			}
		}
	default:
		if err := add(v); err != nil {
			return storage.Related{}, err
		}
	}
	return related, nil
}

// referencedIDs returns the related ids stored in a reference value
func referencedIDs(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		ids := make([]interface{}, 0, len(v))
		for _, id := range v {
			if id != nil {
				ids = append(ids, id)
			}
		}
		return ids
	case []string:
		ids := make([]interface{}, len(v))
		for i, id := range v {
			ids[i] = id
		}
		return ids
	default:
		if storage.IsUndefined(v) {
			return nil
		}
		return []interface{}{v}
	}
}
