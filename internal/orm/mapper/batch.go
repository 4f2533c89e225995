package mapper

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// partial is a document whose scalars are populated and whose relations
// are still pending
type partial struct {
	doc  *document.Document
	meta *metadata.Metadata
	raw  storage.Record
	// owned is false when the record duplicated an earlier identity
	owned bool
}

// HydrateMany converts a batch of raw records. Scalars of every record are
// populated first; each relation is then resolved once for the whole batch
// through the adapter's batch hook.
func (m *Mapper) HydrateMany(ctx context.Context, meta *metadata.Metadata, raws []storage.Record) ([]*document.Document, error) {
	if len(raws) == 0 {
		return []*document.Document{}, nil
	}

	g := newGraph(m.maxDepth)
	partials := make([]*partial, len(raws))

	grp, gctx := errgroup.WithContext(ctx)
	for i, raw := range raws {
		i, raw := i, raw
		grp.Go(func() error {
			doc, docMeta, data, err := m.hydrateScalars(gctx, meta, raw)
			if err != nil {
				return err
			}
			p := &partial{doc: doc, meta: docMeta, raw: data, owned: true}
			if existing := g.claim(doc); existing != nil {
				p.doc = existing
				p.owned = false
			}
			partials[i] = p
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	if err := m.resolveBatch(ctx, g, partials); err != nil {
		return nil, err
	}

	docs := make([]*document.Document, len(partials))
	for i, p := range partials {
		if p.owned {
			if err := m.finish(ctx, p.meta, p.raw, p.doc); err != nil {
				return nil, err
			}
		}
		docs[i] = p.doc
	}
	return docs, nil
}

// resolveBatch groups partial documents by their final metadata and resolves
// each relation of each group with a single batch call
func (m *Mapper) resolveBatch(ctx context.Context, g *graph, partials []*partial) error {
	groups := make(map[string][]*partial)
	var order []string
	for _, p := range partials {
		if !p.owned || len(p.meta.Relations) == 0 {
			continue
		}
		if _, ok := groups[p.meta.Name]; !ok {
			order = append(order, p.meta.Name)
		}
		groups[p.meta.Name] = append(groups[p.meta.Name], p)
	}

	grp, gctx := errgroup.WithContext(ctx)
	for _, name := range order {
		members := groups[name]
		meta := members[0].meta
		raws := make([]storage.Record, len(members))
		for i, p := range members {
			raws[i] = p.raw
		}

		for _, rel := range meta.Relations {
			rel := rel
			grp.Go(func() error {
				resolved, err := m.adapter.ResolveRelationBatch(gctx, meta, rel, raws)
				if err != nil {
					return fmt.Errorf("resolve %s.%s: %w", meta.Name, rel.Property, err)
				}
				if len(resolved) != len(members) {
					return fmt.Errorf("resolve %s.%s: adapter returned %d results for %d records",
						meta.Name, rel.Property, len(resolved), len(members))
				}
				for i, p := range members {
					if err := m.assign(gctx, g, meta, rel, p.raw, p.doc, resolved[i], 0); err != nil {
						return err
					}
				}
				return nil
			})
		}
	}
	return grp.Wait()
}
