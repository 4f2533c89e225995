package mapper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/conduit-lang/docmapper/internal/orm/document"
)

// ErrMaxDepthExceeded is returned when a relation graph nests deeper than
// the mapper's maximum depth
var ErrMaxDepthExceeded = errors.New("maximum relation depth exceeded")

type graphKey struct {
	typeName string
	id       string
}

// graph tracks the documents of one hydration call so that every (type, id)
// pair maps to a single instance and cyclic graphs terminate
type graph struct {
	mu       sync.Mutex
	docs     map[graphKey]*document.Document
	maxDepth int
}

func newGraph(maxDepth int) *graph {
	return &graph{
		docs:     make(map[graphKey]*document.Document),
		maxDepth: maxDepth,
	}
}

func (g *graph) lookup(typeName string, id interface{}) *document.Document {
	if id == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.docs[graphKey{typeName: typeName, id: fmt.Sprint(id)}]
}

// claim registers doc unless an instance with the same identity already
// exists, in which case that instance is returned
func (g *graph) claim(doc *document.Document) *document.Document {
	id := doc.ID()
	if id == nil {
		return nil
	}
	key := graphKey{typeName: doc.Type(), id: fmt.Sprint(id)}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.docs[key]; ok && existing != doc {
		return existing
	}
	g.docs[key] = doc
	return nil
}

func (g *graph) checkDepth(depth int) error {
	if depth > g.maxDepth {
		return fmt.Errorf("%w: %d", ErrMaxDepthExceeded, g.maxDepth)
	}
	return nil
}
