package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// HandleInheritance flattens every metadata with unresolved parents. Parents
// are resolved first, each metadata is merged exactly once, and a missing
// parent fails fast with an error naming it.
func (r *Registry) HandleInheritance() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.sortedNames() {
		for _, parent := range r.byName[name].Inherits {
			if _, ok := r.byName[parent]; !ok {
				return ormerror.NotFound("document %s inherits from unknown document %s", name, parent).
					WithDetail("parent", parent)
			}
		}
	}

	graph := newInheritanceGraph(r.byName)
	if cycles := graph.detectCycles(); len(cycles) > 0 {
		return ormerror.Configuration("circular inheritance detected:\n%s", formatCycles(cycles))
	}

	for _, name := range r.sortedNames() {
		if err := r.resolve(r.byName[name]); err != nil {
			return err
		}
	}

	for _, name := range r.sortedNames() {
		if err := r.validator.ValidateComplete(r.byName[name]); err != nil {
			return err
		}
	}

	return nil
}

// resolve merges the parents of m into m, resolving the parents' own parents first
func (r *Registry) resolve(m *Metadata) error {
	if m.inherited {
		return nil
	}

	for _, parentName := range m.Inherits {
		parent, ok := r.byName[parentName]
		if !ok {
			return ormerror.NotFound("document %s inherits from unknown document %s", m.Name, parentName)
		}
		if err := r.resolve(parent); err != nil {
			return err
		}
		merge(m, parent)
	}

	if m.IDField == "" {
		m.IDField = "id"
	}
	if m.IDStrategy == IDStrategyUnset {
		m.IDStrategy = IDStrategyAuto
	}
	m.inherited = true
	m.reindex()
	return nil
}

// merge unions parent definitions into child. Child scalars win when set and
// child entries win ties by name.
func merge(child, parent *Metadata) {
	if child.Collection == "" {
		child.Collection = parent.Collection
	}
	if child.IDField == "" {
		child.IDField = parent.IDField
	}
	if child.IDStrategy == IDStrategyUnset {
		child.IDStrategy = parent.IDStrategy
	}

	child.Fields = mergeFields(child.Fields, parent.Fields)
	child.Relations = mergeRelations(child.Relations, parent.Relations)
	child.Indexes = mergeIndexes(child.Indexes, parent.Indexes)
	child.Listeners = mergeNames(parent.Listeners, child.Listeners)

	if child.Events == nil {
		child.Events = make(map[string][]string)
	}
	for event, methods := range parent.Events {
		child.Events[event] = mergeNames(methods, child.Events[event])
	}
	if child.Methods == nil {
		child.Methods = make(map[string]MethodHook)
	}
	for name, hook := range parent.Methods {
		if _, ok := child.Methods[name]; !ok {
			child.Methods[name] = hook
		}
	}
}

func mergeFields(child, parent []*Field) []*Field {
	own := make(map[string]*Field, len(child))
	for _, f := range child {
		own[f.Name] = f
	}
	result := make([]*Field, 0, len(child)+len(parent))
	used := make(map[string]bool, len(child))
	for _, f := range parent {
		if c, ok := own[f.Name]; ok {
			result = append(result, c)
			used[f.Name] = true
			continue
		}
		result = append(result, f)
	}
	for _, f := range child {
		if !used[f.Name] {
			result = append(result, f)
		}
	}
	return result
}

func mergeRelations(child, parent []*Relation) []*Relation {
	own := make(map[string]*Relation, len(child))
	for _, r := range child {
		own[r.Property] = r
	}
	result := make([]*Relation, 0, len(child)+len(parent))
	used := make(map[string]bool, len(child))
	for _, r := range parent {
		if c, ok := own[r.Property]; ok {
			result = append(result, c)
			used[r.Property] = true
			continue
		}
		result = append(result, r)
	}
	for _, r := range child {
		if !used[r.Property] {
			result = append(result, r)
		}
	}
	return result
}

func mergeIndexes(child, parent []*Index) []*Index {
	own := make(map[string]bool, len(child))
	for _, idx := range child {
		own[idx.Name] = true
	}
	result := make([]*Index, 0, len(child)+len(parent))
	for _, idx := range parent {
		if !own[idx.Name] {
			result = append(result, idx)
		}
	}
	return append(result, child...)
}

func mergeNames(first, second []string) []string {
	seen := make(map[string]bool, len(first)+len(second))
	result := make([]string, 0, len(first)+len(second))
	for _, list := range [][]string{first, second} {
		for _, name := range list {
			if !seen[name] {
				seen[name] = true
				result = append(result, name)
			}
		}
	}
	return result
}

// inheritanceGraph is the child -> parents graph used for cycle detection
type inheritanceGraph struct {
	nodes map[string]*Metadata
	edges map[string][]string
}

func newInheritanceGraph(nodes map[string]*Metadata) *inheritanceGraph {
	g := &inheritanceGraph{
		nodes: nodes,
		edges: make(map[string][]string),
	}
	for name, m := range nodes {
		g.edges[name] = append(g.edges[name], m.Inherits...)
	}
	return g
}

// detectCycles returns the inheritance cycles found by depth-first search
func (g *inheritanceGraph) detectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, parent := range g.edges[node] {
			if !visited[parent] {
				dfs(parent, path)
			} else if onStack[parent] {
				for i, n := range path {
					if n == parent {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		onStack[node] = false
	}

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !visited[name] {
			dfs(name, nil)
		}
	}

	return cycles
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0]))
	}
	return b.String()
}
