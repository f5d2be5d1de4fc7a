package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Relationship holds the parent and child edges of one field.
type Relationship struct {
	// Parents lists the fields this field depends on, in declaration order.
	// Empty for root fields.
	Parents []string

	// Children lists the fields that depend on this field, in config order.
	Children []string
}

// Registry holds the dependency graph of a set of fields.
// It is built once and is read-only afterwards; the memoized traversals are
// safe for concurrent use.
type Registry struct {
	names   []string
	byName  map[string]*Relationship
	configs map[string]FieldConfig

	mu          sync.Mutex
	descendants map[string][]string
	depth       map[string]int
}

// NewRegistry builds the relationship graph for the given fields.
// Dependencies on unknown fields are dropped and reported through logger.
func NewRegistry(fields []FieldConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName:      make(map[string]*Relationship, len(fields)),
		configs:     make(map[string]FieldConfig, len(fields)),
		descendants: make(map[string][]string),
	}

	// 1. One entry per field
	for _, f := range fields {
		if _, dup := r.byName[f.Name]; dup {
			logger.Warn("duplicate field config, later one wins",
				"field", f.Name,
				"error", ErrDuplicateField,
			)
		} else {
			r.names = append(r.names, f.Name)
		}
		r.byName[f.Name] = &Relationship{}
		r.configs[f.Name] = f
	}

	// 2. Register each field as a child of every listed parent
	for _, name := range r.names {
		f := r.configs[name]
		for _, parent := range f.DependsOn {
			pr, ok := r.byName[parent]
			if !ok {
				logger.Warn("ignoring dependency on unknown field",
					"field", f.Name,
					"parent", parent,
					"error", ErrUnknownParent,
				)
				continue
			}
			rel := r.byName[name]
			if slices.Contains(rel.Parents, parent) {
				continue
			}
			rel.Parents = append(rel.Parents, parent)
			pr.Children = append(pr.Children, name)
		}
	}

	if err := r.DetectCycles(); err != nil {
		logger.Warn("dependency graph is not acyclic", "error", err)
	}

	return r
}

// Names returns all field names in config order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Has reports whether name is a configured field.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Config returns the configuration of a field.
func (r *Registry) Config(name string) (FieldConfig, bool) {
	c, ok := r.configs[name]
	return c, ok
}

// Relationship returns the edges of a field.
func (r *Registry) Relationship(name string) (Relationship, bool) {
	rel, ok := r.byName[name]
	if !ok {
		return Relationship{}, false
	}
	return Relationship{
		Parents:  slices.Clone(rel.Parents),
		Children: slices.Clone(rel.Children),
	}, true
}

// ChildrenOf returns the fields that directly depend on name. The result is
// a copy.
func (r *Registry) ChildrenOf(name string) []string {
	return slices.Clone(r.children(name))
}

// ParentsOf returns the fields name directly depends on. The result is a
// copy.
func (r *Registry) ParentsOf(name string) []string {
	return slices.Clone(r.parents(name))
}

func (r *Registry) children(name string) []string {
	if rel, ok := r.byName[name]; ok {
		return rel.Children
	}
	return nil
}

func (r *Registry) parents(name string) []string {
	if rel, ok := r.byName[name]; ok {
		return rel.Parents
	}
	return nil
}

// HasChildren returns true if any field depends on name.
func (r *Registry) HasChildren(name string) bool {
	return len(r.children(name)) > 0
}

// IsMultiParent reports whether name depends on more than one field.
func (r *Registry) IsMultiParent(name string) bool {
	return len(r.parents(name)) > 1
}

// Descendants returns every transitive dependent of name in breadth-first
// order. Results are memoized for the lifetime of the registry; the
// returned slice is a copy.
func (r *Registry) Descendants(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.descendantsLocked(name))
}

func (r *Registry) descendantsLocked(name string) []string {
	if d, ok := r.descendants[name]; ok {
		return d
	}

	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string
	for i := 0; i < len(queue); i++ {
		for _, child := range r.children(queue[i]) {
			if seen[child] {
				continue
			}
			seen[child] = true
			queue = append(queue, child)
			out = append(out, child)
		}
	}

	r.descendants[name] = out
	return out
}

// CascadeOrder returns the union of the descendants of names, ordered so that
// every field comes after all of its parents.
func (r *Registry) CascadeOrder(names ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		for _, d := range r.descendantsLocked(n) {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}

	depth := r.depthLocked()
	sort.SliceStable(out, func(i, j int) bool {
		return depth[out[i]] < depth[out[j]]
	})
	return out
}

// depthLocked computes, once, the longest path from a root to each field.
func (r *Registry) depthLocked() map[string]int {
	if r.depth != nil {
		return r.depth
	}
	depth := make(map[string]int, len(r.names))
	visiting := make(map[string]bool)
	var visit func(string) int
	visit = func(n string) int {
		if d, ok := depth[n]; ok {
			return d
		}
		if visiting[n] {
			// cycle: cut it here
			return 0
		}
		visiting[n] = true
		d := 0
		for _, p := range r.parents(n) {
			if pd := visit(p) + 1; pd > d {
				d = pd
			}
		}
		delete(visiting, n)
		depth[n] = d
		return d
	}
	for _, n := range r.names {
		visit(n)
	}
	r.depth = depth
	return depth
}

// DetectCycles returns an error wrapping ErrCycle naming the first field found
// on a cycle, or nil.
func (r *Registry) DetectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(string) error
	visit = func(n string) error {
		if permanent[n] {
			return nil
		}
		if temporary[n] {
			return fmt.Errorf("%w involving field %q", ErrCycle, n)
		}
		temporary[n] = true
		for _, child := range r.children(n) {
			if err := visit(child); err != nil {
				return err
			}
		}
		delete(temporary, n)
		permanent[n] = true
		return nil
	}

	for _, n := range r.names {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
