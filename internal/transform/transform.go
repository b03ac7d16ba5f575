// Package transform maintains a directed graph of pure payload transforms
// between API version pairs. Migration paths between non-adjacent versions
// are derived by breadth-first search over registered edges, so registering
// v1→v2 and v2→v3 yields a usable v1→v3 chain without a directly authored
// transform.
package transform

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/palabrita/palabrita/internal/version"
)

// Transform converts a JSON payload from one version's shape to another's.
// Implementations must be pure: no I/O, no shared mutable state.
type Transform func(payload []byte) ([]byte, error)

// ErrNoPath is returned by Migrate when no chain of registered edges
// bridges the two versions. Callers may choose to serve the native-version
// payload instead of failing the request.
var ErrNoPath = errors.New("no migration path")

// ErrDuplicateEdge is returned when a transform is registered twice for the
// same ordered version pair. Duplicates are a configuration error, never a
// silent overwrite.
var ErrDuplicateEdge = errors.New("duplicate transform edge")

// Step is one hop of a resolved migration path.
type Step struct {
	From version.Token
	To   version.Token
	fn   Transform
}

// Apply runs the step's transform.
func (s Step) Apply(payload []byte) ([]byte, error) {
	return s.fn(payload)
}

type edge struct {
	to version.Token
	fn Transform
}

// pathCacheSize bounds the resolved-path cache. The version graph is tiny;
// the cache exists to skip repeated BFS walks on the request path.
const pathCacheSize = 128

// Registry is the directed transform graph. Populated during process
// initialization; reads are lock-free afterwards apart from the internally
// synchronized path cache.
type Registry struct {
	// adjacency lists in edge registration order; the order is the BFS
	// tie-breaker for equal-length paths
	edges map[version.Token][]edge
	pairs map[[2]version.Token]bool
	cache *lru.Cache[[2]version.Token, []Step]
}

// NewRegistry creates an empty transform registry.
func NewRegistry() *Registry {
	cache, _ := lru.New[[2]version.Token, []Step](pathCacheSize)
	return &Registry{
		edges: make(map[version.Token][]edge),
		pairs: make(map[[2]version.Token]bool),
		cache: cache,
	}
}

// Register adds a directed edge. An edge from A to B does not imply an edge
// from B to A; reverse migrations must be registered explicitly.
func (r *Registry) Register(from, to version.Token, fn Transform) error {
	if from == "" || to == "" {
		return fmt.Errorf("transform: empty version token in edge %q->%q", from, to)
	}
	if from == to {
		return fmt.Errorf("transform: self edge %q->%q not allowed", from, to)
	}
	if fn == nil {
		return fmt.Errorf("transform: nil transform for edge %q->%q", from, to)
	}
	pair := [2]version.Token{from, to}
	if r.pairs[pair] {
		return fmt.Errorf("transform: %w for %q->%q", ErrDuplicateEdge, from, to)
	}
	r.pairs[pair] = true
	r.edges[from] = append(r.edges[from], edge{to: to, fn: fn})
	r.cache.Purge()
	return nil
}

// Resolve returns the fewest-hop migration path from one version to another,
// or nil if no chain of edges exists. Equal-length paths tie-break on edge
// registration order. Resolve(X, X) is an empty, non-nil path.
func (r *Registry) Resolve(from, to version.Token) []Step {
	if from == to {
		return []Step{}
	}
	pair := [2]version.Token{from, to}
	if cached, ok := r.cache.Get(pair); ok {
		return cached
	}

	path := r.search(from, to)
	if path != nil {
		r.cache.Add(pair, path)
	}
	return path
}

// search is a breadth-first walk over the edge graph. Visiting adjacency
// lists in registration order makes the first path found deterministic.
func (r *Registry) search(from, to version.Token) []Step {
	type node struct {
		tok  version.Token
		prev *node
		via  edge
	}

	visited := map[version.Token]bool{from: true}
	queue := []*node{{tok: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range r.edges[cur.tok] {
			if visited[e.to] {
				continue
			}
			next := &node{tok: e.to, prev: cur, via: e}
			if e.to == to {
				// Reconstruct the path root-first.
				var rev []*node
				for n := next; n.prev != nil; n = n.prev {
					rev = append(rev, n)
				}
				path := make([]Step, 0, len(rev))
				for i := len(rev) - 1; i >= 0; i-- {
					n := rev[i]
					path = append(path, Step{From: n.prev.tok, To: n.tok, fn: n.via.fn})
				}
				return path
			}
			visited[e.to] = true
			queue = append(queue, next)
		}
	}
	return nil
}

// Migrate converts a payload between version shapes by applying each
// transform on the resolved path in sequence. Migrating a version to itself
// is the identity and performs no edge lookup.
func (r *Registry) Migrate(payload []byte, from, to version.Token) ([]byte, error) {
	if from == to {
		return payload, nil
	}
	path := r.Resolve(from, to)
	if path == nil {
		return nil, fmt.Errorf("transform: %w from %q to %q", ErrNoPath, from, to)
	}
	for _, step := range path {
		var err error
		payload, err = step.Apply(payload)
		if err != nil {
			return nil, fmt.Errorf("transform: step %q->%q: %w", step.From, step.To, err)
		}
	}
	return payload, nil
}

// EdgeCount returns the number of registered edges.
func (r *Registry) EdgeCount() int {
	return len(r.pairs)
}
