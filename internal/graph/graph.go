// Package graph models one pipeline run as a static, acyclic graph of stages.
//
// Nodes live in an arena ordered by insertion; dependencies are an explicit
// edge list where every edge carries its own wait policy. Graph construction
// is a pure function of the year set and the stage templates (see Build), and
// readiness evaluation is a pure function of the graph and the current node
// states (see Evaluate), so any scheduler can drive it.
package graph

import (
	"errors"
	"sort"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidGraph is returned when nodes or edges violate the graph invariants.
	ErrInvalidGraph = errors.New("graph: invalid graph")
	// ErrEmptyYearSet is returned when Build is called without years.
	ErrEmptyYearSet = errors.New("graph: empty year set")
)

func invalidf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidGraph, format, args...)
}

// Kind identifies what a stage does.
type Kind string

const (
	KindExtract   Kind = "extract"
	KindTransfer  Kind = "transfer"
	KindTransform Kind = "transform"
	KindCatalog   Kind = "catalog"
	KindCombine   Kind = "combine"
)

// WaitPolicy governs whether a dependency edge requires the upstream stage
// to succeed or merely to finish.
type WaitPolicy string

const (
	// OnSuccess gates the downstream stage on upstream success. An upstream
	// failure marks the downstream stage upstream_failed.
	OnSuccess WaitPolicy = "on_success"
	// OnCompletion gates the downstream stage on the upstream stage reaching
	// any terminal state.
	OnCompletion WaitPolicy = "on_completion"
)

// StageNode is one schedulable unit of work.
type StageNode struct {
	ID     string   `json:"id" yaml:"id"`
	Kind   Kind     `json:"kind" yaml:"kind"`
	Source string   `json:"source,omitempty" yaml:"source,omitempty"`
	Year   int      `json:"year,omitempty" yaml:"year,omitempty"`
	Years  []int    `json:"years,omitempty" yaml:"years,omitempty"` // fan-in nodes only
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output string   `json:"output,omitempty" yaml:"output,omitempty"`
	Table  string   `json:"table,omitempty" yaml:"table,omitempty"`
}

// Input returns the first input, or "" when the node has none.
func (n *StageNode) Input() string {
	if len(n.Inputs) == 0 {
		return ""
	}
	return n.Inputs[0]
}

// Edge is a dependency: To may not start before From satisfies Policy.
type Edge struct {
	From   string     `json:"from" yaml:"from"`
	To     string     `json:"to" yaml:"to"`
	Policy WaitPolicy `json:"policy" yaml:"policy"`
}

type edgeIndex struct {
	from   int
	to     int
	policy WaitPolicy
}

// TaskGraph is an immutable, validated DAG of stages. It is safe for
// concurrent reads.
type TaskGraph struct {
	nodes []*StageNode
	index map[string]int
	edges []edgeIndex

	incoming [][]int // edge positions by node index
	outgoing [][]int
}

// New validates nodes and edges and builds a TaskGraph. It rejects empty or
// duplicate ids, unknown edge endpoints, self-loops, duplicate edges, unknown
// wait policies and cycles.
func New(nodes []*StageNode, edges []Edge) (*TaskGraph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no stages")
	}

	g := &TaskGraph{
		nodes:    make([]*StageNode, 0, len(nodes)),
		index:    make(map[string]int, len(nodes)),
		incoming: make([][]int, len(nodes)),
		outgoing: make([][]int, len(nodes)),
	}
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			return nil, invalidf("stage id is required")
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, invalidf("duplicate stage id %q", n.ID)
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown stage (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown stage (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop on %q", e.From)
		}
		if e.Policy != OnSuccess && e.Policy != OnCompletion {
			return nil, invalidf("edge %q -> %q has unknown wait policy %q", e.From, e.To, e.Policy)
		}
		key := [2]int{from, to}
		if _, dup := seen[key]; dup {
			return nil, invalidf("duplicate edge %q -> %q", e.From, e.To)
		}
		seen[key] = struct{}{}

		pos := len(g.edges)
		g.edges = append(g.edges, edgeIndex{from: from, to: to, policy: e.Policy})
		g.outgoing[from] = append(g.outgoing[from], pos)
		g.incoming[to] = append(g.incoming[to], pos)
	}

	if _, err := g.topoIndices(); err != nil {
		return nil, err
	}
	return g, nil
}

// Len returns the number of stages.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Nodes returns the stages in insertion order.
func (g *TaskGraph) Nodes() []*StageNode {
	out := make([]*StageNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns a stage by id.
func (g *TaskGraph) Node(id string) (*StageNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Edges returns every dependency edge in insertion order.
func (g *TaskGraph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = Edge{From: g.nodes[e.from].ID, To: g.nodes[e.to].ID, Policy: e.policy}
	}
	return out
}

// Dependencies returns the incoming edges of id.
func (g *TaskGraph) Dependencies(id string) []Edge {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]Edge, 0, len(g.incoming[i]))
	for _, pos := range g.incoming[i] {
		e := g.edges[pos]
		out = append(out, Edge{From: g.nodes[e.from].ID, To: id, Policy: e.policy})
	}
	return out
}

// Dependents returns the ids of stages that depend on id.
func (g *TaskGraph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.outgoing[i]))
	for _, pos := range g.outgoing[i] {
		out = append(out, g.nodes[g.edges[pos].to].ID)
	}
	return out
}

// InDegree returns the number of dependencies of id.
func (g *TaskGraph) InDegree(id string) int {
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	return len(g.incoming[i])
}

// Roots returns the ids of stages without dependencies, in insertion order.
func (g *TaskGraph) Roots() []string {
	var out []string
	for i, n := range g.nodes {
		if len(g.incoming[i]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// ByKind returns the stages of the given kind in insertion order.
func (g *TaskGraph) ByKind(k Kind) []*StageNode {
	var out []*StageNode
	for _, n := range g.nodes {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// TopologicalOrder returns a deterministic topological ordering of stage
// ids. Ties are broken by insertion order.
func (g *TaskGraph) TopologicalOrder() []string {
	order, _ := g.topoIndices() // validated in New
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = g.nodes[idx].ID
	}
	return out
}

// topoIndices runs Kahn's algorithm and fails if a cycle remains.
func (g *TaskGraph) topoIndices() ([]int, error) {
	indeg := make([]int, len(g.nodes))
	for _, e := range g.edges {
		indeg[e.to]++
	}

	var queue []int
	for i := range g.nodes {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, u)

		var next []int
		for _, pos := range g.outgoing[u] {
			v := g.edges[pos].to
			indeg[v]--
			if indeg[v] == 0 {
				next = append(next, v)
			}
		}
		queue = append(queue, next...)
		sort.Ints(queue)
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.nodes[i].ID)
			}
		}
		return nil, invalidf("cycle detected among %v", stuck)
	}
	return order, nil
}
