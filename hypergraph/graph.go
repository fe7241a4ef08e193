package hypergraph

import (
	"sort"
	"sync"

	"github.com/pml-run/pml/core"
)

// ExecutionUpdate is the subset of an executed DAG task the hypergraph needs
// to strengthen its edges: which node ran, what it depended on.
type ExecutionUpdate struct {
	NodeID      string
	DependsOn   []string
	SuccessRate float64 // used to derive edge weight contribution
}

// Graph is the shared-readable, single-writer hypergraph. Update is the
// mutation path that also clears the PageRank and community caches; the
// lower-level mutators leave them in place. Readers (PageRank, community,
// shortest path, Adamic-Adar)
// take an RLock so concurrent scoring never blocks on other scoring.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]map[string]*Edge // from -> to -> edge
	hyper map[string]*Hyperedge

	logger core.Logger

	cacheMu       sync.Mutex
	pageRankCache map[string]float64
	communityCache map[string]int
}

// Option configures a Graph.
type Option func(*Graph)

func WithLogger(l core.Logger) Option { return func(g *Graph) { g.logger = l } }

// NewGraph returns an empty hypergraph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		nodes:  make(map[string]*Node),
		edges:  make(map[string]map[string]*Edge),
		hyper:  make(map[string]*Hyperedge),
		logger: core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureNode creates kind/id if absent and returns the node, existing or new.
func (g *Graph) EnsureNode(id string, kind NodeKind) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Kind: kind}
	g.nodes[id] = n
	g.edges[id] = make(map[string]*Edge)
	return n
}

// Node returns the node by id, or false if it does not exist.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// NodeCount and EdgeCount back the density computation for adaptive alpha.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, row := range g.edges {
		n += len(row)
	}
	return n
}

// Density is |edges| / (|nodes|·(|nodes|-1)), 0 if fewer than 2 nodes.
func (g *Graph) Density() float64 {
	n := g.NodeCount()
	if n < 2 {
		return 0
	}
	e := g.EdgeCount()
	return float64(e) / float64(n*(n-1))
}

// AdaptiveAlpha implements max(0.5, 1.0 - 2*density).
func (g *Graph) AdaptiveAlpha() float64 {
	alpha := 1.0 - 2*g.Density()
	if alpha < 0.5 {
		return 0.5
	}
	return alpha
}

// AddOrStrengthenEdge increments or creates a directed edge using the
// running-mean rule w_new = (w_old*n_old + w_observed) /
// (n_old+1). Self-loops are rejected; both endpoints must already exist.
func (g *Graph) AddOrStrengthenEdge(from, to string, observed float64) error {
	if from == to {
		return core.NewError("Graph.AddOrStrengthenEdge", core.KindInvalidParams, errSelfLoop)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return core.NewErrorWithID("Graph.AddOrStrengthenEdge", core.KindNotFound, from, errUnknownNode)
	}
	if _, ok := g.nodes[to]; !ok {
		return core.NewErrorWithID("Graph.AddOrStrengthenEdge", core.KindNotFound, to, errUnknownNode)
	}

	row, ok := g.edges[from]
	if !ok {
		row = make(map[string]*Edge)
		g.edges[from] = row
	}

	observed = core.Clamp01(observed)
	if observed <= 0 {
		observed = 1e-6
	}

	e, exists := row[to]
	if !exists {
		row[to] = &Edge{From: from, To: to, Weight: observed, Count: 1}
	} else {
		e.Weight = (e.Weight*float64(e.Count) + observed) / float64(e.Count+1)
		e.Count++
	}
	g.nodes[from].Degree++
	g.nodes[to].Degree++
	return nil
}

// Update applies an observed execution: ensures nodes exist, strengthens the
// depends_on edges, and invalidates the PageRank/community caches.
func (g *Graph) Update(u ExecutionUpdate, kind NodeKind) {
	g.EnsureNode(u.NodeID, kind)
	for _, dep := range u.DependsOn {
		g.EnsureNode(dep, kind)
		weight := u.SuccessRate
		if weight <= 0 {
			weight = 1e-6
		}
		if err := g.AddOrStrengthenEdge(dep, u.NodeID, weight); err != nil {
			g.logger.Warn("skipping invalid hypergraph edge update", map[string]interface{}{"from": dep, "to": u.NodeID, "error": err.Error()})
		}
	}
	g.invalidateCaches()
}

// AddHyperedge registers a hyperedge once; duplicate (sources,targets) pairs
// are rejected as the data model invariant requires.
func (g *Graph) AddHyperedge(id string, sources, targets []string, weight float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(sources) == 0 || len(targets) == 0 {
		return core.NewError("Graph.AddHyperedge", core.KindInvalidParams, errEmptyHyperedgeSet)
	}
	key := hyperedgeKey(sources, targets)
	for _, existing := range g.hyper {
		if hyperedgeKey(existing.Sources, existing.Targets) == key {
			return core.NewError("Graph.AddHyperedge", core.KindInvalidParams, errDuplicateHyperedge)
		}
	}
	if weight <= 0 {
		weight = 1e-6
	}
	g.hyper[id] = &Hyperedge{ID: id, Sources: append([]string{}, sources...), Targets: append([]string{}, targets...), Weight: weight}
	return nil
}

// Hyperedges returns a snapshot copy of all registered hyperedges.
func (g *Graph) Hyperedges() []Hyperedge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Hyperedge, 0, len(g.hyper))
	for _, h := range g.hyper {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hyperedgeKey(sources, targets []string) string {
	s := append([]string{}, sources...)
	t := append([]string{}, targets...)
	sort.Strings(s)
	sort.Strings(t)
	key := ""
	for _, x := range s {
		key += "s:" + x + ";"
	}
	for _, x := range t {
		key += "t:" + x + ";"
	}
	return key
}

// Neighbors returns the outgoing neighbor ids of a node.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row := g.edges[id]
	out := make([]string, 0, len(row))
	for to := range row {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) invalidateCaches() {
	g.cacheMu.Lock()
	g.pageRankCache = nil
	g.communityCache = nil
	g.cacheMu.Unlock()
}
