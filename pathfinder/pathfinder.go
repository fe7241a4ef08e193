// Package pathfinder implements DR-DSP, a generalized Dijkstra over
// hyperedges: a hyperedge may only be crossed once every node in its source
// set has been reached, and the cost to reach its target set is the max
// distance among sources plus the hyperedge's own weight.
package pathfinder

import (
	"sort"

	"github.com/pml-run/pml/hypergraph"
)

// Result is the outcome of FindShortestHyperpath.
type Result struct {
	Found        bool
	Path         []string // hyperedge ids in traversal order
	NodeSequence []string // realized node traversal, not necessarily simple
	Hyperedges   []hypergraph.Hyperedge
	TotalWeight  float64
}

// FindShortestHyperpath runs the generalized Dijkstra relaxation described
// above over graph's registered hyperedges.
func FindShortestHyperpath(graph *hypergraph.Graph, source, target string) Result {
	hyperedges := graph.Hyperedges()
	if _, ok := graph.Node(source); !ok {
		return Result{Found: false}
	}
	if _, ok := graph.Node(target); !ok {
		return Result{Found: false}
	}
	if source == target {
		return Result{Found: true, NodeSequence: []string{source}}
	}

	dist := map[string]float64{source: 0}
	reached := map[string]bool{source: true}
	crossedEdge := map[string]string{} // node -> hyperedge id that first reached it
	pathOrder := []string{}

	changed := true
	for changed {
		changed = false

		sorted := append([]hypergraph.Hyperedge{}, hyperedges...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

		for _, e := range sorted {
			if !allReached(e.Sources, reached) {
				continue
			}
			maxSrcDist := 0.0
			for _, s := range e.Sources {
				if dist[s] > maxSrcDist {
					maxSrcDist = dist[s]
				}
			}
			cost := maxSrcDist + e.Weight

			for _, t := range e.Targets {
				if !reached[t] || cost < dist[t] {
					dist[t] = cost
					reached[t] = true
					crossedEdge[t] = e.ID
					changed = true
				}
			}
		}
	}

	if !reached[target] {
		return Result{Found: false}
	}

	// Reconstruct the hyperedge chain backward from target.
	var hyperedgeIDs []string
	var nodeSeq []string
	cur := target
	visitedGuard := map[string]bool{}
	for cur != source {
		if visitedGuard[cur] {
			break
		}
		visitedGuard[cur] = true
		edgeID, ok := crossedEdge[cur]
		if !ok {
			break
		}
		hyperedgeIDs = append([]string{edgeID}, hyperedgeIDs...)
		nodeSeq = append([]string{cur}, nodeSeq...)

		e := findHyperedge(hyperedges, edgeID)
		if e == nil || len(e.Sources) == 0 {
			break
		}
		// Continue from the highest-distance source (the bottleneck path).
		next := e.Sources[0]
		for _, s := range e.Sources {
			if dist[s] > dist[next] {
				next = s
			}
		}
		cur = next
	}
	nodeSeq = append([]string{source}, nodeSeq...)
	pathOrder = hyperedgeIDs

	usedEdges := make([]hypergraph.Hyperedge, 0, len(pathOrder))
	for _, id := range pathOrder {
		if e := findHyperedge(hyperedges, id); e != nil {
			usedEdges = append(usedEdges, *e)
		}
	}

	return Result{
		Found:        true,
		Path:         pathOrder,
		NodeSequence: nodeSeq,
		Hyperedges:   usedEdges,
		TotalWeight:  dist[target],
	}
}

func allReached(nodes []string, reached map[string]bool) bool {
	for _, n := range nodes {
		if !reached[n] {
			return false
		}
	}
	return true
}

func findHyperedge(edges []hypergraph.Hyperedge, id string) *hypergraph.Hyperedge {
	for i := range edges {
		if edges[i].ID == id {
			return &edges[i]
		}
	}
	return nil
}

// ToSequentialDAGTasks converts a realized node sequence into task ids where
// task i depends on task i-1, per the Discovery Service's DR-DSP fallback.
func ToSequentialDAGTasks(nodeSequence []string) map[string][]string {
	deps := make(map[string][]string, len(nodeSequence))
	for i, n := range nodeSequence {
		if i == 0 {
			deps[n] = nil
			continue
		}
		deps[n] = []string{nodeSequence[i-1]}
	}
	return deps
}
