package hypergraph

import (
	"container/heap"
	"math"
)

// ShortestPath runs Dijkstra over the directed weighted edges from source.
// Returns (distance, path, true) or (0, nil, false) if target is unreachable.
func (g *Graph) ShortestPath(source, target string) (float64, []string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[source]; !ok {
		return 0, nil, false
	}
	if _, ok := g.nodes[target]; !ok {
		return 0, nil, false
	}

	dist := map[string]float64{source: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{id: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == target {
			break
		}
		for to, e := range g.edges[cur.id] {
			if visited[to] {
				continue
			}
			nd := dist[cur.id] + e.Weight
			if existing, ok := dist[to]; !ok || nd < existing {
				dist[to] = nd
				prev[to] = cur.id
				heap.Push(pq, pqItem{id: to, dist: nd})
			}
		}
	}

	d, ok := dist[target]
	if !ok {
		return 0, nil, false
	}

	path := []string{target}
	for cur := target; cur != source; {
		p, ok := prev[cur]
		if !ok {
			return 0, nil, false
		}
		path = append([]string{p}, path...)
		cur = p
	}
	return d, path, true
}

type pqItem struct {
	id   string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// AdamicAdar computes Σ 1/log(1+deg(u)) over u in N(x) ∩ N(targets), treating
// edges as undirected adjacency for neighborhood purposes.
func (g *Graph) AdamicAdar(x string, targets []string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	neighborsOf := func(id string) map[string]bool {
		set := make(map[string]bool)
		for to := range g.edges[id] {
			set[to] = true
		}
		for from, row := range g.edges {
			if _, ok := row[id]; ok {
				set[from] = true
			}
		}
		return set
	}

	nx := neighborsOf(x)
	targetNeighbors := make(map[string]bool)
	for _, t := range targets {
		for u := range neighborsOf(t) {
			targetNeighbors[u] = true
		}
	}

	var score float64
	for u := range nx {
		if !targetNeighbors[u] {
			continue
		}
		deg := g.nodes[u].Degree
		if deg <= 0 {
			continue
		}
		score += 1.0 / math.Log(1+float64(deg))
	}
	return score
}
