package hypergraph

const (
	pageRankDamping    = 0.85
	pageRankTolerance  = 1e-6
	pageRankMaxIters   = 100
)

// PageRank returns the cached PageRank vector, recomputing it when the cache
// has been cleared (by Update or invalidateCaches). The result also gets written back onto
// each Node's PageRank field for convenience.
func (g *Graph) PageRank() map[string]float64 {
	g.cacheMu.Lock()
	if g.pageRankCache != nil {
		cached := g.pageRankCache
		g.cacheMu.Unlock()
		return cached
	}
	g.cacheMu.Unlock()

	ranks := g.computePageRank()

	g.cacheMu.Lock()
	g.pageRankCache = ranks
	g.cacheMu.Unlock()

	g.mu.Lock()
	for id, r := range ranks {
		if n, ok := g.nodes[id]; ok {
			n.PageRank = r
		}
	}
	g.mu.Unlock()

	return ranks
}

func (g *Graph) computePageRank() map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.nodes)
	if n == 0 {
		return map[string]float64{}
	}

	ids := make([]string, 0, n)
	for id := range g.nodes {
		ids = append(ids, id)
	}

	outWeight := make(map[string]float64, n)
	for _, id := range ids {
		var total float64
		for _, e := range g.edges[id] {
			total += e.Weight
		}
		outWeight[id] = total
	}

	rank := make(map[string]float64, n)
	for _, id := range ids {
		rank[id] = 1.0 / float64(n)
	}

	base := (1 - pageRankDamping) / float64(n)

	for iter := 0; iter < pageRankMaxIters; iter++ {
		next := make(map[string]float64, n)
		for _, id := range ids {
			next[id] = base
		}

		var danglingMass float64
		for _, from := range ids {
			row := g.edges[from]
			if len(row) == 0 {
				danglingMass += rank[from]
				continue
			}
			ow := outWeight[from]
			if ow <= 0 {
				danglingMass += rank[from]
				continue
			}
			for to, e := range row {
				next[to] += pageRankDamping * rank[from] * (e.Weight / ow)
			}
		}

		if danglingMass > 0 {
			share := pageRankDamping * danglingMass / float64(n)
			for _, id := range ids {
				next[id] += share
			}
		}

		var delta float64
		for _, id := range ids {
			d := next[id] - rank[id]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank = next
		if delta < pageRankTolerance {
			break
		}
	}

	return rank
}
