// Package scorer implements the SHGAT multi-head graph-attention scorer:
// ranking capabilities and tools against an intent embedding, with
// lock-free reads during background training.
package scorer

import "math/rand"

// Config mirrors the scorer's architecture parameters.
type Config struct {
	NumHeads     int
	HiddenDim    int
	EmbeddingDim int
}

// DefaultConfig returns num_heads=4, hidden_dim=64.
func DefaultConfig(embeddingDim int) Config {
	return Config{NumHeads: 4, HiddenDim: 64, EmbeddingDim: embeddingDim}
}

// weights is the full learned parameter set: one projection vector per head
// (applied to concat(intent, node, neighborhood)) and a head-mixing vector
// consumed via softmax. weights is immutable once published — training
// builds a new weights value and swaps the atomic pointer, so concurrent
// scoring never observes a partially-updated head.
type weights struct {
	headProjections [][]float64 // [head][3*embeddingDim]
	headMix         []float64   // [head]
}

func newRandomWeights(cfg Config, rng *rand.Rand) *weights {
	dim := 3 * cfg.EmbeddingDim
	w := &weights{
		headProjections: make([][]float64, cfg.NumHeads),
		headMix:         make([]float64, cfg.NumHeads),
	}
	for h := 0; h < cfg.NumHeads; h++ {
		proj := make([]float64, dim)
		for i := range proj {
			proj[i] = (rng.Float64() - 0.5) * 0.1
		}
		w.headProjections[h] = proj
		w.headMix[h] = (rng.Float64() - 0.5) * 0.1
	}
	return w
}

func (w *weights) clone() *weights {
	out := &weights{
		headProjections: make([][]float64, len(w.headProjections)),
		headMix:         append([]float64{}, w.headMix...),
	}
	for i, p := range w.headProjections {
		out.headProjections[i] = append([]float64{}, p...)
	}
	return out
}
