package scorer

// TrainOnEpisodes runs epochs of gradient descent on binary cross-entropy
// over examples, updating head projection weights and the head-mix vector.
// Training reads the current snapshot, mutates a private clone across all
// epochs, and publishes the result atomically at the end so concurrent
// scoring never observes a partially-trained weight set.
func (s *Scorer) TrainOnEpisodes(examples []Episode, epochs int, learningRate float64) {
	if len(examples) == 0 || epochs <= 0 {
		return
	}

	w := s.w.Load().clone()

	for epoch := 0; epoch < epochs; epoch++ {
		for _, ex := range examples {
			if len(ex.CandidateVector) != len(ex.IntentEmbedding) {
				continue
			}
			neighborhood := s.neighborhoodSummary(ex.CandidateID, len(ex.IntentEmbedding))

			headScores := make([]float64, len(w.headProjections))
			for h, proj := range w.headProjections {
				headScores[h] = headScore(proj, ex.IntentEmbedding, ex.CandidateVector, neighborhood)
			}
			headWeights := softmax(w.headMix)

			var predicted float64
			for h, hs := range headScores {
				predicted += hs * headWeights[h]
			}
			if ex.IsCapability {
				predicted += ex.SuccessRate
			}
			predicted /= 2.0
			if predicted < 1e-9 {
				predicted = 1e-9
			}
			if predicted > 1-1e-9 {
				predicted = 1 - 1e-9
			}

			// dL/dpredicted for binary cross-entropy: predicted - outcome.
			gradOut := predicted - ex.Outcome

			for h := range w.headProjections {
				headGrad := gradOut * headWeights[h] * headScores[h] * (1 - headScores[h])
				proj := w.headProjections[h]
				dim := len(ex.IntentEmbedding)
				for i := 0; i < dim; i++ {
					if i < len(proj) {
						proj[i] -= learningRate * headGrad * float64(ex.IntentEmbedding[i])
					}
					if dim+i < len(proj) {
						proj[dim+i] -= learningRate * headGrad * float64(ex.CandidateVector[i])
					}
				}
				w.headMix[h] -= learningRate * gradOut * headScores[h] * headWeights[h] * (1 - headWeights[h])
			}
		}
	}

	s.w.Store(w)
}
