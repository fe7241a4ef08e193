package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
)

// hashEncode derives a deterministic, L2-normalized pseudo-embedding from
// text using a rolling FNV hash per dimension. It carries no semantic
// meaning beyond exact/near-exact text matches; it exists so the gateway is
// runnable with zero external dependencies, not as a production ranking
// signal.
func hashEncode(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		vec[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// httpEncode calls an OpenAI-compatible /v1/embeddings endpoint.
func httpEncode(ctx context.Context, client *http.Client, endpoint, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out embeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pmlgatewayd: malformed embedding response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("pmlgatewayd: embedding response had no data")
	}
	return out.Data[0].Embedding, nil
}
