// Package embedding wraps an external text encoder with request coalescing
// so concurrent callers asking for the same text share a single upstream
// call and downstream consumers all receive L2-normalized vectors.
package embedding

import (
	"context"
	"sync"

	"github.com/pml-run/pml/core"
)

// Encoder is the external black-box encoder: text in, fixed-dimension
// vector out.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// EncoderFunc adapts a plain function to an Encoder.
type EncoderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EncoderFunc) Encode(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

type inflightCall struct {
	wg     sync.WaitGroup
	vector []float32
	err    error
}

// Facade deduplicates concurrent Encode calls for identical text: the first
// caller performs the upstream call, later callers for the same text block
// on its result instead of issuing their own. Failures are never retried or
// cached — each new Encode call for a previously-failed text tries again.
type Facade struct {
	encoder Encoder
	logger  core.Logger
	tel     core.Telemetry

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// Option configures a Facade.
type Option func(*Facade)

func WithLogger(l core.Logger) Option       { return func(f *Facade) { f.logger = l } }
func WithTelemetry(t core.Telemetry) Option { return func(f *Facade) { f.tel = t } }

// NewFacade wraps encoder with request coalescing.
func NewFacade(encoder Encoder, opts ...Option) *Facade {
	f := &Facade{
		encoder:  encoder,
		logger:   core.NoOpLogger{},
		tel:      core.NoOpTelemetry{},
		inflight: make(map[string]*inflightCall),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Encode returns an L2-normalized embedding for text. Concurrent calls for
// the same text share one upstream Encode invocation; each caller receives
// an independent copy of the resulting vector.
func (f *Facade) Encode(ctx context.Context, text string) ([]float32, error) {
	ctx, span := f.tel.StartSpan(ctx, "embedding.encode")
	defer span.End()

	f.mu.Lock()
	if call, ok := f.inflight[text]; ok {
		f.mu.Unlock()
		call.wg.Wait()
		if call.err != nil {
			return nil, call.err
		}
		return cloneVector(call.vector), nil
	}

	call := &inflightCall{}
	call.wg.Add(1)
	f.inflight[text] = call
	f.mu.Unlock()

	vector, err := f.encoder.Encode(ctx, text)
	if err == nil {
		vector = core.L2Normalize(vector)
	} else {
		span.RecordError(err)
		f.logger.WarnWithContext(ctx, "embedding encode failed", map[string]interface{}{"error": err.Error()})
	}

	call.vector = vector
	call.err = err

	f.mu.Lock()
	delete(f.inflight, text)
	f.mu.Unlock()

	call.wg.Done()

	if err != nil {
		return nil, err
	}
	return cloneVector(vector), nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
