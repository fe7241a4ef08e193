package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeEncodeNormalizesOutput(t *testing.T) {
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{3, 4}, nil
	})
	f := NewFacade(enc)

	v, err := f.Encode(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]), 1e-6)
}

func TestFacadeEncodePropagatesError(t *testing.T) {
	wantErr := errors.New("upstream down")
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, wantErr
	})
	f := NewFacade(enc)

	_, err := f.Encode(context.Background(), "hello")
	require.ErrorIs(t, err, wantErr)
}

func TestFacadeEncodeRetriesAfterPriorFailure(t *testing.T) {
	var calls int32
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("transient")
		}
		return []float32{1, 0}, nil
	})
	f := NewFacade(enc)

	_, err := f.Encode(context.Background(), "x")
	require.Error(t, err)

	v, err := f.Encode(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v[0])
}

func TestFacadeCoalescesConcurrentCallsForSameText(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []float32{1, 0}, nil
	})
	f := NewFacade(enc)

	const n = 10
	var wg sync.WaitGroup
	results := make([][]float32, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := f.Encode(context.Background(), "shared-text")
			results[idx] = v
			errs[idx] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
	}
}

func TestFacadeDoesNotCoalesceDistinctText(t *testing.T) {
	var calls int32
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{1, 0}, nil
	})
	f := NewFacade(enc)

	_, err := f.Encode(context.Background(), "a")
	require.NoError(t, err)
	_, err = f.Encode(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFacadeCallersGetIndependentVectorCopies(t *testing.T) {
	enc := EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	f := NewFacade(enc)

	v1, err := f.Encode(context.Background(), "x")
	require.NoError(t, err)
	v2, err := f.Encode(context.Background(), "x")
	require.NoError(t, err)

	v1[0] = 99
	assert.NotEqual(t, v1[0], v2[0])
}
