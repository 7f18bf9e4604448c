package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/errs"
)

type flakyProvider struct {
	failures int
	calls    int
	dim      int
}

func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &errs.EmbeddingAPIError{Retryable: true, Err: assertErr}
	}
	return []float32{1, 2, 3}, nil
}

func (f *flakyProvider) Dimension() int { return f.dim }

var assertErr = context.DeadlineExceeded

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMockProvider(16)
	v1, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, _ := p.Embed(context.Background(), "something else")
	assert.NotEqual(t, v1, v3)
}

func TestServiceCachesByContentHash(t *testing.T) {
	p := &flakyProvider{dim: 3}
	svc := NewService(p)

	v1, err := svc.Embed(context.Background(), "text")
	require.NoError(t, err)
	v2, err := svc.Embed(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, p.calls, "second call should be served from cache")
}

func TestServiceRetriesRetryableErrors(t *testing.T) {
	p := &flakyProvider{dim: 3, failures: 2}
	svc := &Service{provider: p, maxRetries: 3, cache: make(map[string][]float32), max: DefaultMaxCacheSize}

	v, err := svc.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
	assert.Equal(t, 3, p.calls)
}

func TestServiceGivesUpAfterMaxRetries(t *testing.T) {
	p := &flakyProvider{dim: 3, failures: 10}
	svc := &Service{provider: p, maxRetries: 2, cache: make(map[string][]float32), max: DefaultMaxCacheSize}

	_, err := svc.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 2, p.calls)
}
