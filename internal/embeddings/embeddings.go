// Package embeddings adapts external embedding providers to the code index
// and search engine, adding content-hash caching and retry-with-backoff: a
// transport-agnostic Provider interface, a bounded retry loop sleeping
// 2^attempt seconds between attempts, and structured slog logging of retries.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/errs"
)

// DefaultMaxRetries is the total number of provider attempts Embed makes,
// the first one included, before giving up.
const DefaultMaxRetries = 3

// DefaultMaxCacheSize bounds the content-hash cache.
const DefaultMaxCacheSize = 1000

// Provider is the raw transport to an embedding model.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Service wraps a Provider with a content-hash cache and retry/backoff,
// the unit the codeindex and search packages depend on.
type Service struct {
	provider   Provider
	maxRetries int

	mu    sync.RWMutex
	cache map[string][]float32
	order []string
	max   int
}

// NewService wraps provider with the default cache size and retry budget.
func NewService(provider Provider) *Service {
	return &Service{
		provider:   provider,
		maxRetries: DefaultMaxRetries,
		cache:      make(map[string][]float32),
		max:        DefaultMaxCacheSize,
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns text's embedding, serving from the content-hash cache when
// available and retrying the provider with exponential backoff otherwise
// (sleep 2^attempt seconds, capped at DefaultMaxRetries attempts).
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)

	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		v, err := s.provider.Embed(ctx, text)
		if err == nil {
			s.put(key, v)
			return v, nil
		}
		lastErr = err

		retryable := true
		if apiErr, ok := err.(*errs.EmbeddingAPIError); ok {
			retryable = apiErr.Retryable
		}
		if !retryable || attempt == s.maxRetries-1 {
			break
		}

		slog.Warn("embedding call failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	return nil, &errs.EmbeddingAPIError{Retryable: false, Err: fmt.Errorf("embedding failed after %d attempts: %w", s.maxRetries, lastErr)}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func (s *Service) put(key string, v []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[key]; !exists {
		s.order = append(s.order, key)
	}
	s.cache[key] = v

	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
}

// EmbedBatch embeds each text in turn, short-circuiting on the first
// non-retryable failure.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("batch embed failed at index %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimension passes through to the underlying provider.
func (s *Service) Dimension() int {
	return s.provider.Dimension()
}
