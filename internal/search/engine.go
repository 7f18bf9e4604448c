// Package search implements semantic code search over an indexed project:
// cosine similarity ranking, metadata filtering, and highlight extraction,
// specialized to a code-chunk contract rather than generic document
// ingestion.
package search

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/omarkhaled-auto/nexus/internal/codeindex"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

// DefaultBatchSize bounds how many chunks are scored per similarity pass.
const DefaultBatchSize = 100

// DefaultThreshold is the minimum normalized similarity score kept in
// results unless a request overrides it.
const DefaultThreshold = 0.7

// DefaultLimit is the default number of results returned.
const DefaultLimit = 10

// MaxHighlightLines bounds how much of a chunk's content is echoed back as
// a highlight snippet.
const MaxHighlightLines = 3

// Embedder produces an embedding vector for arbitrary text, used to embed
// the incoming query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Request describes a code search query.
type Request struct {
	ProjectID      string
	Query          string
	QueryEmbedding []float32 // precomputed; if set, Query is not re-embedded
	Limit          int
	Threshold      float32
	Language       string
	ChunkTypes     []model.ChunkType
	FilePattern    string
	IncludeContext bool
}

// Result is a single scored match.
type Result struct {
	Chunk     model.CodeChunk
	Score     float32
	Highlight string
}

// Engine runs semantic search over a project's indexed chunks.
type Engine struct {
	repo     codeindex.ChunkRepository
	embedder Embedder
	cache    *embeddingCache
	batch    int
}

// NewEngine creates a search Engine. An embedding cache sized at
// DefaultMaxCacheSize is always attached, keyed by text length + prefix,
// not an opt-in feature.
func NewEngine(repo codeindex.ChunkRepository, embedder Embedder) *Engine {
	return &Engine{
		repo:     repo,
		embedder: embedder,
		cache:    newEmbeddingCache(DefaultMaxCacheSize),
		batch:    DefaultBatchSize,
	}
}

// Search executes a Request and returns results sorted by descending score.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	queryVec := req.QueryEmbedding
	if len(queryVec) == 0 {
		if strings.TrimSpace(req.Query) == "" {
			return nil, fmt.Errorf("query or query embedding is required")
		}
		var err error
		queryVec, err = e.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
	}

	chunks, err := e.repo.FindAllWithEmbeddings(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexed chunks: %w", err)
	}

	var results []Result
	for start := 0; start < len(chunks); start += e.batch {
		end := start + e.batch
		if end > len(chunks) {
			end = len(chunks)
		}
		results = append(results, e.scoreBatch(chunks[start:end], queryVec, req, threshold)...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) > limit {
		results = results[:limit]
	}

	if req.IncludeContext {
		for i := range results {
			results[i].Highlight = highlight(results[i].Chunk.Content, req.Query)
		}
	}

	return results, nil
}

func (e *Engine) scoreBatch(chunks []model.CodeChunk, queryVec []float32, req Request, threshold float32) []Result {
	var out []Result
	for _, c := range chunks {
		if !matchesFilter(c, req) {
			continue
		}
		score := NormalizedCosineSimilarity(queryVec, c.Embedding)
		if score < threshold {
			continue
		}
		out = append(out, Result{Chunk: c, Score: score})
	}
	return out
}

func matchesFilter(c model.CodeChunk, req Request) bool {
	if req.Language != "" && c.Metadata.Language != req.Language {
		return false
	}
	if len(req.ChunkTypes) > 0 {
		matched := false
		for _, t := range req.ChunkTypes {
			if c.ChunkType == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if req.FilePattern != "" {
		matched, err := regexp.MatchString(req.FilePattern, c.File)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.get(text); ok {
		return v, nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.put(text, v)
	return v, nil
}

// CosineSimilarity returns the raw cosine similarity in [-1, 1]. Vectors of
// mismatched or zero length/magnitude score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// NormalizedCosineSimilarity maps raw cosine similarity into [0, 1] via
// (clamp(raw, -1, 1) + 1) / 2, so scores compose uniformly with thresholds
// regardless of embedding model sign conventions.
func NormalizedCosineSimilarity(a, b []float32) float32 {
	raw := CosineSimilarity(a, b)
	if raw < -1 {
		raw = -1
	}
	if raw > 1 {
		raw = 1
	}
	return (raw + 1) / 2
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// highlight extracts up to MaxHighlightLines lines from content that
// contain a query term longer than two characters, falling back to the
// first lines of content when no term matches.
func highlight(content, query string) string {
	terms := map[string]bool{}
	for _, t := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len(t) > 2 {
			terms[t] = true
		}
	}

	lines := strings.Split(content, "\n")
	var picked []string
	if len(terms) > 0 {
		for _, line := range lines {
			lower := strings.ToLower(line)
			for t := range terms {
				if strings.Contains(lower, t) {
					picked = append(picked, line)
					break
				}
			}
			if len(picked) >= MaxHighlightLines {
				break
			}
		}
	}
	if len(picked) == 0 {
		end := MaxHighlightLines
		if end > len(lines) {
			end = len(lines)
		}
		picked = lines[:end]
	}
	return strings.Join(picked, "\n")
}
