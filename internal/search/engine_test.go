package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/codeindex"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func newTestRepo(t *testing.T) codeindex.ChunkRepository {
	t.Helper()
	idx, err := codeindex.NewChromemChunkIndex(codeindex.ChromemConfig{})
	require.NoError(t, err)
	return idx
}

func chunk(id, projectID string, embedding []float32, lang string, ct model.ChunkType, content string) model.CodeChunk {
	return model.CodeChunk{
		ID:        id,
		ProjectID: projectID,
		File:      "a.go",
		StartLine: 1,
		EndLine:   5,
		Content:   content,
		Embedding: embedding,
		ChunkType: ct,
		Metadata:  model.ChunkMetadata{Language: lang, Hash: id},
		IndexedAt: time.Now(),
	}
}

func TestNormalizedCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, NormalizedCosineSimilarity(v, v), 0.0001)
}

func TestNormalizedCosineSimilarityOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.5, NormalizedCosineSimilarity(a, b), 0.0001)
}

func TestNormalizedCosineSimilarityOppositeVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, 0.0, NormalizedCosineSimilarity(a, b), 0.0001)
}

func TestSearchFiltersByLanguageAndThreshold(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertMany(ctx, []model.CodeChunk{
		chunk("c1", "proj", []float32{1, 0}, "go", model.ChunkType("function"), "func Hello() {}"),
		chunk("c2", "proj", []float32{0, 1}, "python", model.ChunkType("function"), "def hello(): pass"),
	}))

	engine := NewEngine(repo, &fakeEmbedder{vec: []float32{1, 0}})
	results, err := engine.Search(ctx, Request{ProjectID: "proj", Query: "hello", Language: "go", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestSearchHighlightExtractsMatchingLines(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	content := "line one\nfunc Target() {}\nline three"
	require.NoError(t, repo.Insert(ctx, chunk("c1", "proj", []float32{1, 0}, "go", model.ChunkType("function"), content)))

	engine := NewEngine(repo, &fakeEmbedder{vec: []float32{1, 0}})
	results, err := engine.Search(ctx, Request{ProjectID: "proj", Query: "Target", IncludeContext: true, Threshold: 0.1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Highlight, "Target")
}

func TestEmbeddingCacheEvictsOldest(t *testing.T) {
	c := newEmbeddingCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.put("c", []float32{3})

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
