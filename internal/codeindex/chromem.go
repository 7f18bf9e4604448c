package codeindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

const chromemCollectionName = "code_chunks"

// ChromemChunkIndex implements ChunkRepository on top of chromem-go, an
// embedded vector store well suited to zero-config deployments.
// chromem-go's collection API is built around
// similarity queries and equality-filtered deletes, not arbitrary scans, so
// this adapter keeps a small in-memory side index of full CodeChunk values
// alongside the chromem collection; chromem remains the source of truth for
// embeddings and similarity search, the side index answers metadata-only
// queries (FindByFile, GetFiles, Count, ...) without re-embedding anything.
type ChromemChunkIndex struct {
	db          *chromem.DB
	col         *chromem.Collection
	persistPath string
	compress    bool

	mu     sync.RWMutex
	chunks map[string]model.CodeChunk
}

// ChromemConfig configures the chromem-backed index.
type ChromemConfig struct {
	PersistPath string
	Compress    bool
}

// NewChromemChunkIndex opens (or creates) an embedded chromem-go database.
func NewChromemChunkIndex(cfg ChromemConfig) (*ChromemChunkIndex, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := cfg.PersistPath + "/chunks.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			loaded, loadErr := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if loadErr != nil {
				slog.Warn("failed to load existing chunk index, starting fresh", "path", dbPath, "error", loadErr)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding requested from identity function; chunk vectors must be precomputed")
	}
	col, err := db.GetOrCreateCollection(chromemCollectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open code_chunks collection: %w", err)
	}

	idx := &ChromemChunkIndex{
		db:          db,
		col:         col,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		chunks:      make(map[string]model.CodeChunk),
	}
	idx.rehydrateSideIndex()
	return idx, nil
}

// rehydrateSideIndex runs on startup but does not repopulate the in-memory
// side index from persisted chromem data: after a restart, answers served
// from the side index (FindByFile and GetFiles among them) cover only the
// chunks written through this index since it was opened.
func (idx *ChromemChunkIndex) rehydrateSideIndex() {
	if idx.col.Count() == 0 {
		return
	}
	// chromem-go does not expose a generic "list all documents" call, so
	// nothing is rebuilt here. The side index grows back only as chunks are
	// written again through Insert/InsertMany.
}

func encodeMetadata(c model.CodeChunk) map[string]string {
	symbolsJSON, _ := json.Marshal(c.Symbols)
	depsJSON, _ := json.Marshal(c.Metadata.Dependencies)
	exportsJSON, _ := json.Marshal(c.Metadata.Exports)

	meta := map[string]string{
		"project_id":    c.ProjectID,
		"file":          c.File,
		"start_line":    strconv.Itoa(c.StartLine),
		"end_line":      strconv.Itoa(c.EndLine),
		"chunk_type":    string(c.ChunkType),
		"language":      c.Metadata.Language,
		"hash":          c.Metadata.Hash,
		"symbols":       string(symbolsJSON),
		"dependencies":  string(depsJSON),
		"exports":       string(exportsJSON),
		"documentation": c.Metadata.Documentation,
		"indexed_at":    strconv.FormatInt(c.IndexedAt.UnixMilli(), 10),
	}
	if c.Metadata.Complexity != nil {
		meta["complexity"] = strconv.Itoa(*c.Metadata.Complexity)
	}
	return meta
}

func (idx *ChromemChunkIndex) upsertOne(ctx context.Context, c model.CodeChunk) error {
	doc := chromem.Document{
		ID:        c.ID,
		Content:   c.Content,
		Metadata:  encodeMetadata(c),
		Embedding: c.Embedding,
	}
	if err := idx.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("chromem upsert failed: %w", err)
	}

	idx.mu.Lock()
	idx.chunks[c.ID] = c
	idx.mu.Unlock()

	return idx.persist()
}

// Insert implements ChunkRepository.
func (idx *ChromemChunkIndex) Insert(ctx context.Context, chunk model.CodeChunk) error {
	return idx.upsertOne(ctx, chunk)
}

// InsertMany implements ChunkRepository, batching at InsertBatchSize.
func (idx *ChromemChunkIndex) InsertMany(ctx context.Context, chunks []model.CodeChunk) error {
	for start := 0; start < len(chunks); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		docs := make([]chromem.Document, 0, end-start)
		for _, c := range chunks[start:end] {
			docs = append(docs, chromem.Document{ID: c.ID, Content: c.Content, Metadata: encodeMetadata(c), Embedding: c.Embedding})
		}
		if err := idx.col.AddDocuments(ctx, docs, 4); err != nil {
			return fmt.Errorf("chromem batch upsert [%d:%d] failed: %w", start, end, err)
		}
		idx.mu.Lock()
		for _, c := range chunks[start:end] {
			idx.chunks[c.ID] = c
		}
		idx.mu.Unlock()
	}
	return idx.persist()
}

// Update implements ChunkRepository via the same upsert path as Insert.
func (idx *ChromemChunkIndex) Update(ctx context.Context, chunk model.CodeChunk) error {
	return idx.upsertOne(ctx, chunk)
}

// Delete implements ChunkRepository.
func (idx *ChromemChunkIndex) Delete(ctx context.Context, id string) error {
	if err := idx.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem delete failed: %w", err)
	}
	idx.mu.Lock()
	delete(idx.chunks, id)
	idx.mu.Unlock()
	return idx.persist()
}

// DeleteByFile implements ChunkRepository.
func (idx *ChromemChunkIndex) DeleteByFile(ctx context.Context, file string) (int, error) {
	ids := idx.idsWhere(func(c model.CodeChunk) bool { return c.File == file })
	return idx.deleteIDs(ctx, ids)
}

// DeleteByProject implements ChunkRepository.
func (idx *ChromemChunkIndex) DeleteByProject(ctx context.Context, projectID string) (int, error) {
	ids := idx.idsWhere(func(c model.CodeChunk) bool { return c.ProjectID == projectID })
	return idx.deleteIDs(ctx, ids)
}

// DeleteByIDs implements ChunkRepository.
func (idx *ChromemChunkIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	return idx.deleteIDs(ctx, ids)
}

func (idx *ChromemChunkIndex) deleteIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := idx.col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("chromem delete failed: %w", err)
	}
	idx.mu.Lock()
	for _, id := range ids {
		delete(idx.chunks, id)
	}
	idx.mu.Unlock()
	return len(ids), idx.persist()
}

func (idx *ChromemChunkIndex) idsWhere(pred func(model.CodeChunk) bool) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []string
	for id, c := range idx.chunks {
		if pred(c) {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindByID implements ChunkRepository.
func (idx *ChromemChunkIndex) FindByID(ctx context.Context, id string) (*model.CodeChunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if c, ok := idx.chunks[id]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

// FindByFile implements ChunkRepository, ordered by start line.
func (idx *ChromemChunkIndex) FindByFile(ctx context.Context, file string) ([]model.CodeChunk, error) {
	out := idx.filterByField(func(c model.CodeChunk) bool { return c.File == file }, byStartLine)
	return out, nil
}

// FindByProject implements ChunkRepository.
func (idx *ChromemChunkIndex) FindByProject(ctx context.Context, projectID string) ([]model.CodeChunk, error) {
	return idx.filterByField(func(c model.CodeChunk) bool { return c.ProjectID == projectID }, byIndexedAt), nil
}

// FindByHash implements ChunkRepository.
func (idx *ChromemChunkIndex) FindByHash(ctx context.Context, hash string) ([]model.CodeChunk, error) {
	return idx.filterByField(func(c model.CodeChunk) bool { return c.Metadata.Hash == hash }, byIndexedAt), nil
}

// FindBySymbol implements ChunkRepository.
func (idx *ChromemChunkIndex) FindBySymbol(ctx context.Context, symbol string, projectID string) ([]model.CodeChunk, error) {
	return idx.filterByField(func(c model.CodeChunk) bool {
		if projectID != "" && c.ProjectID != projectID {
			return false
		}
		for _, s := range c.Symbols {
			if s == symbol {
				return true
			}
		}
		return false
	}, byIndexedAt), nil
}

// FindAll implements ChunkRepository.
func (idx *ChromemChunkIndex) FindAll(ctx context.Context, opts FindAllOptions) ([]model.CodeChunk, error) {
	all := idx.filterByField(func(model.CodeChunk) bool { return true }, byIndexedAt)
	if opts.Limit <= 0 {
		return all, nil
	}
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// FindAllWithEmbeddings implements ChunkRepository. Results are ordered
// deterministically by indexed time so callers relying on stable tie-break
// (e.g. the search engine) see consistent ordering across calls.
func (idx *ChromemChunkIndex) FindAllWithEmbeddings(ctx context.Context, projectID string) ([]model.CodeChunk, error) {
	return idx.filterByField(func(c model.CodeChunk) bool {
		return c.ProjectID == projectID && len(c.Embedding) > 0
	}, byIndexedAt), nil
}

type sortKey int

const (
	byStartLine sortKey = iota
	byIndexedAt
)

func (idx *ChromemChunkIndex) filterByField(pred func(model.CodeChunk) bool, key sortKey) []model.CodeChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []model.CodeChunk
	for _, c := range idx.chunks {
		if pred(c) {
			out = append(out, c)
		}
	}
	less := func(a, b model.CodeChunk) bool {
		if key == byStartLine {
			return a.StartLine < b.StartLine
		}
		if a.IndexedAt.Equal(b.IndexedAt) {
			return a.ID < b.ID
		}
		return a.IndexedAt.Before(b.IndexedAt)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// HasFile implements ChunkRepository.
func (idx *ChromemChunkIndex) HasFile(ctx context.Context, file string) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, c := range idx.chunks {
		if c.File == file {
			return true, nil
		}
	}
	return false, nil
}

// Count implements ChunkRepository. An empty projectID counts all chunks.
func (idx *ChromemChunkIndex) Count(ctx context.Context, projectID string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if projectID == "" {
		return len(idx.chunks), nil
	}
	n := 0
	for _, c := range idx.chunks {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

// GetFiles implements ChunkRepository.
func (idx *ChromemChunkIndex) GetFiles(ctx context.Context, projectID string) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, c := range idx.chunks {
		if c.ProjectID == projectID && !seen[c.File] {
			seen[c.File] = true
			out = append(out, c.File)
		}
	}
	return out, nil
}

// GetFileHashes implements ChunkRepository.
func (idx *ChromemChunkIndex) GetFileHashes(ctx context.Context, file string) (map[string]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := map[string]string{}
	for id, c := range idx.chunks {
		if c.File == file {
			out[id] = c.Metadata.Hash
		}
	}
	return out, nil
}

// Query runs a similarity search directly against chromem, returning raw
// chromem results for the search package to post-process into cosine
// similarity mapped into [0,1]; chromem's Similarity is already raw
// cosine, so the mapping is a pure function of that single value.
func (idx *ChromemChunkIndex) Query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]chromem.Result, error) {
	return idx.col.QueryEmbedding(ctx, embedding, topK, where, nil)
}

// Close implements ChunkRepository.
func (idx *ChromemChunkIndex) Close() error {
	return idx.persist()
}

func (idx *ChromemChunkIndex) persist() error {
	if idx.persistPath == "" {
		return nil
	}
	dbPath := idx.persistPath + "/chunks.gob"
	if idx.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export's replacement requires restructuring the persisted layout
	if err := idx.db.Export(dbPath, idx.compress, ""); err != nil {
		return fmt.Errorf("failed to persist chunk index: %w", err)
	}
	return nil
}

var _ ChunkRepository = (*ChromemChunkIndex)(nil)
