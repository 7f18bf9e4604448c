package chunking

import (
	"time"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// SymbolSource optionally supplies a richer, per-language symbol list for a
// file (e.g. the Go AST source below). When absent, Chunk falls back to
// line-based chunking.
type SymbolSource interface {
	// Symbols returns the top-level and nested declarations in content, or
	// (nil, false) if this source cannot handle the file's language.
	Symbols(file, content string) ([]Symbol, bool)
}

// Chunker emits CodeChunks for a (file, content) pair, preferring
// symbol-driven chunking when a SymbolSource can supply symbols, else
// falling back to line-based chunking.
type Chunker struct {
	projectID string
	source    SymbolSource
	lineCfg   LineChunkConfig
	now       func() time.Time
}

// NewChunker creates a Chunker for a project. source may be nil, in which
// case every file is line-chunked.
func NewChunker(projectID string, source SymbolSource, lineCfg LineChunkConfig) *Chunker {
	return &Chunker{projectID: projectID, source: source, lineCfg: lineCfg, now: time.Now}
}

// Chunk splits a file's content into CodeChunks.
func (c *Chunker) Chunk(file, content string) []model.CodeChunk {
	at := c.now()
	if c.source != nil {
		if symbols, ok := c.source.Symbols(file, content); ok && len(symbols) > 0 {
			chunks := ChunkBySymbols(c.projectID, file, content, symbols, at)
			if len(chunks) > 0 {
				return chunks
			}
		}
	}
	return ChunkByLines(c.projectID, file, content, c.lineCfg, at)
}
