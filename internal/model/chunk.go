package model

import "time"

// ChunkType classifies what a CodeChunk covers.
type ChunkType string

const (
	ChunkFunction  ChunkType = "function"
	ChunkClass     ChunkType = "class"
	ChunkInterface ChunkType = "interface"
	ChunkTypeDecl  ChunkType = "type"
	ChunkModule    ChunkType = "module"
	ChunkBlock     ChunkType = "block"
)

// ChunkMetadata is the regex/AST-derived metadata attached to a chunk.
type ChunkMetadata struct {
	Language      string
	Hash          string
	Complexity    *int
	Dependencies  []string
	Exports       []string
	Documentation string
}

// CodeChunk is a contiguous, content-addressed slice of a source file.
//
// Invariant: (ProjectID, File, StartLine, EndLine) uniquely identifies a
// chunk location; Hash uniquely identifies its content within that location.
type CodeChunk struct {
	ID         string
	ProjectID  string
	File       string
	StartLine  int
	EndLine    int
	Content    string
	Embedding  []float32
	Symbols    []string
	ChunkType  ChunkType
	Metadata   ChunkMetadata
	IndexedAt  time.Time
}
