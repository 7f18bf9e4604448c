// Package codeindex implements the CodeChunkRepository persistence
// contract, with two pluggable backends: a dialect-aware SQL store
// (default, for durability and multi-process deployments) and an embedded
// chromem-go store (for zero-config local use).
package codeindex

import (
	"context"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// FindAllOptions bounds a full scan.
type FindAllOptions struct {
	Limit  int
	Offset int
}

// ChunkRepository is the persistent store keyed by chunk id.
type ChunkRepository interface {
	Insert(ctx context.Context, chunk model.CodeChunk) error
	InsertMany(ctx context.Context, chunks []model.CodeChunk) error
	Update(ctx context.Context, chunk model.CodeChunk) error
	Delete(ctx context.Context, id string) error
	DeleteByFile(ctx context.Context, file string) (int, error)
	DeleteByProject(ctx context.Context, projectID string) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)

	FindByID(ctx context.Context, id string) (*model.CodeChunk, error)
	FindByFile(ctx context.Context, file string) ([]model.CodeChunk, error)
	FindByProject(ctx context.Context, projectID string) ([]model.CodeChunk, error)
	FindByHash(ctx context.Context, hash string) ([]model.CodeChunk, error)
	FindBySymbol(ctx context.Context, symbol string, projectID string) ([]model.CodeChunk, error)
	FindAll(ctx context.Context, opts FindAllOptions) ([]model.CodeChunk, error)
	FindAllWithEmbeddings(ctx context.Context, projectID string) ([]model.CodeChunk, error)

	HasFile(ctx context.Context, file string) (bool, error)
	Count(ctx context.Context, projectID string) (int, error)
	GetFiles(ctx context.Context, projectID string) ([]string, error)
	GetFileHashes(ctx context.Context, file string) (map[string]string, error)

	Close() error
}

// InsertBatchSize is the maximum batch size for InsertMany.
const InsertBatchSize = 100
