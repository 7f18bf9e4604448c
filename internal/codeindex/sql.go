package codeindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// SQLChunkRepository implements ChunkRepository over database/sql, with
// postgres/mysql/sqlite dialect support: a three-driver import set, a
// per-dialect UPSERT, and schema initialization on construction.
type SQLChunkRepository struct {
	db      *sql.DB
	dialect string
}

const createChunksTableSQL = `
CREATE TABLE IF NOT EXISTS code_chunks (
    id VARCHAR(64) PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    file TEXT NOT NULL,
    start_line INT NOT NULL,
    end_line INT NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB NULL,
    symbols TEXT NOT NULL,
    chunk_type VARCHAR(32) NOT NULL,
    language VARCHAR(32) NOT NULL,
    complexity INT NULL,
    dependencies TEXT NOT NULL,
    exports TEXT NOT NULL,
    documentation TEXT NOT NULL,
    hash VARCHAR(64) NOT NULL,
    indexed_at BIGINT NOT NULL
)`

const createChunksFileIndexSQL = `CREATE INDEX IF NOT EXISTS idx_code_chunks_file ON code_chunks(file)`
const createChunksProjectIndexSQL = `CREATE INDEX IF NOT EXISTS idx_code_chunks_project ON code_chunks(project_id)`
const createChunksHashIndexSQL = `CREATE INDEX IF NOT EXISTS idx_code_chunks_hash ON code_chunks(hash)`

// NewSQLChunkRepository opens (and migrates) a chunk repository over an
// existing *sql.DB. The dialect must be one of "postgres", "mysql",
// "sqlite". Sharing the db connection with other stores in the same
// process avoids SQLite "database is locked" errors.
func NewSQLChunkRepository(db *sql.DB, dialect string) (*SQLChunkRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	r := &SQLChunkRepository{db: db, dialect: normalized}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *SQLChunkRepository) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createChunksTableSQL, createChunksFileIndexSQL, createChunksProjectIndexSQL, createChunksHashIndexSQL} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

func (r *SQLChunkRepository) bind(query string, n int) string {
	if r.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	arg := 0
	for _, c := range query {
		if c == '?' {
			arg++
			fmt.Fprintf(&b, "$%d", arg)
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// packEmbedding serializes a float32 vector as a little-endian blob. A nil
// or empty vector serializes to nil (SQL NULL); unpackEmbedding reads NULL
// and empty blobs back as an empty vector.
func packEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return []float32{}
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func (r *SQLChunkRepository) insertOne(ctx context.Context, tx *sql.Tx, c model.CodeChunk) error {
	symbolsJSON, err := json.Marshal(c.Symbols)
	if err != nil {
		return err
	}
	depsJSON, err := json.Marshal(c.Metadata.Dependencies)
	if err != nil {
		return err
	}
	exportsJSON, err := json.Marshal(c.Metadata.Exports)
	if err != nil {
		return err
	}

	var complexity sql.NullInt64
	if c.Metadata.Complexity != nil {
		complexity = sql.NullInt64{Int64: int64(*c.Metadata.Complexity), Valid: true}
	}

	query := `
INSERT INTO code_chunks (id, project_id, file, start_line, end_line, content, embedding, symbols, chunk_type, language, complexity, dependencies, exports, documentation, hash, indexed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	upsertTail := upsertClause(r.dialect)
	query = r.bind(query+upsertTail, 16)

	args := []interface{}{
		c.ID, c.ProjectID, c.File, c.StartLine, c.EndLine, c.Content,
		packEmbedding(c.Embedding), string(symbolsJSON), string(c.ChunkType),
		c.Metadata.Language, complexity, string(depsJSON), string(exportsJSON),
		c.Metadata.Documentation, c.Metadata.Hash, c.IndexedAt.UnixMilli(),
	}

	var execErr error
	if tx != nil {
		_, execErr = tx.ExecContext(ctx, query, args...)
	} else {
		_, execErr = r.db.ExecContext(ctx, query, args...)
	}
	return execErr
}

func upsertClause(dialect string) string {
	switch dialect {
	case "postgres":
		return ` ON CONFLICT (id) DO UPDATE SET
    project_id = EXCLUDED.project_id, file = EXCLUDED.file, start_line = EXCLUDED.start_line,
    end_line = EXCLUDED.end_line, content = EXCLUDED.content, embedding = EXCLUDED.embedding,
    symbols = EXCLUDED.symbols, chunk_type = EXCLUDED.chunk_type, language = EXCLUDED.language,
    complexity = EXCLUDED.complexity, dependencies = EXCLUDED.dependencies, exports = EXCLUDED.exports,
    documentation = EXCLUDED.documentation, hash = EXCLUDED.hash, indexed_at = EXCLUDED.indexed_at`
	case "mysql":
		return ` ON DUPLICATE KEY UPDATE
    project_id = VALUES(project_id), file = VALUES(file), start_line = VALUES(start_line),
    end_line = VALUES(end_line), content = VALUES(content), embedding = VALUES(embedding),
    symbols = VALUES(symbols), chunk_type = VALUES(chunk_type), language = VALUES(language),
    complexity = VALUES(complexity), dependencies = VALUES(dependencies), exports = VALUES(exports),
    documentation = VALUES(documentation), hash = VALUES(hash), indexed_at = VALUES(indexed_at)`
	default: // sqlite
		return ` ON CONFLICT(id) DO UPDATE SET
    project_id = excluded.project_id, file = excluded.file, start_line = excluded.start_line,
    end_line = excluded.end_line, content = excluded.content, embedding = excluded.embedding,
    symbols = excluded.symbols, chunk_type = excluded.chunk_type, language = excluded.language,
    complexity = excluded.complexity, dependencies = excluded.dependencies, exports = excluded.exports,
    documentation = excluded.documentation, hash = excluded.hash, indexed_at = excluded.indexed_at`
	}
}

// Insert implements ChunkRepository.
func (r *SQLChunkRepository) Insert(ctx context.Context, chunk model.CodeChunk) error {
	return r.insertOne(ctx, nil, chunk)
}

// InsertMany batches inserts at InsertBatchSize, each batch
// atomic: batched inserts commit or fail as one unit.
func (r *SQLChunkRepository) InsertMany(ctx context.Context, chunks []model.CodeChunk) error {
	for start := 0; start < len(chunks); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := r.insertBatch(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("batch [%d:%d] failed: %w", start, end, err)
		}
	}
	return nil
}

func (r *SQLChunkRepository) insertBatch(ctx context.Context, batch []model.CodeChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, c := range batch {
		if err := r.insertOne(ctx, tx, c); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Update implements ChunkRepository via the same UPSERT path as Insert.
func (r *SQLChunkRepository) Update(ctx context.Context, chunk model.CodeChunk) error {
	return r.Insert(ctx, chunk)
}

// Delete implements ChunkRepository.
func (r *SQLChunkRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.bind(`DELETE FROM code_chunks WHERE id = ?`, 1), id)
	return err
}

// DeleteByFile implements ChunkRepository.
func (r *SQLChunkRepository) DeleteByFile(ctx context.Context, file string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.bind(`DELETE FROM code_chunks WHERE file = ?`, 1), file)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByProject implements ChunkRepository.
func (r *SQLChunkRepository) DeleteByProject(ctx context.Context, projectID string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.bind(`DELETE FROM code_chunks WHERE project_id = ?`, 1), projectID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByIDs implements ChunkRepository.
func (r *SQLChunkRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM code_chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))
	res, err := r.db.ExecContext(ctx, r.bind(query, len(ids)), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const selectColumns = `id, project_id, file, start_line, end_line, content, embedding, symbols, chunk_type, language, complexity, dependencies, exports, documentation, hash, indexed_at`

func (r *SQLChunkRepository) scanRow(row *sql.Row) (*model.CodeChunk, error) {
	var (
		c             model.CodeChunk
		chunkType     string
		symbolsJSON   string
		depsJSON      string
		exportsJSON   string
		embedding     []byte
		complexity    sql.NullInt64
		indexedAtMS   int64
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.File, &c.StartLine, &c.EndLine, &c.Content,
		&embedding, &symbolsJSON, &chunkType, &c.Metadata.Language, &complexity,
		&depsJSON, &exportsJSON, &c.Metadata.Documentation, &c.Metadata.Hash, &indexedAtMS); err != nil {
		return nil, err
	}
	return r.hydrate(c, chunkType, symbolsJSON, depsJSON, exportsJSON, embedding, complexity, indexedAtMS), nil
}

func (r *SQLChunkRepository) scanRows(rows *sql.Rows) ([]model.CodeChunk, error) {
	var out []model.CodeChunk
	for rows.Next() {
		var (
			c           model.CodeChunk
			chunkType   string
			symbolsJSON string
			depsJSON    string
			exportsJSON string
			embedding   []byte
			complexity  sql.NullInt64
			indexedAtMS int64
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.File, &c.StartLine, &c.EndLine, &c.Content,
			&embedding, &symbolsJSON, &chunkType, &c.Metadata.Language, &complexity,
			&depsJSON, &exportsJSON, &c.Metadata.Documentation, &c.Metadata.Hash, &indexedAtMS); err != nil {
			return nil, err
		}
		out = append(out, *r.hydrate(c, chunkType, symbolsJSON, depsJSON, exportsJSON, embedding, complexity, indexedAtMS))
	}
	return out, rows.Err()
}

func (r *SQLChunkRepository) hydrate(c model.CodeChunk, chunkType, symbolsJSON, depsJSON, exportsJSON string, embedding []byte, complexity sql.NullInt64, indexedAtMS int64) *model.CodeChunk {
	c.ChunkType = model.ChunkType(chunkType)
	_ = json.Unmarshal([]byte(symbolsJSON), &c.Symbols)
	_ = json.Unmarshal([]byte(depsJSON), &c.Metadata.Dependencies)
	_ = json.Unmarshal([]byte(exportsJSON), &c.Metadata.Exports)
	c.Embedding = unpackEmbedding(embedding)
	if complexity.Valid {
		v := int(complexity.Int64)
		c.Metadata.Complexity = &v
	}
	c.IndexedAt = time.UnixMilli(indexedAtMS).UTC()
	return &c
}

// FindByID implements ChunkRepository.
func (r *SQLChunkRepository) FindByID(ctx context.Context, id string) (*model.CodeChunk, error) {
	row := r.db.QueryRowContext(ctx, r.bind(`SELECT `+selectColumns+` FROM code_chunks WHERE id = ?`, 1), id)
	c, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindByFile implements ChunkRepository, ordered by start_line asc.
func (r *SQLChunkRepository) FindByFile(ctx context.Context, file string) ([]model.CodeChunk, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`SELECT `+selectColumns+` FROM code_chunks WHERE file = ? ORDER BY start_line ASC`, 1), file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// FindByProject implements ChunkRepository.
func (r *SQLChunkRepository) FindByProject(ctx context.Context, projectID string) ([]model.CodeChunk, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`SELECT `+selectColumns+` FROM code_chunks WHERE project_id = ?`, 1), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// FindByHash implements ChunkRepository.
func (r *SQLChunkRepository) FindByHash(ctx context.Context, hash string) ([]model.CodeChunk, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`SELECT `+selectColumns+` FROM code_chunks WHERE hash = ?`, 1), hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// FindBySymbol implements ChunkRepository with a LIKE scan over the JSON
// symbols column (adequate at kernel scale; a symbol index table is a
// reasonable future optimization, not required by the spec).
func (r *SQLChunkRepository) FindBySymbol(ctx context.Context, symbol string, projectID string) ([]model.CodeChunk, error) {
	query := `SELECT ` + selectColumns + ` FROM code_chunks WHERE symbols LIKE ?`
	args := []interface{}{"%\"" + symbol + "\"%"}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	rows, err := r.db.QueryContext(ctx, r.bind(query, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// FindAll implements ChunkRepository.
func (r *SQLChunkRepository) FindAll(ctx context.Context, opts FindAllOptions) ([]model.CodeChunk, error) {
	query := `SELECT ` + selectColumns + ` FROM code_chunks ORDER BY id`
	args := []interface{}{}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}
	rows, err := r.db.QueryContext(ctx, r.bind(query, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// FindAllWithEmbeddings implements ChunkRepository.
func (r *SQLChunkRepository) FindAllWithEmbeddings(ctx context.Context, projectID string) ([]model.CodeChunk, error) {
	query := `SELECT ` + selectColumns + ` FROM code_chunks WHERE project_id = ? AND embedding IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, r.bind(query, 1), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// HasFile implements ChunkRepository.
func (r *SQLChunkRepository) HasFile(ctx context.Context, file string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.bind(`SELECT COUNT(*) FROM code_chunks WHERE file = ?`, 1), file).Scan(&n)
	return n > 0, err
}

// Count implements ChunkRepository. An empty projectID counts all chunks.
func (r *SQLChunkRepository) Count(ctx context.Context, projectID string) (int, error) {
	var n int
	var err error
	if projectID == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_chunks`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, r.bind(`SELECT COUNT(*) FROM code_chunks WHERE project_id = ?`, 1), projectID).Scan(&n)
	}
	return n, err
}

// GetFiles implements ChunkRepository, returning distinct files.
func (r *SQLChunkRepository) GetFiles(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`SELECT DISTINCT file FROM code_chunks WHERE project_id = ?`, 1), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFileHashes implements ChunkRepository.
func (r *SQLChunkRepository) GetFileHashes(ctx context.Context, file string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`SELECT id, hash FROM code_chunks WHERE file = ?`, 1), file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// Close implements ChunkRepository.
func (r *SQLChunkRepository) Close() error {
	return r.db.Close()
}

var _ ChunkRepository = (*SQLChunkRepository)(nil)
