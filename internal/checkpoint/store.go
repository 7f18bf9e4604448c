// Package checkpoint implements snapshot/restore of coordinator progress
// and startup recovery.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// Store persists Checkpoint snapshots keyed by id, backed by a SQL table
// rather than in-memory session state, consistent with this kernel's
// database/sql-first persistence story.
type Store interface {
	Save(ctx context.Context, cp model.Checkpoint) error
	Load(ctx context.Context, id string) (*model.Checkpoint, error)
	Latest(ctx context.Context, projectID string) (*model.Checkpoint, error)
	ListPending(ctx context.Context, projectID string) ([]model.Checkpoint, error)
	Clear(ctx context.Context, id string) error
}

// SQLStore implements Store over database/sql with the same
// sqlite/postgres/mysql dialect support as the rest of the kernel.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    project_id VARCHAR(255) NOT NULL,
    wave_id INT NULL,
    completed_task_ids TEXT NOT NULL,
    pending_task_ids TEXT NOT NULL,
    coordinator_state VARCHAR(32) NOT NULL,
    git_commit VARCHAR(64) NOT NULL,
    created_at BIGINT NOT NULL
)`

const createCheckpointsProjectIndexSQL = `CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id)`

// NewSQLStore opens (and migrates) a checkpoint store over an existing
// *sql.DB, sharing the connection with other stores in the same process.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
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
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &SQLStore{db: db, dialect: normalized}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{createCheckpointsTableSQL, createCheckpointsProjectIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("checkpoint schema migration failed: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) bind(query string, n int) string {
	if s.dialect != "postgres" {
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

func upsertCheckpointClause(dialect string) string {
	switch dialect {
	case "postgres":
		return ` ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name, project_id = EXCLUDED.project_id, wave_id = EXCLUDED.wave_id,
    completed_task_ids = EXCLUDED.completed_task_ids, pending_task_ids = EXCLUDED.pending_task_ids,
    coordinator_state = EXCLUDED.coordinator_state, git_commit = EXCLUDED.git_commit, created_at = EXCLUDED.created_at`
	case "mysql":
		return ` ON DUPLICATE KEY UPDATE
    name = VALUES(name), project_id = VALUES(project_id), wave_id = VALUES(wave_id),
    completed_task_ids = VALUES(completed_task_ids), pending_task_ids = VALUES(pending_task_ids),
    coordinator_state = VALUES(coordinator_state), git_commit = VALUES(git_commit), created_at = VALUES(created_at)`
	default:
		return ` ON CONFLICT(id) DO UPDATE SET
    name = excluded.name, project_id = excluded.project_id, wave_id = excluded.wave_id,
    completed_task_ids = excluded.completed_task_ids, pending_task_ids = excluded.pending_task_ids,
    coordinator_state = excluded.coordinator_state, git_commit = excluded.git_commit, created_at = excluded.created_at`
	}
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, cp model.Checkpoint) error {
	completedJSON, err := json.Marshal(cp.CompletedTaskIDs)
	if err != nil {
		return err
	}
	pendingJSON, err := json.Marshal(cp.PendingTaskIDs)
	if err != nil {
		return err
	}

	waveID := sql.NullInt64{Int64: int64(cp.WaveID), Valid: true}

	query := `
INSERT INTO checkpoints (id, name, project_id, wave_id, completed_task_ids, pending_task_ids, coordinator_state, git_commit, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	query = s.bind(query+upsertCheckpointClause(s.dialect), 9)

	_, err = s.db.ExecContext(ctx, query, cp.ID, cp.Name, cp.ProjectID, waveID,
		string(completedJSON), string(pendingJSON), string(cp.CoordinatorState), cp.GitCommit, cp.Timestamp.UnixMilli())
	return err
}

const checkpointColumns = `id, name, project_id, wave_id, completed_task_ids, pending_task_ids, coordinator_state, git_commit, created_at`

func (s *SQLStore) scan(row interface{ Scan(...any) error }) (*model.Checkpoint, error) {
	var (
		cp               model.Checkpoint
		waveID           sql.NullInt64
		completedJSON    string
		pendingJSON      string
		coordinatorState string
		createdAtMS      int64
	)
	if err := row.Scan(&cp.ID, &cp.Name, &cp.ProjectID, &waveID, &completedJSON, &pendingJSON, &coordinatorState, &cp.GitCommit, &createdAtMS); err != nil {
		return nil, err
	}
	if waveID.Valid {
		cp.WaveID = int(waveID.Int64)
	}
	_ = json.Unmarshal([]byte(completedJSON), &cp.CompletedTaskIDs)
	_ = json.Unmarshal([]byte(pendingJSON), &cp.PendingTaskIDs)
	cp.CoordinatorState = model.CoordinatorState(coordinatorState)
	cp.Timestamp = time.UnixMilli(createdAtMS).UTC()
	return &cp, nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, 1), id)
	cp, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// Latest implements Store, returning the most recently created checkpoint
// for a project.
func (s *SQLStore) Latest(ctx context.Context, projectID string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, 1), projectID)
	cp, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// ListPending implements Store, returning checkpoints whose coordinator
// state is not "idle" (i.e. not yet fully drained), newest first.
func (s *SQLStore) ListPending(ctx context.Context, projectID string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? AND coordinator_state != ? ORDER BY created_at DESC`, 2), projectID, string(model.StateIdle))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM checkpoints WHERE id = ?`, 1), id)
	return err
}

var _ Store = (*SQLStore)(nil)
