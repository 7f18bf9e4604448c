package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// ResumeCallback resumes coordinator execution from a restored checkpoint.
type ResumeCallback func(ctx context.Context, cp model.Checkpoint) error

// RecoveryConfig controls startup recovery behavior: AutoResume,
// AutoResumeHITL, and RecoveryTimeout knobs.
type RecoveryConfig struct {
	// AutoResume enables scanning and resuming checkpoints on startup.
	AutoResume bool
	// AutoResumeHITL resumes even checkpoints left in a paused
	// (human-in-the-loop) state; false leaves them for an explicit
	// ResumeCheckpoint call.
	AutoResumeHITL bool
	// RecoveryTimeout is how old a pending checkpoint may be before it is
	// considered stale and cleared rather than resumed.
	RecoveryTimeout time.Duration
}

// DefaultRecoveryConfig is conservative by default: resume automatically,
// but never resume HITL-paused work without a human, and give a generous
// 24h window before giving up on a checkpoint.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{AutoResume: true, AutoResumeHITL: false, RecoveryTimeout: 24 * time.Hour}
}

// RecoveryManager scans persisted checkpoints on startup and resumes them
// via a recoverable/expired/needs-input decision tree.
type RecoveryManager struct {
	cfg   RecoveryConfig
	store Store

	mu       sync.RWMutex
	onResume ResumeCallback
}

// NewRecoveryManager creates a RecoveryManager over store.
func NewRecoveryManager(cfg RecoveryConfig, store Store) *RecoveryManager {
	return &RecoveryManager{cfg: cfg, store: store}
}

// SetResumeCallback registers the function invoked to resume a recovered
// checkpoint.
func (m *RecoveryManager) SetResumeCallback(cb ResumeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResume = cb
}

// RecoverPending scans pending checkpoints for projectID and resumes the
// ones eligible for automatic recovery. Called during process startup.
func (m *RecoveryManager) RecoverPending(ctx context.Context, projectID string) error {
	if !m.cfg.AutoResume {
		slog.Debug("checkpoint auto-resume disabled", "project_id", projectID)
		return nil
	}

	pending, err := m.store.ListPending(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to list pending checkpoints: %w", err)
	}
	if len(pending) == 0 {
		slog.Debug("no pending checkpoints to recover", "project_id", projectID)
		return nil
	}

	slog.Info("recovering pending checkpoints", "project_id", projectID, "count", len(pending))

	recovered, failed := 0, 0
	for _, cp := range pending {
		if err := m.recoverOne(ctx, cp); err != nil {
			slog.Error("checkpoint recovery failed", "checkpoint_id", cp.ID, "error", err)
			failed++
			continue
		}
		recovered++
	}

	slog.Info("checkpoint recovery completed", "project_id", projectID, "recovered", recovered, "failed", failed)
	return nil
}

func (m *RecoveryManager) recoverOne(ctx context.Context, cp model.Checkpoint) error {
	if isExpired(cp, m.cfg.RecoveryTimeout) {
		slog.Warn("checkpoint expired, clearing", "checkpoint_id", cp.ID, "age", time.Since(cp.Timestamp))
		if err := m.store.Clear(ctx, cp.ID); err != nil {
			slog.Warn("failed to clear expired checkpoint", "checkpoint_id", cp.ID, "error", err)
		}
		return fmt.Errorf("checkpoint expired")
	}

	if cp.CoordinatorState == model.StatePaused && !m.cfg.AutoResumeHITL {
		slog.Info("checkpoint awaiting human action, not auto-resuming", "checkpoint_id", cp.ID)
		return nil
	}

	m.mu.RLock()
	cb := m.onResume
	m.mu.RUnlock()
	if cb == nil {
		slog.Warn("no resume callback configured, checkpoint left pending", "checkpoint_id", cp.ID)
		return nil
	}

	slog.Info("resuming from checkpoint", "checkpoint_id", cp.ID, "wave_id", cp.WaveID, "state", cp.CoordinatorState)
	return cb(ctx, cp)
}

func isExpired(cp model.Checkpoint, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(cp.Timestamp) > timeout
}

// ResumeCheckpoint manually resumes a specific checkpoint, used when a
// human approves resuming one left paused for HITL review.
func (m *RecoveryManager) ResumeCheckpoint(ctx context.Context, id string) error {
	cp, err := m.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return fmt.Errorf("checkpoint %s not found", id)
	}
	if isExpired(*cp, m.cfg.RecoveryTimeout) {
		_ = m.store.Clear(ctx, id)
		return fmt.Errorf("checkpoint %s expired", id)
	}

	m.mu.RLock()
	cb := m.onResume
	m.mu.RUnlock()
	if cb == nil {
		return fmt.Errorf("no resume callback configured")
	}
	return cb(ctx, *cp)
}

// Stats summarizes pending checkpoints for a project.
type Stats struct {
	Total      int
	Paused     int
	Expired    int
	OldestAge  time.Duration
	AverageAge time.Duration
}

// GetStats summarizes pending checkpoints for a project.
func (m *RecoveryManager) GetStats(ctx context.Context, projectID string) (Stats, error) {
	pending, err := m.store.ListPending(ctx, projectID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(pending)}
	if len(pending) == 0 {
		return stats, nil
	}

	var totalAge time.Duration
	for _, cp := range pending {
		age := time.Since(cp.Timestamp)
		totalAge += age
		if age > stats.OldestAge {
			stats.OldestAge = age
		}
		switch {
		case isExpired(cp, m.cfg.RecoveryTimeout):
			stats.Expired++
		case cp.CoordinatorState == model.StatePaused:
			stats.Paused++
		}
	}
	stats.AverageAge = totalAge / time.Duration(len(pending))
	return stats, nil
}
