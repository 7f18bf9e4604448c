package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

type fakeStore struct {
	checkpoints map[string]model.Checkpoint
	cleared     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{checkpoints: map[string]model.Checkpoint{}}
}

func (f *fakeStore) Save(ctx context.Context, cp model.Checkpoint) error {
	f.checkpoints[cp.ID] = cp
	return nil
}

func (f *fakeStore) Load(ctx context.Context, id string) (*model.Checkpoint, error) {
	cp, ok := f.checkpoints[id]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (f *fakeStore) Latest(ctx context.Context, projectID string) (*model.Checkpoint, error) {
	var latest *model.Checkpoint
	for _, cp := range f.checkpoints {
		c := cp
		if cp.ProjectID != projectID {
			continue
		}
		if latest == nil || cp.Timestamp.After(latest.Timestamp) {
			latest = &c
		}
	}
	return latest, nil
}

func (f *fakeStore) ListPending(ctx context.Context, projectID string) ([]model.Checkpoint, error) {
	var out []model.Checkpoint
	for _, cp := range f.checkpoints {
		if cp.ProjectID == projectID && cp.CoordinatorState != model.StateIdle {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeStore) Clear(ctx context.Context, id string) error {
	delete(f.checkpoints, id)
	f.cleared = append(f.cleared, id)
	return nil
}

var _ Store = (*fakeStore)(nil)

func TestRecoverPendingResumesRunningCheckpoint(t *testing.T) {
	store := newFakeStore()
	store.checkpoints["cp1"] = model.Checkpoint{
		ID: "cp1", ProjectID: "proj", CoordinatorState: model.StateRunning, Timestamp: time.Now(),
	}

	mgr := NewRecoveryManager(DefaultRecoveryConfig(), store)
	var resumed []string
	mgr.SetResumeCallback(func(ctx context.Context, cp model.Checkpoint) error {
		resumed = append(resumed, cp.ID)
		return nil
	})

	require.NoError(t, mgr.RecoverPending(context.Background(), "proj"))
	assert.Equal(t, []string{"cp1"}, resumed)
}

func TestRecoverPendingLeavesPausedCheckpointsAlone(t *testing.T) {
	store := newFakeStore()
	store.checkpoints["cp1"] = model.Checkpoint{
		ID: "cp1", ProjectID: "proj", CoordinatorState: model.StatePaused, Timestamp: time.Now(),
	}

	mgr := NewRecoveryManager(DefaultRecoveryConfig(), store)
	called := false
	mgr.SetResumeCallback(func(ctx context.Context, cp model.Checkpoint) error {
		called = true
		return nil
	})

	require.NoError(t, mgr.RecoverPending(context.Background(), "proj"))
	assert.False(t, called)
}

func TestRecoverPendingClearsExpiredCheckpoint(t *testing.T) {
	store := newFakeStore()
	store.checkpoints["cp1"] = model.Checkpoint{
		ID: "cp1", ProjectID: "proj", CoordinatorState: model.StateRunning,
		Timestamp: time.Now().Add(-48 * time.Hour),
	}

	cfg := DefaultRecoveryConfig()
	cfg.RecoveryTimeout = time.Hour
	mgr := NewRecoveryManager(cfg, store)

	require.NoError(t, mgr.RecoverPending(context.Background(), "proj"))
	assert.Contains(t, store.cleared, "cp1")
}

func TestResumeCheckpointManual(t *testing.T) {
	store := newFakeStore()
	store.checkpoints["cp1"] = model.Checkpoint{
		ID: "cp1", ProjectID: "proj", CoordinatorState: model.StatePaused, Timestamp: time.Now(),
	}

	mgr := NewRecoveryManager(DefaultRecoveryConfig(), store)
	resumed := false
	mgr.SetResumeCallback(func(ctx context.Context, cp model.Checkpoint) error {
		resumed = true
		return nil
	})

	require.NoError(t, mgr.ResumeCheckpoint(context.Background(), "cp1"))
	assert.True(t, resumed)
}
