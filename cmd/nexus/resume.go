package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/config"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

// ResumeCmd rebuilds the kernel for a project and resumes it from a
// persisted checkpoint: the project's latest one by default, or a named
// one via --checkpoint-id.
type ResumeCmd struct {
	Config string `arg:"" help:"Path to the project YAML config." type:"path"`
	Dir    string `help:"Project working directory (file loads and the LLM subprocess run relative to this)." default:"."`

	LLMCommand      string        `name:"llm-command" help:"Executable invoked once per agent turn to produce a ChatResponse." required:""`
	LLMArg          []string      `name:"llm-arg" help:"Argument passed to --llm-command (repeatable)."`
	LLMStartTimeout time.Duration `name:"llm-start-timeout" help:"Max duration a single LLM subprocess call may run." default:"5m"`

	CheckpointID   string `name:"checkpoint-id" help:"Resume this specific checkpoint instead of the project's latest."`
	CheckpointName string `name:"checkpoint-name" help:"Name recorded on the checkpoint taken at shutdown." default:"shutdown"`
	Watch          bool   `help:"Keep the code index fresh by watching Dir for changes while the run is active."`
}

// Run implements ResumeCmd.
func (c *ResumeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	k, err := buildKernel(cfg, LLMOptions{Command: c.LLMCommand, Args: c.LLMArg, StartTimeout: c.LLMStartTimeout}, c.Dir)
	if err != nil {
		return err
	}
	defer k.Close()
	k.ServeMetrics(cfg.Metrics.Address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.Watch {
		if err := k.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start code index watcher: %w", err)
		}
	}

	cp, err := c.loadCheckpoint(ctx, k, cfg.ProjectID)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint found to resume for project %q", cfg.ProjectID)
	}

	tasks := make([]model.Task, len(cfg.Tasks))
	for i, spec := range cfg.Tasks {
		tasks[i] = spec.ToTask()
	}
	if err := k.coord.Initialize(tasks); err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	k.coord.RestoreCheckpoint(*cp)

	done := make(chan struct{})
	k.coord.OnEvent(func(ev model.Event) {
		if ev.Type == model.EventCoordinatorStopped {
			close(done)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down, taking final checkpoint")
		if _, err := k.coord.CreateCheckpoint(c.CheckpointName); err != nil {
			slog.Error("failed to checkpoint on shutdown", "error", err)
		}
		k.coord.Stop()
		cancel()
	}()

	if err := k.coord.ResumeFromCheckpoint(ctx); err != nil {
		return fmt.Errorf("coordinator failed to resume: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	fmt.Printf("resume complete: %s\n", k.coord.GetStatus())
	return nil
}

func (c *ResumeCmd) loadCheckpoint(ctx context.Context, k *kernel, projectID string) (*model.Checkpoint, error) {
	if c.CheckpointID != "" {
		return k.store.Load(ctx, c.CheckpointID)
	}
	return k.store.Latest(ctx, projectID)
}
