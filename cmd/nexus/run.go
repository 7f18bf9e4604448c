package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/checkpoint"
	"github.com/omarkhaled-auto/nexus/internal/config"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

// RunCmd loads a project config and drives a coordinator run to completion:
// it resumes a checkpoint left pending by an interrupted process when there
// is one and starts a fresh run otherwise, with a signal-driven shutdown
// that takes a final checkpoint before tearing the kernel down.
type RunCmd struct {
	Config string `arg:"" help:"Path to the project YAML config." type:"path"`
	Dir    string `help:"Project working directory (file loads and the LLM subprocess run relative to this)." default:"."`

	LLMCommand      string        `name:"llm-command" help:"Executable invoked once per agent turn to produce a ChatResponse." required:""`
	LLMArg          []string      `name:"llm-arg" help:"Argument passed to --llm-command (repeatable)."`
	LLMStartTimeout time.Duration `name:"llm-start-timeout" help:"Max duration a single LLM subprocess call may run." default:"5m"`

	CheckpointName string `name:"checkpoint-name" help:"Name recorded on the checkpoint taken at shutdown." default:"shutdown"`
	Watch          bool   `help:"Keep the code index fresh by watching Dir for changes while the run is active."`
}

// Run implements RunCmd.
func (c *RunCmd) Run(cli *CLI) error {
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

	tasks := make([]model.Task, len(cfg.Tasks))
	for i, spec := range cfg.Tasks {
		tasks[i] = spec.ToTask()
	}

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

	// Before starting a fresh run, give any checkpoint left pending from a
	// previous, interrupted process a chance to resume instead of silently
	// restarting the project from scratch.
	recovery := checkpoint.NewRecoveryManager(checkpoint.DefaultRecoveryConfig(), k.store)
	resumed := false
	recovery.SetResumeCallback(func(ctx context.Context, cp model.Checkpoint) error {
		resumed = true
		if err := k.coord.Initialize(tasks); err != nil {
			return err
		}
		k.coord.RestoreCheckpoint(cp)
		return k.coord.ResumeFromCheckpoint(ctx)
	})
	if err := recovery.RecoverPending(ctx, cfg.ProjectID); err != nil {
		return fmt.Errorf("checkpoint recovery failed: %w", err)
	}

	if !resumed {
		if err := k.coord.Initialize(tasks); err != nil {
			return fmt.Errorf("failed to initialize coordinator: %w", err)
		}
		if err := k.coord.Start(ctx); err != nil {
			return fmt.Errorf("coordinator failed to start: %w", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	fmt.Printf("run complete: %s\n", k.coord.GetStatus())
	return nil
}
