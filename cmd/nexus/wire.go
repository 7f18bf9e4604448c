package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/agentpool"
	"github.com/omarkhaled-auto/nexus/internal/checkpoint"
	"github.com/omarkhaled-auto/nexus/internal/chunking"
	"github.com/omarkhaled-auto/nexus/internal/codeindex"
	"github.com/omarkhaled-auto/nexus/internal/config"
	"github.com/omarkhaled-auto/nexus/internal/coordinator"
	"github.com/omarkhaled-auto/nexus/internal/embeddings"
	"github.com/omarkhaled-auto/nexus/internal/eventbus"
	"github.com/omarkhaled-auto/nexus/internal/freshcontext"
	"github.com/omarkhaled-auto/nexus/internal/llmproc"
	"github.com/omarkhaled-auto/nexus/internal/model"
	"github.com/omarkhaled-auto/nexus/internal/observability"
	"github.com/omarkhaled-auto/nexus/internal/runner"
	"github.com/omarkhaled-auto/nexus/internal/search"
)

// excludedDirs covers the common VCS/build-output directories a code
// index should keep out by default, trimmed to a fixed set since the CLI
// has no include/exclude glob flags of its own.
var excludedDirs = map[string]bool{
	".git": true, ".nexus": true, "node_modules": true, "vendor": true, "dist": true, "build": true,
}

// dirExcludeFilter implements codeindex.PathFilter by rejecting any path
// that descends through one of excludedDirs.
type dirExcludeFilter struct{}

func (dirExcludeFilter) ShouldExclude(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if excludedDirs[segment] {
			return true
		}
	}
	return false
}

// LLMOptions configures the subprocess the runner talks to. The kernel
// never implements an LLM transport itself; this is the thin, stable plug
// the operator points at whatever provider-specific process they run.
type LLMOptions struct {
	Command      string
	Args         []string
	StartTimeout time.Duration
}

// kernel bundles every wired dependency a run needs, so Close can tear them
// down in one place regardless of which command assembled them.
type kernel struct {
	bus         *eventbus.Bus
	pool        *agentpool.Pool
	coord       *coordinator.Coordinator
	store       checkpoint.Store
	dbPool      *config.DBPool
	chunkRepo   codeindex.ChunkRepository
	watcher     *codeindex.Watcher
	metrics     *observability.Metrics
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
}

func (k *kernel) Close() {
	if k.watcher != nil {
		_ = k.watcher.Stop()
	}
	if k.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = k.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if k.chunkRepo != nil {
		_ = k.chunkRepo.Close()
	}
	if k.dbPool != nil {
		_ = k.dbPool.Close()
	}
	if k.tracerClose != nil {
		_ = k.tracerClose(context.Background())
	}
}

// ServeMetrics starts the Prometheus handler in the background if metrics
// are enabled; it is a no-op otherwise.
func (k *kernel) ServeMetrics(addr string) {
	if k.metrics == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", k.metrics.Handler())
	k.metricsSrv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := k.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}

// osFileLoader satisfies freshcontext.FileLoader by reading files relative
// to a base directory — the minimal useful implementation the CLI can wire
// without reaching into a language server or git-worktree manager.
type osFileLoader struct {
	base string
}

func (f osFileLoader) Load(_ context.Context, path string) (string, error) {
	full := path
	if f.base != "" && !filepath.IsAbs(path) {
		full = filepath.Join(f.base, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", full, err)
	}
	return string(data), nil
}

// buildKernel wires every kernel package per cfg: a shared DB pool, a
// checkpoint store, a chunk repository (SQL or chromem per
// cfg.CodeIndex.Backend), an embeddings-backed search engine, a
// FreshContextManager, an AgentRunner over an llmproc subprocess client,
// a pre-spawned AgentPool, and the top-level Coordinator.
func buildKernel(cfg *config.ProjectConfig, llm LLMOptions, workDir string) (*kernel, error) {
	k := &kernel{bus: eventbus.New()}

	mcfg := observability.MetricsConfig{Enabled: cfg.Metrics.Enabled}
	mcfg.SetDefaults()
	k.metrics = observability.NewMetrics(mcfg)

	tcfg := observability.TracerConfig{
		Enabled:      cfg.Tracing.Enabled,
		ExporterType: cfg.Tracing.ExporterType,
		EndpointURL:  cfg.Tracing.EndpointURL,
		SamplingRate: cfg.Tracing.SamplingRate,
		ServiceName:  "nexus",
	}
	tp, err := observability.InitGlobalTracer(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}
	if shutter, ok := tp.(interface {
		Shutdown(context.Context) error
	}); ok {
		k.tracerClose = shutter.Shutdown
	}

	dbPool := config.NewDBPool()
	k.dbPool = dbPool

	stateDSN := cfg.CodeIndex.DSN
	if stateDSN == "" {
		stateDSN = filepath.Join(workDir, ".nexus", "nexus.db")
		if err := os.MkdirAll(filepath.Dir(stateDSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}

	checkpointDB, err := dbPool.Get(cfg.CodeIndex.Dialect, stateDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	store, err := checkpoint.NewSQLStore(checkpointDB, cfg.CodeIndex.Dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	k.store = store

	chunkRepo, err := buildChunkRepository(cfg, dbPool, stateDSN, workDir)
	if err != nil {
		return nil, err
	}
	k.chunkRepo = chunkRepo

	embedProvider := embeddings.NewMockProvider(32)
	embedSvc := embeddings.NewService(embedProvider)
	engine := search.NewEngine(chunkRepo, embedSvc)

	chunker := chunking.NewChunker(cfg.ProjectID, chunking.NewGoSymbolSource(), chunking.LineChunkConfig{
		MaxChunkSize:       cfg.Chunking.MaxChunkSize,
		MinChunkSize:       cfg.Chunking.MinChunkSize,
		OverlapSize:        cfg.Chunking.OverlapSize,
		PreserveBoundaries: cfg.Chunking.PreserveBoundaries,
	})
	watcher, err := codeindex.NewWatcher(codeindex.WatcherConfig{
		ProjectID: cfg.ProjectID,
		BasePath:  workDir,
		Filter:    dirExcludeFilter{},
		Reindex:   reindexFile(chunkRepo, chunker, embedSvc, workDir),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create code index watcher: %w", err)
	}
	k.watcher = watcher

	ctxManager := freshcontext.NewManager(cfg.Context.MaxTokens,
		freshcontext.WithSearcher(engine),
		freshcontext.WithFileLoader(osFileLoader{base: workDir}),
		freshcontext.WithProjectConfig(cfg.Summary()),
	)

	llmClient := llmproc.New(llmproc.Config{
		Command:      llm.Command,
		Args:         llm.Args,
		Dir:          workDir,
		StartTimeout: llm.StartTimeout,
	})

	r := runner.New(llmClient, k.bus, nil, ctxManager, runner.Config{
		MaxIterations: cfg.Runner.MaxIterations,
		Timeout:       cfg.Runner.Timeout,
	})

	pool := agentpool.New(cfg.MaxParallelAgents)
	for i := 0; i < cfg.MaxParallelAgents; i++ {
		if _, err := pool.Spawn(model.AgentCoder, model.ModelConfig{}); err != nil {
			return nil, fmt.Errorf("failed to pre-spawn agent pool: %w", err)
		}
	}
	k.pool = pool

	k.coord = coordinator.New(cfg.ProjectID, k.bus, pool, r, store, coordinator.Config{
		MaxParallelAgents:       cfg.MaxParallelAgents,
		CheckpointIntervalHours: cfg.CheckpointIntervalHours,
	})

	logEvents(k.bus)
	recordMetrics(k.bus, k.metrics, pool)

	return k, nil
}

// reindexFile closes over the chunker/embedder/repository a Watcher needs
// to turn a changed file into up-to-date CodeChunks: chunk, embed each
// chunk's content, and replace whatever was previously indexed for that
// file. A deleted file is dropped from the repository instead.
func reindexFile(repo codeindex.ChunkRepository, chunker *chunking.Chunker, embedder *embeddings.Service, workDir string) codeindex.Reindexer {
	return func(ctx context.Context, projectID, file string) error {
		rel := file
		if r, err := filepath.Rel(workDir, file); err == nil {
			rel = r
		}

		data, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			_, err := repo.DeleteByFile(ctx, rel)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		chunks := chunker.Chunk(rel, string(data))
		for i := range chunks {
			vec, err := embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d of %s: %w", i, rel, err)
			}
			chunks[i].Embedding = vec
		}

		if _, err := repo.DeleteByFile(ctx, rel); err != nil {
			return fmt.Errorf("failed to clear stale chunks for %s: %w", rel, err)
		}
		if len(chunks) == 0 {
			return nil
		}
		return repo.InsertMany(ctx, chunks)
	}
}

func buildChunkRepository(cfg *config.ProjectConfig, dbPool *config.DBPool, stateDSN, workDir string) (codeindex.ChunkRepository, error) {
	switch cfg.CodeIndex.Backend {
	case "chromem":
		path := cfg.CodeIndex.Path
		if path == "" {
			path = filepath.Join(workDir, ".nexus", "chromem")
		}
		return codeindex.NewChromemChunkIndex(codeindex.ChromemConfig{PersistPath: path, Compress: true})
	default:
		dsn := cfg.CodeIndex.DSN
		if dsn == "" {
			dsn = stateDSN
		}
		db, err := dbPool.Get(cfg.CodeIndex.Dialect, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open code index database: %w", err)
		}
		return codeindex.NewSQLChunkRepository(db, cfg.CodeIndex.Dialect)
	}
}

// logEvents subscribes a structured slog line to every bus event, the
// minimal observer a CLI needs to show run progress without a UI.
func logEvents(bus *eventbus.Bus) {
	bus.On("*", func(ev model.Event) {
		slog.Info("event", "type", string(ev.Type), "project_id", ev.ProjectID, "data", ev.Data)
	})
}

// recordMetrics drives the Prometheus instrumentation off the same bus
// events the CLI already logs, tracking wave start times so wave:completed
// can report a duration.
func recordMetrics(bus *eventbus.Bus, metrics *observability.Metrics, pool *agentpool.Pool) {
	if metrics == nil {
		return
	}

	waveStarts := make(map[string]time.Time)

	bus.On(model.EventWaveStarted, func(ev model.Event) {
		if waveID, ok := ev.Data["wave_id"]; ok {
			waveStarts[fmt.Sprint(waveID)] = ev.Timestamp
		}
	})
	bus.On(model.EventWaveCompleted, func(ev model.Event) {
		waveID := fmt.Sprint(ev.Data["wave_id"])
		d := time.Duration(0)
		if start, ok := waveStarts[waveID]; ok {
			d = ev.Timestamp.Sub(start)
			delete(waveStarts, waveID)
		}
		metrics.ObserveWaveCompleted(waveID, d)
	})
	bus.On(model.EventTaskCompleted, func(model.Event) {
		metrics.IncTaskTerminal("completed")
	})
	bus.On(model.EventTaskFailed, func(model.Event) {
		metrics.IncTaskTerminal("failed")
	})
	bus.On(model.EventTaskBlocked, func(model.Event) {
		metrics.IncTaskTerminal("blocked")
	})
	bus.On(model.EventCheckpointCreated, func(model.Event) {
		metrics.ObserveCheckpoint("success")
	})
	bus.On(model.EventCheckpointFailed, func(model.Event) {
		metrics.ObserveCheckpoint("failure")
	})
	bus.On(model.EventAgentAssigned, func(model.Event) {
		metrics.SetPoolSize(pool.Size(), len(pool.GetActive()))
	})
	bus.On(model.EventAgentIdle, func(model.Event) {
		metrics.SetPoolSize(pool.Size(), len(pool.GetActive()))
	})
}
