// Package config loads a ProjectConfig: the planner-provided task DAG plus
// process-wide defaults (pool capacity, runner bounds, context budget,
// chunking/search/embeddings knobs). Loading is a small pipeline:
// optionally load a .env file, read YAML, expand ${ENV_VAR} references,
// then apply defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// TaskSpec is the planner-authored shape of a single task in the YAML
// project file, decoded into a model.Task by ToTask.
type TaskSpec struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Description        string   `yaml:"description"`
	Dependencies       []string `yaml:"dependencies"`
	Files              []string `yaml:"files"`
	AcceptanceCriteria []string `yaml:"acceptanceCriteria"`
	EstimatedMinutes   int      `yaml:"estimatedMinutes"`
	Priority           int      `yaml:"priority"`
	WaveID             *int     `yaml:"waveId"`
	Type               string   `yaml:"type"`
}

// ToTask converts a planner-authored TaskSpec into a pending model.Task.
func (t TaskSpec) ToTask() model.Task {
	taskType := model.TaskTypeAuto
	switch t.Type {
	case string(model.TaskTypeCheckpoint):
		taskType = model.TaskTypeCheckpoint
	case string(model.TaskTypeTDD):
		taskType = model.TaskTypeTDD
	}
	return model.Task{
		ID:                 t.ID,
		Name:               t.Name,
		Description:        t.Description,
		Dependencies:       t.Dependencies,
		Files:              t.Files,
		AcceptanceCriteria: t.AcceptanceCriteria,
		EstimatedMinutes:   t.EstimatedMinutes,
		Priority:           t.Priority,
		WaveID:             t.WaveID,
		Status:             model.TaskPending,
		Type:               taskType,
		CreatedAt:          time.Now(),
	}
}

// Summary projects the language/framework/test-framework facts a prompt
// needs out of the full ProjectConfig.
func (c ProjectConfig) Summary() model.ProjectConfigSummary {
	return model.ProjectConfigSummary{
		Language:      c.Language,
		Framework:     c.Framework,
		TestFramework: c.TestFramework,
	}
}

// RunnerConfig bounds the AgentRunner.
type RunnerConfig struct {
	MaxIterations int           `yaml:"maxIterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ContextConfig bounds the FreshContextManager's token budget.
type ContextConfig struct {
	MaxTokens int `yaml:"maxTokens"`
}

// ChunkingConfig controls the CodeChunker.
type ChunkingConfig struct {
	MaxChunkSize       int  `yaml:"maxChunkSize"`
	MinChunkSize       int  `yaml:"minChunkSize"`
	OverlapSize        int  `yaml:"overlapSize"`
	PreserveBoundaries bool `yaml:"preserveBoundaries"`
}

// SearchConfig controls the CodeSearchEngine.
type SearchConfig struct {
	Threshold      float32 `yaml:"threshold"`
	Limit          int     `yaml:"limit"`
	IncludeContext bool    `yaml:"includeContext"`
}

// EmbeddingsConfig controls the embeddings adapter.
type EmbeddingsConfig struct {
	MaxRetries   int `yaml:"maxRetries"`
	MaxCacheSize int `yaml:"maxCacheSize"`
}

// CodeIndexConfig selects and configures a ChunkRepository backend.
type CodeIndexConfig struct {
	Backend string `yaml:"backend"` // "sql" (default) or "chromem"
	DSN     string `yaml:"dsn"`
	Dialect string `yaml:"dialect"`
	Path    string `yaml:"path"` // chromem persistence path
}

// ProjectConfig is the top-level loaded configuration: a task DAG plus
// process-wide defaults, overridable per project except
// Chunking.PreserveBoundaries, which SetDefaults sets to true whenever it is
// false, so a false value in the file has no effect.
type ProjectConfig struct {
	ProjectID string     `yaml:"projectId"`
	Tasks     []TaskSpec `yaml:"tasks"`

	Language      string `yaml:"language"`
	Framework     string `yaml:"framework"`
	TestFramework string `yaml:"testFramework"`

	MaxParallelAgents       int           `yaml:"maxParallelAgents"`
	MaxTaskMinutes          int           `yaml:"maxTaskMinutes"`
	QAMaxIterations         int           `yaml:"qaMaxIterations"`
	CheckpointIntervalHours float64       `yaml:"checkpointIntervalHours"`
	TestCoverageTarget      float64       `yaml:"testCoverageTarget"`

	Runner     RunnerConfig     `yaml:"runner"`
	Context    ContextConfig    `yaml:"context"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	CodeIndex  CodeIndexConfig  `yaml:"codeIndex"`

	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsYAML   `yaml:"metrics"`
}

// TracingConfig mirrors observability.TracerConfig with YAML tags local to
// this package so config has no import-time dependency on observability.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"`
	EndpointURL  string  `yaml:"endpointUrl"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// MetricsYAML mirrors observability.MetricsConfig plus the address the CLI
// serves the Prometheus handler on.
type MetricsYAML struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// SetDefaults fills in every zero-valued field with its documented
// default.
func (c *ProjectConfig) SetDefaults() {
	if c.MaxParallelAgents == 0 {
		c.MaxParallelAgents = 4
	}
	if c.MaxTaskMinutes == 0 {
		c.MaxTaskMinutes = 30
	}
	if c.QAMaxIterations == 0 {
		c.QAMaxIterations = 50
	}
	if c.CheckpointIntervalHours == 0 {
		c.CheckpointIntervalHours = 2
	}
	if c.TestCoverageTarget == 0 {
		c.TestCoverageTarget = 80
	}
	if c.Runner.MaxIterations == 0 {
		c.Runner.MaxIterations = 50
	}
	if c.Runner.Timeout == 0 {
		c.Runner.Timeout = 30 * time.Minute
	}
	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = 150000
	}
	if c.Chunking.MaxChunkSize == 0 {
		c.Chunking.MaxChunkSize = 1000
	}
	if c.Chunking.MinChunkSize == 0 {
		c.Chunking.MinChunkSize = 50
	}
	if c.Chunking.OverlapSize == 0 {
		c.Chunking.OverlapSize = 50
	}
	if !c.Chunking.PreserveBoundaries {
		c.Chunking.PreserveBoundaries = true
	}
	if c.Search.Threshold == 0 {
		c.Search.Threshold = 0.7
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = 10
	}
	if c.Embeddings.MaxRetries == 0 {
		c.Embeddings.MaxRetries = 3
	}
	if c.Embeddings.MaxCacheSize == 0 {
		c.Embeddings.MaxCacheSize = 1000
	}
	if c.CodeIndex.Backend == "" {
		c.CodeIndex.Backend = "sql"
	}
	if c.CodeIndex.Dialect == "" {
		c.CodeIndex.Dialect = "sqlite"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate rejects a config whose task DAG is structurally invalid: a
// duplicate id, or a dependency on an unknown task.
func (c *ProjectConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("projectId is required")
	}
	seen := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range c.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q declares unknown dependency %q", t.ID, dep)
			}
		}
	}
	if cycle := findCycle(c.Tasks); cycle != "" {
		return fmt.Errorf("task dependency graph contains a cycle at %q", cycle)
	}
	return nil
}

func findCycle(tasks []TaskSpec) string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if found := visit(t.ID); found != "" {
				return found
			}
		}
	}
	return ""
}

// LoadDotEnv loads environment variables from the first .env file found,
// in order: an explicit path, ./.env, ~/.env. Idempotent: existing
// variables are never overwritten.
func LoadDotEnv(explicitPath string) error {
	if explicitPath != "" {
		if err := loadIfExists(explicitPath); err != nil {
			return err
		}
	}
	if err := loadIfExists(".env"); err != nil {
		return err
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := loadIfExists(filepath.Join(home, ".env")); err != nil {
			return err
		}
	}
	return nil
}

func loadIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Load reads path, expands ${ENV_VAR} references against the process
// environment (after loading an adjacent .env file), decodes the YAML,
// applies defaults, and validates the resulting ProjectConfig.
func Load(path string) (*ProjectConfig, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := expandEnvVars(raw)

	var generic map[string]any
	if err := yaml.Unmarshal(expanded, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg ProjectConfig
	if err := decodeConfig(generic, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// decodeConfig maps a generic YAML-decoded document onto out, using the
// "yaml" struct tags already on ProjectConfig and its nested types.
// WeaklyTypedInput absorbs the usual YAML scalar looseness (numbers parsed
// as strings by env-var expansion, etc.); the decode hooks additionally
// turn a duration string like "30m" into a time.Duration and a
// comma-separated string into a []string, neither of which yaml.v3's
// struct-tag decoding does on its own.
func decodeConfig(in map[string]any, out *ProjectConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}
