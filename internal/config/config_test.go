package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DecodesDurationAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
projectId: demo
tasks:
  - id: t1
    name: first task
runner:
  maxIterations: 10
  timeout: 45m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.ProjectID)
	require.Equal(t, 45*time.Minute, cfg.Runner.Timeout)
	require.Equal(t, 10, cfg.Runner.MaxIterations)
	require.Equal(t, 4, cfg.MaxParallelAgents, "unset fields fall back to SetDefaults")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("NEXUS_TEST_LANGUAGE", "go")
	dir := t.TempDir()
	path := writeConfig(t, dir, `
projectId: demo
language: ${NEXUS_TEST_LANGUAGE}
tasks: []
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "go", cfg.Language)
}

func TestLoad_RejectsUnknownDependency(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
projectId: demo
tasks:
  - id: t1
    name: first task
    dependencies: ["missing"]
`)

	_, err := Load(path)
	require.Error(t, err)
}
