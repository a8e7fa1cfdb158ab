package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Contains(t, cfg.Sandbox.Languages, "python")
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graded.yaml")
	doc := `
server:
  addr: ":9090"
sandbox:
  max_total: 4
  languages:
    java:
      image: eclipse-temurin:21
      pool_size: 3
      working_dir: /work
      container_port: 8080
grading:
  workers: 0
  submission_budget: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Sandbox.MaxTotal)
	require.Contains(t, cfg.Sandbox.Languages, "java")
	assert.Equal(t, 3, cfg.Sandbox.Languages["java"].PoolSize)

	// workers: 0 derives from pool sizes
	assert.Equal(t, 3, cfg.Workers())

	budget, err := cfg.Duration(cfg.Grading.SubmissionBudget, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, budget)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOGRADER_API_KEY", "sk-test")
	t.Setenv("AUTOGRADER_ADDR", ":7000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestValidateRejectsImagelessPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graded.yaml")
	doc := `
sandbox:
  languages:
    python:
      pool_size: 1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image")
}

func TestValidateAllowsImagelessPoolWithAgent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graded.yaml")
	doc := `
sandbox:
  agent_url: http://agent:9000
  languages:
    python:
      pool_size: 1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	_, err := Load(path)
	require.NoError(t, err)
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, DurationOr("", 5*time.Second))
	assert.Equal(t, time.Minute, DurationOr("1m", 5*time.Second))
	assert.Equal(t, 5*time.Second, DurationOr("bogus", 5*time.Second))
}
