package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, ".repo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phasectl.yaml"), []byte(content), 0o600))
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, "bin/phasectl", cfg.Judge.SelfPath)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Review.APIKeyEnv)
	assert.Equal(t, 10*time.Minute, cfg.Trace.Timeout)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
lock:
  timeout: 5s
logging:
  level: debug
  format: json
review:
  model: gpt-4o-mini
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.PollInterval, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "gpt-4o-mini", cfg.Review.Model)
	assert.Equal(t, 2000, cfg.Review.MaxTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "lock:\n  timeout: 5s\n")

	t.Setenv("PHASECTL_LOCK_TIMEOUT", "2s")
	t.Setenv("PHASECTL_LOCK_POLL_INTERVAL", "20ms")
	t.Setenv("PHASECTL_REVIEW_API_KEY_ENV", "MY_KEY")
	t.Setenv("MY_KEY", "sk-test")

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Lock.PollInterval)
	assert.Equal(t, "MY_KEY", cfg.Review.APIKeyEnv)
	assert.Equal(t, "sk-test", cfg.Review.APIKey())
}

func TestLoadRejectsOperatorKeysInFile(t *testing.T) {
	tests := map[string]string{
		"judge.self_path":    "judge:\n  self_path: not/listed\n",
		"repo_dir":           "repo_dir: elsewhere\n",
		"review.base_url":    "review:\n  base_url: http://localhost:9999\n",
		"review.api_key_env": "review:\n  api_key_env: OTHER_KEY\n",
	}
	for key, content := range tests {
		t.Run(key, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, content)

			_, err := Load(root, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadOperatorKeysFromEnv(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "lock:\n  timeout: 5s\n")
	t.Setenv("PHASECTL_JUDGE_SELF_PATH", "tools/phasectl")

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "tools/phasectl", cfg.Judge.SelfPath)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "logging:\n  level: loud\nreview:\n  temperature: 3\n")

	_, err := Load(root, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "review.temperature")
}

func TestLoadExplicitPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "custom.yaml"), []byte("trace:\n  timeout: 30s\n"), 0o600))

	cfg, err := Load(root, "custom.yaml")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Trace.Timeout)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PHASECTL_LOCK_TIMEOUT":       "lock.timeout",
		"PHASECTL_LOCK_POLL_INTERVAL": "lock.poll_interval",
		"PHASECTL_JUDGE_SELF_PATH":    "judge.self_path",
		"PHASECTL_REPO_DIR":           "repo_dir",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, envKey(in))
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Paths("/work")

	assert.Equal(t, filepath.Join("/work", ".repo", "plan.yaml"), p.Plan)
	assert.Equal(t, filepath.Join("/work", ".repo", "protocol_manifest.json"), p.Manifest)
	assert.Equal(t, filepath.Join("/work", ".repo", ".judge.lock"), p.LockFile)
	assert.Equal(t, filepath.Join("/work", ".repo", "logs"), p.LogsDir)
	assert.Len(t, p.Dirs(), 6)

	cfg.Logging.Dir = ""
	p = cfg.Paths("/work")
	assert.Empty(t, p.LogsDir)
	assert.Len(t, p.Dirs(), 5)
}
