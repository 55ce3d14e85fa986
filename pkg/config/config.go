// Package config loads phasectl's runtime settings.
//
// Precedence, highest first:
//  1. Environment variables prefixed with PHASECTL_ (PHASECTL_LOCK_TIMEOUT -> lock.timeout)
//  2. The optional YAML file (.repo/phasectl.yaml by default)
//  3. DefaultConfig
//
// The file lives in the agent's workspace, so the keys listed in
// OperatorKeys are only accepted from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is stripped from environment variable names before mapping.
	EnvPrefix = "PHASECTL_"

	// DefaultFile is the config file path relative to the repository root.
	DefaultFile = ".repo/phasectl.yaml"

	maxConfigFileSize = 1024 * 1024
)

// OperatorKeys locate and verify the enforcement files. A config file that
// sets any of them is rejected.
var OperatorKeys = []string{
	"repo_dir",
	"judge.self_path",
	"review.api_key_env",
	"review.base_url",
}

// Config holds every tunable phasectl reads at startup.
type Config struct {
	RepoDir string        `koanf:"repo_dir"`
	Lock    LockConfig    `koanf:"lock"`
	Judge   JudgeConfig   `koanf:"judge"`
	Logging LoggingConfig `koanf:"logging"`
	Review  ReviewConfig  `koanf:"review"`
	Trace   TraceConfig   `koanf:"trace"`
}

// LockConfig controls the judge lock.
type LockConfig struct {
	// Timeout of zero or less waits indefinitely.
	Timeout      time.Duration `koanf:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// JudgeConfig names the evaluator's own manifest entry.
type JudgeConfig struct {
	SelfPath string `koanf:"self_path"`
}

// LoggingConfig selects level, encoder and destination.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// Dir is relative to the repository root. Empty logs to stderr.
	Dir string `koanf:"dir"`
}

// ReviewConfig holds the LLM review service defaults. A plan's
// llm_review_config overrides them per plan.
type ReviewConfig struct {
	APIKeyEnv        string        `koanf:"api_key_env"`
	BaseURL          string        `koanf:"base_url"`
	Model            string        `koanf:"model"`
	MaxTokens        int           `koanf:"max_tokens"`
	Temperature      float64       `koanf:"temperature"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxContextTokens int           `koanf:"max_context_tokens"`
}

// APIKey resolves the key from the configured environment variable.
func (r ReviewConfig) APIKey() string {
	return os.Getenv(r.APIKeyEnv)
}

// TraceConfig bounds recorded tool runs.
type TraceConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		RepoDir: ".repo",
		Lock: LockConfig{
			Timeout:      60 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Judge: JudgeConfig{
			SelfPath: "bin/phasectl",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Dir:    ".repo/logs",
		},
		Review: ReviewConfig{
			APIKeyEnv:        "OPENAI_API_KEY",
			Model:            "gpt-4o",
			MaxTokens:        2000,
			Temperature:      0.1,
			Timeout:          60 * time.Second,
			MaxContextTokens: 100000,
		},
		Trace: TraceConfig{
			Timeout: 10 * time.Minute,
		},
	}
}

// Load builds the config for the repository at root. An empty path selects
// DefaultFile; a missing file is not an error.
func Load(root, path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = filepath.Join(root, filepath.FromSlash(DefaultFile))
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		if err := checkOperatorKeys(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkOperatorKeys(k *koanf.Koanf, path string) error {
	var set []string
	for _, key := range OperatorKeys {
		if k.Exists(key) {
			set = append(set, key)
		}
	}
	if len(set) == 0 {
		return nil
	}
	return fmt.Errorf("config file %s sets %s; these can only be set through %s environment variables",
		path, strings.Join(set, ", "), EnvPrefix)
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory: %s", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps PHASECTL_LOCK_POLL_INTERVAL to lock.poll_interval: the first
// underscore separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if lower == "repo_dir" {
		return lower
	}
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RepoDir) == "" {
		errs = append(errs, errors.New("repo_dir must not be empty"))
	}
	if filepath.IsAbs(c.RepoDir) {
		errs = append(errs, fmt.Errorf("repo_dir must be relative: %s", c.RepoDir))
	}
	if c.Lock.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("lock.poll_interval must be positive, got %s", c.Lock.PollInterval))
	}
	if c.Judge.SelfPath == "" {
		errs = append(errs, errors.New("judge.self_path must not be empty"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json; got %q", c.Logging.Format))
	}
	if c.Review.APIKeyEnv == "" {
		errs = append(errs, errors.New("review.api_key_env must not be empty"))
	}
	if c.Review.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("review.max_tokens must be positive, got %d", c.Review.MaxTokens))
	}
	if c.Review.Temperature < 0 || c.Review.Temperature > 1 {
		errs = append(errs, fmt.Errorf("review.temperature must be between 0 and 1, got %v", c.Review.Temperature))
	}
	if c.Review.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("review.timeout must be positive, got %s", c.Review.Timeout))
	}
	if c.Trace.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("trace.timeout must be positive, got %s", c.Trace.Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Paths are the absolute locations of the protocol's files.
type Paths struct {
	Root          string
	RepoDir       string
	Plan          string
	Manifest      string
	StateDir      string
	CritiquesDir  string
	TracesDir     string
	ScopeAuditDir string
	LockFile      string
	LogsDir       string
}

// Paths derives every protocol path under root.
func (c *Config) Paths(root string) Paths {
	repo := filepath.Join(root, filepath.FromSlash(c.RepoDir))
	p := Paths{
		Root:          root,
		RepoDir:       repo,
		Plan:          filepath.Join(repo, "plan.yaml"),
		Manifest:      filepath.Join(repo, "protocol_manifest.json"),
		StateDir:      filepath.Join(repo, "state"),
		CritiquesDir:  filepath.Join(repo, "critiques"),
		TracesDir:     filepath.Join(repo, "traces"),
		ScopeAuditDir: filepath.Join(repo, "scope_audit"),
		LockFile:      filepath.Join(repo, ".judge.lock"),
	}
	if c.Logging.Dir != "" {
		p.LogsDir = filepath.Join(root, filepath.FromSlash(c.Logging.Dir))
	}
	return p
}

// Dirs lists the directories init creates.
func (p Paths) Dirs() []string {
	dirs := []string{p.RepoDir, p.StateDir, p.CritiquesDir, p.TracesDir, p.ScopeAuditDir}
	if p.LogsDir != "" {
		dirs = append(dirs, p.LogsDir)
	}
	return dirs
}
