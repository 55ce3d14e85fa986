// Package plan loads the declarative phase plan from YAML.
package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBaseBranch is used when the plan does not name a base branch.
const DefaultBaseBranch = "main"

// ErrPhaseNotFound is returned when a phase id is not declared in the plan.
var ErrPhaseNotFound = errors.New("phase not found in plan")

// Document is the top-level YAML document.
type Document struct {
	Plan Plan `yaml:"plan"`
}

// Plan is the ordered list of phases plus plan-wide settings.
type Plan struct {
	ID           string           `yaml:"id"`
	Summary      string           `yaml:"summary,omitempty"`
	BaseBranch   string           `yaml:"base_branch,omitempty"`
	TestCommand  Command          `yaml:"test_command,omitempty"`
	LintCommand  Command          `yaml:"lint_command,omitempty"`
	LLMReview    *LLMReviewConfig `yaml:"llm_review_config,omitempty"`
	ProtocolLock *ProtocolLock    `yaml:"protocol_lock,omitempty"`
	Phases       []Phase          `yaml:"phases"`

	sha string
	raw map[string]any
}

// LLMReviewConfig overrides the review service settings for this plan.
type LLMReviewConfig struct {
	Model             string   `yaml:"model,omitempty"`
	MaxTokens         int      `yaml:"max_tokens,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	TimeoutSeconds    int      `yaml:"timeout_seconds,omitempty"`
	IncludeExtensions []string `yaml:"include_extensions,omitempty"`
	ExcludePatterns   []string `yaml:"exclude_patterns,omitempty"`
}

// ProtocolLock declares the files the agent may not touch.
type ProtocolLock struct {
	ProtectedGlobs []string `yaml:"protected_globs"`
	AllowInPhases  []string `yaml:"allow_in_phases,omitempty"`
}

// Phase is one unit of gated work.
type Phase struct {
	ID          string      `yaml:"id"`
	Description string      `yaml:"description,omitempty"`
	Brief       string      `yaml:"brief,omitempty"`
	Scope       Scope       `yaml:"scope,omitempty"`
	Artifacts   Artifacts   `yaml:"artifacts,omitempty"`
	Gates       GatesConfig `yaml:"gates,omitempty"`
	DriftRules  DriftRules  `yaml:"drift_rules,omitempty"`
}

// Scope lists the gitignore-style include and exclude patterns for a phase.
type Scope struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Artifacts lists paths that must exist when the phase is reviewed. Both
// "artifacts: {must_exist: [...]}" and "artifacts: [...]" are accepted.
type Artifacts struct {
	MustExist []string `yaml:"must_exist,omitempty"`
}

// UnmarshalYAML accepts the mapping and the bare list forms.
func (a *Artifacts) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(&a.MustExist)
	}
	type plain Artifacts
	return node.Decode((*plain)(a))
}

// Command is an argv. A plain string is split on whitespace and a mapping
// with a "command" key is unwrapped.
type Command []string

// UnmarshalYAML accepts the scalar, sequence and mapping forms.
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(node.Value)
		return nil
	case yaml.MappingNode:
		var wrapped struct {
			Command Command `yaml:"command"`
		}
		if err := node.Decode(&wrapped); err != nil {
			return err
		}
		*c = wrapped.Command
		return nil
	}
	var argv []string
	if err := node.Decode(&argv); err != nil {
		return err
	}
	*c = argv
	return nil
}

// DriftRules hold patterns that may never change within this phase.
type DriftRules struct {
	ForbidChanges []string `yaml:"forbid_changes,omitempty"`
}

// GatesConfig is the per-phase gate configuration. Unknown gate names are
// kept in Unknown so validation can report them.
type GatesConfig struct {
	Tests     *TestsGate     `yaml:"tests,omitempty"`
	Lint      *LintGate      `yaml:"lint,omitempty"`
	Docs      *DocsGate      `yaml:"docs,omitempty"`
	Drift     *DriftGate     `yaml:"drift,omitempty"`
	LLMReview *LLMReviewGate `yaml:"llm_review,omitempty"`

	Unknown map[string]any `yaml:",inline"`
}

// TestsGate requires recorded test runs to pass.
type TestsGate struct {
	MustPass    bool              `yaml:"must_pass,omitempty"`
	TestScope   string            `yaml:"test_scope,omitempty"`
	Quarantine  []QuarantineEntry `yaml:"quarantine,omitempty"`
	Unit        *TestSuite        `yaml:"unit,omitempty"`
	Integration *TestSuite        `yaml:"integration,omitempty"`
}

// Split reports whether the gate uses separate unit and integration suites.
func (g *TestsGate) Split() bool {
	return g.Unit != nil || g.Integration != nil
}

// QuarantineEntry excludes a known-flaky test path from scoped runs.
type QuarantineEntry struct {
	Path   string `yaml:"path"`
	Reason string `yaml:"reason"`
}

// TestSuite configures one of the split suites.
type TestSuite struct {
	Command   Command `yaml:"command,omitempty"`
	AllowSkip bool    `yaml:"allow_skip,omitempty"`
}

// LintGate requires a recorded lint run to pass.
type LintGate struct {
	MustPass  bool   `yaml:"must_pass,omitempty"`
	LintScope string `yaml:"lint_scope,omitempty"`
}

// DocsGate requires documentation to be updated within the phase.
type DocsGate struct {
	MustUpdate []string `yaml:"must_update,omitempty"`
}

// DriftGate enables scope drift checking.
type DriftGate struct {
	AllowedOutOfScopeChanges int `yaml:"allowed_out_of_scope_changes"`
}

// LLMReviewGate enables semantic review.
type LLMReviewGate struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and decodes a plan file. Schema problems are reported by Validate.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("plan not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes a plan from YAML bytes.
func Parse(data []byte) (*Plan, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in plan: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("plan is empty")
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errs := validateRaw(raw); len(errs) > 0 {
			return nil, &ValidationError{Errors: errs}
		}
		return nil, fmt.Errorf("invalid plan structure: %w", err)
	}

	sum := sha256.Sum256(data)
	p := &doc.Plan
	p.sha = hex.EncodeToString(sum[:])
	p.raw = raw
	return p, nil
}

// SHA returns the SHA-256 of the plan bytes as loaded.
func (p *Plan) SHA() string {
	return p.sha
}

// Base returns the configured base branch or DefaultBaseBranch.
func (p *Plan) Base() string {
	if p.BaseBranch == "" {
		return DefaultBaseBranch
	}
	return p.BaseBranch
}

// Phase returns the phase with the given id.
func (p *Plan) Phase(id string) (*Phase, error) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, id)
}

// Next returns the phase after id, or nil when id is the last phase.
func (p *Plan) Next(id string) (*Phase, error) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			if i+1 < len(p.Phases) {
				return &p.Phases[i+1], nil
			}
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, id)
}

// PhaseIDs returns phase ids in plan order.
func (p *Plan) PhaseIDs() []string {
	ids := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		ids = append(ids, ph.ID)
	}
	return ids
}

// DocPath strips a "#section" anchor from a docs entry.
func DocPath(entry string) string {
	path, _, _ := strings.Cut(entry, "#")
	return path
}
