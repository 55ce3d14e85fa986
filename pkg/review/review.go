// Package review asks an LLM for a semantic code review of a phase's changes.
package review

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/scope"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

const (
	// MaxFiles caps how many files go into one prompt.
	MaxFiles = 10
	// MaxFileBytes caps how much of each file is sent.
	MaxFileBytes = 50 * 1024

	maxFallbackIssueLen = 200
)

// Settings control file selection and the completion call.
type Settings struct {
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	MaxContextTokens  int
	IncludeExtensions []string
	ExcludePatterns   []string
}

// DefaultSettings returns the built-in review settings.
func DefaultSettings() Settings {
	return Settings{
		Model:             "gpt-4o",
		MaxTokens:         2000,
		Temperature:       0,
		Timeout:           60 * time.Second,
		MaxContextTokens:  100000,
		IncludeExtensions: []string{".py", ".go", ".ts", ".tsx", ".md"},
		ExcludePatterns:   []string{"tests/**", "**/__pycache__/**", "runs/**", ".repo/**"},
	}
}

// WithPlan applies a plan's llm_review_config on top of s.
func (s Settings) WithPlan(cfg *plan.LLMReviewConfig) Settings {
	if cfg == nil {
		return s
	}
	if cfg.Model != "" {
		s.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		s.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		s.Temperature = *cfg.Temperature
	}
	if cfg.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if len(cfg.IncludeExtensions) > 0 {
		s.IncludeExtensions = cfg.IncludeExtensions
	}
	if len(cfg.ExcludePatterns) > 0 {
		s.ExcludePatterns = cfg.ExcludePatterns
	}
	return s
}

// Request describes what to review.
type Request struct {
	PhaseID     string
	Description string
	// Files are repository-relative changed paths.
	Files []string
}

// Result is the parsed review.
type Result struct {
	Approved bool
	Issues   []string
	Reviewed []string
	// Skipped lists files dropped by the file cap or token budget.
	Skipped      []string
	PromptTokens int
	Reply        string
}

// Service runs reviews.
type Service struct {
	completer Completer
	counter   TokenCounter
	guard     *workspace.Guard
	settings  Settings
}

// NewService creates a review service. A nil counter selects ApproxCounter.
func NewService(completer Completer, counter TokenCounter, guard *workspace.Guard, settings Settings) *Service {
	if counter == nil {
		counter = ApproxCounter{}
	}
	return &Service{completer: completer, counter: counter, guard: guard, settings: settings}
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings {
	return s.settings
}

type reviewFile struct {
	path      string
	content   string
	truncated bool
}

// Select filters files down to reviewable code: matching extension, not
// excluded, present on disk and inside the repository.
func (s *Service) Select(files []string) []string {
	exclude := scope.NewMatcher(s.settings.ExcludePatterns)
	exts := make(map[string]bool, len(s.settings.IncludeExtensions))
	for _, e := range s.settings.IncludeExtensions {
		exts[strings.ToLower(e)] = true
	}

	var out []string
	for _, f := range files {
		if !exts[strings.ToLower(path.Ext(f))] || exclude.Match(f) {
			continue
		}
		info, err := s.guard.Stat(f)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Review sends the selected files for review. With nothing to review the
// result is approved without calling the model.
func (s *Service) Review(ctx context.Context, req Request) (*Result, error) {
	candidates := s.Select(req.Files)
	res := &Result{}

	var selected []reviewFile
	budget := s.settings.MaxContextTokens
	used := s.counter.CountTokens(buildPrompt(req, nil))
	for _, f := range candidates {
		if len(selected) >= MaxFiles {
			res.Skipped = append(res.Skipped, f)
			continue
		}
		data, truncated, err := s.guard.ReadFile(f, MaxFileBytes)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		rf := reviewFile{path: f, content: string(data), truncated: truncated}
		cost := s.counter.CountTokens(renderFile(rf))
		if budget > 0 && used+cost > budget {
			res.Skipped = append(res.Skipped, f)
			continue
		}
		used += cost
		selected = append(selected, rf)
		res.Reviewed = append(res.Reviewed, f)
	}

	if len(selected) == 0 {
		res.Approved = true
		return res, nil
	}

	prompt := buildPrompt(req, selected)
	res.PromptTokens = s.counter.CountTokens(prompt)

	callCtx := ctx
	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	reply, err := s.completer.Complete(callCtx, CompletionRequest{
		Model:       s.settings.Model,
		Prompt:      prompt,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
	})
	if err != nil {
		return nil, err
	}
	res.Reply = reply
	res.Approved, res.Issues = ParseReply(reply)
	return res, nil
}

func renderFile(f reviewFile) string {
	var sb strings.Builder
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(&sb, "\n%s\n# File: %s\n%s\n", bar, f.path, bar)
	sb.WriteString(f.content)
	if f.truncated {
		fmt.Fprintf(&sb, "\n... (truncated at %d bytes)", MaxFileBytes)
	}
	sb.WriteString("\n")
	return sb.String()
}

func buildPrompt(req Request, files []reviewFile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a senior code reviewer. Review this code for phase %s: %q\n\n", req.PhaseID, req.Description)
	fmt.Fprintf(&sb, "%d file(s) to review:\n", len(files))
	for _, f := range files {
		sb.WriteString(renderFile(f))
	}
	sb.WriteString(`
Review criteria:
1. Architecture: Does it follow good design patterns? Is it well-structured?
2. Naming: Are names clear and consistent?
3. Complexity: Is the code simple and maintainable?
4. Documentation: Are complex parts explained?
5. Edge cases: Are errors handled properly? Are edge cases covered?
6. Best practices: Does it follow the conventions of its language?

Instructions:
- If you find issues, list each one on its own line starting with "- Issue:"
- Be specific: reference function names and line numbers where possible
- Focus on meaningful problems, not nitpicks
- If the code is good quality, respond with exactly: "APPROVED - Code meets quality standards"
`)
	return sb.String()
}

// ParseReply interprets the model's answer. Any reply containing APPROVED
// passes. Otherwise "- Issue:" lines and "- label: text" lines become issues,
// falling back to the start of the reply.
func ParseReply(reply string) (approved bool, issues []string) {
	text := strings.TrimSpace(reply)
	if strings.Contains(strings.ToUpper(text), "APPROVED") {
		return true, nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- Issue:"):
			issues = append(issues, "Code quality: "+strings.TrimSpace(strings.TrimPrefix(line, "- Issue:")))
		case strings.HasPrefix(line, "-") && strings.Contains(line, ":"):
			issues = append(issues, "Code quality: "+strings.TrimSpace(line[1:]))
		}
	}
	if len(issues) == 0 && text != "" {
		fallback := text
		if len(fallback) > maxFallbackIssueLen {
			fallback = fallback[:maxFallbackIssueLen]
		}
		issues = append(issues, "Code quality: "+fallback)
	}
	if len(issues) == 0 {
		issues = append(issues, "Code quality: empty review response")
	}
	return false, issues
}
