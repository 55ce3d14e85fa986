package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KnownGates are the gate names a phase may configure.
var KnownGates = []string{"tests", "lint", "docs", "drift", "llm_review"}

// ValidationError collects every schema problem found in a plan.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid plan: " + e.Errors[0]
	}
	return fmt.Sprintf("invalid plan: %d problems:\n  - %s", len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

// LoadAndValidate loads path and returns a *ValidationError when the schema
// check reports anything.
func LoadAndValidate(path string) (*Plan, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	if errs := p.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return p, nil
}

// IsValidationError reports whether err carries schema problems.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the plan document as written. An empty result means valid.
func (p *Plan) Validate() []string {
	return validateRaw(p.raw)
}

type checker struct {
	errs []string
}

func (c *checker) addf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func validateRaw(doc map[string]any) []string {
	c := &checker{}

	rawPlan, ok := doc["plan"]
	if !ok {
		c.addf("Missing required top-level key: 'plan'")
		return c.errs
	}
	cfg, ok := rawPlan.(map[string]any)
	if !ok {
		c.addf("plan must be a mapping")
		return c.errs
	}

	if id, ok := cfg["id"]; !ok {
		c.addf("Missing required field: plan.id")
	} else if s, ok := id.(string); !ok || strings.TrimSpace(s) == "" {
		c.addf("plan.id must be a non-empty string")
	}
	if v, ok := cfg["summary"]; ok {
		if _, ok := v.(string); !ok {
			c.addf("plan.summary must be a string")
		}
	}
	if v, ok := cfg["base_branch"]; ok {
		if _, ok := v.(string); !ok {
			c.addf("plan.base_branch must be a string")
		}
	}
	c.command(cfg, "test_command", "plan.test_command")
	c.command(cfg, "lint_command", "plan.lint_command")

	rawPhases, ok := cfg["phases"]
	if !ok {
		c.addf("Missing required field: plan.phases")
		return c.errs
	}
	phases, ok := rawPhases.([]any)
	if !ok {
		c.addf("plan.phases must be a list")
		return c.errs
	}
	if len(phases) == 0 {
		c.addf("plan.phases must contain at least one phase")
		return c.errs
	}

	if v, ok := cfg["llm_review_config"]; ok {
		c.llmConfig(v)
	}
	if v, ok := cfg["protocol_lock"]; ok {
		c.protocolLock(v)
	}

	seen := make(map[string]bool)
	for i, raw := range phases {
		c.phase(i, raw, seen)
	}
	return c.errs
}

func (c *checker) command(m map[string]any, key, label string) {
	v, ok := m[key]
	if !ok {
		return
	}
	switch t := v.(type) {
	case string:
	case []any:
		c.stringList(t, label, false)
	case map[string]any:
		cmd, ok := t["command"]
		if !ok {
			c.addf("%s dict must have 'command' key", label)
			return
		}
		c.command(map[string]any{"command": cmd}, "command", label+".command")
	default:
		c.addf("%s must be a string, list or dict", label)
	}
}

// stringList checks that v holds only strings, and optionally no blank ones.
func (c *checker) stringList(items []any, label string, nonEmpty bool) {
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			c.addf("%s must contain only strings", label)
			return
		}
		if nonEmpty && strings.TrimSpace(s) == "" {
			c.addf("%s cannot contain empty strings", label)
			return
		}
	}
}

func (c *checker) list(m map[string]any, key, label string, nonEmpty bool) {
	v, ok := m[key]
	if !ok {
		return
	}
	items, ok := v.([]any)
	if !ok {
		c.addf("%s must be a list", label)
		return
	}
	c.stringList(items, label, nonEmpty)
}

func (c *checker) mapping(v any, label string) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		c.addf("%s must be a dict", label)
	}
	return m, ok
}

func (c *checker) boolean(m map[string]any, key, label string) {
	if v, ok := m[key]; ok {
		if _, ok := v.(bool); !ok {
			c.addf("%s must be a boolean", label)
		}
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

func (c *checker) llmConfig(v any) {
	m, ok := c.mapping(v, "plan.llm_review_config")
	if !ok {
		return
	}
	if model, ok := m["model"]; ok {
		if _, ok := model.(string); !ok {
			c.addf("plan.llm_review_config.model must be a string")
		}
	}
	for _, key := range []string{"max_tokens", "timeout_seconds"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		n, ok := asInt(raw)
		if !ok {
			c.addf("plan.llm_review_config.%s must be an integer", key)
		} else if n <= 0 {
			c.addf("plan.llm_review_config.%s must be positive", key)
		}
	}
	if raw, ok := m["temperature"]; ok {
		t, ok := asNumber(raw)
		if !ok {
			c.addf("plan.llm_review_config.temperature must be a number")
		} else if t < 0 || t > 1 {
			c.addf("plan.llm_review_config.temperature must be between 0 and 1")
		}
	}
	c.list(m, "include_extensions", "plan.llm_review_config.include_extensions", false)
	c.list(m, "exclude_patterns", "plan.llm_review_config.exclude_patterns", false)
}

func (c *checker) protocolLock(v any) {
	m, ok := c.mapping(v, "plan.protocol_lock")
	if !ok {
		return
	}
	c.list(m, "protected_globs", "plan.protocol_lock.protected_globs", true)
	c.list(m, "allow_in_phases", "plan.protocol_lock.allow_in_phases", false)
}

func (c *checker) phase(i int, raw any, seen map[string]bool) {
	prefix := fmt.Sprintf("plan.phases[%d]", i)
	m, ok := c.mapping(raw, prefix)
	if !ok {
		return
	}

	if id, ok := m["id"]; !ok {
		c.addf("%s.id is required", prefix)
	} else if s, ok := id.(string); !ok || strings.TrimSpace(s) == "" {
		c.addf("%s.id must be a non-empty string", prefix)
	} else {
		// Phase ids name files under .repo.
		if strings.ContainsAny(s, "/\\") || strings.Contains(s, "..") {
			c.addf("%s.id must not contain path separators or '..': %s", prefix, s)
		}
		if seen[s] {
			c.addf("Duplicate phase ID: %s", s)
		}
		seen[s] = true
	}

	if d, ok := m["description"]; !ok {
		c.addf("%s.description is required", prefix)
	} else if _, ok := d.(string); !ok {
		c.addf("%s.description must be a string", prefix)
	}

	if v, ok := m["scope"]; ok {
		if s, ok := c.mapping(v, prefix+".scope"); ok {
			c.list(s, "include", prefix+".scope.include", true)
			c.list(s, "exclude", prefix+".scope.exclude", false)
		}
	}
	if v, ok := m["artifacts"]; ok {
		switch a := v.(type) {
		case []any:
			c.stringList(a, prefix+".artifacts", true)
		case map[string]any:
			c.list(a, "must_exist", prefix+".artifacts.must_exist", true)
		default:
			c.addf("%s.artifacts must be a dict", prefix)
		}
	}
	if v, ok := m["gates"]; ok {
		c.gates(v, prefix)
	}
	if v, ok := m["drift_rules"]; ok {
		if d, ok := c.mapping(v, prefix+".drift_rules"); ok {
			c.list(d, "forbid_changes", prefix+".drift_rules.forbid_changes", true)
		}
	}
}

func (c *checker) gates(v any, prefix string) {
	g, ok := c.mapping(v, prefix+".gates")
	if !ok {
		return
	}

	known := make(map[string]bool, len(KnownGates))
	for _, name := range KnownGates {
		known[name] = true
	}
	var unknown []string
	for name := range g {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		c.addf("%s.gates contains unknown gates: %s", prefix, strings.Join(unknown, ", "))
	}

	if raw, ok := g["tests"]; ok {
		if t, ok := c.mapping(raw, prefix+".gates.tests"); ok {
			c.testsGate(t, prefix+".gates.tests")
		}
	}
	if raw, ok := g["lint"]; ok {
		if l, ok := c.mapping(raw, prefix+".gates.lint"); ok {
			c.boolean(l, "must_pass", prefix+".gates.lint.must_pass")
			if s, ok := l["lint_scope"]; ok && s != "scope" && s != "all" {
				c.addf("%s.gates.lint.lint_scope must be 'scope' or 'all'", prefix)
			}
		}
	}
	if raw, ok := g["docs"]; ok {
		if d, ok := c.mapping(raw, prefix+".gates.docs"); ok {
			c.list(d, "must_update", prefix+".gates.docs.must_update", false)
		}
	}
	if raw, ok := g["drift"]; ok {
		if d, ok := c.mapping(raw, prefix+".gates.drift"); ok {
			if v, ok := d["allowed_out_of_scope_changes"]; ok {
				n, ok := asInt(v)
				if !ok {
					c.addf("%s.gates.drift.allowed_out_of_scope_changes must be an integer", prefix)
				} else if n < 0 {
					c.addf("%s.gates.drift.allowed_out_of_scope_changes must be non-negative", prefix)
				}
			}
		}
	}
	if raw, ok := g["llm_review"]; ok {
		if l, ok := c.mapping(raw, prefix+".gates.llm_review"); ok {
			c.boolean(l, "enabled", prefix+".gates.llm_review.enabled")
		}
	}
}

func (c *checker) testsGate(t map[string]any, label string) {
	c.boolean(t, "must_pass", label+".must_pass")
	if s, ok := t["test_scope"]; ok && s != "scope" && s != "all" {
		c.addf("%s.test_scope must be 'scope' or 'all'", label)
	}
	for _, suite := range []string{"unit", "integration"} {
		raw, ok := t[suite]
		if !ok {
			continue
		}
		if s, ok := c.mapping(raw, label+"."+suite); ok {
			c.command(s, "command", label+"."+suite+".command")
			c.boolean(s, "allow_skip", label+"."+suite+".allow_skip")
		}
	}
	raw, ok := t["quarantine"]
	if !ok {
		return
	}
	entries, ok := raw.([]any)
	if !ok {
		c.addf("%s.quarantine must be a list", label)
		return
	}
	for j, e := range entries {
		q, ok := c.mapping(e, fmt.Sprintf("%s.quarantine[%d]", label, j))
		if !ok {
			continue
		}
		for _, field := range []string{"path", "reason"} {
			v, ok := q[field]
			if !ok {
				c.addf("%s.quarantine[%d].%s is required", label, j, field)
			} else if _, ok := v.(string); !ok {
				c.addf("%s.quarantine[%d].%s must be a string", label, j, field)
			}
		}
	}
}
