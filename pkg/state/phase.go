package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActivePhase is returned by LoadCurrent when no phase has been started.
var ErrNoActivePhase = errors.New("no active phase")

const currentKey = "current"

// Mode is the operating mode recorded in a phase context.
type Mode string

const (
	// ModeExplore allows the agent to iterate freely.
	ModeExplore Mode = "EXPLORE"
	// ModeLock signals that the phase is converging and overrides are frozen.
	ModeLock Mode = "LOCK"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExplore, ModeLock:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected %s or %s)", s, ModeExplore, ModeLock)
	}
}

// Current is the active phase pointer together with the binding captured at start.
type Current struct {
	PhaseID     string    `json:"phase_id"`
	StartedAt   time.Time `json:"started_at"`
	BaselineSHA string    `json:"baseline_sha"`
	PlanSHA     string    `json:"plan_sha,omitempty"`
	ManifestSHA string    `json:"manifest_sha,omitempty"`
}

// PhaseContext is the mutable per-phase record.
type PhaseContext struct {
	PhaseID     string         `json:"phase_id"`
	Mode        Mode           `json:"mode"`
	TestCmd     []string       `json:"test_cmd,omitempty"`
	LintCmd     []string       `json:"lint_cmd,omitempty"`
	BaselineSHA string         `json:"baseline_sha,omitempty"`
	Counters    map[string]int `json:"counters"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewPhaseContext returns the default context for a phase.
func NewPhaseContext(phaseID string) *PhaseContext {
	now := time.Now().UTC()
	return &PhaseContext{
		PhaseID:   phaseID,
		Mode:      ModeExplore,
		Counters:  make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Increment bumps a named counter and returns the new value.
func (c *PhaseContext) Increment(name string) int {
	if c.Counters == nil {
		c.Counters = make(map[string]int)
	}
	c.Counters[name]++
	return c.Counters[name]
}

func contextKey(phaseID string) string {
	return phaseID + ".ctx"
}

// LoadContext returns the context for phaseID, or defaults when none is stored.
func (s *Store) LoadContext(phaseID string) (*PhaseContext, error) {
	pc := NewPhaseContext(phaseID)
	if err := s.Read(contextKey(phaseID), pc); err != nil {
		return nil, err
	}
	if pc.Counters == nil {
		pc.Counters = make(map[string]int)
	}
	if pc.Mode == "" {
		pc.Mode = ModeExplore
	}
	return pc, nil
}

// SaveContext persists pc.
func (s *Store) SaveContext(pc *PhaseContext) error {
	if pc.PhaseID == "" {
		return fmt.Errorf("state: phase context has no phase id")
	}
	pc.UpdatedAt = time.Now().UTC()
	return s.Write(contextKey(pc.PhaseID), pc)
}

// UpdateContext loads the context for phaseID, applies fn, and saves the result.
// Nothing is written when fn returns an error.
func (s *Store) UpdateContext(phaseID string, fn func(*PhaseContext) error) (*PhaseContext, error) {
	pc, err := s.LoadContext(phaseID)
	if err != nil {
		return nil, err
	}
	if err := fn(pc); err != nil {
		return nil, err
	}
	if err := s.SaveContext(pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// LoadCurrent returns the active phase pointer or ErrNoActivePhase.
func (s *Store) LoadCurrent() (*Current, error) {
	var cur Current
	if err := s.Read(currentKey, &cur); err != nil {
		return nil, err
	}
	if cur.PhaseID == "" {
		return nil, ErrNoActivePhase
	}
	return &cur, nil
}

// SaveCurrent replaces the active phase pointer.
func (s *Store) SaveCurrent(cur *Current) error {
	if cur.PhaseID == "" {
		return fmt.Errorf("state: current phase has no phase id")
	}
	return s.Write(currentKey, cur)
}

// ClearCurrent removes the active phase pointer.
func (s *Store) ClearCurrent() error {
	return s.Delete(currentKey)
}
