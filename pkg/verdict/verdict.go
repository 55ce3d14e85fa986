// Package verdict persists judge outcomes as approval or rejection markers.
//
// Each phase has at most one live marker in the critiques directory:
//
//	<id>.OK, <id>.OK.json   approval
//	<id>.md, <id>.json      rejection
//
// A writer first commits the new marker atomically and only then retracts
// the opposite one, so a crash can leave both but never neither. Readers
// treat approval as authoritative when both are present.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/gates"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
)

// ErrNotFound is returned when a phase has no verdict of the requested kind.
var ErrNotFound = errors.New("verdict not found")

// Category names why a verdict was reached.
type Category string

const (
	// CategoryGates is an ordinary verdict from the gate engine.
	CategoryGates Category = "gates"
	// CategoryPlan is a rejection because the plan failed to load or validate.
	CategoryPlan Category = "plan"
	// CategoryTamper is a rejection because protocol files were modified.
	CategoryTamper Category = "tamper"
	// CategoryStateCorruption is a rejection because the phase binding broke.
	CategoryStateCorruption Category = "state_corruption"
)

// State is the marker currently on disk for a phase.
type State string

const (
	StateNone     State = "none"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Verdict is the durable outcome of one judge run.
type Verdict struct {
	PhaseID     string         `json:"phase_id"`
	RunID       string         `json:"run_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Passed      bool           `json:"passed"`
	Category    Category       `json:"category"`
	Issues      []string       `json:"issues"`
	IssueCount  int            `json:"issue_count"`
	GateResults []gates.Result `json:"gate_results,omitempty"`
}

// New builds a verdict. It passes exactly when issues is empty.
func New(phaseID string, category Category, issues []string, results []gates.Result) *Verdict {
	if issues == nil {
		issues = []string{}
	}
	return &Verdict{
		PhaseID:     phaseID,
		RunID:       uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Passed:      len(issues) == 0,
		Category:    category,
		Issues:      issues,
		IssueCount:  len(issues),
		GateResults: results,
	}
}

// Writer reads and writes markers in one critiques directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the critiques directory.
func (w *Writer) Dir() string {
	return w.dir
}

// RejectionPath returns the human-readable rejection file for phaseID.
func (w *Writer) RejectionPath(phaseID string) string {
	return filepath.Join(w.dir, phaseID+".md")
}

func (w *Writer) rejectionJSONPath(phaseID string) string {
	return filepath.Join(w.dir, phaseID+".json")
}

// ApprovalPath returns the approval marker for phaseID.
func (w *Writer) ApprovalPath(phaseID string) string {
	return filepath.Join(w.dir, phaseID+".OK")
}

func (w *Writer) approvalJSONPath(phaseID string) string {
	return filepath.Join(w.dir, phaseID+".OK.json")
}

// WriteApproval commits an approval and then retracts any rejection.
func (w *Writer) WriteApproval(v *Verdict) error {
	if !v.Passed {
		return fmt.Errorf("cannot write approval for %s with %d issue(s)", v.PhaseID, v.IssueCount)
	}
	if err := w.write(v, w.approvalJSONPath(v.PhaseID), w.ApprovalPath(v.PhaseID), RenderApproval(v)); err != nil {
		return err
	}
	return removeAll(w.RejectionPath(v.PhaseID), w.rejectionJSONPath(v.PhaseID))
}

// WriteRejection commits a rejection and then retracts any approval.
func (w *Writer) WriteRejection(v *Verdict) error {
	if v.Passed {
		return fmt.Errorf("cannot write rejection for %s without issues", v.PhaseID)
	}
	if err := w.write(v, w.rejectionJSONPath(v.PhaseID), w.RejectionPath(v.PhaseID), RenderRejection(v)); err != nil {
		return err
	}
	return removeAll(w.ApprovalPath(v.PhaseID), w.approvalJSONPath(v.PhaseID))
}

// Write dispatches on v.Passed.
func (w *Writer) Write(v *Verdict) error {
	if v.Passed {
		return w.WriteApproval(v)
	}
	return w.WriteRejection(v)
}

func (w *Writer) write(v *Verdict, jsonPath, textPath, text string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if err := state.WriteFileAtomic(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write verdict JSON: %w", err)
	}
	if err := state.WriteFileAtomic(textPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write verdict: %w", err)
	}
	return nil
}

func removeAll(paths ...string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to retract %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// Status reports which marker exists for phaseID.
func (w *Writer) Status(phaseID string) (State, error) {
	approved, err := exists(w.ApprovalPath(phaseID))
	if err != nil {
		return StateNone, err
	}
	if approved {
		return StateApproved, nil
	}
	for _, p := range []string{w.RejectionPath(phaseID), w.rejectionJSONPath(phaseID)} {
		rejected, err := exists(p)
		if err != nil {
			return StateNone, err
		}
		if rejected {
			return StateRejected, nil
		}
	}
	return StateNone, nil
}

// IsApproved reports whether phaseID has an approval marker.
func (w *Writer) IsApproved(phaseID string) bool {
	st, err := w.Status(phaseID)
	return err == nil && st == StateApproved
}

// ReadRejection loads the structured rejection for phaseID.
func (w *Writer) ReadRejection(phaseID string) (*Verdict, error) {
	return readJSON(w.rejectionJSONPath(phaseID))
}

// ReadApproval loads the structured approval for phaseID.
func (w *Writer) ReadApproval(phaseID string) (*Verdict, error) {
	return readJSON(w.approvalJSONPath(phaseID))
}

func readJSON(path string) (*Verdict, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read verdict: %w", err)
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse verdict %s: %w", filepath.Base(path), err)
	}
	return &v, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
