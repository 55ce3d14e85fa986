// Package trace runs gate commands and records their outcome as trace files.
//
// A trace lives at <dir>/last_<name>.txt and its first line is "Exit code: N".
package trace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
)

const (
	// DefaultTimeout bounds a recorded command.
	DefaultTimeout = 10 * time.Minute

	// TimeoutExitCode is recorded when a command is killed for running too long.
	TimeoutExitCode = 124

	// waitDelay bounds output collection after a killed command.
	waitDelay = 5 * time.Second

	exitCodePrefix = "Exit code:"
	timedOutPrefix = "Timed out after"
)

// ErrToolNotFound is returned when the command's executable is not installed.
// No trace is left behind, so the gate reports the run as missing.
var ErrToolNotFound = errors.New("tool not found")

// CommandError reports a command that could not be started.
type CommandError struct {
	Name    string
	Command []string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("trace '%s' could not run %q: %v", e.Name, strings.Join(e.Command, " "), e.Err)
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

// RunOptions describe one recorded command.
type RunOptions struct {
	Name    string
	Command []string
	// Dir is the working directory, normally the repository root.
	Dir string
	// TracesDir receives the trace file.
	TracesDir string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// Record is the parsed outcome of a trace.
type Record struct {
	Name     string
	Path     string
	Found    bool
	Parsed   bool
	ExitCode int
	TimedOut bool
	Timeout  string
}

// Passed reports whether the trace exists and recorded exit code 0.
func (r Record) Passed() bool {
	return r.Found && r.Parsed && r.ExitCode == 0
}

// Path returns the trace file for name.
func Path(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("last_%s.txt", name))
}

// Run executes the command and writes its trace atomically. A non-zero exit
// is recorded, not returned as an error.
func Run(ctx context.Context, opts RunOptions) (Record, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return Record{}, &CommandError{Name: opts.Name, Command: opts.Command, Err: errors.New("empty command")}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	path := Path(opts.TracesDir, opts.Name)

	// Paths with a separator resolve against Dir when the process starts.
	if !strings.ContainsRune(opts.Command[0], '/') {
		if _, err := exec.LookPath(opts.Command[0]); err != nil {
			return Record{}, toolNotFound(opts, path)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()

	rec := Record{Name: opts.Name, Path: path, Found: true, Parsed: true}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		rec.ExitCode = TimeoutExitCode
		rec.TimedOut = true
		rec.Timeout = timeout.String()
	case ctx.Err() != nil:
		return Record{}, fmt.Errorf("trace '%s' cancelled: %w", opts.Name, ctx.Err())
	case errors.As(runErr, &exitErr):
		rec.ExitCode = exitErr.ExitCode()
	case errors.Is(runErr, os.ErrNotExist):
		return Record{}, toolNotFound(opts, path)
	case runErr != nil:
		return Record{}, &CommandError{Name: opts.Name, Command: opts.Command, Err: runErr}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\n", exitCodePrefix, rec.ExitCode)
	if rec.TimedOut {
		fmt.Fprintf(&buf, "%s %s\n", timedOutPrefix, rec.Timeout)
	}
	fmt.Fprintf(&buf, "Command: %s\n", strings.Join(opts.Command, " "))
	fmt.Fprintf(&buf, "Timestamp: %s\n", started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Duration: %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(&buf, "\n=== STDOUT ===\n%s\n", stdout.String())
	fmt.Fprintf(&buf, "\n=== STDERR ===\n%s\n", stderr.String())

	if err := os.MkdirAll(opts.TracesDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("failed to create traces directory: %w", err)
	}
	if err := state.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return Record{}, fmt.Errorf("failed to write trace: %w", err)
	}
	return rec, nil
}

func toolNotFound(opts RunOptions, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear stale trace: %w", err)
	}
	return &CommandError{Name: opts.Name, Command: opts.Command, Err: fmt.Errorf("%w: %s", ErrToolNotFound, opts.Command[0])}
}

// Read parses the trace for name. A missing file yields Found=false and a
// file without an exit code line yields Parsed=false; neither is an error.
func Read(dir, name string) (Record, error) {
	path := Path(dir, name)
	rec := Record{Name: name, Path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to read trace: %w", err)
	}
	defer f.Close()
	rec.Found = true

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, exitCodePrefix) && !rec.Parsed:
			code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, exitCodePrefix)))
			if err != nil {
				return rec, nil
			}
			rec.ExitCode = code
			rec.Parsed = true
		case strings.HasPrefix(line, timedOutPrefix):
			rec.TimedOut = true
			rec.Timeout = strings.TrimSpace(strings.TrimPrefix(line, timedOutPrefix))
		case line == "=== STDOUT ===":
			return rec, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return rec, fmt.Errorf("failed to scan trace: %w", err)
	}
	return rec, nil
}
