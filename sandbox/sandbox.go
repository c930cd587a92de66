// Package sandbox provides a per-job scratch workspace in which the agent
// can run a fixed set of read-only text tools.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

// DefaultCommands are the tools the agent may run.
var DefaultCommands = []string{"grep", "cat", "ls", "find", "head", "tail", "wc", "sort", "uniq", "awk", "sed"}

const (
	defaultCommandTimeout = 30 * time.Second
	defaultMaxOutput      = 64 << 10
)

var (
	// ErrCommandNotAllowed is returned for commands outside the allowlist.
	ErrCommandNotAllowed = errors.New("sandbox: command not allowed")
	// ErrPathEscape is returned when a path or argument points outside the workspace.
	ErrPathEscape = errors.New("sandbox: path escapes workspace")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sandbox: closed")
)

// ExecError is an infrastructure failure running a command (as opposed to
// the command itself exiting non-zero).
type ExecError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox: %s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient execution failure.
func IsRetryable(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Retryable
}

// Config configures a Sandbox.
type Config struct {
	// BaseDir is where the workspace directory is created (default: os.TempDir()).
	BaseDir string

	// Commands overrides DefaultCommands.
	Commands []string

	// CommandTimeout bounds each command (default: 30s).
	CommandTimeout time.Duration

	// MaxOutput caps captured stdout and stderr, each (default: 64 KiB).
	MaxOutput int
}

// Result is the outcome of one command.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Sandbox is an isolated working directory.
type Sandbox struct {
	dir       string
	commands  []string
	timeout   time.Duration
	maxOutput int
	files     []string
	closed    bool
}

// New creates a fresh workspace.
func New(cfg Config) (*Sandbox, error) {
	dir, err := os.MkdirTemp(cfg.BaseDir, "callstream-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create workspace: %w", err)
	}
	commands := cfg.Commands
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &Sandbox{
		dir:       dir,
		commands:  slices.Clone(commands),
		timeout:   timeout,
		maxOutput: maxOutput,
	}, nil
}

// Dir returns the workspace root.
func (s *Sandbox) Dir() string {
	return s.dir
}

// Commands returns the allowlist.
func (s *Sandbox) Commands() []string {
	return slices.Clone(s.commands)
}

// Files returns every path written so far, sorted.
func (s *Sandbox) Files() []string {
	return slices.Clone(s.files)
}

// WriteFiles writes workspace-relative files, creating directories as needed.
func (s *Sandbox) WriteFiles(files map[string]string) error {
	if s.closed {
		return ErrClosed
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		full, err := s.resolve(rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("sandbox: create directory for %q: %w", rel, err)
		}
		if err := os.WriteFile(full, []byte(files[rel]), 0o644); err != nil {
			return fmt.Errorf("sandbox: write %q: %w", rel, err)
		}
		clean := filepath.ToSlash(filepath.Clean(rel))
		if !slices.Contains(s.files, clean) {
			s.files = append(s.files, clean)
		}
	}
	sort.Strings(s.files)
	return nil
}

func (s *Sandbox) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return filepath.Join(s.dir, clean), nil
}

// Run executes an allowlisted command in the workspace. A command that
// exits non-zero is reported through Result.ExitCode, not as an error.
func (s *Sandbox) Run(ctx context.Context, name string, args []string) (Result, error) {
	if s.closed {
		return Result{}, ErrClosed
	}
	if err := s.check(name, args); err != nil {
		return Result{}, err
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return Result{}, &ExecError{Op: "lookup " + name, Err: err}
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// #nosec G204 -- name is allowlisted and arguments are checked above.
	cmd := exec.CommandContext(execCtx, path, args...)
	cmd.Dir = s.dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "LC_ALL=C", "HOME=" + s.dir}
	stdout := &cappedBuffer{limit: s.maxOutput}
	stderr := &cappedBuffer{limit: s.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	result := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if execCtx.Err() != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, &ExecError{Op: name + " timed out", Retryable: true, Err: execCtx.Err()}
		}
		return result, &ExecError{Op: name + " canceled", Err: execCtx.Err()}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &ExecError{Op: "start " + name, Retryable: true, Err: runErr}
	}
	return result, nil
}

// check enforces the allowlist and keeps arguments inside the workspace.
func (s *Sandbox) check(name string, args []string) error {
	if !slices.Contains(s.commands, name) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrCommandNotAllowed, name, strings.Join(s.commands, ", "))
	}
	for i, arg := range args {
		if filepath.IsAbs(arg) || arg == ".." || strings.HasPrefix(arg, "../") || strings.Contains(arg, "/../") {
			return fmt.Errorf("%w: %q", ErrPathEscape, arg)
		}
		switch name {
		case "find":
			switch arg {
			case "-delete", "-fprint", "-fprintf", "-fls":
				return fmt.Errorf("%w: find %s", ErrCommandNotAllowed, arg)
			case "-exec", "-execdir", "-ok", "-okdir":
				if i+1 >= len(args) || !slices.Contains(s.commands, args[i+1]) {
					return fmt.Errorf("%w: find %s must run an allowed command", ErrCommandNotAllowed, arg)
				}
			}
		case "sed":
			if arg == "-i" || strings.HasPrefix(arg, "--in-place") || (strings.HasPrefix(arg, "-i") && !strings.HasPrefix(arg, "--")) {
				return fmt.Errorf("%w: sed in-place editing", ErrCommandNotAllowed)
			}
		case "awk":
			if strings.Contains(arg, "system(") || strings.Contains(arg, "| getline") || strings.Contains(arg, "print >") {
				return fmt.Errorf("%w: awk side effects", ErrCommandNotAllowed)
			}
		case "sort":
			if arg == "-o" || strings.HasPrefix(arg, "--output") {
				return fmt.Errorf("%w: sort output files", ErrCommandNotAllowed)
			}
		}
	}
	return nil
}

// Close removes the workspace.
func (s *Sandbox) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("sandbox: remove workspace: %w", err)
	}
	return nil
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
