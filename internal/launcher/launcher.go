// Package launcher starts the server binary from the directory the launcher
// itself lives in, forwarding arguments, standard streams, signals and the
// exit status.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/FreePeak/database-mcp-server/internal/logger"
)

const (
	// EntryPointEnv overrides the program to start. Relative paths are
	// resolved against the launcher's directory.
	EntryPointEnv = "DATABASE_MCP_ENTRYPOINT"

	// DefaultEntryPoint is the server binary expected next to the launcher
	DefaultEntryPoint = "database-mcp-server"
)

// Exit codes for launcher failures, following shell conventions
const (
	ExitResolutionFailure = 1
	ExitNotExecutable     = 126
	ExitNotFound          = 127
)

// ResolutionError means the launcher could not determine or enter its own directory
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve launcher directory: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ExitCode is the launcher's exit code for this failure
func (e *ResolutionError) ExitCode() int { return ExitResolutionFailure }

// ExecutionError means the entry point could not be found or started
type ExecutionError struct {
	Path string
	Err  error

	code int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cannot execute %s: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ExitCode is 127 for a missing program and 126 for one that cannot run
func (e *ExecutionError) ExitCode() int { return e.code }

// Launcher runs the entry point program
type Launcher struct {
	// Executable reports the path of the running launcher
	Executable func() (string, error)

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// signals receives the signals forwarded to the child. When nil, SIGINT
	// and SIGTERM are subscribed for the duration of Run.
	signals chan os.Signal
}

// New creates a launcher wired to the current process
func New() *Launcher {
	return &Launcher{
		Executable: os.Executable,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Dir returns the directory of the launcher executable with symlinks resolved
func (l *Launcher) Dir() (string, error) {
	exe, err := l.Executable()
	if err != nil {
		return "", &ResolutionError{Err: err}
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", &ResolutionError{Err: err}
	}
	abs, err := filepath.Abs(exe)
	if err != nil {
		return "", &ResolutionError{Err: err}
	}
	return filepath.Dir(abs), nil
}

// EntryPoint returns the program to start for a launcher living in dir
func EntryPoint(dir string) string {
	if override := os.Getenv(EntryPointEnv); override != "" {
		if filepath.IsAbs(override) {
			return override
		}
		return filepath.Join(dir, override)
	}

	name := DefaultEntryPoint
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}

// Run changes into the launcher directory, runs the entry point with args
// verbatim and returns its exit code. A child killed by signal N yields
// 128+N. Launcher failures return a *ResolutionError or *ExecutionError
// together with the exit code to use.
func (l *Launcher) Run(ctx context.Context, args []string) (int, error) {
	dir, err := l.Dir()
	if err != nil {
		return ExitResolutionFailure, err
	}
	if err := os.Chdir(dir); err != nil {
		return ExitResolutionFailure, &ResolutionError{Err: err}
	}

	path := EntryPoint(dir)
	if err := checkExecutable(path); err != nil {
		return err.ExitCode(), err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	signals := l.signals
	if signals == nil {
		signals = make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
	}

	if err := cmd.Start(); err != nil {
		execErr := &ExecutionError{Path: path, Err: err, code: ExitNotFound}
		if errors.Is(err, fs.ErrPermission) {
			execErr.code = ExitNotExecutable
		}
		return execErr.ExitCode(), execErr
	}

	done := make(chan struct{})
	defer close(done)
	go forwardSignals(ctx, cmd.Process, signals, done)

	return exitCode(cmd.Wait()), nil
}

// checkExecutable fails without starting anything when path is missing or
// not a runnable file.
func checkExecutable(path string) *ExecutionError {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ExecutionError{Path: path, Err: err, code: ExitNotFound}
		}
		return &ExecutionError{Path: path, Err: err, code: ExitNotExecutable}
	}
	if info.IsDir() {
		return &ExecutionError{Path: path, Err: errors.New("is a directory"), code: ExitNotExecutable}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return &ExecutionError{Path: path, Err: fs.ErrPermission, code: ExitNotExecutable}
	}
	return nil
}

// forwardSignals relays signals to the child until it exits. The launcher
// itself keeps waiting; the child decides how to react.
func forwardSignals(ctx context.Context, proc *os.Process, signals <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-signals:
			logger.Debug("Forwarding %v to process %d", sig, proc.Pid)
			if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("Failed to forward %v: %v", sig, err)
			}
		case <-ctx.Done():
			_ = proc.Signal(os.Interrupt)
			return
		case <-done:
			return
		}
	}
}

// exitCode maps the result of Wait onto the launcher's exit code
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitResolutionFailure
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// Main runs the launcher for the current process and returns the exit code.
// Launcher failures go to stderr; stdout belongs to the child.
func Main(args []string) int {
	code, err := New().Run(context.Background(), args)
	if err != nil {
		logger.Error("%v", err)
	}
	return code
}
