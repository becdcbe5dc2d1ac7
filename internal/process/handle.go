package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a launched process.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// defaultGracefulTimeout is used when Config.GracefulTimeout is zero.
const defaultGracefulTimeout = 5 * time.Second

var (
	// ErrNotFound is returned by Launch when the binary cannot be located.
	ErrNotFound = errors.New("executable not found")

	// ErrStreamMissing is returned by Launch when a standard stream cannot be set up.
	ErrStreamMissing = errors.New("stream missing")
)

// Config holds configuration for a launched subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable, or a name resolved through PATH.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// GracefulTimeout is how long Terminate waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for the process package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle is a running child process together with its three standard streams.
//
// The streams are plain OS pipes owned by the caller: reaping the process
// does not close them, so output buffered in a pipe can still be read after
// the child has exited. The caller must close Stdout and Stderr when done.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Handle struct {
	config Config
	logger Logger
	cmd    *exec.Cmd

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	startTime time.Time
	done      chan struct{}

	mu       sync.RWMutex
	status   Status
	exitCode int
	waitErr  error
	endTime  time.Time
}

// Launch starts the configured binary in its own process group with piped
// stdin, stdout and stderr.
//
// exec.Command is used rather than CommandContext: stopping a run is a
// graceful SIGTERM through Terminate, never an immediate kill.
//
// Returns:
//   - *Handle: The running process
//   - error: ErrNotFound if the binary does not exist, ErrStreamMissing if
//     a pipe cannot be created, or the start error otherwise
func Launch(cfg Config) (*Handle, error) {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // Binary comes from operator configuration

	// A new process group lets Terminate reach the profiled child too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	p, err := newPipes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamMissing, err)
	}
	cmd.Stdin = p.stdinR
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW

	if err := cmd.Start(); err != nil {
		p.closeAll()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cfg.Binary)
		}
		return nil, fmt.Errorf("starting %s: %w", cfg.Binary, err)
	}

	// The child holds its own copies now.
	p.closeChildEnds()

	h := &Handle{
		config:    cfg,
		logger:    noopLogger{},
		cmd:       cmd,
		stdin:     p.stdinW,
		stdout:    p.stdoutR,
		stderr:    p.stderrR,
		startTime: time.Now(),
		done:      make(chan struct{}),
		status:    StatusRunning,
	}

	go h.reap()

	return h, nil
}

// SetLogger sets the logger for the handle.
func (h *Handle) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *Handle) log() Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger
}

// reap waits for the process to exit and records its exit code.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	code := ExitCode(h.cmd.ProcessState)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Non-zero exits are reported through the code.
		err = nil
	}

	h.mu.Lock()
	h.status = StatusExited
	h.exitCode = code
	h.waitErr = err
	h.endTime = time.Now()
	h.mu.Unlock()

	// Nothing more will be written to stdin.
	h.stdin.Close() //nolint:errcheck // Best effort

	h.log().Debug("process exited",
		"name", h.config.Name,
		"pid", h.PID(),
		"exit_code", code,
	)

	close(h.done)
}

// PID returns the process ID.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Stdin returns the write end of the child's standard input.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout returns the read end of the child's standard output.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Stderr returns the read end of the child's standard error.
func (h *Handle) Stderr() io.ReadCloser { return h.stderr }

// Done returns a channel that is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its exit code.
// Signal deaths are reported as the negative signal number.
// The error is only set when the wait itself failed.
func (h *Handle) Wait() (int, error) {
	<-h.done

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode, h.waitErr
}

// Signal sends sig to the process group. A group that has already gone is
// not an error.
func (h *Handle) Signal(sig syscall.Signal) error {
	// Negative PID addresses the process group created via Setpgid.
	if err := syscall.Kill(-h.PID(), sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signalling process group %s: %w", h.config.Name, err)
	}
	return nil
}

// Terminate asks the process group to stop with SIGTERM and escalates to
// SIGKILL after the graceful timeout, or immediately if ctx is done first.
// It returns once the process has exited.
func (h *Handle) Terminate(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.log().Info("stopping process", "name", h.config.Name, "pid", h.PID())

	if err := h.Signal(syscall.SIGTERM); err != nil {
		h.log().Warn("failed to send SIGTERM to process group", "name", h.config.Name, "error", err)
	}

	timer := time.NewTimer(h.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		h.log().Info("process stopped gracefully", "name", h.config.Name)
		return nil
	case <-timer.C:
		h.log().Warn("graceful shutdown timeout, sending SIGKILL",
			"name", h.config.Name,
			"timeout", h.config.GracefulTimeout,
		)
	case <-ctx.Done():
		h.log().Warn("stop abandoned, sending SIGKILL", "name", h.config.Name)
	}

	if err := h.Signal(syscall.SIGKILL); err != nil {
		return err
	}

	<-h.done
	h.log().Info("process killed", "name", h.config.Name)
	return nil
}

// Stats describes a launched process.
type Stats struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	PID      int           `json:"pid"`
	Uptime   time.Duration `json:"uptime"`
	ExitCode *int          `json:"exit_code,omitempty"`
}

// Stats returns current statistics for the process.
func (h *Handle) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Name:   h.config.Name,
		Status: h.status,
		PID:    h.cmd.Process.Pid,
	}

	if h.status == StatusExited {
		code := h.exitCode
		stats.ExitCode = &code
		stats.Uptime = h.endTime.Sub(h.startTime)
	} else {
		stats.Uptime = time.Since(h.startTime)
	}

	return stats
}

// ExitCode converts a process state into an exit code, reporting death by
// signal as the negative signal number. A nil state yields -1.
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// pipes holds both ends of the three standard stream pipes.
type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func newPipes() (*pipes, error) {
	p := &pipes{}
	var err error

	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	return p, nil
}

func (p *pipes) closeChildEnds() {
	for _, f := range []*os.File{p.stdinR, p.stdoutW, p.stderrW} {
		if f != nil {
			f.Close() //nolint:errcheck // Parent copy only
		}
	}
}

func (p *pipes) closeAll() {
	p.closeChildEnds()
	for _, f := range []*os.File{p.stdinW, p.stdoutR, p.stderrR} {
		if f != nil {
			f.Close() //nolint:errcheck // Error path cleanup
		}
	}
}
