package austin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/nerrad567/austin-relay/internal/austin/options"
	"github.com/nerrad567/austin-relay/internal/process"
)

// PipeFlag is prepended to every argument list so austin writes
// line-buffered output with metadata framing.
const PipeFlag = "-P"

// Supervisor defaults.
const (
	DefaultBinary            = "austin"
	DefaultDiagnosticTimeout = 100 * time.Millisecond
	DefaultGracefulTimeout   = 5 * time.Second
	DefaultResolveTimeout    = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("austin run already in progress")

// headerFailure is the ProtocolError reason for a missing header.
const headerFailure = "did not start properly"

// Config holds settings for a Supervisor.
type Config struct {
	// Binary is the austin executable. Default: "austin"
	Binary string

	// Env are additional environment variables (key=value format).
	Env []string

	// WorkDir is austin's working directory.
	WorkDir string

	// DiagnosticTimeout bounds the wait for stderr during cleanup.
	// Default: 100ms
	DiagnosticTimeout time.Duration

	// GracefulTimeout is the SIGTERM-to-SIGKILL window on stop.
	// Default: 5s
	GracefulTimeout time.Duration

	// ResolveTimeout bounds the ProcessResolver call. Default: 5s
	ResolveTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor runs austin, parses its output and reports events to a Handler.
//
// A Supervisor runs one austin process at a time. It may be started again
// once a run has returned.
//
// Thread Safety:
//   - Start blocks its caller; State, Metadata, Samples, SamplerPID and
//     Stop are safe to call from other goroutines while it runs.
type Supervisor struct {
	config   Config
	handler  Handler
	resolver ProcessResolver
	logger   Logger

	samples atomic.Int64

	mu      sync.RWMutex
	active  bool // from Start until it returns
	state   RunState
	meta    Metadata
	handle  *process.Handle
	cancel  context.CancelFunc
	outcome *ExitOutcome
}

// NewSupervisor creates a Supervisor that reports to handler.
// A nil handler discards all events.
func NewSupervisor(cfg Config, handler Handler) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.DiagnosticTimeout <= 0 {
		cfg.DiagnosticTimeout = DefaultDiagnosticTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	return &Supervisor{
		config:   cfg,
		handler:  handler,
		resolver: ResolverFunc(resolveFromArgs),
		logger:   noopLogger{},
		state:    StateNotStarted,
		meta:     make(Metadata),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetResolver replaces the ProcessResolver used to identify the profiled
// program. The default only parses the arguments.
func (s *Supervisor) SetResolver(r ProcessResolver) {
	if r == nil {
		r = ResolverFunc(resolveFromArgs)
	}
	s.resolver = r
}

// Start launches austin with args and blocks until the run is over.
//
// An empty args falls back to the host's own arguments. PipeFlag is always
// prepended. Cancelling ctx, or calling Stop, asks austin to terminate:
// sample lines still in flight are discarded, and the footer, stderr drain
// and process wait happen as for any other run.
//
// Returns:
//   - nil: austin exited with status 0
//   - *LaunchError: austin could not be started; no callback fired
//   - *ProtocolError: no header was read; OnTerminate still fired
//   - *TerminatedError: austin died from SIGTERM
//   - *FailedError: any other exit status
func (s *Supervisor) Start(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = os.Args[1:]
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.active = true
	s.state = StateNotStarted
	s.meta = make(Metadata)
	s.handle = nil
	s.outcome = nil
	s.cancel = cancel
	s.mu.Unlock()
	s.samples.Store(0)

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	h, err := process.Launch(process.Config{
		Name:            "austin",
		Binary:          s.config.Binary,
		Args:            append([]string{PipeFlag}, args...),
		Env:             s.config.Env,
		WorkDir:         s.config.WorkDir,
		GracefulTimeout: s.config.GracefulTimeout,
	})
	if err != nil {
		return launchError(err)
	}
	h.SetLogger(s.logger)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	s.logger.Debug("austin launched", "pid", h.PID(), "args", args)

	// stderr is collected from the start so austin never blocks on it.
	diagnostic := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(h.Stderr()) //nolint:errcheck // Partial output is still useful
		diagnostic <- strings.TrimRightFunc(string(data), unicode.IsSpace)
	}()

	// A stop request terminates austin, which bounds every read below.
	stopWatch := context.AfterFunc(runCtx, func() {
		s.logger.Info("stop requested, terminating austin", "pid", h.PID())
		if err := h.Terminate(context.Background()); err != nil {
			s.logger.Warn("terminating austin", "error", err)
		}
	})
	defer stopWatch()

	return s.run(runCtx, cancel, h, args, diagnostic)
}

// run drives a launched process from header to exit classification.
func (s *Supervisor) run(ctx context.Context, cancel context.CancelFunc, h *process.Handle, args []string, diagnostic <-chan string) error {
	lines := NewLineReader(h.Stdout())
	notified := false

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// A handler panicked. Austin is stopped first so every read below
		// ends, then the run is closed out as usual before propagating.
		s.logger.Error("handler panicked, terminating austin", "pid", h.PID(), "panic", r)
		cancel()
		h.Terminate(context.Background()) //nolint:errcheck // Panic path
		s.setState(StateDraining)
		if !notified {
			s.pump(ctx, lines)
			s.readFooter(lines)
			notified = true
			s.notifyTerminate()
		}
		code, diag, err := s.finish(h, lines, diagnostic)
		if err != nil {
			s.setState(StateTerminated)
		} else {
			s.complete(code, diag)
		}
		panic(r)
	}()

	var protoErr *ProtocolError
	header, err := ReadMetadata(lines)
	s.mergeMetadata(header)
	if err != nil || len(header) == 0 {
		protoErr = &ProtocolError{Reason: headerFailure}
		s.logger.Error("austin did not start properly", "pid", h.PID(), "entries", len(header))

		// Austin may still be alive; give it the graceful window to exit.
		timer := time.AfterFunc(s.config.GracefulTimeout, cancel)
		defer timer.Stop()
	} else {
		s.setState(StateRunning)

		info := s.resolve(ctx, h.PID(), args)
		s.logger.Info("austin ready",
			"sampler_pid", h.PID(),
			"target_pid", info.PID,
			"austin", header.Version(),
			"mode", header.Mode(),
		)
		s.handler.OnReady(h.PID(), info.PID, info.CommandLine)

		s.pump(ctx, lines)
	}

	s.setState(StateDraining)
	s.readFooter(lines)
	notified = true
	s.handler.OnTerminate(s.Metadata())

	code, diag, waitErr := s.finish(h, lines, diagnostic)
	if waitErr != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("waiting for austin: %w", waitErr)
	}

	outcome := s.complete(code, diag)
	s.logger.Info("austin exited",
		"pid", h.PID(),
		"exit_code", code,
		"outcome", outcome.Kind,
		"samples", s.samples.Load(),
	)

	if protoErr != nil {
		protoErr.Exit = outcome.Err()
		return protoErr
	}
	return outcome.Err()
}

// readFooter merges the trailing metadata block into the run's metadata.
func (s *Supervisor) readFooter(lines LineReader) {
	footer, err := ReadMetadata(lines)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("reading austin footer", "error", err)
	}
	s.mergeMetadata(footer)
}

// notifyTerminate calls OnTerminate on the panic path. A second panic is
// logged so the process is still reaped.
func (s *Supervisor) notifyTerminate() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("OnTerminate panicked", "panic", r)
		}
	}()
	s.handler.OnTerminate(s.Metadata())
}

// finish drains whatever austin still writes, collects its diagnostic
// output and waits for it to exit.
func (s *Supervisor) finish(h *process.Handle, lines LineReader, diagnostic <-chan string) (int, string, error) {
	// Anything after the footer is not ours; keep the pipe moving.
	go discardLines(lines)

	diag, ok := s.drainDiagnostic(diagnostic)
	if !ok {
		s.logger.Debug("no diagnostic output within timeout", "timeout", s.config.DiagnosticTimeout)
	}

	code, err := h.Wait()
	closeStreams(h)
	return code, diag, err
}

// complete records the classified exit and ends the run.
func (s *Supervisor) complete(code int, diag string) ExitOutcome {
	outcome := Classify(code, diag)
	s.mu.Lock()
	s.outcome = &outcome
	s.state = StateTerminated
	s.mu.Unlock()
	return outcome
}

// pump forwards sample lines until the empty terminator line or end of
// stream. After a stop request lines are consumed but not forwarded.
func (s *Supervisor) pump(ctx context.Context, lines LineReader) {
	for {
		raw, err := lines.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("reading austin samples", "error", err)
			}
			return
		}

		line := bytes.TrimRightFunc(raw, unicode.IsSpace)
		if len(line) == 0 {
			return
		}

		if ctx.Err() != nil {
			s.setState(StateDraining)
			continue
		}

		s.samples.Add(1)
		s.handler.OnSample(line)
	}
}

// resolve identifies the profiled program. Failures degrade to what the
// arguments alone say.
func (s *Supervisor) resolve(ctx context.Context, samplerPID int, args []string) ProcessInfo {
	rctx, cancel := context.WithTimeout(ctx, s.config.ResolveTimeout)
	defer cancel()

	info, err := s.resolver.Resolve(rctx, samplerPID, args)
	if err == nil {
		return info
	}

	s.logger.Warn("could not resolve profiled process", "sampler_pid", samplerPID, "error", err)
	fallback, _ := resolveFromArgs(ctx, samplerPID, args) //nolint:errcheck // Never fails
	return fallback
}

// drainDiagnostic waits up to the diagnostic timeout for austin's stderr.
func (s *Supervisor) drainDiagnostic(diagnostic <-chan string) (string, bool) {
	timer := time.NewTimer(s.config.DiagnosticTimeout)
	defer timer.Stop()

	select {
	case d := <-diagnostic:
		return d, true
	case <-timer.C:
		return "", false
	}
}

// Stop asks the current run to end. It does not wait; Start returns once
// austin has exited. Stop without a run in progress is a no-op.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current run state.
func (s *Supervisor) State() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Metadata returns a copy of the metadata collected so far.
func (s *Supervisor) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Clone()
}

// Samples returns the number of sample lines forwarded in the current run.
func (s *Supervisor) Samples() int64 {
	return s.samples.Load()
}

// SamplerPID returns austin's PID, or 0 before launch.
func (s *Supervisor) SamplerPID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Outcome returns the classified exit of the last finished run.
func (s *Supervisor) Outcome() (ExitOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return ExitOutcome{}, false
	}
	return *s.outcome, true
}

func (s *Supervisor) setState(state RunState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) mergeMetadata(m Metadata) {
	s.mu.Lock()
	s.meta.Merge(m)
	s.mu.Unlock()
}

// launchError maps process launch failures to LaunchError.
func launchError(err error) error {
	reason := ReasonStartFailed
	switch {
	case errors.Is(err, process.ErrNotFound):
		reason = ReasonNotFound
	case errors.Is(err, process.ErrStreamMissing):
		reason = ReasonStreamMissing
	}
	return &LaunchError{Reason: reason, Err: err}
}

// resolveFromArgs builds ProcessInfo from the austin arguments alone.
func resolveFromArgs(_ context.Context, _ int, args []string) (ProcessInfo, error) {
	opts, err := options.Parse(args)
	if err != nil {
		return ProcessInfo{CommandLine: append([]string(nil), args...)}, nil
	}
	return ProcessInfo{PID: opts.TargetPID(), CommandLine: opts.CommandLine()}, nil
}

func discardLines(lines LineReader) {
	for {
		if _, err := lines.ReadLine(); err != nil {
			return
		}
	}
}

func closeStreams(h *process.Handle) {
	h.Stdout().Close() //nolint:errcheck // Read side only
	h.Stderr().Close() //nolint:errcheck // Read side only
}
