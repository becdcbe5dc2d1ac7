package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/austin-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/austin-relay/internal/process"
	"github.com/nerrad567/austin-relay/internal/runs"
)

var (
	// ErrNoArgs is returned by New when no austin arguments are configured.
	ErrNoArgs = errors.New("relay: austin arguments are required")

	// ErrRestartLimit wraps the last run error once MaxRestartAttempts is reached.
	ErrRestartLimit = errors.New("relay: restart limit reached")
)

// Logger defines the logging interface for the relay.
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

// SummaryWriter records the summary of a finished run.
type SummaryWriter interface {
	WriteRunSummary(s influxdb.RunSummary)
}

// Deps holds the dependencies of a Relay. Every sink is optional; leave a
// field nil to disable it.
type Deps struct {
	Config Config
	Logger Logger

	Runs      runs.Repository
	Publisher Publisher
	Topics    mqtt.Topics
	QoS       byte
	Summaries SummaryWriter
	Hub       Broadcaster

	// Resolver identifies the profiled program. Nil uses argument parsing only.
	Resolver austin.ProcessResolver

	// Handler receives every run's events after the built-in sinks.
	Handler austin.Handler
}

// Status is a snapshot of the relay.
type Status struct {
	// Active is true while Run is executing, including backoff waits.
	Active bool `json:"active"`

	State       austin.RunState `json:"state"`
	RunID       string          `json:"run_id,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	SamplerPID  int             `json:"sampler_pid,omitempty"`
	TargetPID   int             `json:"target_pid,omitempty"`
	CommandLine []string        `json:"command_line,omitempty"`
	Samples     int64           `json:"samples"`
	Restarts    int             `json:"restarts"`
	LastOutcome runs.Outcome    `json:"last_outcome,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Relay runs austin and fans every run out to the configured sinks.
//
// Thread Safety:
//   - Run blocks its caller; Status and Stop are safe for concurrent use.
type Relay struct {
	cfg    Config
	deps   Deps
	logger Logger

	mu      sync.RWMutex
	cancel  context.CancelFunc
	current *austin.Supervisor
	status  Status
}

// New creates a Relay. The Relay does nothing until Run is called.
func New(deps Deps) (*Relay, error) {
	cfg := deps.Config
	if len(cfg.Args) == 0 {
		return nil, ErrNoArgs
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Relay{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		status: Status{State: austin.StateNotStarted},
	}, nil
}

// Run executes austin until a run ends without a restart, Stop is called
// or ctx is cancelled.
//
// A failed run is restarted when RestartOnFailure is set and the failure is
// recoverable (see process.IsRecoverable). Termination, protocol errors and
// a missing executable end the loop.
//
// Returns:
//   - nil: the last run exited cleanly
//   - the last run's error otherwise, wrapped in ErrRestartLimit when
//     MaxRestartAttempts was exhausted
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return austin.ErrAlreadyRunning
	}
	r.cancel = cancel
	r.status.Active = true
	r.status.Restarts = 0
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.status.Active = false
		r.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		err := r.runOnce(ctx)

		if err == nil || ctx.Err() != nil || !r.cfg.RestartOnFailure || !process.IsRecoverable(err) {
			return err
		}

		if r.cfg.MaxRestartAttempts > 0 && attempt > r.cfg.MaxRestartAttempts {
			r.logger.Error("austin restart limit reached", "attempts", r.cfg.MaxRestartAttempts, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrRestartLimit, r.cfg.MaxRestartAttempts, err)
		}

		delay := process.BackoffDelay(attempt, r.cfg.RestartDelay, r.cfg.MaxRestartDelay)
		r.logger.Warn("austin run failed, restarting",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		r.mu.Lock()
		r.status.Restarts++
		r.mu.Unlock()
	}
}

// Stop ends the current run and the restart loop. It does not wait for
// austin to exit; Run returns once it has.
func (r *Relay) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()

	if cancel != nil {
		r.logger.Info("relay stop requested")
		cancel()
	}
}

// Status returns a snapshot of the relay and its current run.
func (r *Relay) Status() Status {
	r.mu.RLock()
	st := r.status
	sup := r.current
	r.mu.RUnlock()

	st.CommandLine = append([]string(nil), st.CommandLine...)
	if sup != nil {
		st.State = sup.State()
		st.Samples = sup.Samples()
		st.SamplerPID = sup.SamplerPID()
	}
	return st
}

// runOnce executes a single supervised run and records its outcome.
func (r *Relay) runOnce(ctx context.Context) error {
	runID := uuid.NewString()
	started := time.Now().UTC()
	log := logWith(r.logger, "run_id", runID)

	if r.deps.Runs != nil {
		r.sinkCall(ctx, log, "creating run record", func(ctx context.Context) error {
			return r.deps.Runs.Create(ctx, &runs.Run{ID: runID, StartedAt: started, Args: r.cfg.Args})
		})
	}

	ev := &events{runID: runID}
	if r.deps.Publisher != nil {
		ev.sinks = append(ev.sinks, &mqttSink{
			pub:    r.deps.Publisher,
			topics: r.deps.Topics,
			qos:    r.deps.QoS,
			runID:  runID,
			batch:  r.cfg.SampleBatch,
			logger: log,
		})
	}
	if r.deps.Hub != nil {
		ev.sinks = append(ev.sinks, &hubSink{hub: r.deps.Hub, runID: runID})
	}

	handlers := austin.MultiHandler{
		austin.HandlerFuncs{Ready: func(samplerPID, targetPID int, commandLine []string) {
			r.markReady(ctx, log, runID, samplerPID, targetPID, commandLine)
		}},
		ev,
	}
	if r.deps.Handler != nil {
		handlers = append(handlers, r.deps.Handler)
	}

	sup := austin.NewSupervisor(r.cfg.Supervisor, handlers)
	sup.SetLogger(log)
	if r.deps.Resolver != nil {
		sup.SetResolver(r.deps.Resolver)
	}

	r.mu.Lock()
	r.current = sup
	r.status.RunID = runID
	r.status.StartedAt = &started
	r.status.TargetPID = 0
	r.status.CommandLine = nil
	r.mu.Unlock()

	err := sup.Start(ctx, r.cfg.Args)

	r.finish(ctx, log, runID, sup, ev, err)
	return err
}

// markReady records the identity of a run once austin's header is in.
func (r *Relay) markReady(ctx context.Context, log Logger, runID string, samplerPID, targetPID int, commandLine []string) {
	r.mu.Lock()
	r.status.TargetPID = targetPID
	r.status.CommandLine = commandLine
	r.mu.Unlock()

	log.Info("profiling started", "sampler_pid", samplerPID, "target_pid", targetPID, "command_line", commandLine)

	if r.deps.Runs == nil {
		return
	}
	r.sinkCall(ctx, log, "marking run ready", func(ctx context.Context) error {
		return r.deps.Runs.MarkReady(ctx, runID, runs.Ready{
			At:          time.Now().UTC(),
			SamplerPID:  samplerPID,
			TargetPID:   targetPID,
			CommandLine: commandLine,
		})
	})
}

// finish publishes the end of a run to every sink.
func (r *Relay) finish(ctx context.Context, log Logger, runID string, sup *austin.Supervisor, ev *events, runErr error) {
	res := resultOf(sup, runErr)

	r.mu.Lock()
	r.status.LastOutcome = res.Outcome
	r.status.LastError = res.Error
	r.mu.Unlock()

	log.Info("run finished", "outcome", res.Outcome, "samples", res.Samples)

	if r.deps.Runs != nil {
		r.sinkCall(ctx, log, "finishing run record", func(ctx context.Context) error {
			return r.deps.Runs.Finish(ctx, runID, res)
		})
	}

	ev.publish(Event{
		Event:      EventFinished,
		RunID:      runID,
		Timestamp:  res.EndedAt,
		SamplerPID: sup.SamplerPID(),
		Samples:    res.Samples,
		Outcome:    res.Outcome,
		ExitCode:   res.ExitCode,
		Diagnostic: res.Diagnostic,
		Error:      res.Error,
	})

	if r.deps.Summaries != nil {
		r.deps.Summaries.WriteRunSummary(runSummary(runID, res))
	}
}

// sinkCall runs fn with a bounded context that survives cancellation of
// ctx, so a stopped run is still recorded. Errors are logged.
func (r *Relay) sinkCall(ctx context.Context, log Logger, what string, fn func(context.Context) error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if err := fn(sctx); err != nil {
		log.Warn(what, "error", err)
	}
}

// resultOf collects the persisted result of a finished supervisor run.
func resultOf(sup *austin.Supervisor, err error) runs.Result {
	res := runs.Result{
		EndedAt:  time.Now().UTC(),
		Metadata: sup.Metadata(),
		Samples:  sup.Samples(),
		Outcome:  OutcomeOf(err),
	}
	if out, ok := sup.Outcome(); ok {
		code := out.Code
		res.ExitCode = &code
		res.Diagnostic = out.Diagnostic
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// OutcomeOf maps a Supervisor.Start result to the recorded run outcome.
func OutcomeOf(err error) runs.Outcome {
	switch {
	case err == nil:
		return runs.OutcomeClean
	case errors.Is(err, austin.ErrLaunch):
		return runs.OutcomeLaunchFailed
	// Checked before the exit kinds: a ProtocolError wraps the exit error.
	case errors.Is(err, austin.ErrProtocol):
		return runs.OutcomeProtocolError
	case errors.Is(err, austin.ErrTerminated):
		return runs.OutcomeTerminated
	default:
		return runs.OutcomeFailed
	}
}

// runSummary converts a run result into an InfluxDB summary.
func runSummary(runID string, res runs.Result) influxdb.RunSummary {
	meta := austin.Metadata(res.Metadata)

	s := influxdb.RunSummary{
		RunID:   runID,
		Mode:    meta.Mode(),
		Outcome: string(res.Outcome),
		Samples: res.Samples,
		EndedAt: res.EndedAt,
	}
	if res.ExitCode != nil {
		s.ExitCode = *res.ExitCode
	}
	if d, ok := meta.Int(austin.MetaDuration); ok {
		s.DurationUS = d
		s.HasDuration = true
	}
	if n, total, ok := meta.Ratio(austin.MetaSaturation); ok && total > 0 {
		s.Saturation = float64(n) / float64(total)
		s.HasSaturation = true
	}
	if n, total, ok := meta.Ratio(austin.MetaErrors); ok && total > 0 {
		s.ErrorRate = float64(n) / float64(total)
		s.HasErrorRate = true
	}
	return s
}

// logWith attaches key/value pairs to every call made through the returned Logger.
func logWith(l Logger, kv ...any) Logger {
	return &boundLogger{next: l, kv: kv}
}

type boundLogger struct {
	next Logger
	kv   []any
}

func (b *boundLogger) Debug(msg string, args ...any) { b.next.Debug(msg, slices.Concat(b.kv, args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.next.Info(msg, slices.Concat(b.kv, args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.next.Warn(msg, slices.Concat(b.kv, args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.next.Error(msg, slices.Concat(b.kv, args)...) }
