package runs

import "time"

// Outcome is how a run ended, or "running" while it is in progress.
type Outcome string

const (
	OutcomeRunning       Outcome = "running"
	OutcomeClean         Outcome = "clean"
	OutcomeTerminated    Outcome = "terminated"
	OutcomeFailed        Outcome = "failed"
	OutcomeLaunchFailed  Outcome = "launch_failed"
	OutcomeProtocolError Outcome = "protocol_error"
)

// Run is one supervised austin process from launch to exit.
type Run struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	ReadyAt     *time.Time        `json:"ready_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	SamplerPID  int               `json:"sampler_pid"`
	TargetPID   int               `json:"target_pid"`
	CommandLine []string          `json:"command_line"`
	Args        []string          `json:"args"`
	Metadata    map[string]string `json:"metadata"`
	Samples     int64             `json:"samples"`
	Outcome     Outcome           `json:"outcome"`
	ExitCode    *int              `json:"exit_code,omitempty"`
	Diagnostic  string            `json:"diagnostic,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Finished reports whether the run has ended.
func (r *Run) Finished() bool {
	return r.Outcome != OutcomeRunning
}

// Duration returns the wall time between start and end, or zero while running.
func (r *Run) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Ready holds what is known once austin's header has been read.
type Ready struct {
	At          time.Time
	SamplerPID  int
	TargetPID   int
	CommandLine []string
}

// Result holds what is known once austin has exited.
type Result struct {
	EndedAt    time.Time
	Metadata   map[string]string
	Samples    int64
	Outcome    Outcome
	ExitCode   *int
	Diagnostic string
	Error      string
}
