package austin

// RunState is the lifecycle position of a supervised run.
type RunState string

const (
	StateNotStarted RunState = "not_started"
	StateRunning    RunState = "running"
	StateDraining   RunState = "draining"
	StateTerminated RunState = "terminated"
)

// String implements fmt.Stringer.
func (s RunState) String() string {
	return string(s)
}
