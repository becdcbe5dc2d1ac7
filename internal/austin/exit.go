package austin

import "syscall"

// OutcomeKind classifies how a run ended.
type OutcomeKind string

const (
	OutcomeClean      OutcomeKind = "clean"
	OutcomeTerminated OutcomeKind = "terminated"
	OutcomeFailed     OutcomeKind = "failed"
)

// ExitOutcome is the classified end of an austin process.
type ExitOutcome struct {
	Kind       OutcomeKind
	Code       int
	Diagnostic string
}

// Classify maps an exit code and captured stderr text to an outcome.
//
// Code 0 is clean. SIGTERM is recognised both as -15 (signal death) and as
// 15 (austin forwarding the signal as its exit status). Anything else is a
// failure.
func Classify(code int, diagnostic string) ExitOutcome {
	out := ExitOutcome{Code: code, Diagnostic: diagnostic}

	switch code {
	case 0:
		out.Kind = OutcomeClean
	case -int(syscall.SIGTERM), int(syscall.SIGTERM):
		out.Kind = OutcomeTerminated
	default:
		out.Kind = OutcomeFailed
	}

	return out
}

// Err returns the error for the outcome, nil when clean.
func (o ExitOutcome) Err() error {
	switch o.Kind {
	case OutcomeClean:
		return nil
	case OutcomeTerminated:
		return &TerminatedError{Code: o.Code, Diagnostic: o.Diagnostic}
	default:
		return &FailedError{Code: o.Code, Diagnostic: o.Diagnostic}
	}
}
