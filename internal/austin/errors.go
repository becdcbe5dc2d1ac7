package austin

import (
	"errors"
	"fmt"
)

// Sentinel errors for matching with errors.Is.
var (
	// ErrLaunch means austin could not be started.
	ErrLaunch = errors.New("austin launch failed")

	// ErrProtocol means austin did not emit the expected metadata header.
	ErrProtocol = errors.New("austin protocol error")

	// ErrTerminated means austin was stopped by SIGTERM.
	ErrTerminated = errors.New("austin terminated")

	// ErrFailed means austin exited with an unexpected status.
	ErrFailed = errors.New("austin failed")
)

// Launch failure reasons.
const (
	ReasonNotFound      = "executable not found"
	ReasonStreamMissing = "stream missing"
	ReasonStartFailed   = "start failed"
)

// LaunchError is returned when the sampler cannot be started. The run never
// reaches the running state and no callback fires.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("austin launch failed: %s: %v", e.Reason, e.Err)
	}
	return "austin launch failed: " + e.Reason
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// IsRecoverable reports whether relaunching could succeed. A missing binary
// will stay missing.
func (e *LaunchError) IsRecoverable() bool { return e.Reason != ReasonNotFound }

// ProtocolError is returned when austin's header was empty. The process was
// still reaped; Exit holds its classification, nil for a clean exit.
type ProtocolError struct {
	Reason string
	Exit   error
}

func (e *ProtocolError) Error() string {
	if e.Exit != nil {
		return fmt.Sprintf("austin protocol error: %s (%v)", e.Reason, e.Exit)
	}
	return "austin protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Exit }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// IsRecoverable is false: a sampler that cannot produce a header is
// misconfigured.
func (e *ProtocolError) IsRecoverable() bool { return false }

// TerminatedError reports that austin exited because of SIGTERM, typically
// after a stop request. Diagnostic holds whatever austin wrote to stderr.
type TerminatedError struct {
	Code       int
	Diagnostic string
}

func (e *TerminatedError) Error() string {
	if e.Diagnostic == "" {
		return "austin terminated"
	}
	return "austin terminated: " + e.Diagnostic
}

func (e *TerminatedError) Is(target error) bool { return target == ErrTerminated }

// IsRecoverable is false: termination was asked for.
func (e *TerminatedError) IsRecoverable() bool { return false }

// FailedError reports a non-zero exit other than SIGTERM.
type FailedError struct {
	Code       int
	Diagnostic string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("austin failed: (%d) %s", e.Code, e.Diagnostic)
}

func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// IsRecoverable is true: crashes are worth a restart.
func (e *FailedError) IsRecoverable() bool { return true }
