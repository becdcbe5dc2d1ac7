package austin

import "context"

// ProcessInfo identifies the program austin is profiling.
type ProcessInfo struct {
	// PID of the profiled program, 0 if unknown.
	PID int

	// CommandLine of the profiled program.
	CommandLine []string
}

// ProcessResolver works out which program austin is profiling from the
// sampler's PID and the arguments it was started with.
type ProcessResolver interface {
	Resolve(ctx context.Context, samplerPID int, args []string) (ProcessInfo, error)
}

// ResolverFunc adapts a function to ProcessResolver.
type ResolverFunc func(ctx context.Context, samplerPID int, args []string) (ProcessInfo, error)

// Resolve implements ProcessResolver.
func (f ResolverFunc) Resolve(ctx context.Context, samplerPID int, args []string) (ProcessInfo, error) {
	return f(ctx, samplerPID, args)
}
