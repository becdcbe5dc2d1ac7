// Package procinfo identifies the program austin is profiling.
//
// Austin either launches the target itself, in which case the target is a
// child of the sampler, or attaches to an existing PID given with --pid or
// --where. Process details come from gopsutil.
package procinfo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/austin/options"
)

// Resolver defaults.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultTimeout      = 5 * time.Second
)

var (
	// ErrNoTarget is returned when the sampler has no child process before the timeout.
	ErrNoTarget = errors.New("profiled process not found")

	// ErrProcessGone is returned when an attach-mode PID does not exist.
	ErrProcessGone = errors.New("process does not exist")
)

// Resolver implements austin.ProcessResolver using gopsutil.
type Resolver struct {
	// PollInterval is how often the sampler's children are listed.
	PollInterval time.Duration

	// Timeout bounds the wait for the sampler's first child.
	Timeout time.Duration
}

var _ austin.ProcessResolver = (*Resolver)(nil)

// New returns a Resolver with default settings.
func New() *Resolver {
	return &Resolver{
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
	}
}

// Resolve returns the PID and command line of the profiled program.
//
// In attach mode the PID comes from the arguments and only the command line
// is looked up. Otherwise the sampler's children are polled until one
// appears; if several exist the lowest PID wins. When the command line
// cannot be read, the one from the arguments is used.
func (r *Resolver) Resolve(ctx context.Context, samplerPID int, args []string) (austin.ProcessInfo, error) {
	opts, err := options.Parse(args)
	if err != nil {
		return austin.ProcessInfo{}, fmt.Errorf("parsing austin arguments: %w", err)
	}

	if pid := opts.TargetPID(); pid != 0 {
		p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // PIDs fit in int32
		if err != nil {
			return austin.ProcessInfo{}, fmt.Errorf("%w: %d: %w", ErrProcessGone, pid, err)
		}
		return austin.ProcessInfo{PID: pid, CommandLine: commandLine(ctx, p, opts)}, nil
	}

	child, err := r.waitForChild(ctx, samplerPID)
	if err != nil {
		return austin.ProcessInfo{CommandLine: opts.CommandLine()}, err
	}

	return austin.ProcessInfo{PID: int(child.Pid), CommandLine: commandLine(ctx, child, opts)}, nil
}

// waitForChild polls samplerPID's children until one shows up.
func (r *Resolver) waitForChild(ctx context.Context, samplerPID int) (*process.Process, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sampler, err := process.NewProcessWithContext(ctx, int32(samplerPID)) //nolint:gosec // PIDs fit in int32
	if err != nil {
		return nil, fmt.Errorf("%w: sampler %d: %w", ErrProcessGone, samplerPID, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// An error here usually means no children yet.
		children, err := sampler.ChildrenWithContext(ctx)
		if err == nil && len(children) > 0 {
			return slices.MinFunc(children, func(a, b *process.Process) int {
				return int(a.Pid - b.Pid)
			}), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: sampler %d after %v", ErrNoTarget, samplerPID, timeout)
		case <-ticker.C:
		}
	}
}

// commandLine reads p's command line, falling back to the parsed arguments.
func commandLine(ctx context.Context, p *process.Process, opts *options.Options) []string {
	cmdline, err := p.CmdlineSliceWithContext(ctx)
	if err != nil || len(cmdline) == 0 {
		return opts.CommandLine()
	}
	return cmdline
}
