// Package options parses austin's command-line arguments.
//
// The relay only needs enough of austin's grammar to know which program is
// being profiled: either the command that follows the options, or the PID
// given with --pid. Parsing stops at the first positional argument so the
// profiled command's own flags are left alone.
package options

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ErrInvalidArgs is returned for argument lists austin would reject.
var ErrInvalidArgs = errors.New("invalid austin arguments")

// Options is the parsed form of an austin argument list.
type Options struct {
	AltFormat    bool
	Children     bool
	ExcludeEmpty bool
	Full         bool
	GC           bool
	Memory       bool
	Pipe         bool
	Sleepless    bool

	// Interval between samples. Zero means austin's default.
	Interval time.Duration

	// Timeout for the target to start up. Zero means austin's default.
	Timeout time.Duration

	// Exposure limits the sampling time. Zero means unlimited.
	Exposure time.Duration

	// Output file for samples, empty for stdout.
	Output string

	// PID to attach to, 0 when austin launches Command itself.
	PID int

	// Where is the PID whose stacks are dumped once, 0 when unused.
	Where int

	// Command is the profiled program and its arguments.
	Command []string
}

// Parse parses args as austin would.
func Parse(args []string) (*Options, error) {
	o := &Options{}
	var interval, timeout string
	var exposure int

	fs := pflag.NewFlagSet("austin", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	fs.BoolVarP(&o.AltFormat, "alt-format", "a", false, "alternative collapsed stack sample format")
	fs.BoolVarP(&o.Children, "children", "C", false, "attach to child processes")
	fs.BoolVarP(&o.ExcludeEmpty, "exclude-empty", "e", false, "do not output samples of idle threads")
	fs.BoolVarP(&o.Full, "full", "f", false, "produce the full set of metrics")
	fs.BoolVarP(&o.GC, "gc", "g", false, "sample the garbage collector state")
	fs.BoolVarP(&o.Memory, "memory", "m", false, "profile memory usage")
	fs.BoolVarP(&o.Pipe, "pipe", "P", false, "pipe mode")
	fs.BoolVarP(&o.Sleepless, "sleepless", "s", false, "suppress idle samples")
	fs.StringVarP(&interval, "interval", "i", "", "sampling interval (us, ms, s; default unit us)")
	fs.StringVarP(&timeout, "timeout", "t", "", "start up wait time (ms, s; default unit ms)")
	fs.IntVarP(&exposure, "exposure", "x", 0, "sample for n seconds only")
	fs.StringVarP(&o.Output, "output", "o", "", "output file")
	fs.IntVarP(&o.PID, "pid", "p", 0, "attach to the process with the given PID")
	fs.IntVarP(&o.Where, "where", "w", 0, "dump the stacks of the process with the given PID")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}
	o.Command = fs.Args()

	var err error
	if o.Interval, err = parseDuration(interval, time.Microsecond); err != nil {
		return nil, fmt.Errorf("%w: interval: %w", ErrInvalidArgs, err)
	}
	if o.Timeout, err = parseDuration(timeout, time.Millisecond); err != nil {
		return nil, fmt.Errorf("%w: timeout: %w", ErrInvalidArgs, err)
	}
	if exposure < 0 {
		return nil, fmt.Errorf("%w: exposure must not be negative", ErrInvalidArgs)
	}
	o.Exposure = time.Duration(exposure) * time.Second

	if o.PID < 0 || o.Where < 0 {
		return nil, fmt.Errorf("%w: PIDs must be positive", ErrInvalidArgs)
	}

	if o.Where == 0 {
		switch {
		case o.PID == 0 && len(o.Command) == 0:
			return nil, fmt.Errorf("%w: no command or --pid given", ErrInvalidArgs)
		case o.PID != 0 && len(o.Command) > 0:
			return nil, fmt.Errorf("%w: --pid and a command are mutually exclusive", ErrInvalidArgs)
		}
	}

	return o, nil
}

// Attached reports whether austin attaches to an existing process.
func (o *Options) Attached() bool {
	return o.PID != 0 || o.Where != 0
}

// TargetPID returns the PID given on the command line, 0 if austin
// launches the target itself.
func (o *Options) TargetPID() int {
	if o.PID != 0 {
		return o.PID
	}
	return o.Where
}

// CommandLine returns the profiled command, nil in attach mode.
func (o *Options) CommandLine() []string {
	if len(o.Command) == 0 {
		return nil
	}
	return append([]string(nil), o.Command...)
}

// parseDuration parses "10", "10us", "10ms" or "10s". A bare number is in
// units of unit. The empty string yields zero.
func parseDuration(s string, unit time.Duration) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	num := s
	switch {
	case strings.HasSuffix(s, "us"):
		num, unit = strings.TrimSuffix(s, "us"), time.Microsecond
	case strings.HasSuffix(s, "ms"):
		num, unit = strings.TrimSuffix(s, "ms"), time.Millisecond
	case strings.HasSuffix(s, "s"):
		num, unit = strings.TrimSuffix(s, "s"), time.Second
	}

	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n) * unit, nil
}
