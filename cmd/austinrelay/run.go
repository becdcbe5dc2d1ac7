package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
	"github.com/nerrad567/austin-relay/internal/infrastructure/logging"
	"github.com/nerrad567/austin-relay/internal/procinfo"
	"github.com/nerrad567/austin-relay/internal/relay"
	"github.com/nerrad567/austin-relay/internal/runs"
)

// Exit statuses for runs that never produced an austin exit code.
const (
	exitNotFound    = 127
	exitCannotStart = 126
	exitSignalBase  = 128
)

type runOptions struct {
	binary  string
	record  bool
	verbose bool
}

func newRunCmd(configFlag *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] -- <austin args>",
		Short: "Run austin once and echo its output",
		Long: `Runs austin once with the given arguments and prints the sampler PID, the
profiled program's PID and command line, every sample line and finally the
metadata austin reported. The exit status mirrors austin's.`,
		Example: `  austinrelay run -- -i 1ms python3 app.py
  austinrelay run --record -- -p 4242`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cmd.OutOrStdout(), *configFlag, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.binary, "binary", "", "austin executable (default from config, then \"austin\")")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record the run in the SQLite run history")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log supervisor activity to stderr")

	return cmd
}

// runOnce executes a single supervised austin run, echoing it to out.
func runOnce(ctx context.Context, out io.Writer, configFlag string, opts runOptions, args []string) error {
	cfg, err := loadOptionalConfig(configFlag)
	if err != nil {
		return err
	}
	if opts.binary != "" {
		cfg.Sampler.Binary = opts.binary
	}
	log := logging.New(cfg.Logging, version).Component("run")
	if !opts.verbose {
		log.SetLevel("warn")
	}

	relayCfg := relay.ConfigFrom(cfg.Sampler, cfg.MQTT)
	relayCfg.Args = args
	relayCfg.RestartOnFailure = false

	deps := relay.Deps{
		Config:   relayCfg,
		Logger:   log,
		Resolver: procinfo.New(),
		Handler:  &echoHandler{out: out},
	}

	if opts.record {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // Nothing useful to report at exit
		deps.Runs = runs.NewSQLiteRepository(db.DB)
	}

	rel, err := relay.New(deps)
	if err != nil {
		return err
	}

	runErr := rel.Run(ctx)
	if runErr == nil {
		return nil
	}
	return &exitError{code: exitStatus(runErr), err: quietError(runErr)}
}

// loadOptionalConfig loads the configuration file when one was chosen
// explicitly or the default exists, and falls back to built-in defaults.
func loadOptionalConfig(flag string) (*config.Config, error) {
	path, explicit := getConfigPath(flag)
	if !explicit {
		if _, err := os.Stat(path); err != nil {
			cfg, err := config.Default()
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}
			return cfg, nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// exitStatus maps a run error to the process exit status: austin's own
// status, 128+N for a signal death, 126/127 when it could not be started.
func exitStatus(err error) int {
	var launch *austin.LaunchError
	if errors.As(err, &launch) {
		if launch.Reason == austin.ReasonNotFound {
			return exitNotFound
		}
		return exitCannotStart
	}

	code := 1
	var terminated *austin.TerminatedError
	var failed *austin.FailedError
	switch {
	case errors.As(err, &terminated):
		code = terminated.Code
	case errors.As(err, &failed):
		code = failed.Code
	}

	switch {
	case code < 0:
		return exitSignalBase - code
	case code == 0:
		// A protocol error after a clean exit.
		return 1
	default:
		return code
	}
}

// quietError drops errors not worth reporting on stderr: a stop by signal
// is the user's own doing.
func quietError(err error) error {
	if errors.Is(err, austin.ErrTerminated) && !errors.Is(err, austin.ErrProtocol) {
		return nil
	}
	return err
}

// echoHandler prints a run the way austin users expect to read it.
type echoHandler struct {
	out io.Writer
}

func (e *echoHandler) OnReady(samplerPID, targetPID int, commandLine []string) {
	fmt.Fprintf(e.out, "# sampler_pid: %d\n", samplerPID)
	fmt.Fprintf(e.out, "# target_pid: %d\n", targetPID)
	fmt.Fprintf(e.out, "# command_line: %s\n\n", strings.Join(commandLine, " "))
}

func (e *echoHandler) OnSample(line []byte) {
	e.out.Write(line)            //nolint:errcheck // Terminal output
	io.WriteString(e.out, "\n") //nolint:errcheck // Terminal output
}

func (e *echoHandler) OnTerminate(meta austin.Metadata) {
	io.WriteString(e.out, "\n") //nolint:errcheck // Terminal output
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		fmt.Fprintf(e.out, "# %s: %s\n", k, meta[k])
	}
}
