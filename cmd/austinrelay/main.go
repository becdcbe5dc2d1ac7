// Austin Relay - supervised profiling with the austin frame stack sampler.
//
// This is the main entry point for the austinrelay binary. It can run as a
// daemon that supervises austin and fans its output out to MQTT, InfluxDB,
// SQLite and WebSocket clients, or as a one-shot command that echoes a
// single run to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the configuration file path.
const configEnvVar = "AUSTINRELAY_CONFIG"

func main() {
	os.Exit(execute())
}

// execute runs the command tree and maps its error to an exit status.
func execute() int {
	// Cancel on interrupt signals so a running austin is stopped gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exit.err)
		}
		return exit.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "austinrelay",
		Short: "Supervise the austin sampler and relay its output",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newRunsCmd(&configPath))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly. The flag wins over AUSTINRELAY_CONFIG, which wins over
// the default.
func getConfigPath(flag string) (string, bool) {
	if flag != "" {
		return flag, true
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "austinrelay %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
