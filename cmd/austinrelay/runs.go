package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/austin-relay/internal/runs"
)

func newRunsCmd(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}

	var limit int
	var asJSON bool

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuns(cmd.Context(), *configFlag, func(ctx context.Context, repo runs.Repository) error {
				list, err := repo.List(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), list)
				}
				printRunTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", runs.DefaultListLimit, "maximum number of runs to show")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(cmd.Context(), *configFlag, func(ctx context.Context, repo runs.Repository) error {
				run, err := repo.GetByID(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), run)
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(list, show)
	return cmd
}

// withRuns opens the configured run history for the duration of fn.
func withRuns(ctx context.Context, configFlag string, fn func(context.Context, runs.Repository) error) error {
	cfg, err := loadOptionalConfig(configFlag)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	return fn(ctx, runs.NewSQLiteRepository(db.DB))
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunTable(out io.Writer, list []runs.Run) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tOUTCOME\tEXIT\tSAMPLES\tCOMMAND")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			formatDuration(r),
			r.Outcome,
			formatExitCode(r.ExitCode),
			r.Samples,
			formatCommand(r),
		)
	}
	w.Flush() //nolint:errcheck // Terminal output
}

func printRun(out io.Writer, r *runs.Run) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", r.ID)
	fmt.Fprintf(w, "Outcome:\t%s\n", r.Outcome)
	fmt.Fprintf(w, "Started:\t%s\n", r.StartedAt.Local().Format(time.RFC3339))
	if r.EndedAt != nil {
		fmt.Fprintf(w, "Ended:\t%s\n", r.EndedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Duration:\t%s\n", formatDuration(*r))
	fmt.Fprintf(w, "Exit code:\t%s\n", formatExitCode(r.ExitCode))
	fmt.Fprintf(w, "Sampler PID:\t%d\n", r.SamplerPID)
	fmt.Fprintf(w, "Target PID:\t%d\n", r.TargetPID)
	fmt.Fprintf(w, "Command:\t%s\n", formatCommand(*r))
	fmt.Fprintf(w, "Austin args:\t%s\n", strings.Join(r.Args, " "))
	fmt.Fprintf(w, "Samples:\t%d\n", r.Samples)
	if r.Diagnostic != "" {
		fmt.Fprintf(w, "Diagnostic:\t%s\n", r.Diagnostic)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", r.Error)
	}
	for _, k := range slices.Sorted(maps.Keys(r.Metadata)) {
		fmt.Fprintf(w, "# %s:\t%s\n", k, r.Metadata[k])
	}
	w.Flush() //nolint:errcheck // Terminal output
}

func formatDuration(r runs.Run) string {
	if !r.Finished() {
		return "-"
	}
	return r.Duration().Truncate(time.Millisecond).String()
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func formatCommand(r runs.Run) string {
	if len(r.CommandLine) == 0 {
		return "-"
	}
	return strings.Join(r.CommandLine, " ")
}
