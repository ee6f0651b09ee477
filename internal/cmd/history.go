package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Koiiichi/symphony-lite/internal/config"
	"github.com/Koiiichi/symphony-lite/internal/history"
)

// NewHistoryCommand creates the history command and its subcommands
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past refinement runs",
		Long: `Inspect the run history recorded in $SYMPHONY_HOME/history.db.

Examples:
  symphony history list               # Runs of the current project
  symphony history list --all         # Runs of every project
  symphony history show run_20250314_082653
  symphony history prune --keep-days 30`,
	}

	cmd.PersistentFlags().String("db", "", "Path to the history database (default: $SYMPHONY_HOME/history.db)")

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [project-dir]",
		Short: "List recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			all, _ := cmd.Flags().GetBool("all")

			projectRoot := ""
			if !all {
				dir := "."
				if len(args) > 0 {
					dir = args[0]
				}
				if projectRoot, err = filepath.Abs(dir); err != nil {
					return err
				}
			}

			runs, err := store.ListRuns(cmd.Context(), projectRoot, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, all)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	cmd.Flags().Bool("all", false, "Show runs of every project")
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the passes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			passes, err := store.GetPasses(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(passes) == 0 {
				return fmt.Errorf("no passes recorded for run %s", args[0])
			}
			printPasses(cmd.OutOrStdout(), args[0], passes)
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than --keep-days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keepDays, _ := cmd.Flags().GetInt("keep-days")
			if keepDays < 1 {
				return fmt.Errorf("--keep-days must be at least 1")
			}
			store, err := openHistoryFromFlags(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := store.CleanupOldRuns(ctx, keepDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s) older than %d days\n", n, keepDays)
			return nil
		},
	}
	cmd.Flags().Int("keep-days", 90, "Keep runs started within this many days")
	return cmd
}

func openHistoryFromFlags(cmd *cobra.Command) (*history.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		var err error
		if path, err = config.GetHistoryDBPath(); err != nil {
			return nil, err
		}
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func printRuns(w io.Writer, runs []history.RunRecord, withProject bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		line := fmt.Sprintf("%-26s %-9s passes %d/%d  %s  %s",
			r.RunID, r.Status, r.PassCount, r.MaxPasses,
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Duration.Round(time.Second))
		if withProject {
			line += "  " + r.ProjectRoot
		}
		if r.FailedComponent != "" {
			line += fmt.Sprintf("  [%s: %s]", r.FailedComponent, r.Reason)
		}
		fmt.Fprintln(w, line)
	}
}

func printPasses(w io.Writer, runID string, passes []history.PassRow) {
	fmt.Fprintf(w, "Run %s\n", runID)
	for _, p := range passes {
		verdict := "needs fix"
		if p.Passed {
			verdict = "passed"
		}
		fmt.Fprintf(w, "  Pass %d: %s (alignment %.2f, spacing %.2f, contrast %.2f, %d violations) in %s\n",
			p.Index, verdict, p.Alignment, p.Spacing, p.Contrast, p.Violations, p.Duration.Round(time.Second))
		if len(p.Failing) > 0 {
			tags := make([]string, len(p.Failing))
			for i, c := range p.Failing {
				tags[i] = string(c.Tag)
			}
			fmt.Fprintf(w, "    Failing: %s\n", strings.Join(tags, ", "))
		}
		if p.GenerationError != "" {
			fmt.Fprintf(w, "    Generation error: %s\n", p.GenerationError)
		}
		if p.VerificationError != "" {
			fmt.Fprintf(w, "    Verification error: %s\n", p.VerificationError)
		}
	}
}
