package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Koiiichi/symphony-lite/internal/fix"
	"github.com/Koiiichi/symphony-lite/internal/gate"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/report"
)

// NewValidateReportCommand creates and returns the validate-report subcommand
func NewValidateReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-report <report.json>",
		Short: "Check a verification report against the report contract and the gate",
		Long: `Parse a verification report, print its normalized form and gate it against
the default thresholds. Use this to check a verifier's output before wiring it
into verifier.command.

Exit code: 0 if the report is well formed and passes the gate, 1 otherwise`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requireInteraction, _ := cmd.Flags().GetBool("require-interaction")
			requireE2E, _ := cmd.Flags().GetBool("require-e2e")
			th := models.DefaultThresholds(requireInteraction, requireE2E)
			return validateReportFile(args[0], th, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Bool("require-interaction", false, "Fail the gate when the form probe did not submit")
	cmd.Flags().Bool("require-e2e", false, "Fail the gate when the end-to-end suite failed")

	return cmd
}

// validateReportFile validates the report at path and writes the verdict to output
func validateReportFile(path string, th models.GateThresholds, output io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	r, err := report.Parse(raw)
	if err != nil {
		fmt.Fprintf(output, "✗ %s: %v\n", path, err)
		return err
	}

	normalized, err := report.Serialize(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "✓ %s is well formed\n\n", path)
	fmt.Fprintf(output, "%s\n\n", normalized)

	fmt.Fprintf(output, "Gate results:\n")
	fmt.Fprint(output, fix.GateResults(r, th))

	passed, failing := gate.Evaluate(r, th)
	if passed {
		fmt.Fprintf(output, "\n✓ Quality gate passed\n")
		return nil
	}

	fmt.Fprintf(output, "\n✗ Quality gate failed (%d criteria)\n\n", len(failing))
	if instruction := fix.Synthesize(failing); instruction != "" {
		fmt.Fprint(output, instruction)
	} else {
		fmt.Fprintf(output, "Verifier status is %q with no failing criteria\n", r.Status)
	}
	return fmt.Errorf("quality gate failed")
}
