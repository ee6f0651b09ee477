package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for symphony
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symphony",
		Short: "Bounded generate-verify refinement loop for web projects",
		Long: `Symphony refines a web project by alternating a code generation step and
a browser verification step until a quality gate passes or the pass budget
runs out.

Each run starts the project's servers, waits for them to become ready,
gates every verification report against alignment, spacing, contrast,
interaction, accessibility and end-to-end thresholds, and feeds the failing
criteria back as the next fix instruction. Every pass is archived under
.symphony/runs/<run_id>/.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewInitCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewValidateReportCommand())

	return cmd
}
