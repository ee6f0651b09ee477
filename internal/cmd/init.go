package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Koiiichi/symphony-lite/internal/config"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [project-dir]",
		Short: "Write a .symphony.json with the detected servers",
		Long: `Detect the project's stack and write the suggested server commands to
<project>/.symphony.json. Edit the file to pin commands, ports, thresholds
and the verifier command; it accepts comments.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			verifier, _ := cmd.Flags().GetStringSlice("verifier")
			return initProject(dir, force, verifier, cmd)
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing .symphony.json")
	cmd.Flags().StringSlice("verifier", nil, "Verifier command, comma separated (e.g. node,verify.js,{base_url})")
	return cmd
}

func initProject(dir string, force bool, verifier []string, cmd *cobra.Command) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.ProjectFileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	det, err := project.Detect(root)
	if err != nil {
		return fmt.Errorf("detect project: %w", err)
	}

	pc := &config.ProjectConfig{}
	if c, ok := det.Command(models.ServerFrontend); ok {
		pc.Servers.Frontend = config.ServerConfig{Command: c.Command, Dir: c.Dir, Port: c.Port}
	} else if det.StaticIndex != "" {
		pc.Servers.Frontend = config.ServerConfig{Static: filepath.Dir(det.StaticIndex)}
	}
	if c, ok := det.Command(models.ServerBackend); ok {
		pc.Servers.Backend = config.ServerConfig{Command: c.Command, Dir: c.Dir, Port: c.Port}
	}
	pc.Thresholds.RequireInteraction = &det.FormDetected
	pc.Thresholds.RequireEndToEnd = &det.SuiteDetected
	pc.Verifier.Command = verifier

	if err := config.SaveProject(root, pc); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", path)
	if len(det.Frameworks) > 0 {
		fmt.Fprintf(out, "  Detected: %v\n", det.Frameworks)
	}
	if len(verifier) == 0 {
		fmt.Fprintf(out, "  Set verifier.command before running symphony run\n")
	}
	return nil
}
