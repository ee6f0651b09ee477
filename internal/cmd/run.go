package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Koiiichi/symphony-lite/internal/artifact"
	"github.com/Koiiichi/symphony-lite/internal/capability"
	"github.com/Koiiichi/symphony-lite/internal/config"
	"github.com/Koiiichi/symphony-lite/internal/history"
	"github.com/Koiiichi/symphony-lite/internal/logger"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
	"github.com/Koiiichi/symphony-lite/internal/refine"
	"github.com/Koiiichi/symphony-lite/internal/runctx"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [project-dir]",
		Short: "Refine a project until it passes the quality gate",
		Long: `Run the refinement loop against a project directory (default: current directory).

The run command detects the project's stack, starts its frontend and backend
servers, and alternates generation and verification passes until the report
passes the quality gate or --max-passes is reached.

Configuration is loaded from .symphony/config.yaml in the project if present,
then from the project's .symphony.json. CLI flags override both.

Examples:
  symphony run --goal "Add a contact form that posts to /api/contact"
  symphony run ./site --goal "Fix the hero layout" --max-passes 5
  symphony run --goal "Polish the pricing page" --frontend-port 5173
  symphony run --dry-run --goal "x"        # Show resolved servers and thresholds`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("goal", "", "What the generated application should achieve (required)")
	cmd.Flags().String("config", "", "Path to config file (default: <project>/.symphony/config.yaml)")
	cmd.Flags().Int("max-passes", 0, "Maximum refinement passes (1-5)")
	cmd.Flags().String("readiness-timeout", "", "Maximum wait for each server to become ready (e.g., 30s, 1m)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("artifact-root", "", "Directory holding one subdirectory per run")
	cmd.Flags().Int("frontend-port", 0, "Port for the frontend server")
	cmd.Flags().Int("backend-port", 0, "Port for the backend server")
	cmd.Flags().Bool("dry-run", false, "Resolve servers and thresholds without running")
	cmd.Flags().Bool("verbose", false, "Show state transitions and debug output")

	return cmd
}

// runSetup is everything resolved before the loop starts
type runSetup struct {
	cfg         *config.Config
	projectRoot string
	detection   *project.Detection
	thresholds  models.GateThresholds
	servers     []resolvedServer
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	goal, _ := cmd.Flags().GetString("goal")
	if strings.TrimSpace(goal) == "" {
		return fmt.Errorf("--goal is required")
	}

	setup, err := prepareRun(cmd, args)
	if err != nil {
		return err
	}
	cfg := setup.cfg
	out := cmd.OutOrStdout()

	printRunPlan(out, setup)

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		fmt.Fprintf(out, "\nDry-run mode: configuration is valid.\n")
		return nil
	}

	if len(cfg.Verifier.Command) == 0 {
		return fmt.Errorf("no verifier command configured (set verifier.command in .symphony/config.yaml or .symphony.json)")
	}

	// Determine log level: verbose flag overrides config
	logLevel := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = "debug"
	}

	consoleLog := logger.NewConsoleLogger(out, logLevel)
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(resolveUnder(setup.projectRoot, cfg.LogDir), logLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := &multiLogger{loggers: []refine.Logger{consoleLog, fileLog}}

	deps := refine.Deps{
		Allocator: runctx.NewAllocator(resolveUnder(setup.projectRoot, cfg.ArtifactRoot)),
		Generator: capability.NewClaudeGenerator(cfg.Generator.ClaudePath, cfg.Generator.Model),
		Verifier:  capability.NewCommandVerifier(cfg.Verifier.Command, resolveUnder(setup.projectRoot, cfg.Verifier.Dir)),
		Logger:    multiLog,
	}

	if cfg.History.Enabled {
		store, err := openHistory(cfg)
		if err != nil {
			multiLog.Warnf("Run history disabled: %v", err)
		} else {
			defer store.Close()
			deps.History = store
		}
	}

	if cfg.Remote.Enabled {
		mirror, err := artifact.NewMirror(cfg.Remote)
		if err != nil {
			multiLog.Warnf("Artifact mirror disabled: %v", err)
		} else {
			deps.Mirror = mirror
		}
	}

	coord, err := refine.New(refine.Options{
		Goal:                goal,
		ProjectRoot:         setup.projectRoot,
		Detection:           setup.detection,
		MaxPasses:           cfg.MaxPasses,
		StepBudget:          cfg.StepBudget,
		Thresholds:          setup.thresholds,
		Servers:             serverConfigs(setup.servers),
		ReadinessTimeout:    cfg.ReadinessTimeout,
		PollInterval:        cfg.PollInterval,
		StopGrace:           cfg.StopGrace,
		GenerationTimeout:   cfg.GenerationTimeout,
		VerificationTimeout: cfg.VerificationTimeout,
	}, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "\nStarting refinement...\n\n")
	outcome, err := coord.Run(ctx)
	if err != nil {
		if refine.IsStateError(err) && outcome != nil && outcome.ArtifactDir != "" {
			fmt.Fprintf(out, "\nArtifacts written to: %s\n", outcome.ArtifactDir)
			fmt.Fprintf(out, "Logs written to: %s\n", fileLog.RunFile())
		}
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Fprintf(out, "\nArtifacts written to: %s\n", outcome.ArtifactDir)
	fmt.Fprintf(out, "Logs written to: %s\n", fileLog.RunFile())

	if outcome.Status == models.OutcomeExhausted {
		return fmt.Errorf("quality gate not met after %d pass(es)", len(outcome.Passes))
	}
	return nil
}

// prepareRun loads configuration in precedence order (defaults, config
// file, project file, flags), validates it and resolves thresholds and
// servers from project detection.
func prepareRun(cmd *cobra.Command, args []string) (*runSetup, error) {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}
	projectRoot, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	if info, err := os.Stat(projectRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project directory %s does not exist", projectRoot)
	}

	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(projectRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	pc, err := config.LoadProject(projectRoot)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: ignoring %s: %v\n", config.ProjectFileName, err)
	}
	cfg.ApplyProject(pc)

	maxPassesFlag, _ := cmd.Flags().GetInt("max-passes")
	timeoutStr, _ := cmd.Flags().GetString("readiness-timeout")
	logDirFlag, _ := cmd.Flags().GetString("log-dir")
	artifactRootFlag, _ := cmd.Flags().GetString("artifact-root")
	frontendPortFlag, _ := cmd.Flags().GetInt("frontend-port")
	backendPortFlag, _ := cmd.Flags().GetInt("backend-port")

	// Build flag pointers for merge (only changed values)
	var maxPassesPtr *int
	if cmd.Flags().Changed("max-passes") {
		maxPassesPtr = &maxPassesFlag
	}

	var timeoutPtr *time.Duration
	if cmd.Flags().Changed("readiness-timeout") {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid readiness timeout format %q: %w", timeoutStr, err)
		}
		timeoutPtr = &timeout
	}

	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		logDirPtr = &logDirFlag
	}

	var artifactRootPtr *string
	if cmd.Flags().Changed("artifact-root") {
		artifactRootPtr = &artifactRootFlag
	}

	pinned := map[models.ServerKind]bool{}
	var frontendPortPtr, backendPortPtr *int
	if cmd.Flags().Changed("frontend-port") {
		frontendPortPtr = &frontendPortFlag
		pinned[models.ServerFrontend] = true
	}
	if cmd.Flags().Changed("backend-port") {
		backendPortPtr = &backendPortFlag
		pinned[models.ServerBackend] = true
	}

	// Merge CLI flags with config (flags take precedence)
	cfg.MergeWithFlags(maxPassesPtr, timeoutPtr, logDirPtr, artifactRootPtr, frontendPortPtr, backendPortPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	det, err := project.Detect(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("detect project: %w", err)
	}

	servers, err := resolveServers(cfg, det, pinned)
	if err != nil {
		return nil, err
	}

	return &runSetup{
		cfg:         cfg,
		projectRoot: projectRoot,
		detection:   det,
		thresholds:  cfg.Thresholds.Apply(models.DefaultThresholds(det.FormDetected, det.SuiteDetected)),
		servers:     servers,
	}, nil
}

func printRunPlan(w io.Writer, s *runSetup) {
	fmt.Fprintf(w, "Run Plan:\n")
	fmt.Fprintf(w, "  Project: %s\n", s.projectRoot)
	if len(s.detection.Frameworks) > 0 {
		fmt.Fprintf(w, "  Frameworks: %s\n", strings.Join(s.detection.Frameworks, ", "))
	}
	fmt.Fprintf(w, "  Max passes: %d\n", s.cfg.MaxPasses)
	if len(s.servers) == 0 {
		fmt.Fprintf(w, "  Servers: none\n")
	}
	for _, rs := range s.servers {
		what := strings.Join(rs.Command, " ")
		if rs.StaticDir != "" {
			what = "static " + rs.StaticDir
		}
		fmt.Fprintf(w, "  %s: %s on port %d (%s)\n", rs.Kind, what, rs.Port, rs.Source)
	}
	th := s.thresholds
	fmt.Fprintf(w, "  Thresholds: alignment>=%.2f spacing>=%.2f contrast>=%.2f violations<=%d interaction=%t e2e=%t\n",
		th.AlignmentMin, th.SpacingMin, th.ContrastMin, th.AccessibilityMaxViolations, th.RequireInteraction, th.RequireEndToEnd)
	for _, note := range s.detection.Notes {
		fmt.Fprintf(w, "  Note: %s\n", note)
	}
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	path, err := cfg.ResolveHistoryDBPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

// resolveUnder returns p, or p joined to root when p is relative
func resolveUnder(root, p string) string {
	if p == "" {
		return root
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

var (
	_ refine.Recorder = (*history.Store)(nil)
	_ refine.Uploader = (*artifact.Mirror)(nil)
)
