// Package refine implements the refinement coordinator: a bounded state
// machine that supervises the servers of a run and alternates generation
// and verification until the quality gate passes or the pass budget runs out.
package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Koiiichi/symphony-lite/internal/artifact"
	"github.com/Koiiichi/symphony-lite/internal/capability"
	"github.com/Koiiichi/symphony-lite/internal/fix"
	"github.com/Koiiichi/symphony-lite/internal/gate"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
	"github.com/Koiiichi/symphony-lite/internal/report"
	"github.com/Koiiichi/symphony-lite/internal/runctx"
	"github.com/Koiiichi/symphony-lite/internal/server"
)

const tracerName = "github.com/Koiiichi/symphony-lite/internal/refine"

// Teardown bounds for work done after cancellation
const (
	teardownTimeout = 30 * time.Second
	uploadTimeout   = 2 * time.Minute
)

// Logger defines the interface for logging coordinator progress.
type Logger interface {
	LogTransition(runID string, from, to models.RunState, detail string)
	LogServer(kind models.ServerKind, event, detail string)
	LogPassResult(rec models.PassRecord, maxPasses int)
	LogOutcome(outcome *models.RunOutcome)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Allocator hands out run contexts
type Allocator interface {
	Allocate(ctx context.Context, req runctx.Request) (*models.RunContext, error)
}

// Supervisor starts and stops the servers of one run
type Supervisor interface {
	Start(cfg server.Config) (*server.Handle, error)
	AwaitReady(ctx context.Context, h *server.Handle, timeout, interval time.Duration) (*server.Handle, error)
	StopAll() error
}

// SupervisorFactory creates the supervisor for a run's project root
type SupervisorFactory func(projectRoot string) Supervisor

// Recorder persists finished runs
type Recorder interface {
	RecordRun(ctx context.Context, rc *models.RunContext, outcome *models.RunOutcome) (string, error)
}

// Uploader mirrors a finished run directory
type Uploader interface {
	Upload(ctx context.Context, runDir string) (int, error)
}

// Options are the per-run parameters of a coordinator
type Options struct {
	Goal        string
	ProjectRoot string
	Detection   *project.Detection // drives the first-pass instruction, optional
	MaxPasses   int
	StepBudget  int
	Thresholds  models.GateThresholds
	Servers     []server.Config

	ReadinessTimeout    time.Duration
	PollInterval        time.Duration
	StopGrace           time.Duration
	GenerationTimeout   time.Duration
	VerificationTimeout time.Duration
}

// Deps are the collaborators of a coordinator. Generator, Verifier and
// Allocator are required.
type Deps struct {
	Allocator     Allocator
	NewSupervisor SupervisorFactory // server.NewManager when nil
	Generator     capability.Generator
	Verifier      capability.Verifier
	Logger        Logger   // optional
	History       Recorder // optional
	Mirror        Uploader // optional
	Tracer        trace.Tracer
}

// Coordinator drives one run. It owns the run context, the server handles
// and the pass counter; a coordinator is used for a single Run call.
type Coordinator struct {
	opts Options
	deps Deps

	state      models.RunState
	rc         *models.RunContext
	store      *artifact.Store
	supervisor Supervisor
	handles    []*server.Handle
	baseURL    string

	instruction string
	pass        *models.PassRecord
	passStart   time.Time
	outcome     *models.RunOutcome
	fatal       *StateError
	started     bool
}

// New creates a coordinator for one run.
func New(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Allocator == nil {
		return nil, errors.New("refine: allocator is required")
	}
	if deps.Generator == nil || deps.Verifier == nil {
		return nil, errors.New("refine: generator and verifier are required")
	}
	if opts.MaxPasses < 1 || opts.MaxPasses > models.MaxPassesLimit {
		return nil, fmt.Errorf("refine: max passes must be between 1 and %d, got %d", models.MaxPassesLimit, opts.MaxPasses)
	}
	if strings.TrimSpace(opts.Goal) == "" {
		return nil, errors.New("refine: goal is required")
	}
	if opts.ReadinessTimeout <= 0 || opts.GenerationTimeout <= 0 || opts.VerificationTimeout <= 0 {
		return nil, errors.New("refine: readiness, generation and verification timeouts must be positive")
	}

	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.NewSupervisor == nil {
		logger := deps.Logger
		grace := opts.StopGrace
		deps.NewSupervisor = func(projectRoot string) Supervisor {
			mopts := []server.Option{server.WithGrace(grace)}
			if logger != nil {
				mopts = append(mopts, server.WithLogger(logger))
			}
			return server.NewManager(projectRoot, mopts...)
		}
	}

	return &Coordinator{opts: opts, deps: deps}, nil
}

// State returns the current state
func (c *Coordinator) State() models.RunState {
	return c.state
}

// Run executes the state machine from ALLOCATING to DONE. The outcome is
// always returned; the error is non-nil only for a FAILED outcome and is
// then a *StateError. Started servers are stopped before Run returns.
func (c *Coordinator) Run(ctx context.Context) (*models.RunOutcome, error) {
	if c.started {
		return nil, errors.New("refine: coordinator already ran")
	}
	c.started = true

	ctx, span := c.deps.Tracer.Start(ctx, "refine.run")
	defer span.End()

	c.state = models.StateAllocating
	c.outcome = &models.RunOutcome{
		Thresholds: c.opts.Thresholds,
		StartedAt:  time.Now(),
	}

	for c.state != models.StateDone {
		var ev Event
		if Cancellable(c.state) && ctx.Err() != nil {
			c.cancelled(ctx.Err())
			ev = EventCancel
		} else {
			ev = c.step(ctx)
		}

		next, err := Next(c.state, ev)
		if err != nil {
			// Unreachable with a consistent table; tear down anyway.
			c.setFatal(NewStateError(c.state, ComponentCoordinator, "invalid transition", err))
			next = models.StateStopping
			if c.state == models.StateStopping {
				next = models.StateDone
			}
		}
		c.logTransition(c.state, next)
		c.state = next
	}

	if c.fatal != nil {
		span.SetStatus(codes.Error, c.fatal.Error())
		return c.outcome, c.fatal
	}
	return c.outcome, nil
}

// step runs the handler of the current state inside its own span
func (c *Coordinator) step(ctx context.Context) Event {
	attrs := []attribute.KeyValue{attribute.String("refine.state", string(c.state))}
	if c.rc != nil {
		attrs = append(attrs,
			attribute.String("refine.run_id", c.rc.RunID),
			attribute.Int("refine.pass", c.rc.PassIndex),
		)
	}
	ctx, span := c.deps.Tracer.Start(ctx, "refine."+strings.ToLower(string(c.state)), trace.WithAttributes(attrs...))
	defer span.End()

	ev := c.handle(ctx)
	span.SetAttributes(attribute.String("refine.event", string(ev)))
	if ev == EventFatal && c.fatal != nil {
		span.RecordError(c.fatal)
		span.SetStatus(codes.Error, c.fatal.Reason())
	}
	return ev
}

func (c *Coordinator) handle(ctx context.Context) Event {
	switch c.state {
	case models.StateAllocating:
		return c.allocate(ctx)
	case models.StateStartingServers:
		return c.startServers()
	case models.StateAwaitingReady:
		return c.awaitReady(ctx)
	case models.StateGenerating:
		return c.generate(ctx)
	case models.StateVerifying:
		return c.verify(ctx)
	case models.StateGating:
		return c.evaluate()
	case models.StateSynthesizingFix:
		return c.synthesizeFix()
	case models.StateAccepted:
		c.outcome.Status = models.OutcomeAccepted
		return EventDone
	case models.StateExhausted:
		c.outcome.Status = models.OutcomeExhausted
		return EventDone
	case models.StateFailed:
		c.outcome.Status = models.OutcomeFailed
		return EventDone
	case models.StateStopping:
		c.stop(ctx)
		return EventDone
	}
	c.setFatal(NewStateError(c.state, ComponentCoordinator, "unknown state", nil))
	return EventFatal
}

func (c *Coordinator) allocate(ctx context.Context) Event {
	req := runctx.Request{ProjectRoot: c.opts.ProjectRoot, MaxPasses: c.opts.MaxPasses}
	for _, s := range c.opts.Servers {
		switch s.Kind {
		case models.ServerFrontend:
			req.Ports.Frontend = s.Port
		case models.ServerBackend:
			req.Ports.Backend = s.Port
		}
	}

	rc, err := c.deps.Allocator.Allocate(ctx, req)
	if err != nil {
		c.setFatal(NewStateError(c.state, ComponentAllocator, "cannot allocate run", err))
		return EventFatal
	}
	c.rc = rc
	c.store = artifact.NewStore(rc)
	c.outcome.RunID = rc.RunID
	c.outcome.ArtifactDir = rc.ArtifactDir
	c.outcome.StartedAt = rc.StartedAt
	c.instruction = fix.GoalInstruction(c.opts.Goal, rc.ProjectRoot, c.opts.Detection)
	return EventDone
}

func (c *Coordinator) startServers() Event {
	c.supervisor = c.deps.NewSupervisor(c.rc.ProjectRoot)
	for _, cfg := range c.opts.Servers {
		h, err := c.supervisor.Start(cfg)
		if err != nil {
			c.setFatal(NewStateError(c.state, serverComponent(cfg.Kind), "server failed to start", err))
			return EventFatal
		}
		c.handles = append(c.handles, h)
	}
	return EventDone
}

// awaitReady waits for every started server. The backend is awaited first
// so a frontend proxying to it is probed against a live API.
func (c *Coordinator) awaitReady(ctx context.Context) Event {
	ordered := make([]*server.Handle, 0, len(c.handles))
	for _, h := range c.handles {
		if h.Kind == models.ServerBackend {
			ordered = append(ordered, h)
		}
	}
	for _, h := range c.handles {
		if h.Kind != models.ServerBackend {
			ordered = append(ordered, h)
		}
	}

	for _, h := range ordered {
		if _, err := c.supervisor.AwaitReady(ctx, h, c.opts.ReadinessTimeout, c.opts.PollInterval); err != nil {
			if ctx.Err() != nil && !server.IsFatal(err) {
				c.cancelled(ctx.Err())
				return EventCancel
			}
			c.setFatal(NewStateError(c.state, serverComponent(h.Kind), "server not ready", err))
			return EventFatal
		}
		if c.baseURL == "" || h.Kind == models.ServerFrontend {
			c.baseURL = h.BaseURL
		}
	}
	return EventDone
}

func (c *Coordinator) generate(ctx context.Context) Event {
	n := c.rc.PassIndex
	c.passStart = time.Now()
	c.pass = &models.PassRecord{Index: n, Instruction: c.instruction}

	if _, err := c.store.WriteInstruction(n, c.instruction); err != nil {
		c.warnf("pass %d: write instruction: %v", n, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.GenerationTimeout)
	defer cancel()

	res, err := c.deps.Generator.Generate(callCtx, capability.GenerateRequest{
		ProjectRoot: c.rc.ProjectRoot,
		RunID:       c.rc.RunID,
		Instruction: c.instruction,
		StepBudget:  c.opts.StepBudget,
	})
	if err != nil {
		err = c.timeoutOr(ctx, callCtx, err, "generation", c.opts.GenerationTimeout)
		c.pass.GenerationError = err.Error()
		c.warnf("pass %d: generation failed, verifying current project state: %v", n, err)
		return EventDone
	}
	if res != nil {
		c.pass.GenerationApplied = res.Applied
		c.pass.GenerationSummary = res.Summary
	}
	return EventDone
}

func (c *Coordinator) verify(ctx context.Context) Event {
	n := c.rc.PassIndex
	passDir, err := c.store.PassDir(n)
	if err != nil {
		c.warnf("pass %d: create pass directory: %v", n, err)
		passDir = c.rc.PassDir(n)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.VerificationTimeout)
	defer cancel()

	var r *models.VerificationReport
	raw, err := c.deps.Verifier.Verify(callCtx, capability.VerifyRequest{
		BaseURL:     c.baseURL,
		RunID:       c.rc.RunID,
		ArtifactDir: passDir,
		PassIndex:   n,
	})
	if err != nil {
		err = c.timeoutOr(ctx, callCtx, err, "verification", c.opts.VerificationTimeout)
		c.pass.VerificationError = err.Error()
		c.warnf("pass %d: verification failed, substituting all-failing report: %v", n, err)
		r = report.AllFailing(err.Error())
	} else if r, err = report.Parse(raw); err != nil {
		c.pass.VerificationError = err.Error()
		c.warnf("pass %d: %v, substituting all-failing report", n, err)
		r = report.AllFailing(err.Error())
	}

	stored, err := c.store.WriteReport(n, r)
	if err != nil {
		c.warnf("pass %d: archive report: %v", n, err)
	}
	if stored != nil {
		r = stored
	}
	c.pass.Report = r
	return EventDone
}

func (c *Coordinator) evaluate() Event {
	// Each pass gates against its own copy of the thresholds.
	th := c.opts.Thresholds
	passed, failing := gate.Evaluate(c.pass.Report, th)

	c.pass.Passed = passed
	c.pass.Failing = failing
	c.pass.Duration = time.Since(c.passStart)
	c.outcome.Passes = append(c.outcome.Passes, *c.pass)
	c.outcome.FinalReport = c.pass.Report
	c.outcome.Failing = failing

	if c.deps.Logger != nil {
		c.deps.Logger.LogPassResult(*c.pass, c.rc.MaxPasses)
	}

	switch {
	case passed:
		return EventPassed
	case c.rc.HasPassesRemaining():
		return EventRetry
	default:
		return EventExhausted
	}
}

func (c *Coordinator) synthesizeFix() Event {
	n := c.rc.PassIndex
	next := fix.Compose(c.opts.Goal, c.rc.ProjectRoot, c.pass.Report, c.opts.Thresholds, c.pass.Failing)

	if _, err := c.store.WriteFix(n, next); err != nil {
		c.warnf("pass %d: write fix instruction: %v", n, err)
	}
	c.outcome.Passes[len(c.outcome.Passes)-1].FixInstruction = next

	if err := c.rc.Advance(); err != nil {
		c.setFatal(NewStateError(c.state, ComponentCoordinator, "pass budget", err))
		return EventFatal
	}
	c.instruction = next
	return EventDone
}

// stop tears the run down. It runs even after cancellation, so its calls
// use a context detached from ctx.
func (c *Coordinator) stop(ctx context.Context) {
	teardown, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if c.supervisor != nil {
		if err := c.supervisor.StopAll(); err != nil {
			c.warnf("stop servers: %v", err)
		}
	}

	if c.outcome.Status == "" {
		c.outcome.Status = models.OutcomeFailed
	}
	if c.fatal != nil {
		c.outcome.FailedComponent = c.fatal.Component
		c.outcome.Reason = c.fatal.Reason()
	}
	c.outcome.FinishedAt = time.Now()

	if c.rc != nil {
		if err := c.store.WriteRun(c.outcome); err != nil {
			c.warnf("write run record: %v", err)
		}
		if err := c.store.WriteSummary(c.outcome); err != nil {
			c.warnf("write summary: %v", err)
		}
		if c.deps.History != nil {
			if _, err := c.deps.History.RecordRun(teardown, c.rc, c.outcome); err != nil {
				c.warnf("record run history: %v", err)
			}
		}
		if c.deps.Mirror != nil {
			uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
			count, err := c.deps.Mirror.Upload(uctx, c.rc.ArtifactDir)
			ucancel()
			if err != nil {
				c.warnf("mirror artifacts: %v", err)
			} else if c.deps.Logger != nil {
				c.deps.Logger.Infof("Mirrored %d artifacts of %s", count, c.rc.RunID)
			}
		}
	}

	if c.deps.Logger != nil {
		c.deps.Logger.LogOutcome(c.outcome)
	}
}

// cancelled records a cancellation as the fatal outcome
func (c *Coordinator) cancelled(err error) {
	c.setFatal(NewStateError(c.state, ComponentCoordinator, "run cancelled", err))
}

// setFatal keeps the first fatal error
func (c *Coordinator) setFatal(err *StateError) {
	if c.fatal == nil {
		c.fatal = err
	}
}

// timeoutOr converts a deadline hit by the call's own timeout into a
// TimeoutError. Parent cancellation is returned unchanged.
func (c *Coordinator) timeoutOr(parent, call context.Context, err error, op string, limit time.Duration) error {
	if parent.Err() == nil && IsTimeoutError(call.Err()) {
		return fmt.Errorf("%w: %v", &TimeoutError{Operation: op, Timeout: limit, PassIndex: c.rc.PassIndex}, err)
	}
	return err
}

func (c *Coordinator) logTransition(from, to models.RunState) {
	if c.deps.Logger == nil {
		return
	}
	runID := ""
	detail := ""
	if c.rc != nil {
		runID = c.rc.RunID
		switch to {
		case models.StateGenerating, models.StateVerifying, models.StateGating, models.StateSynthesizingFix:
			detail = fmt.Sprintf("pass %d/%d -> %s", c.rc.PassIndex, c.rc.MaxPasses, c.rc.CurrentPassDir())
		default:
			detail = c.rc.ArtifactDir
		}
	}
	if to == models.StateFailed && c.fatal != nil {
		detail = c.fatal.Error()
	}
	c.deps.Logger.LogTransition(runID, from, to, detail)
}

func (c *Coordinator) warnf(format string, args ...interface{}) {
	if c.deps.Logger != nil {
		c.deps.Logger.Warnf(format, args...)
	}
}

func serverComponent(kind models.ServerKind) string {
	return fmt.Sprintf("%s:%s", ComponentServer, kind)
}
