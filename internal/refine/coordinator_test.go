package refine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koiiichi/symphony-lite/internal/capability"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/runctx"
	"github.com/Koiiichi/symphony-lite/internal/server"
)

const passingReport = `{
  "status": "pass",
  "alignment": 0.95,
  "spacing": 0.94,
  "contrast": 0.88,
  "visible_sections": ["hero", "contact"],
  "interaction": {"submitted": true, "details": "form posted", "errors": []},
  "accessibility": {"violation_count": 0, "top_issues": []},
  "screenshots": []
}`

const misalignedReport = `{
  "status": "needs_fix",
  "alignment": 0.85,
  "spacing": 0.94,
  "contrast": 0.88,
  "interaction": {"submitted": true},
  "accessibility": {"violation_count": 1}
}`

// recordingLogger captures transitions and warnings
type recordingLogger struct {
	mu          sync.Mutex
	transitions []string
	details     []string
	passes      []models.PassRecord
	outcomes    []*models.RunOutcome
	warnings    []string
}

func (l *recordingLogger) LogTransition(runID string, from, to models.RunState, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, string(from)+"->"+string(to))
	l.details = append(l.details, detail)
}

func (l *recordingLogger) LogServer(kind models.ServerKind, event, detail string) {}

func (l *recordingLogger) LogPassResult(rec models.PassRecord, maxPasses int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.passes = append(l.passes, rec)
}

func (l *recordingLogger) LogOutcome(outcome *models.RunOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {}
func (l *recordingLogger) Infof(format string, args ...interface{})  {}
func (l *recordingLogger) Errorf(format string, args ...interface{}) {}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) states() []models.RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.RunState{models.StateAllocating}
	for _, t := range l.transitions {
		out = append(out, models.RunState(t[strings.Index(t, "->")+2:]))
	}
	return out
}

// fakeSupervisor hands out inert handles and fails readiness on demand
type fakeSupervisor struct {
	mu       sync.Mutex
	started  []server.Config
	awaited  []models.ServerKind
	notReady map[models.ServerKind]error
	stops    int
}

func (s *fakeSupervisor) Start(cfg server.Config) (*server.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, cfg)
	return &server.Handle{Kind: cfg.Kind, BaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)}, nil
}

func (s *fakeSupervisor) AwaitReady(ctx context.Context, h *server.Handle, timeout, interval time.Duration) (*server.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaited = append(s.awaited, h.Kind)
	if err := s.notReady[h.Kind]; err != nil {
		return nil, err
	}
	return h, nil
}

func (s *fakeSupervisor) StopAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

// scriptedVerifier returns its payloads in order, repeating the last one
type scriptedVerifier struct {
	mu       sync.Mutex
	payloads []string
	errs     []error
	calls    []capability.VerifyRequest
}

func (v *scriptedVerifier) Verify(ctx context.Context, req capability.VerifyRequest) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := len(v.calls)
	v.calls = append(v.calls, req)
	if i < len(v.errs) && v.errs[i] != nil {
		return nil, v.errs[i]
	}
	if len(v.payloads) == 0 {
		return nil, errors.New("no payload scripted")
	}
	if i >= len(v.payloads) {
		i = len(v.payloads) - 1
	}
	return []byte(v.payloads[i]), nil
}

// countingGenerator records every instruction it receives
type countingGenerator struct {
	mu           sync.Mutex
	instructions []string
	err          error
}

func (g *countingGenerator) Generate(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions = append(g.instructions, req.Instruction)
	if g.err != nil {
		return nil, g.err
	}
	return &capability.GenerateResult{Applied: true, Summary: fmt.Sprintf("edit %d", len(g.instructions))}, nil
}

func (g *countingGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.instructions)
}

type harness struct {
	opts       Options
	deps       Deps
	supervisor *fakeSupervisor
	generator  *countingGenerator
	verifier   *scriptedVerifier
	logger     *recordingLogger
	root       string
}

func newHarness(t *testing.T, maxPasses int, payloads ...string) *harness {
	t.Helper()
	h := &harness{
		supervisor: &fakeSupervisor{notReady: map[models.ServerKind]error{}},
		generator:  &countingGenerator{},
		verifier:   &scriptedVerifier{payloads: payloads},
		logger:     &recordingLogger{},
		root:       filepath.Join(t.TempDir(), "runs"),
	}
	h.opts = Options{
		Goal:        "Build a landing page with a contact form",
		ProjectRoot: t.TempDir(),
		MaxPasses:   maxPasses,
		StepBudget:  10,
		Thresholds:  models.DefaultThresholds(true, false),
		Servers: []server.Config{
			{Kind: models.ServerFrontend, Command: []string{"npm", "run", "dev"}, Port: 3000},
			{Kind: models.ServerBackend, Command: []string{"python", "app.py"}, Port: 5000},
		},
		ReadinessTimeout:    time.Second,
		PollInterval:        100 * time.Millisecond,
		GenerationTimeout:   5 * time.Second,
		VerificationTimeout: 5 * time.Second,
	}
	h.deps = Deps{
		Allocator:     runctx.NewAllocator(h.root),
		NewSupervisor: func(string) Supervisor { return h.supervisor },
		Generator:     h.generator,
		Verifier:      h.verifier,
		Logger:        h.logger,
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) (*models.RunOutcome, error) {
	t.Helper()
	c, err := New(h.opts, h.deps)
	require.NoError(t, err)
	outcome, runErr := c.Run(ctx)
	require.NotNil(t, outcome)
	assert.Equal(t, models.StateDone, c.State())
	return outcome, runErr
}

func TestRun_AcceptedOnFirstPass(t *testing.T) {
	h := newHarness(t, 3, passingReport)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	assert.Len(t, outcome.Passes, 1)
	assert.True(t, outcome.Passes[0].Passed)
	assert.Empty(t, outcome.Failing)
	assert.Equal(t, 1, h.generator.count())
	assert.Equal(t, 1, h.supervisor.stops)

	assert.Equal(t, []models.RunState{
		models.StateAllocating,
		models.StateStartingServers,
		models.StateAwaitingReady,
		models.StateGenerating,
		models.StateVerifying,
		models.StateGating,
		models.StateAccepted,
		models.StateStopping,
		models.StateDone,
	}, h.logger.states())

	// Backend is awaited before the frontend; the verifier targets the frontend.
	assert.Equal(t, []models.ServerKind{models.ServerBackend, models.ServerFrontend}, h.supervisor.awaited)
	require.Len(t, h.verifier.calls, 1)
	assert.Equal(t, "http://127.0.0.1:3000", h.verifier.calls[0].BaseURL)
	assert.Equal(t, filepath.Join(outcome.ArtifactDir, "pass_1"), h.verifier.calls[0].ArtifactDir)

	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "run.json"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "summary.md"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "summary.html"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "pass_1", "report.json"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "pass_1", "instruction.md"))
	assert.NoFileExists(t, filepath.Join(outcome.ArtifactDir, "pass_1", "fix.md"))
	require.Len(t, h.logger.outcomes, 1)
}

func TestRun_FixPassAfterFailedGate(t *testing.T) {
	h := newHarness(t, 3, misalignedReport, passingReport)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	require.Len(t, outcome.Passes, 2)
	assert.False(t, outcome.Passes[0].Passed)
	require.Len(t, outcome.Passes[0].Failing, 1)
	assert.Equal(t, models.TagAlignment, outcome.Passes[0].Failing[0].Tag)

	require.Equal(t, 2, h.generator.count())
	second := h.generator.instructions[1]
	assert.Contains(t, second, "### Layout Alignment")
	assert.NotContains(t, second, "### Spacing and Typography")

	fixText, err := os.ReadFile(filepath.Join(outcome.ArtifactDir, "pass_1", "fix.md"))
	require.NoError(t, err)
	assert.Equal(t, second, string(fixText))
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "pass_2", "report.json"))
	assert.Contains(t, h.logger.states(), models.StateSynthesizingFix)
}

func TestRun_ExhaustedWithSinglePass(t *testing.T) {
	h := newHarness(t, 1, misalignedReport)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeExhausted, outcome.Status)
	assert.Equal(t, 1, h.generator.count())
	require.Len(t, outcome.Failing, 1)
	assert.Equal(t, models.TagAlignment, outcome.Failing[0].Tag)
	assert.NotNil(t, outcome.FinalReport)
	assert.NotContains(t, h.logger.states(), models.StateSynthesizingFix)
	assert.NoFileExists(t, filepath.Join(outcome.ArtifactDir, "pass_1", "fix.md"))
}

func TestRun_ReadinessTimeoutIsFatal(t *testing.T) {
	h := newHarness(t, 3, passingReport)
	h.supervisor.notReady[models.ServerBackend] = &server.ReadinessError{
		Kind: models.ServerBackend,
		URL:  "http://127.0.0.1:5000/",
		Err:  server.ErrReadinessTimeout,
	}

	outcome, err := h.run(t, context.Background())
	require.Error(t, err)

	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, "server:backend", outcome.FailedComponent)
	assert.Contains(t, outcome.Reason, "not ready")
	assert.True(t, errors.Is(err, server.ErrReadinessTimeout))
	assert.True(t, IsStateError(err))
	assert.Zero(t, h.generator.count(), "generation must not run against an unreachable app")
	assert.Empty(t, h.verifier.calls)
	assert.Empty(t, outcome.Passes)
	assert.Equal(t, 1, h.supervisor.stops)
	assert.Equal(t, []models.RunState{
		models.StateAllocating,
		models.StateStartingServers,
		models.StateAwaitingReady,
		models.StateFailed,
		models.StateStopping,
		models.StateDone,
	}, h.logger.states())
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "run.json"))
}

func TestRun_VerifierErrorSubstitutesAllFailing(t *testing.T) {
	h := newHarness(t, 2, passingReport)
	h.verifier.errs = []error{errors.New("browser crashed")}

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	require.Len(t, outcome.Passes, 2)

	first := outcome.Passes[0]
	assert.Contains(t, first.VerificationError, "browser crashed")
	require.NotNil(t, first.Report)
	assert.Equal(t, models.StatusNeedsFix, first.Report.Status)
	assert.Zero(t, first.Report.Alignment)
	assert.False(t, first.Passed)
	assert.Equal(t, 2, h.generator.count(), "a fix pass must follow the substituted report")
}

func TestRun_MalformedReportIsAbsorbed(t *testing.T) {
	h := newHarness(t, 1, `{"status": "maybe", "alignment": "high"}`)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeExhausted, outcome.Status)
	require.Len(t, outcome.Passes, 1)
	assert.Contains(t, outcome.Passes[0].VerificationError, "malformed")
	assert.Contains(t, h.logger.states(), models.StateGating)
}

func TestRun_GenerationFailureStillVerifies(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	h.generator.err = fmt.Errorf("%w: claude exited 1", capability.ErrGeneration)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	assert.Contains(t, outcome.Passes[0].GenerationError, "claude exited 1")
	assert.False(t, outcome.Passes[0].GenerationApplied)
	assert.Len(t, h.verifier.calls, 1)
}

func TestRun_GenerationTimeoutIsRecoverable(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	h.opts.GenerationTimeout = 50 * time.Millisecond
	h.deps.Generator = capability.GeneratorFunc(func(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", capability.ErrGeneration, ctx.Err())
	})

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	assert.Contains(t, outcome.Passes[0].GenerationError, "generation timeout after 50ms")
}

func TestRun_CancelledRoutesThroughStopping(t *testing.T) {
	h := newHarness(t, 3, misalignedReport)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deps.Generator = capability.GeneratorFunc(func(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
		cancel()
		return &capability.GenerateResult{Applied: true}, nil
	})

	outcome, err := h.run(t, ctx)
	require.Error(t, err)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, ComponentCoordinator, outcome.FailedComponent)
	assert.Empty(t, h.verifier.calls)
	assert.Equal(t, 1, h.supervisor.stops)

	// Cancellation is seen at the boundary into VERIFYING.
	states := h.logger.states()
	assert.Equal(t, []models.RunState{models.StateVerifying, models.StateStopping, models.StateDone}, states[len(states)-3:])
	assert.FileExists(t, filepath.Join(outcome.ArtifactDir, "run.json"))
}

func TestRun_AllocationFailure(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	h.deps.Allocator = runctx.NewAllocator(filepath.Join(blocker, "runs"))

	outcome, err := h.run(t, context.Background())
	require.Error(t, err)

	assert.True(t, errors.Is(err, runctx.ErrAllocation))
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, ComponentAllocator, outcome.FailedComponent)
	assert.Empty(t, h.supervisor.started)
	assert.Zero(t, h.supervisor.stops)
}

func TestRun_TransitionDetailsNamePassDirectory(t *testing.T) {
	h := newHarness(t, 2, misalignedReport, passingReport)

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)

	var sawPass2 bool
	for i, tr := range h.logger.transitions {
		if strings.HasSuffix(tr, "->"+string(models.StateVerifying)) &&
			strings.Contains(h.logger.details[i], filepath.Join(outcome.ArtifactDir, "pass_2")) {
			sawPass2 = true
		}
	}
	assert.True(t, sawPass2, "transitions: %v details: %v", h.logger.transitions, h.logger.details)
}

func TestRun_PassIndexNeverExceedsBudget(t *testing.T) {
	for maxPasses := 1; maxPasses <= models.MaxPassesLimit; maxPasses++ {
		t.Run(fmt.Sprintf("max_%d", maxPasses), func(t *testing.T) {
			h := newHarness(t, maxPasses, misalignedReport)

			outcome, err := h.run(t, context.Background())
			require.NoError(t, err)

			assert.Equal(t, models.OutcomeExhausted, outcome.Status)
			assert.Equal(t, maxPasses, h.generator.count())
			require.Len(t, outcome.Passes, maxPasses)
			for i, p := range outcome.Passes {
				assert.Equal(t, i+1, p.Index)
			}
		})
	}
}

type fakeRecorder struct {
	runs []string
}

func (r *fakeRecorder) RecordRun(ctx context.Context, rc *models.RunContext, outcome *models.RunOutcome) (string, error) {
	r.runs = append(r.runs, rc.RunID)
	return "id", nil
}

type fakeUploader struct {
	dirs []string
	err  error
}

func (u *fakeUploader) Upload(ctx context.Context, runDir string) (int, error) {
	u.dirs = append(u.dirs, runDir)
	return 3, u.err
}

func TestRun_RecordsHistoryAndMirrors(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	rec := &fakeRecorder{}
	up := &fakeUploader{err: errors.New("bucket unreachable")}
	h.deps.History = rec
	h.deps.Mirror = up

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err, "mirror failures must not fail the run")

	assert.Equal(t, []string{outcome.RunID}, rec.runs)
	assert.Equal(t, []string{outcome.ArtifactDir}, up.dirs)
	assert.NotEmpty(t, h.logger.warnings)
}

func TestRun_NoServersConfigured(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	h.opts.Servers = nil

	outcome, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	assert.Empty(t, h.verifier.calls[0].BaseURL)
}

func TestCoordinator_SingleUse(t *testing.T) {
	h := newHarness(t, 1, passingReport)
	c, err := New(h.opts, h.deps)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t, 1, passingReport)

	tests := []struct {
		name   string
		mutate func(o *Options, d *Deps)
	}{
		{"no allocator", func(o *Options, d *Deps) { d.Allocator = nil }},
		{"no generator", func(o *Options, d *Deps) { d.Generator = nil }},
		{"no verifier", func(o *Options, d *Deps) { d.Verifier = nil }},
		{"zero passes", func(o *Options, d *Deps) { o.MaxPasses = 0 }},
		{"too many passes", func(o *Options, d *Deps) { o.MaxPasses = models.MaxPassesLimit + 1 }},
		{"empty goal", func(o *Options, d *Deps) { o.Goal = " " }},
		{"zero timeout", func(o *Options, d *Deps) { o.GenerationTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, deps := h.opts, h.deps
			tt.mutate(&opts, &deps)
			_, err := New(opts, deps)
			assert.Error(t, err)
		})
	}
}
