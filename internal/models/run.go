package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// MaxPassesLimit is the largest pass budget a run may request
const MaxPassesLimit = 5

// Ports carries the ports assigned to the child servers of a run
type Ports struct {
	Frontend int `json:"frontend"`
	Backend  int `json:"backend"`
}

// RunContext isolates one refinement run. Every artifact a run produces
// lives under ArtifactDir.
type RunContext struct {
	RunID       string    `json:"run_id"`
	ArtifactDir string    `json:"artifact_dir"`
	ProjectRoot string    `json:"project_root"`
	Ports       Ports     `json:"ports"`
	MaxPasses   int       `json:"max_passes"`
	PassIndex   int       `json:"pass_index"` // 1-based
	StartedAt   time.Time `json:"started_at"`
}

// PassDir returns the artifact directory for pass n
func (rc *RunContext) PassDir(n int) string {
	return filepath.Join(rc.ArtifactDir, fmt.Sprintf("pass_%d", n))
}

// CurrentPassDir returns the artifact directory for the active pass
func (rc *RunContext) CurrentPassDir() string {
	return rc.PassDir(rc.PassIndex)
}

// HasPassesRemaining reports whether another pass fits the budget
func (rc *RunContext) HasPassesRemaining() bool {
	return rc.PassIndex < rc.MaxPasses
}

// Advance moves to the next pass. The index never exceeds MaxPasses.
func (rc *RunContext) Advance() error {
	if !rc.HasPassesRemaining() {
		return fmt.Errorf("run %s: pass budget of %d exhausted", rc.RunID, rc.MaxPasses)
	}
	rc.PassIndex++
	return nil
}

// RunState is a state of the refinement state machine
type RunState string

// Refinement states
const (
	StateAllocating      RunState = "ALLOCATING"
	StateStartingServers RunState = "STARTING_SERVERS"
	StateAwaitingReady   RunState = "AWAITING_READY"
	StateGenerating      RunState = "GENERATING"
	StateVerifying       RunState = "VERIFYING"
	StateGating          RunState = "GATING"
	StateSynthesizingFix RunState = "SYNTHESIZING_FIX"
	StateAccepted        RunState = "ACCEPTED"
	StateExhausted       RunState = "EXHAUSTED"
	StateFailed          RunState = "FAILED"
	StateStopping        RunState = "STOPPING"
	StateDone            RunState = "DONE"
)

// OutcomeStatus is the terminal result of a run
type OutcomeStatus string

// Terminal outcomes
const (
	OutcomeAccepted  OutcomeStatus = "ACCEPTED"
	OutcomeExhausted OutcomeStatus = "EXHAUSTED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// PassRecord captures everything observed during one pass
type PassRecord struct {
	Index             int                 `json:"index"`
	Instruction       string              `json:"-"`
	GenerationApplied bool                `json:"generation_applied"`
	GenerationSummary string              `json:"generation_summary,omitempty"`
	GenerationError   string              `json:"generation_error,omitempty"`
	VerificationError string              `json:"verification_error,omitempty"`
	Report            *VerificationReport `json:"report,omitempty"`
	Passed            bool                `json:"passed"`
	Failing           []FailingCriterion  `json:"failing"`
	FixInstruction    string              `json:"-"`
	Duration          time.Duration       `json:"duration_ns"`
}

// RunOutcome is returned when a run reaches DONE
type RunOutcome struct {
	Status          OutcomeStatus       `json:"status"`
	RunID           string              `json:"run_id"`
	ArtifactDir     string              `json:"artifact_dir"`
	Thresholds      GateThresholds      `json:"thresholds"`
	Passes          []PassRecord        `json:"passes"`
	FinalReport     *VerificationReport `json:"final_report,omitempty"`
	Failing         []FailingCriterion  `json:"failing,omitempty"`
	FailedComponent string              `json:"failed_component,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

// Duration returns the wall-clock time of the run
func (o *RunOutcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// LastPass returns the most recent pass record, or nil before the first pass
func (o *RunOutcome) LastPass() *PassRecord {
	if len(o.Passes) == 0 {
		return nil
	}
	return &o.Passes[len(o.Passes)-1]
}
