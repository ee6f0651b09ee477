package models

// Report status values produced by the verification capability
const (
	StatusPass     = "pass"      // Verifier judged the page acceptable
	StatusNeedsFix = "needs_fix" // Verifier found problems
)

// MaxTopIssues caps the accessibility issue list carried in a report
const MaxTopIssues = 5

// InteractionResult describes the outcome of the form-submission probe
type InteractionResult struct {
	Submitted bool     `json:"submitted"`
	Details   string   `json:"details"`
	Errors    []string `json:"errors"`
}

// AccessibilityResult summarizes accessibility violations on the page
type AccessibilityResult struct {
	ViolationCount int      `json:"violation_count"`
	TopIssues      []string `json:"top_issues"`
}

// EndToEndResult summarizes an end-to-end suite run. Absent when no suite ran.
type EndToEndResult struct {
	Passed      bool     `json:"passed"`
	FailedTests []string `json:"failed_tests"`
	Total       int      `json:"total"`
}

// Screenshot references an image captured during verification
type Screenshot struct {
	Label     string `json:"label"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp,omitempty"` // RFC 3339, optional
}

// VerificationReport is the structured output of one verification call.
// Reports are treated as immutable once parsed.
type VerificationReport struct {
	Status          string              `json:"status"`
	Alignment       float64             `json:"alignment"`
	Spacing         float64             `json:"spacing"`
	Contrast        float64             `json:"contrast"`
	VisibleSections []string            `json:"visible_sections"`
	Interaction     InteractionResult   `json:"interaction"`
	Accessibility   AccessibilityResult `json:"accessibility"`
	EndToEnd        *EndToEndResult     `json:"end_to_end,omitempty"`
	Screenshots     []Screenshot        `json:"screenshots"`
}

// Normalized returns a copy that satisfies the report invariants: scores
// clamped to [0,1], sections deduplicated in discovery order, top issues
// capped, and every list non-nil.
func (r VerificationReport) Normalized() VerificationReport {
	out := r
	out.Alignment = clampScore(r.Alignment)
	out.Spacing = clampScore(r.Spacing)
	out.Contrast = clampScore(r.Contrast)
	out.VisibleSections = dedupe(r.VisibleSections)
	out.Interaction.Errors = copyStrings(r.Interaction.Errors)

	issues := copyStrings(r.Accessibility.TopIssues)
	if len(issues) > MaxTopIssues {
		issues = issues[:MaxTopIssues]
	}
	out.Accessibility.TopIssues = issues
	if out.Accessibility.ViolationCount < 0 {
		out.Accessibility.ViolationCount = 0
	}

	if r.EndToEnd != nil {
		e2e := *r.EndToEnd
		e2e.FailedTests = copyStrings(r.EndToEnd.FailedTests)
		out.EndToEnd = &e2e
	}

	shots := make([]Screenshot, len(r.Screenshots))
	copy(shots, r.Screenshots)
	out.Screenshots = shots
	return out
}

func clampScore(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
