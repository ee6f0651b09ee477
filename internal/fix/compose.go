package fix

import (
	"fmt"
	"strings"

	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
)

// GoalInstruction builds the first-pass instruction. Projects that already
// have content get a targeted-edit brief; empty projects get a full
// application brief.
func GoalInstruction(goal, projectRoot string, det *project.Detection) string {
	var sb strings.Builder

	if det != nil && det.HasContent {
		frameworks := "unknown"
		if len(det.Frameworks) > 0 {
			frameworks = strings.Join(det.Frameworks, ", ")
		}
		fmt.Fprintf(&sb, "You are working on an existing project at: %s\n\n", projectRoot)
		sb.WriteString("DETECTED STACK:\n")
		fmt.Fprintf(&sb, "- Frontend: %s\n", orUnknown(det.Frontend))
		fmt.Fprintf(&sb, "- Backend: %s\n", orUnknown(det.Backend))
		fmt.Fprintf(&sb, "- Frameworks: %s\n\n", frameworks)
		fmt.Fprintf(&sb, "GOAL:\n%s\n\n", strings.TrimSpace(goal))
		sb.WriteString("TASK:\n")
		sb.WriteString("1. Inspect the current structure and the key files\n")
		sb.WriteString("2. Make minimal, targeted changes that achieve the goal\n")
		sb.WriteString("3. Preserve existing functionality and code style\n")
		sb.WriteString("4. Do not change the overall architecture\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "You are starting a new project at: %s\n\n", projectRoot)
	fmt.Fprintf(&sb, "GOAL:\n%s\n\n", strings.TrimSpace(goal))
	sb.WriteString("TASK: Create a complete, functional web application that achieves this goal.\n\n")
	sb.WriteString("STRUCTURE:\n")
	sb.WriteString("- frontend/index.html with embedded CSS and JavaScript\n")
	sb.WriteString("- backend/ serving a JSON API with CORS enabled; it must listen on the port in $PORT\n\n")
	sb.WriteString("REQUIREMENTS:\n")
	sb.WriteString("- Responsive layout with a consistent spacing scale (8px, 16px, 24px, 32px, 48px)\n")
	sb.WriteString("- Semantic HTML with proper accessibility and WCAG AA contrast\n")
	sb.WriteString("- Working interactive elements; forms submit to the backend and show success/error messages\n")
	return sb.String()
}

// Compose wraps a synthesized fix with the goal and the gate results of the
// pass that failed. The result is the instruction for the next pass.
func Compose(goal, projectRoot string, r *models.VerificationReport, th models.GateThresholds, failing []models.FailingCriterion) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are fixing issues in the project at: %s\n\n", projectRoot)
	fmt.Fprintf(&sb, "ORIGINAL GOAL:\n%s\n\n", strings.TrimSpace(goal))
	sb.WriteString("QUALITY GATE RESULTS:\n")
	sb.WriteString(GateResults(r, th))
	sb.WriteString("\nFAILING CRITERIA:\n")
	for _, c := range failing {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Tag, c.Detail)
	}
	sb.WriteString("\n")
	sb.WriteString(Synthesize(failing))
	sb.WriteString("\nMake targeted fixes for the failing criteria only and preserve all working functionality.\n")
	return sb.String()
}

// GateResults formats measured values against thresholds, one per line.
func GateResults(r *models.VerificationReport, th models.GateThresholds) string {
	if r == nil {
		return "- no report available\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "- Alignment: %.2f (threshold: %.2f)\n", r.Alignment, th.AlignmentMin)
	fmt.Fprintf(&sb, "- Spacing: %.2f (threshold: %.2f)\n", r.Spacing, th.SpacingMin)
	fmt.Fprintf(&sb, "- Contrast: %.2f (threshold: %.2f)\n", r.Contrast, th.ContrastMin)

	sections := "none"
	if len(r.VisibleSections) > 0 {
		sections = strings.Join(r.VisibleSections, ", ")
	}
	fmt.Fprintf(&sb, "- Visible sections: %s\n", sections)

	form := "not required"
	switch {
	case r.Interaction.Submitted:
		form = "working"
	case th.RequireInteraction:
		form = "failed"
	}
	fmt.Fprintf(&sb, "- Form interaction: %s\n", form)

	fmt.Fprintf(&sb, "- Accessibility: %d violations (max: %d)\n",
		r.Accessibility.ViolationCount, th.AccessibilityMaxViolations)

	if r.EndToEnd != nil {
		fmt.Fprintf(&sb, "- End-to-end: %d/%d passed\n",
			r.EndToEnd.Total-len(r.EndToEnd.FailedTests), r.EndToEnd.Total)
	}
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
