// Package fix turns gate failures into instructions for the generation
// capability.
package fix

import (
	"strings"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// templates holds the fixed guidance for each criterion. The failing
// detail is appended verbatim after the heading.
var templates = map[models.CriterionTag]struct {
	heading string
	steps   []string
}{
	models.TagAlignment: {
		heading: "Layout Alignment",
		steps: []string{
			"Improve CSS grid/flexbox alignment",
			"Ensure consistent element positioning",
			"Fix any visual misalignments",
		},
	},
	models.TagSpacing: {
		heading: "Spacing and Typography",
		steps: []string{
			"Apply a consistent spacing scale (8px, 16px, 24px, 32px, 48px)",
			"Improve margin/padding consistency",
			"Enhance typography hierarchy",
		},
	},
	models.TagContrast: {
		heading: "Contrast and Readability",
		steps: []string{
			"Increase text contrast ratios",
			"Use darker text on light backgrounds",
			"Ensure WCAG AA compliance",
		},
	},
	models.TagInteraction: {
		heading: "Form Interaction",
		steps: []string{
			"Fix the JavaScript form submission handler",
			"Ensure the backend route processes POST requests",
			"Display success/error messages to the user",
		},
	},
	models.TagAccessibility: {
		heading: "Accessibility Issues",
		steps: []string{
			"Resolve the listed violations first",
			"Add labels, alt text and landmarks where missing",
		},
	},
	models.TagEndToEnd: {
		heading: "End-to-End Test Failures",
		steps: []string{
			"Fix the behaviour exercised by each failing test",
			"Do not modify the tests to make them pass",
		},
	},
}

// Synthesize renders a fix instruction covering exactly the given failing
// criteria, grouped in canonical tag order. Criteria sharing a tag keep
// their input order. Unknown tags are ignored. An empty input yields an
// empty instruction.
func Synthesize(failing []models.FailingCriterion) string {
	if len(failing) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Required Fixes\n")

	for _, tag := range models.CanonicalTags {
		tmpl := templates[tag]
		for _, c := range failing {
			if c.Tag != tag {
				continue
			}
			sb.WriteString("\n### ")
			sb.WriteString(tmpl.heading)
			sb.WriteString("\n")
			if c.Detail != "" {
				sb.WriteString("- Observed: ")
				sb.WriteString(c.Detail)
				sb.WriteString("\n")
			}
			for _, step := range tmpl.steps {
				sb.WriteString("- ")
				sb.WriteString(step)
				sb.WriteString("\n")
			}
		}
	}

	return sb.String()
}
