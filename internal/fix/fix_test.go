package fix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
)

func TestSynthesize_Empty(t *testing.T) {
	assert.Equal(t, "", Synthesize(nil))
	assert.Equal(t, "", Synthesize([]models.FailingCriterion{}))
}

func TestSynthesize_AlignmentOnly(t *testing.T) {
	got := Synthesize([]models.FailingCriterion{
		{Tag: models.TagAlignment, Detail: "score 0.85 below minimum 0.90"},
	})

	want := "## Required Fixes\n" +
		"\n### Layout Alignment\n" +
		"- Observed: score 0.85 below minimum 0.90\n" +
		"- Improve CSS grid/flexbox alignment\n" +
		"- Ensure consistent element positioning\n" +
		"- Fix any visual misalignments\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "Spacing")
	assert.NotContains(t, got, "Contrast")
}

func TestSynthesize_CanonicalOrder(t *testing.T) {
	failing := []models.FailingCriterion{
		{Tag: models.TagEndToEnd, Detail: "1 of 2 tests failed: login"},
		{Tag: models.TagContrast, Detail: "score 0.50 below minimum 0.75"},
		{Tag: models.TagAccessibility, Detail: "9 violations (max 5)"},
		{Tag: models.TagAlignment, Detail: "score 0.10 below minimum 0.90"},
	}

	got := Synthesize(failing)

	headings := []string{"Layout Alignment", "Contrast and Readability", "Accessibility Issues", "End-to-End Test Failures"}
	last := -1
	for _, h := range headings {
		idx := strings.Index(got, "### "+h)
		require.GreaterOrEqual(t, idx, 0, "missing %s", h)
		assert.Greater(t, idx, last, "%s out of order", h)
		last = idx
	}
	assert.NotContains(t, got, "Spacing and Typography")
	assert.NotContains(t, got, "Form Interaction")
}

func TestSynthesize_Deterministic(t *testing.T) {
	a := []models.FailingCriterion{
		{Tag: models.TagSpacing, Detail: "x"},
		{Tag: models.TagInteraction, Detail: "y"},
	}
	b := []models.FailingCriterion{
		{Tag: models.TagInteraction, Detail: "y"},
		{Tag: models.TagSpacing, Detail: "x"},
	}
	assert.Equal(t, Synthesize(a), Synthesize(b))
}

func TestSynthesize_DetailVerbatim(t *testing.T) {
	detail := "submit handler threw: TypeError {\"code\": 42}"
	got := Synthesize([]models.FailingCriterion{{Tag: models.TagInteraction, Detail: detail}})
	assert.Contains(t, got, "- Observed: "+detail+"\n")
}

func TestSynthesize_UnknownTagIgnored(t *testing.T) {
	got := Synthesize([]models.FailingCriterion{{Tag: "typography", Detail: "bad"}})
	assert.Equal(t, "## Required Fixes\n", got)
}

func TestCompose(t *testing.T) {
	r := &models.VerificationReport{
		Status:          models.StatusNeedsFix,
		Alignment:       0.85,
		Spacing:         0.95,
		Contrast:        0.80,
		VisibleSections: []string{"hero", "contact"},
		Accessibility:   models.AccessibilityResult{ViolationCount: 1},
	}
	th := models.DefaultThresholds(true, false)
	failing := []models.FailingCriterion{{Tag: models.TagAlignment, Detail: "score 0.85 below minimum 0.90"}}

	got := Compose("Add a contact form", "/work/site", r, th, failing)

	assert.Contains(t, got, "/work/site")
	assert.Contains(t, got, "ORIGINAL GOAL:\nAdd a contact form")
	assert.Contains(t, got, "- Alignment: 0.85 (threshold: 0.90)")
	assert.Contains(t, got, "- Visible sections: hero, contact")
	assert.Contains(t, got, "- Form interaction: failed")
	assert.Contains(t, got, "- alignment: score 0.85 below minimum 0.90")
	assert.Contains(t, got, Synthesize(failing))
}

func TestGoalInstruction(t *testing.T) {
	t.Run("existing project", func(t *testing.T) {
		det := &project.Detection{HasContent: true, Frontend: "static", Backend: "python", Frameworks: []string{"flask"}}
		got := GoalInstruction("Make it blue", "/p", det)
		assert.Contains(t, got, "existing project at: /p")
		assert.Contains(t, got, "- Backend: python")
		assert.Contains(t, got, "- Frameworks: flask")
		assert.Contains(t, got, "Make it blue")
	})

	t.Run("empty project", func(t *testing.T) {
		got := GoalInstruction("Landing page", "/p", &project.Detection{})
		assert.Contains(t, got, "new project at: /p")
		assert.Contains(t, got, "$PORT")
	})

	t.Run("nil detection", func(t *testing.T) {
		got := GoalInstruction("Landing page", "/p", nil)
		assert.Contains(t, got, "new project")
	})
}
