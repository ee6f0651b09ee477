package gate

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// TestEvaluateTotality verifies the gate is deterministic, only emits known
// tags in canonical order, and never passes with failing criteria.
func TestEvaluateTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("evaluate is total and consistent", prop.ForAll(
		func(scores []float64, status string, submitted bool, violations int,
			requireInteraction, requireE2E, withE2E, e2ePassed bool) bool {
			r := &models.VerificationReport{
				Status:        status,
				Alignment:     scores[0],
				Spacing:       scores[1],
				Contrast:      scores[2],
				Interaction:   models.InteractionResult{Submitted: submitted},
				Accessibility: models.AccessibilityResult{ViolationCount: violations},
			}
			if withE2E {
				r.EndToEnd = &models.EndToEndResult{Passed: e2ePassed, Total: 1}
			}
			th := models.DefaultThresholds(requireInteraction, requireE2E)

			passed, failing := Evaluate(r, th)
			passed2, failing2 := Evaluate(r, th)
			if passed != passed2 || !reflect.DeepEqual(failing, failing2) {
				return false
			}
			if passed && len(failing) > 0 {
				return false
			}
			if passed && status != models.StatusPass {
				return false
			}
			return inCanonicalOrder(failing)
		},
		gen.SliceOfN(3, gen.Float64Range(0, 1)),
		gen.OneConstOf(models.StatusPass, models.StatusNeedsFix),
		gen.Bool(),
		gen.IntRange(0, 20),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func inCanonicalOrder(failing []models.FailingCriterion) bool {
	pos := 0
	for _, c := range failing {
		found := false
		for pos < len(models.CanonicalTags) {
			if models.CanonicalTags[pos] == c.Tag {
				found = true
				pos++
				break
			}
			pos++
		}
		if !found {
			return false
		}
	}
	return true
}
