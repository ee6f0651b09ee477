// Package gate decides whether a verification report meets the quality bar.
package gate

import (
	"fmt"
	"strings"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// Evaluate checks r against th and returns the verdict together with every
// failing criterion in canonical order. It is a pure function: the same
// report and thresholds always produce the same result.
//
// The verdict is true only when no criterion failed and the verifier
// itself reported "pass".
func Evaluate(r *models.VerificationReport, th models.GateThresholds) (bool, []models.FailingCriterion) {
	if r == nil {
		r = &models.VerificationReport{Status: models.StatusNeedsFix}
	}

	failing := make([]models.FailingCriterion, 0, len(models.CanonicalTags))

	if r.Alignment < th.AlignmentMin {
		failing = append(failing, scoreFailure(models.TagAlignment, r.Alignment, th.AlignmentMin))
	}
	if r.Spacing < th.SpacingMin {
		failing = append(failing, scoreFailure(models.TagSpacing, r.Spacing, th.SpacingMin))
	}
	if r.Contrast < th.ContrastMin {
		failing = append(failing, scoreFailure(models.TagContrast, r.Contrast, th.ContrastMin))
	}

	if th.RequireInteraction && !r.Interaction.Submitted {
		failing = append(failing, models.FailingCriterion{
			Tag:    models.TagInteraction,
			Detail: interactionDetail(r.Interaction),
		})
	}

	if r.Accessibility.ViolationCount > th.AccessibilityMaxViolations {
		detail := fmt.Sprintf("%d violations (max %d)", r.Accessibility.ViolationCount, th.AccessibilityMaxViolations)
		if len(r.Accessibility.TopIssues) > 0 {
			detail += ": " + strings.Join(r.Accessibility.TopIssues, "; ")
		}
		failing = append(failing, models.FailingCriterion{Tag: models.TagAccessibility, Detail: detail})
	}

	if th.RequireEndToEnd && r.EndToEnd != nil && !r.EndToEnd.Passed {
		detail := fmt.Sprintf("%d of %d tests failed", len(r.EndToEnd.FailedTests), r.EndToEnd.Total)
		if len(r.EndToEnd.FailedTests) > 0 {
			detail += ": " + strings.Join(r.EndToEnd.FailedTests, ", ")
		}
		failing = append(failing, models.FailingCriterion{Tag: models.TagEndToEnd, Detail: detail})
	}

	passed := len(failing) == 0 && r.Status == models.StatusPass
	return passed, failing
}

func scoreFailure(tag models.CriterionTag, got, minimum float64) models.FailingCriterion {
	return models.FailingCriterion{
		Tag:    tag,
		Detail: fmt.Sprintf("score %.2f below minimum %.2f", got, minimum),
	}
}

func interactionDetail(ir models.InteractionResult) string {
	detail := strings.TrimSpace(ir.Details)
	if detail == "" {
		detail = "form was not submitted"
	}
	if len(ir.Errors) > 0 {
		detail += " (errors: " + strings.Join(ir.Errors, "; ") + ")"
	}
	return detail
}
