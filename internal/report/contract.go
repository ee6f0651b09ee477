// Package report implements the verification report contract: strict
// parsing of the structural fields, defaulting of optional sections and the
// inverse serialization used for archiving.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// ErrMalformedReport is returned when the structural fields of a report are
// missing or have the wrong type.
var ErrMalformedReport = errors.New("malformed verification report")

// UnreadableViolationCount replaces the violation count of an accessibility
// section that is present but cannot be decoded. It exceeds any threshold.
const UnreadableViolationCount = math.MaxInt32

// wireReport mirrors the JSON layout. Optional sections stay raw so that an
// absent section gets its default and a mistyped one gets a failing value.
type wireReport struct {
	Status          string          `json:"status"`
	Alignment       float64         `json:"alignment"`
	Spacing         float64         `json:"spacing"`
	Contrast        float64         `json:"contrast"`
	VisibleSections json.RawMessage `json:"visible_sections"`
	Interaction     json.RawMessage `json:"interaction"`
	Accessibility   json.RawMessage `json:"accessibility"`
	EndToEnd        json.RawMessage `json:"end_to_end"`
	Screenshots     json.RawMessage `json:"screenshots"`
}

// Parse decodes raw verifier output into a normalized report.
func Parse(raw []byte) (*models.VerificationReport, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	var w wireReport
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	r := models.VerificationReport{
		Status:    w.Status,
		Alignment: w.Alignment,
		Spacing:   w.Spacing,
		Contrast:  w.Contrast,
	}
	// Lists carry no verdict; a mistyped one is left empty.
	_, _ = decodeOptional(w.VisibleSections, &r.VisibleSections)
	_, _ = decodeOptional(w.Screenshots, &r.Screenshots)

	if _, err := decodeOptional(w.Interaction, &r.Interaction); err != nil {
		reason := unreadable("interaction", err)
		r.Interaction = models.InteractionResult{Submitted: false, Details: reason, Errors: []string{reason}}
	}
	if _, err := decodeOptional(w.Accessibility, &r.Accessibility); err != nil {
		r.Accessibility = models.AccessibilityResult{
			ViolationCount: UnreadableViolationCount,
			TopIssues:      []string{unreadable("accessibility", err)},
		}
	}

	var e2e models.EndToEndResult
	ok, err := decodeOptional(w.EndToEnd, &e2e)
	switch {
	case err != nil:
		r.EndToEnd = &models.EndToEndResult{Passed: false, FailedTests: []string{unreadable("end_to_end", err)}}
	case ok:
		r.EndToEnd = &e2e
	}

	normalized := r.Normalized()
	return &normalized, nil
}

// decodeOptional fills dst from raw. An absent or null section leaves dst
// untouched and reports false; a present section that does not decode
// returns the decode error.
func decodeOptional[T any](raw json.RawMessage, dst *T) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	*dst = v
	return true, nil
}

func unreadable(section string, err error) string {
	return fmt.Sprintf("%s section unreadable: %v", section, err)
}

// Serialize encodes a report in the layout Parse accepts. For any report
// produced by Parse, Parse(Serialize(r)) equals r.
func Serialize(r *models.VerificationReport) ([]byte, error) {
	if r == nil {
		return nil, errors.New("serialize: nil report")
	}
	normalized := r.Normalized()
	data, err := json.MarshalIndent(&normalized, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize report: %w", err)
	}
	return data, nil
}

// AllFailing returns the conservative report substituted when verification
// errors out or returns a malformed payload. Every score is zero, the
// interaction probe is marked unsubmitted and the reason is carried in the
// interaction details.
func AllFailing(reason string) *models.VerificationReport {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "verification unavailable"
	}
	r := models.VerificationReport{
		Status: models.StatusNeedsFix,
		Interaction: models.InteractionResult{
			Submitted: false,
			Details:   reason,
			Errors:    []string{reason},
		},
	}.Normalized()
	return &r
}
