package models

// CriterionTag identifies a quality criterion a report can fail
type CriterionTag string

// Criterion tags in canonical order
const (
	TagAlignment     CriterionTag = "alignment"
	TagSpacing       CriterionTag = "spacing"
	TagContrast      CriterionTag = "contrast"
	TagInteraction   CriterionTag = "interaction"
	TagAccessibility CriterionTag = "accessibility"
	TagEndToEnd      CriterionTag = "end_to_end"
)

// CanonicalTags lists every criterion tag in the order fix instructions use
var CanonicalTags = []CriterionTag{
	TagAlignment,
	TagSpacing,
	TagContrast,
	TagInteraction,
	TagAccessibility,
	TagEndToEnd,
}

// Valid reports whether t is one of the canonical tags
func (t CriterionTag) Valid() bool {
	for _, c := range CanonicalTags {
		if c == t {
			return true
		}
	}
	return false
}

// FailingCriterion is a single gate failure with a human-readable detail
type FailingCriterion struct {
	Tag    CriterionTag `json:"tag"`
	Detail string       `json:"detail"`
}

// Default gate thresholds
const (
	DefaultAlignmentMin               = 0.90
	DefaultSpacingMin                 = 0.90
	DefaultContrastMin                = 0.75
	DefaultAccessibilityMaxViolations = 5
)

// GateThresholds holds the pass criteria for one run. A pass works on a
// copy so later overrides never affect a gate already in progress.
type GateThresholds struct {
	AlignmentMin               float64 `json:"alignment_min" yaml:"alignment_min"`
	SpacingMin                 float64 `json:"spacing_min" yaml:"spacing_min"`
	ContrastMin                float64 `json:"contrast_min" yaml:"contrast_min"`
	AccessibilityMaxViolations int     `json:"accessibility_max_violations" yaml:"accessibility_max_violations"`
	RequireInteraction         bool    `json:"require_interaction" yaml:"require_interaction"`
	RequireEndToEnd            bool    `json:"require_end_to_end" yaml:"require_end_to_end"`
}

// DefaultThresholds returns the standard thresholds. The two requirement
// flags follow project detection: a form on the page makes interaction
// mandatory, an e2e suite makes the suite mandatory.
func DefaultThresholds(formDetected, suiteDetected bool) GateThresholds {
	return GateThresholds{
		AlignmentMin:               DefaultAlignmentMin,
		SpacingMin:                 DefaultSpacingMin,
		ContrastMin:                DefaultContrastMin,
		AccessibilityMaxViolations: DefaultAccessibilityMaxViolations,
		RequireInteraction:         formDetected,
		RequireEndToEnd:            suiteDetected,
	}
}
