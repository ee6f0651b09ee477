package models

// VerificationReportSchema returns the JSON Schema for the structural part of
// a verification report. Only the status enum and the three scores are
// enforced; every other section is optional and defaulted by the parser.
func VerificationReportSchema() string {
	return `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Verification Report",
  "description": "Structured output of one verification call",
  "type": "object",
  "required": ["status", "alignment", "spacing", "contrast"],
  "properties": {
    "status": {
      "type": "string",
      "enum": ["pass", "needs_fix"],
      "description": "Verifier verdict"
    },
    "alignment": {
      "type": "number",
      "description": "Layout alignment score in [0,1]"
    },
    "spacing": {
      "type": "number",
      "description": "Spacing consistency score in [0,1]"
    },
    "contrast": {
      "type": "number",
      "description": "Color contrast score in [0,1]"
    }
  },
  "additionalProperties": true
}`
}
