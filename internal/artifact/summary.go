package artifact

import (
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Koiiichi/symphony-lite/internal/filelock"
	"github.com/Koiiichi/symphony-lite/internal/models"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderSummary builds the markdown run summary: final scores against the
// thresholds, visible sections, unmet criteria and screenshot count.
func RenderSummary(outcome *models.RunOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", outcome.RunID)
	fmt.Fprintf(&b, "- **Status:** %s\n", outcome.Status)
	fmt.Fprintf(&b, "- **Passes:** %d\n", len(outcome.Passes))
	fmt.Fprintf(&b, "- **Duration:** %s\n", outcome.Duration().Round(time.Second))
	fmt.Fprintf(&b, "- **Artifacts:** `%s`\n", outcome.ArtifactDir)
	if outcome.FailedComponent != "" {
		fmt.Fprintf(&b, "- **Failed component:** %s\n", outcome.FailedComponent)
	}
	if outcome.Reason != "" {
		fmt.Fprintf(&b, "- **Reason:** %s\n", outcome.Reason)
	}

	r := outcome.FinalReport
	th := outcome.Thresholds
	if r != nil {
		b.WriteString("\n## Final scores\n\n")
		b.WriteString("| Criterion | Value | Threshold | Result |\n")
		b.WriteString("|---|---|---|---|\n")
		scoreRow(&b, "Alignment", r.Alignment, th.AlignmentMin)
		scoreRow(&b, "Spacing", r.Spacing, th.SpacingMin)
		scoreRow(&b, "Contrast", r.Contrast, th.ContrastMin)

		interaction := "not required"
		if th.RequireInteraction {
			interaction = resultWord(r.Interaction.Submitted)
		}
		fmt.Fprintf(&b, "| Form interaction | %t | required: %t | %s |\n",
			r.Interaction.Submitted, th.RequireInteraction, interaction)
		fmt.Fprintf(&b, "| Accessibility violations | %d | max %d | %s |\n",
			r.Accessibility.ViolationCount, th.AccessibilityMaxViolations,
			resultWord(r.Accessibility.ViolationCount <= th.AccessibilityMaxViolations))
		if r.EndToEnd != nil {
			fmt.Fprintf(&b, "| End-to-end | %d/%d failed | required: %t | %s |\n",
				len(r.EndToEnd.FailedTests), r.EndToEnd.Total, th.RequireEndToEnd, resultWord(r.EndToEnd.Passed))
		}

		b.WriteString("\n## Visible sections\n\n")
		if len(r.VisibleSections) == 0 {
			b.WriteString("None detected.\n")
		}
		for _, s := range r.VisibleSections {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	if len(outcome.Failing) > 0 {
		b.WriteString("\n## Unmet criteria\n\n")
		for _, f := range outcome.Failing {
			fmt.Fprintf(&b, "- **%s:** %s\n", f.Tag, f.Detail)
		}
	}

	b.WriteString("\n## Passes\n\n")
	b.WriteString("| Pass | Gate | Failing | Duration |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, p := range outcome.Passes {
		tags := make([]string, len(p.Failing))
		for i, f := range p.Failing {
			tags[i] = string(f.Tag)
		}
		failing := strings.Join(tags, ", ")
		if failing == "" {
			failing = "-"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", p.Index, resultWord(p.Passed), failing, p.Duration.Round(time.Millisecond))
	}

	shots := 0
	for _, p := range outcome.Passes {
		if p.Report != nil {
			shots += len(p.Report.Screenshots)
		}
	}
	fmt.Fprintf(&b, "\nScreenshots captured: %d\n", shots)

	return b.String()
}

func scoreRow(b *strings.Builder, name string, value, minimum float64) {
	fmt.Fprintf(b, "| %s | %.2f | %.2f | %s |\n", name, value, minimum, resultWord(value >= minimum))
}

func resultWord(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// RenderHTML converts summary markdown into a standalone HTML document
func RenderHTML(title, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}

	var doc bytes.Buffer
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&doc, "<title>%s</title>\n", html.EscapeString(title))
	doc.WriteString("</head>\n<body>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")
	return doc.Bytes(), nil
}

// WriteSummary stores summary.md and summary.html in the run directory
func (s *Store) WriteSummary(outcome *models.RunOutcome) error {
	md := RenderSummary(outcome)
	if err := filelock.AtomicWrite(filepath.Join(s.rc.ArtifactDir, SummaryMarkdown), []byte(md)); err != nil {
		return err
	}
	doc, err := RenderHTML("Symphony run "+outcome.RunID, md)
	if err != nil {
		return err
	}
	return filelock.AtomicWrite(filepath.Join(s.rc.ArtifactDir, SummaryHTML), doc)
}
