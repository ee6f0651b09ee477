// Package logger provides logging implementations for symphony runs.
//
// Loggers record state transitions, server lifecycle events, per-pass gate
// results and the final outcome. Implementations are thread-safe.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps.
// All output is prefixed with [HH:MM:SS].
// Color output is enabled when the writer is a terminal and NO_COLOR is unset.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	if cl.colorOutput {
		level = levelColor(level).Sprint(level)
	}
	cl.write(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

func (cl *ConsoleLogger) write(s string) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(s))
}

// LogTransition logs a state machine transition at DEBUG level. Entering a
// terminal state is logged at INFO.
// Format: "[HH:MM:SS] run_x: GENERATING -> VERIFYING (detail)"
func (cl *ConsoleLogger) LogTransition(runID string, from, to models.RunState, detail string) {
	level := "debug"
	switch to {
	case models.StateAccepted, models.StateExhausted, models.StateFailed:
		level = "info"
	}
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	target := string(to)
	if cl.colorOutput {
		target = stateColor(to).Sprint(target)
	}
	msg := fmt.Sprintf("[%s] %s: %s -> %s", timestamp(), runLabel(runID), from, target)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	cl.write(msg + "\n")
}

func stateColor(s models.RunState) *color.Color {
	switch s {
	case models.StateAccepted:
		return color.New(color.FgGreen, color.Bold)
	case models.StateFailed:
		return color.New(color.FgRed, color.Bold)
	case models.StateExhausted:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.Bold)
	}
}

func runLabel(runID string) string {
	if runID == "" {
		return "run"
	}
	return runID
}

// LogServer logs a server lifecycle event. Failures log at ERROR level.
// Format: "[HH:MM:SS] [frontend] ready: detail"
func (cl *ConsoleLogger) LogServer(kind models.ServerKind, event, detail string) {
	level := "info"
	if event == "failed" {
		level = "error"
	}
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	label := "[" + string(kind) + "]"
	if cl.colorOutput {
		label = color.New(color.FgCyan).Sprint(label)
		if level == "error" {
			event = color.New(color.FgRed).Sprint(event)
		}
	}
	msg := fmt.Sprintf("[%s] %s %s", timestamp(), label, event)
	if detail != "" {
		msg += ": " + detail
	}
	cl.write(msg + "\n")
}

// LogPassResult logs the gate result of one pass at INFO level.
// Format: "[HH:MM:SS] Pass [=====     ] 1/2 (50%) needs fix: alignment, contrast"
func (cl *ConsoleLogger) LogPassResult(rec models.PassRecord, maxPasses int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	pb := NewProgressBar(maxPasses, 10, cl.colorOutput)
	pb.SetPrefix("Pass ")
	pb.Update(rec.Index)

	verdict := passVerdict(rec)
	if cl.colorOutput {
		if rec.Passed {
			verdict = color.New(color.FgGreen).Sprint(verdict)
		} else {
			verdict = color.New(color.FgYellow).Sprint(verdict)
		}
	}

	msg := fmt.Sprintf("[%s] %s %s", timestamp(), pb.Render(), verdict)
	if rec.Report != nil {
		msg += fmt.Sprintf(" (alignment %.2f, spacing %.2f, contrast %.2f)",
			rec.Report.Alignment, rec.Report.Spacing, rec.Report.Contrast)
	}
	cl.write(msg + "\n")
}

func passVerdict(rec models.PassRecord) string {
	if rec.Passed {
		return "passed"
	}
	if len(rec.Failing) == 0 {
		return "needs fix"
	}
	tags := make([]string, len(rec.Failing))
	for i, f := range rec.Failing {
		tags[i] = string(f.Tag)
	}
	return "needs fix: " + strings.Join(tags, ", ")
}

// LogOutcome logs the run summary at INFO level.
func (cl *ConsoleLogger) LogOutcome(outcome *models.RunOutcome) {
	if cl.writer == nil || outcome == nil || !cl.shouldLog("info") {
		return
	}

	status := string(outcome.Status)
	if cl.colorOutput {
		switch outcome.Status {
		case models.OutcomeAccepted:
			status = color.New(color.FgGreen, color.Bold).Sprint(status)
		case models.OutcomeExhausted:
			status = color.New(color.FgYellow, color.Bold).Sprint(status)
		default:
			status = color.New(color.FgRed, color.Bold).Sprint(status)
		}
	}

	var b strings.Builder
	b.WriteString("\nRun Summary:\n")
	fmt.Fprintf(&b, "  Run: %s\n", runLabel(outcome.RunID))
	fmt.Fprintf(&b, "  Status: %s\n", status)
	fmt.Fprintf(&b, "  Passes: %d\n", len(outcome.Passes))
	fmt.Fprintf(&b, "  Duration: %s\n", formatDuration(outcome.Duration()))
	if outcome.ArtifactDir != "" {
		fmt.Fprintf(&b, "  Artifacts: %s\n", outcome.ArtifactDir)
	}
	if outcome.FailedComponent != "" {
		fmt.Fprintf(&b, "  Failed component: %s\n", outcome.FailedComponent)
	}
	if outcome.Reason != "" {
		fmt.Fprintf(&b, "  Reason: %s\n", outcome.Reason)
	}
	if len(outcome.Failing) > 0 {
		b.WriteString("\nUnmet criteria:\n")
		for _, f := range outcome.Failing {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Tag, f.Detail)
		}
	}
	cl.write(b.String())
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTransition(runID string, from, to models.RunState, detail string) {}
func (n *NoOpLogger) LogServer(kind models.ServerKind, event, detail string)              {}
func (n *NoOpLogger) LogPassResult(rec models.PassRecord, maxPasses int)                  {}
func (n *NoOpLogger) LogOutcome(outcome *models.RunOutcome)                               {}
func (n *NoOpLogger) Debugf(format string, args ...interface{})                           {}
func (n *NoOpLogger) Infof(format string, args ...interface{})                            {}
func (n *NoOpLogger) Warnf(format string, args ...interface{})                            {}
func (n *NoOpLogger) Errorf(format string, args ...interface{})                           {}
