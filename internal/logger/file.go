package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// FileLogger logs run events to files in .symphony/logs/.
// It creates a timestamped log file per invocation, a detailed log per pass,
// and maintains a latest.log symlink pointing to the most recent run.
type FileLogger struct {
	logDir    string
	runLog    *os.File
	runFile   string
	passesDir string
	logLevel  string
	mu        sync.Mutex
}

// NewFileLogger creates a FileLogger writing to .symphony/logs/ at info level.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".symphony", "logs"), "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	passesDir := filepath.Join(logDir, "passes")
	if err := os.MkdirAll(passesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create passes directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:    logDir,
		runLog:    file,
		runFile:   runFile,
		passesDir: passesDir,
		logLevel:  normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Symphony Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogTransition records every state transition at DEBUG level.
func (fl *FileLogger) LogTransition(runID string, from, to models.RunState, detail string) {
	if !fl.shouldLog("debug") {
		return
	}
	msg := fmt.Sprintf("[%s] [STATE] %s: %s -> %s", timestamp(), runLabel(runID), from, to)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	fl.writeRunLog(msg + "\n")
}

// LogServer records a server lifecycle event.
func (fl *FileLogger) LogServer(kind models.ServerKind, event, detail string) {
	level := "info"
	if event == "failed" {
		level = "error"
	}
	if !fl.shouldLog(level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [SERVER] %s %s: %s\n", timestamp(), kind, event, detail))
}

// LogPassResult writes a one-line summary to the run log and the full pass
// detail to passes/pass-N.log.
func (fl *FileLogger) LogPassResult(rec models.PassRecord, maxPasses int) {
	if fl.shouldLog("info") {
		fl.writeRunLog(fmt.Sprintf("[%s] [PASS] %d/%d %s (%.1fs)\n",
			timestamp(), rec.Index, maxPasses, passVerdict(rec), rec.Duration.Seconds()))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Pass %d of %d ===\n", rec.Index, maxPasses)
	fmt.Fprintf(&b, "Passed: %t\n", rec.Passed)
	fmt.Fprintf(&b, "Duration: %.1fs\n", rec.Duration.Seconds())
	fmt.Fprintf(&b, "Generation applied: %t\n\n", rec.GenerationApplied)

	if rec.Instruction != "" {
		fmt.Fprintf(&b, "Instruction:\n%s\n\n", rec.Instruction)
	}
	if rec.GenerationSummary != "" {
		fmt.Fprintf(&b, "Generation summary:\n%s\n\n", rec.GenerationSummary)
	}
	if rec.GenerationError != "" {
		fmt.Fprintf(&b, "Generation error:\n%s\n\n", rec.GenerationError)
	}
	if rec.VerificationError != "" {
		fmt.Fprintf(&b, "Verification error:\n%s\n\n", rec.VerificationError)
	}
	if r := rec.Report; r != nil {
		fmt.Fprintf(&b, "Report: status=%s alignment=%.2f spacing=%.2f contrast=%.2f violations=%d submitted=%t\n\n",
			r.Status, r.Alignment, r.Spacing, r.Contrast, r.Accessibility.ViolationCount, r.Interaction.Submitted)
	}
	if len(rec.Failing) > 0 {
		b.WriteString("Failing criteria:\n")
		for _, f := range rec.Failing {
			fmt.Fprintf(&b, "- %s: %s\n", f.Tag, f.Detail)
		}
		b.WriteString("\n")
	}
	if rec.FixInstruction != "" {
		fmt.Fprintf(&b, "Fix instruction:\n%s\n", rec.FixInstruction)
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	path := filepath.Join(fl.passesDir, fmt.Sprintf("pass-%d.log", rec.Index))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil && fl.runLog != nil {
		fl.runLog.WriteString(fmt.Sprintf("[%s] [ERROR] write pass log: %v\n", timestamp(), err))
	}
}

// LogOutcome records the run summary.
func (fl *FileLogger) LogOutcome(outcome *models.RunOutcome) {
	if outcome == nil || !fl.shouldLog("info") {
		return
	}

	ts := timestamp()
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] === RUN SUMMARY ===\n", ts)
	fmt.Fprintf(&b, "[%s] Run:        %s\n", ts, runLabel(outcome.RunID))
	fmt.Fprintf(&b, "[%s] Status:     %s\n", ts, outcome.Status)
	fmt.Fprintf(&b, "[%s] Passes:     %d\n", ts, len(outcome.Passes))
	fmt.Fprintf(&b, "[%s] Total time: %.1fs\n", ts, outcome.Duration().Seconds())
	if outcome.FailedComponent != "" {
		fmt.Fprintf(&b, "[%s] Component:  %s\n", ts, outcome.FailedComponent)
	}
	if outcome.Reason != "" {
		fmt.Fprintf(&b, "[%s] Reason:     %s\n", ts, outcome.Reason)
	}
	for _, f := range outcome.Failing {
		fmt.Fprintf(&b, "[%s]   - %s: %s\n", ts, f.Tag, f.Detail)
	}
	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
