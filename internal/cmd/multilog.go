package cmd

import (
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/refine"
)

// multiLogger implements refine.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []refine.Logger
}

// LogTransition forwards to all loggers
func (ml *multiLogger) LogTransition(runID string, from, to models.RunState, detail string) {
	for _, l := range ml.loggers {
		l.LogTransition(runID, from, to, detail)
	}
}

// LogServer forwards to all loggers
func (ml *multiLogger) LogServer(kind models.ServerKind, event, detail string) {
	for _, l := range ml.loggers {
		l.LogServer(kind, event, detail)
	}
}

// LogPassResult forwards to all loggers
func (ml *multiLogger) LogPassResult(rec models.PassRecord, maxPasses int) {
	for _, l := range ml.loggers {
		l.LogPassResult(rec, maxPasses)
	}
}

// LogOutcome forwards to all loggers
func (ml *multiLogger) LogOutcome(outcome *models.RunOutcome) {
	for _, l := range ml.loggers {
		l.LogOutcome(outcome)
	}
}

func (ml *multiLogger) Debugf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Debugf(format, args...)
	}
}

func (ml *multiLogger) Infof(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Infof(format, args...)
	}
}

func (ml *multiLogger) Warnf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Warnf(format, args...)
	}
}

func (ml *multiLogger) Errorf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Errorf(format, args...)
	}
}
