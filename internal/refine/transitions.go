package refine

import (
	"fmt"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// Event is the result a state handler reports to the transition table
type Event string

// Events
const (
	EventDone      Event = "done"      // state work finished
	EventPassed    Event = "passed"    // gate passed
	EventRetry     Event = "retry"     // gate failed, passes remain
	EventExhausted Event = "exhausted" // gate failed on the last pass
	EventFatal     Event = "fatal"     // unrecoverable error
	EventCancel    Event = "cancel"    // context cancelled at a state boundary
)

// transitions is the single table driving the coordinator loop. A state
// missing from the table, or an event missing from a state's row, is a
// programming error.
var transitions = map[models.RunState]map[Event]models.RunState{
	models.StateAllocating: {
		EventDone:   models.StateStartingServers,
		EventFatal:  models.StateFailed,
		EventCancel: models.StateStopping,
	},
	models.StateStartingServers: {
		EventDone:   models.StateAwaitingReady,
		EventFatal:  models.StateFailed,
		EventCancel: models.StateStopping,
	},
	models.StateAwaitingReady: {
		EventDone:   models.StateGenerating,
		EventFatal:  models.StateFailed,
		EventCancel: models.StateStopping,
	},
	models.StateGenerating: {
		EventDone:   models.StateVerifying,
		EventCancel: models.StateStopping,
	},
	models.StateVerifying: {
		EventDone:   models.StateGating,
		EventCancel: models.StateStopping,
	},
	models.StateGating: {
		EventPassed:    models.StateAccepted,
		EventRetry:     models.StateSynthesizingFix,
		EventExhausted: models.StateExhausted,
		EventCancel:    models.StateStopping,
	},
	models.StateSynthesizingFix: {
		EventDone:   models.StateGenerating,
		EventFatal:  models.StateFailed,
		EventCancel: models.StateStopping,
	},
	models.StateAccepted:  {EventDone: models.StateStopping},
	models.StateExhausted: {EventDone: models.StateStopping},
	models.StateFailed:    {EventDone: models.StateStopping},
	models.StateStopping:  {EventDone: models.StateDone},
}

// Next returns the state that follows from on ev
func Next(from models.RunState, ev Event) (models.RunState, error) {
	row, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("no transitions from state %s", from)
	}
	to, ok := row[ev]
	if !ok {
		return "", fmt.Errorf("invalid event %q in state %s", ev, from)
	}
	return to, nil
}

// Cancellable reports whether the coordinator checks for cancellation
// before entering state s. Terminal states always proceed to teardown.
func Cancellable(s models.RunState) bool {
	_, ok := transitions[s][EventCancel]
	return ok
}
