package refine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from models.RunState
		ev   Event
		want models.RunState
	}{
		{models.StateAllocating, EventDone, models.StateStartingServers},
		{models.StateAllocating, EventFatal, models.StateFailed},
		{models.StateStartingServers, EventDone, models.StateAwaitingReady},
		{models.StateAwaitingReady, EventDone, models.StateGenerating},
		{models.StateAwaitingReady, EventFatal, models.StateFailed},
		{models.StateGenerating, EventDone, models.StateVerifying},
		{models.StateVerifying, EventDone, models.StateGating},
		{models.StateGating, EventPassed, models.StateAccepted},
		{models.StateGating, EventRetry, models.StateSynthesizingFix},
		{models.StateGating, EventExhausted, models.StateExhausted},
		{models.StateSynthesizingFix, EventDone, models.StateGenerating},
		{models.StateAccepted, EventDone, models.StateStopping},
		{models.StateExhausted, EventDone, models.StateStopping},
		{models.StateFailed, EventDone, models.StateStopping},
		{models.StateStopping, EventDone, models.StateDone},
		{models.StateGenerating, EventCancel, models.StateStopping},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Invalid(t *testing.T) {
	_, err := Next(models.StateGenerating, EventPassed)
	assert.Error(t, err, "gate verdicts are only valid in GATING")

	_, err = Next(models.StateVerifying, EventFatal)
	assert.Error(t, err, "capability failures are absorbed")

	_, err = Next(models.StateDone, EventDone)
	assert.Error(t, err, "DONE is final")
}

func TestTransitionTable_EveryPathEndsInDone(t *testing.T) {
	for from, row := range transitions {
		for ev, to := range row {
			seen := map[models.RunState]bool{}
			state := to
			// Follow EventDone edges; every state must reach DONE without a cycle
			// that skips STOPPING.
			for state != models.StateDone {
				require.False(t, seen[state], "cycle from %s on %s", from, ev)
				seen[state] = true
				next, err := Next(state, EventDone)
				if err != nil {
					next, err = Next(state, EventExhausted)
				}
				require.NoError(t, err, "state %s has no way forward", state)
				state = next
			}
			assert.True(t, seen[models.StateStopping] || from == models.StateStopping,
				"%s on %s reaches DONE without STOPPING", from, ev)
		}
	}
}

func TestCancellable(t *testing.T) {
	for _, s := range []models.RunState{
		models.StateAllocating, models.StateStartingServers, models.StateAwaitingReady,
		models.StateGenerating, models.StateVerifying, models.StateGating, models.StateSynthesizingFix,
	} {
		assert.True(t, Cancellable(s), "%s", s)
	}
	for _, s := range []models.RunState{
		models.StateAccepted, models.StateExhausted, models.StateFailed, models.StateStopping, models.StateDone,
	} {
		assert.False(t, Cancellable(s), "%s", s)
	}
}
