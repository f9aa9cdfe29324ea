package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_TargetState(t *testing.T) {
	tests := []struct {
		code    OutcomeCode
		capture CaptureMode
		want    State
		ok      bool
	}{
		{OutcomePending, CaptureImmediate, StatePending, true},
		{OutcomeAuthorized, CaptureImmediate, StateDone, true},
		{OutcomeAuthorized, CaptureManual, StateAuthorized, true},
		{OutcomeDone, CaptureImmediate, StateDone, true},
		{OutcomeDone, CaptureManual, StateDone, true},
		{OutcomeCancelled, CaptureImmediate, StateCancelled, true},
		{OutcomeRefused, CaptureImmediate, StateCancelled, true},
		{OutcomeError, CaptureManual, StateError, true},
		{OutcomeCode("bogus"), CaptureImmediate, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code)+"/"+string(tt.capture), func(t *testing.T) {
			got, ok := Outcome{Code: tt.code}.TargetState(tt.capture)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateDraft.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateAuthorized.Terminal())
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateError.Terminal())
}
