package domain

import "encoding/json"

// OutcomeCode is the provider-agnostic result every provider response is
// normalized into before it reaches the reconciler.
type OutcomeCode string

const (
	OutcomePending    OutcomeCode = "pending"
	OutcomeAuthorized OutcomeCode = "authorized"
	OutcomeDone       OutcomeCode = "done"
	OutcomeCancelled  OutcomeCode = "cancelled"
	OutcomeRefused    OutcomeCode = "refused"
	OutcomeError      OutcomeCode = "error"
)

type Outcome struct {
	Code              OutcomeCode
	ProviderReference string
	Payload           json.RawMessage
}

// TargetState maps a canonical outcome to the transaction state it drives.
// An authorization only stops at `authorized` when the provider captures
// manually; otherwise it is a completed payment.
func (o Outcome) TargetState(capture CaptureMode) (State, bool) {
	switch o.Code {
	case OutcomePending:
		return StatePending, true
	case OutcomeAuthorized:
		if capture == CaptureManual {
			return StateAuthorized, true
		}
		return StateDone, true
	case OutcomeDone:
		return StateDone, true
	case OutcomeCancelled, OutcomeRefused:
		return StateCancelled, true
	case OutcomeError:
		return StateError, true
	}
	return "", false
}
