package orchestrator

import "time"

// State is one phase of a completion's lifecycle.
type State string

const (
	StateAdmitted    State = "ADMITTED"
	StateAssembling  State = "ASSEMBLING"
	StateCalling     State = "CALLING"
	StateRetrying    State = "RETRYING"
	StateFallingBack State = "FALLING_BACK"
	StateSuccess     State = "SUCCESS"
	StatePersisting  State = "PERSISTING"
	StateDone        State = "DONE"
	StateRejected    State = "REJECTED"
	StateExhausted   State = "EXHAUSTED"
)

// Outcome labels how a single model attempt ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeFatal     Outcome = "fatal"
)

/*
ModelAttempt records one call to one model. Attempts feed logs,
metrics and the audit trail; they are never written to memory stores.
*/
type ModelAttempt struct {
	Model     string    `json:"model"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	Outcome   Outcome   `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	Err       string    `json:"err,omitempty"`
}
