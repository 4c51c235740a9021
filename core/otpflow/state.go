package otpflow

import (
	"fmt"

	"github.com/pkg/errors"
)

// State of a Flow.
//
//	idle -> [awaiting_details ->] code_issued -> verified -> password_set
//
// awaiting_details is only visited by lecturer signups. Any non terminal state may go Back
// to the identity step or be abandoned.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingDetails State = "awaiting_details"
	StateCodeIssued      State = "code_issued"
	StateVerified        State = "verified"
	StatePasswordSet     State = "password_set"
	StateAbandoned       State = "abandoned"
)

func (s State) Terminal() bool {
	return s == StatePasswordSet || s == StateAbandoned
}

// Event names a transition trigger.
type Event string

const (
	EventSubmitStudent  Event = "submit_student"
	EventSubmitLecturer Event = "submit_lecturer"
	EventSubmitReset    Event = "submit_reset_identifier"
	EventSubmitDetails  Event = "submit_details"
	EventSubmitCode     Event = "submit_code"
	EventResend         Event = "resend"
	EventSubmitPassword Event = "submit_password"
	EventBack           Event = "back"
	EventAbandon        Event = "abandon"
)

var (
	ErrInvalidTransition = errors.New("this action is not allowed at the current step")
	ErrFlowNotFound      = errors.New("flow not found or expired")
	ErrStepInProgress    = errors.New("a previous submission for this step is still being processed")
	ErrCodeMismatch      = errors.New("the code you entered is incorrect")
	ErrPasswordMismatch  = errors.New("passwords do not match")
)

// TransitionError reports an event fired in a state that does not accept it.
// It unwraps to ErrInvalidTransition.
type TransitionError struct {
	State State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s in state %s", ErrInvalidTransition, e.Event, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
