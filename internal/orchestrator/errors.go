package orchestrator

import (
	"errors"
	"fmt"
)

// ReasonCode discriminates why the Orchestrator Facade refused a command.
// A refusal is a precondition violation: it never indicates a side effect
// occurred.
type ReasonCode string

const (
	ReasonUnknownSubject      ReasonCode = "unknown_subject"
	ReasonIllegalTransition   ReasonCode = "illegal_transition"
	ReasonMissingPool         ReasonCode = "missing_pool"
	ReasonNoCredential        ReasonCode = "no_credential"
	ReasonNotLocal            ReasonCode = "not_local"
	ReasonOutOfRange          ReasonCode = "out_of_range"
	ReasonAlreadyExists       ReasonCode = "already_exists"
	ReasonMissingSchedule     ReasonCode = "missing_schedule"
)

// Refusal is the typed return the Orchestrator Facade gives callers for
// a precondition violation: an explicit value callers can branch on by
// Reason instead of string-matching an error message.
type Refusal struct {
	Reason  ReasonCode
	Message string
}

func (r *Refusal) Error() string { return r.Message }

func refuse(reason ReasonCode, format string, args ...interface{}) *Refusal {
	return &Refusal{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRefusal reports whether err is (or wraps) a *Refusal, returning it.
func AsRefusal(err error) (*Refusal, bool) {
	var r *Refusal
	ok := errors.As(err, &r)
	return r, ok
}
