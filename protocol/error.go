// Package protocol carries the session-driving state machine shared by
// every protocol driver (keygen, signing, recovery): a Round interface
// modeled as Start/CanAccept/Update/NextRound, and an Error type that
// keeps track of which session and party a failure belongs to so the
// session orchestrator can turn it into a bus Result (spec.md §6, §7).
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error wraps a round failure with the session and party it occurred
// in, the way the teacher's tss.Error carries a round number and party
// ID alongside the underlying cause.
type Error struct {
	cause       error
	SessionID   string
	PartyIndex  int
	RoundNumber int
}

// WrapError attaches session and round context to cause. A nil cause
// yields a nil *Error, mirroring round.WrapError's own convention of
// being safe to call unconditionally at the end of a round method.
func WrapError(cause error, sessionID string, partyIndex, roundNumber int) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		cause:       errors.WithStack(cause),
		SessionID:   sessionID,
		PartyIndex:  partyIndex,
		RoundNumber: roundNumber,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: session %s party %d round %d: %v", e.SessionID, e.PartyIndex, e.RoundNumber, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the underlying error without the session/round context,
// for callers that only care about comparing the root cause.
func (e *Error) Cause() error {
	return errors.Cause(e.cause)
}
