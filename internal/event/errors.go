// ABOUTME: Error types produced while decoding event envelopes
// ABOUTME: MalformedEventError is skipped and logged by callers, never propagated

package event

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent is the sentinel matched by every MalformedEventError.
var ErrMalformedEvent = errors.New("malformed event")

// MalformedEventError describes an envelope that could not be mapped onto a
// payload variant.
type MalformedEventError struct {
	Event   Type
	EventID string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("malformed event: %s", e.Reason)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
}

func (e *MalformedEventError) Unwrap() error {
	return ErrMalformedEvent
}

func malformed(env *Envelope, reason string) error {
	return &MalformedEventError{Event: env.Event, EventID: env.EventID, Reason: reason}
}
