// ABOUTME: Session state, validation errors and link policy for the intake dialogue
// ABOUTME: Sessions are copied out of the manager; callers never share the stored record

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the dialogue step of a chat.
type State int

const (
	// Idle means no session exists for the chat.
	Idle State = iota
	AwaitingPost
	AwaitingLocation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingPost:
		return "AWAITING_POST"
	case AwaitingLocation:
		return "AWAITING_LOCATION"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one chat's in-progress dialogue.
type Session struct {
	ChatID          string
	State           State
	PendingPostText string
	PendingLink     *string
	StartedAt       time.Time
}

// Request is a complete marker request produced by the final dialogue step.
type Request struct {
	ChatID    string
	PlaceName string
	PostText  string
	Link      *string
}

// Reason classifies rejected input.
type Reason string

const (
	ReasonNotForwarded Reason = "not_forwarded"
	ReasonNoLink       Reason = "no_link"
	ReasonNoPlace      Reason = "no_place"
	ReasonNoSession    Reason = "no_session"
	ReasonWrongState   Reason = "wrong_state"
)

// ValidationError reports input that cannot advance the dialogue.
// The session is unchanged when one is returned.
type ValidationError struct {
	ChatID string
	Reason Reason
	State  State
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat %s: input rejected in %s: %s", e.ChatID, e.State, e.Reason)
}

// ReasonOf returns the validation reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// LinkPolicy decides whether a forwarded post must carry a link.
type LinkPolicy string

const (
	LinkRequired LinkPolicy = "required"
	LinkOptional LinkPolicy = "optional"
)

// ParseLinkPolicy accepts "required" or "optional"; empty means required.
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch LinkPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LinkRequired:
		return LinkRequired, nil
	case LinkOptional:
		return LinkOptional, nil
	default:
		return "", fmt.Errorf("unknown link policy %q (want required or optional)", s)
	}
}
