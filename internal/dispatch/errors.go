package dispatch

import (
	"errors"
	"fmt"

	"github.com/kalambet/tagask/internal/directory"
)

var (
	// ErrEmptyAudience is returned when there is nobody to deliver to.
	ErrEmptyAudience = errors.New("dispatch: empty audience")
	// ErrNoMailAddresses is wrapped in a DeliveryError when no audience
	// member has a resolvable mail address.
	ErrNoMailAddresses = errors.New("dispatch: no audience member has a mail address")
)

// DeliveryError means nothing reached the audience: conversation creation
// or the email send failed.
type DeliveryError struct {
	Strategy Strategy
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Strategy, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PartialDispatchError means the conversation exists but the question was
// not posted into it. The conversation may be empty.
type PartialDispatchError struct {
	Strategy     Strategy
	Conversation directory.Conversation
	Err          error
}

func (e *PartialDispatchError) Error() string {
	return fmt.Sprintf("%s conversation %s created but message not posted: %v", e.Strategy, e.Conversation.ID, e.Err)
}

func (e *PartialDispatchError) Unwrap() error { return e.Err }
