package chats

import "errors"

// Sentinel errors returned by the repository. These propagate to the
// caller for explicit handling; the repository never recovers silently.
var (
	// ErrChatNotFound indicates the requested chat id is absent from the store.
	ErrChatNotFound = errors.New("chat not found")

	// ErrDuplicateTag is returned when pushing a tag the chat already carries.
	ErrDuplicateTag = errors.New("tag already in chat")

	// ErrMessageNotFound is returned when a message index is out of range.
	ErrMessageNotFound = errors.New("message not found")
)
