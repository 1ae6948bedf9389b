package store

import (
	"fmt"

	"github.com/google/uuid"
)

// newID returns a prefixed random identifier, e.g. "sess-5f3a...".
func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return newID("msg")
}
