package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser is a message written by the human user.
	RoleUser Role = "user"
	// RoleAssistant is a model-generated message.
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry in a session's append-only log.
// Seq is monotonic within a session; messages are never mutated except for
// the execution bookkeeping fields, which are written once after a command
// attached to an assistant message runs.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	IsError   bool      `json:"is_error"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`

	// Execution bookkeeping, populated when a command proposed by this
	// message was executed.
	Command       string `json:"command,omitempty"`
	CommandResult string `json:"command_result,omitempty"`
	ExecutionMs   int64  `json:"execution_ms,omitempty"`
}
