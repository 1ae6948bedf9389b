package domain

import (
	"time"
)

// AuditOutcome is the terminal state of one supervised execution attempt.
type AuditOutcome string

const (
	AuditSuccess  AuditOutcome = "success"
	AuditFailure  AuditOutcome = "failure"
	AuditTimedOut AuditOutcome = "timed_out"
)

// AuditRecord is the persisted log entry of one execution attempt. Exactly
// one record is written per supervised execute call when command logging is
// enabled, including attempts that time out.
type AuditRecord struct {
	ID            int64        `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	SessionID     string       `json:"session_id"`
	MessageID     string       `json:"message_id"`
	Command       string       `json:"command"`
	Outcome       AuditOutcome `json:"outcome"`
	ResultOrError string       `json:"result_or_error"`
}
