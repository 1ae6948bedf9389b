package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"benchchat/internal/domain"
	"benchchat/internal/store"
)

// Status is the terminal state of a supervised execution.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome summarizes one supervised execution attempt.
type Outcome struct {
	Status     Status
	Output     string
	Error      string
	DurationMs int64
}

// IsError reports whether the attempt ended badly.
func (o Outcome) IsError() bool {
	return o.Status != StatusSuccess
}

// ResultOrError is the audit-trail payload: the output on success, the
// error text otherwise.
func (o Outcome) ResultOrError() string {
	if o.Status == StatusSuccess {
		return o.Output
	}
	return o.Error
}

// auditWriteTimeout bounds the audit insert. The audit write uses its own
// context so a dead request context cannot skip the trail.
const auditWriteTimeout = 5 * time.Second

// Supervisor runs commands on the backend with a hard deadline and records
// exactly one audit entry per attempt, timeouts included.
type Supervisor struct {
	backend Backend
	repo    store.Repository
	timeout time.Duration
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor with the given per-command deadline.
func NewSupervisor(backend Backend, repo store.Repository, timeout time.Duration, logger *slog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{backend: backend, repo: repo, timeout: timeout, logger: logger}
}

// Execute runs one command under the supervisor's deadline. It never
// returns an error for a failed or timed-out command; those are reported in
// the Outcome so the caller can relay them to the user. When logCommands is
// set, exactly one audit record is written for the attempt regardless of
// how it ended.
func (s *Supervisor) Execute(ctx context.Context, sessionID, messageID, command string, logCommands bool) Outcome {
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.backend.Execute(execCtx, command)
	elapsed := time.Since(start).Milliseconds()

	var outcome Outcome
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded):
		outcome = Outcome{
			Status:     StatusTimedOut,
			Error:      fmt.Sprintf("execution exceeded the %s deadline", s.timeout),
			DurationMs: elapsed,
		}
	case err != nil:
		outcome = Outcome{
			Status:     StatusFailure,
			Error:      err.Error(),
			DurationMs: elapsed,
		}
	case !result.Success:
		outcome = Outcome{
			Status:     StatusFailure,
			Output:     result.Output,
			Error:      result.Error,
			DurationMs: result.DurationMs,
		}
		if outcome.Error == "" {
			outcome.Error = "execution failed"
		}
	default:
		outcome = Outcome{
			Status:     StatusSuccess,
			Output:     result.Output,
			DurationMs: result.DurationMs,
		}
	}

	s.logger.Info("command executed",
		"session_id", sessionID,
		"message_id", messageID,
		"status", outcome.Status.String(),
		"duration_ms", outcome.DurationMs,
	)

	if logCommands {
		s.writeAudit(sessionID, messageID, command, outcome)
	}
	return outcome
}

func (s *Supervisor) writeAudit(sessionID, messageID, command string, outcome Outcome) {
	auditCtx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	rec := &domain.AuditRecord{
		Timestamp:     time.Now(),
		SessionID:     sessionID,
		MessageID:     messageID,
		Command:       command,
		Outcome:       auditOutcome(outcome.Status),
		ResultOrError: outcome.ResultOrError(),
	}
	if err := s.repo.AppendAudit(auditCtx, rec); err != nil {
		s.logger.Error("failed to write audit record",
			"session_id", sessionID, "message_id", messageID, "error", err)
	}
}

func auditOutcome(status Status) domain.AuditOutcome {
	switch status {
	case StatusSuccess:
		return domain.AuditSuccess
	case StatusTimedOut:
		return domain.AuditTimedOut
	default:
		return domain.AuditFailure
	}
}
