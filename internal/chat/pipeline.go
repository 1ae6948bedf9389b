// Package chat orchestrates the message pipeline: persist the user's text,
// generate a model reply, extract and gate a command proposal, and run or
// park the command. Runs are serialized per session with a queue depth of
// one; anything beyond that is refused as busy.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"benchchat/internal/analyzer"
	"benchchat/internal/domain"
	"benchchat/internal/executor"
	"benchchat/internal/gate"
	"benchchat/internal/provider"
	"benchchat/internal/realtime"
	"benchchat/internal/settings"
	"benchchat/internal/store"
)

var (
	// ErrSessionBusy is returned when a session already has one run in
	// flight and one queued.
	ErrSessionBusy = errors.New("session is busy")
	// ErrNoPendingConfirmation is returned when there is nothing to
	// confirm or reject, including when a confirmation was already
	// consumed by a concurrent request.
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message text is empty")
)

// errReplyPrefix starts every error message shown in place of a reply.
const errReplyPrefix = "I encountered an error processing your request: "

// modelRetryDelay is the pause before the single retry of a failed model call.
const modelRetryDelay = 500 * time.Millisecond

// maxSessionRuns is one in-flight run plus one queued.
const maxSessionRuns = 2

// pendingConfirmation is a parked destructive command awaiting the user.
// At most one exists per session; a newer proposal silently replaces it.
type pendingConfirmation struct {
	MessageID   string
	Command     string
	Description string
}

type sessionState struct {
	runMu    sync.Mutex
	inflight int
	pending  *pendingConfirmation
}

// ProviderFactory builds a model provider from a settings snapshot.
type ProviderFactory func(domain.Settings) (provider.Provider, error)

// Pipeline drives a session's message processing end to end.
type Pipeline struct {
	repo        store.Repository
	settings    *settings.Store
	newProvider ProviderFactory
	supervisor  *executor.Supervisor
	hub         *realtime.Hub
	logger      *slog.Logger

	modelTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewPipeline wires the pipeline together.
func NewPipeline(repo store.Repository, st *settings.Store, factory ProviderFactory,
	sup *executor.Supervisor, hub *realtime.Hub, modelTimeout time.Duration, logger *slog.Logger) *Pipeline {
	if factory == nil {
		factory = provider.New
	}
	if modelTimeout <= 0 {
		modelTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:         repo,
		settings:     st,
		newProvider:  factory,
		supervisor:   sup,
		hub:          hub,
		logger:       logger,
		modelTimeout: modelTimeout,
		sessions:     make(map[string]*sessionState),
	}
}

// SendResult is everything one pipeline run produced.
type SendResult struct {
	Session          *domain.Session
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	Proposal         *domain.CommandProposal
	Decision         gate.Decision
	GateReason       string
	Execution        *executor.Outcome
	PendingMessageID string
}

// Send runs the full pipeline for one user message. When sessionID is empty
// a new session is created. Model failures do not fail the call: they are
// recorded as an error-flagged assistant message and reported in the result.
func (p *Pipeline) Send(ctx context.Context, userID, sessionID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sess, err := p.resolveSession(ctx, userID, sessionID, text)
	if err != nil {
		return nil, err
	}

	st, err := p.acquireRun(sess.ID)
	if err != nil {
		return nil, err
	}
	defer p.releaseRun(sess.ID, st)

	st.runMu.Lock()
	defer st.runMu.Unlock()

	// A new message supersedes any parked confirmation: the conversation
	// has moved on, so the old command must never run.
	p.supersedePending(sess.ID, st)

	history, err := p.repo.GetHistory(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userMsg := &domain.Message{
		ID:        store.NewMessageID(),
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Content:   text,
	}
	if _, err := p.repo.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	p.publishMessage(userMsg)

	p.hub.Publish(realtime.Event{Type: realtime.EventTypingChanged, SessionID: sess.ID, Typing: true})
	defer p.hub.Publish(realtime.Event{Type: realtime.EventTypingChanged, SessionID: sess.ID, Typing: false})

	snapshot := p.settings.Snapshot()
	result := &SendResult{Session: sess, UserMessage: userMsg}

	reply, replyErr := p.generateReply(ctx, snapshot, history, text)
	if replyErr != nil {
		p.logger.Warn("model reply failed", "session_id", sess.ID, "error", replyErr)
		errMsg, appendErr := p.appendAssistant(ctx, sess.ID, errReplyPrefix+replyErr.Error(), true)
		if appendErr != nil {
			return nil, appendErr
		}
		result.AssistantMessage = errMsg
		return result, nil
	}

	proposal := p.analyze(ctx, snapshot, text)
	result.Proposal = proposal

	verdict := gate.Decide(proposal, snapshot)
	result.Decision = verdict.Decision
	result.GateReason = verdict.Reason

	// A refused command must be explained in the conversation itself, not
	// just in this response: history replays and websocket subscribers see
	// the assistant message, not the one-shot gate fields.
	content := reply
	if verdict.Decision == gate.Reject {
		content = reply + "\n\n" + verdict.Reason
		p.logger.Info("command rejected by safety gate",
			"session_id", sess.ID, "command", proposal.Command, "reason", verdict.Reason)
	}

	assistantMsg, err := p.appendAssistant(ctx, sess.ID, content, false)
	if err != nil {
		return nil, err
	}
	result.AssistantMessage = assistantMsg

	switch verdict.Decision {
	case gate.AutoExecute:
		outcome := p.execute(ctx, sess.ID, assistantMsg.ID, proposal.Command, snapshot)
		result.Execution = &outcome

	case gate.RequireConfirmation:
		p.setPending(sess.ID, st, &pendingConfirmation{
			MessageID:   assistantMsg.ID,
			Command:     proposal.Command,
			Description: proposal.Description,
		})
		result.PendingMessageID = assistantMsg.ID
	}

	return result, nil
}

// ConfirmResult reports a confirmed command's execution.
type ConfirmResult struct {
	MessageID string
	Command   string
	Outcome   executor.Outcome
}

// Confirm consumes the session's pending confirmation and executes its
// command. The pending slot is taken before execution starts, so concurrent
// confirms can never run the command twice: the loser gets
// ErrNoPendingConfirmation.
func (p *Pipeline) Confirm(ctx context.Context, userID, sessionID string) (*ConfirmResult, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	pending, ok := p.takePending(sess.ID)
	if !ok {
		return nil, ErrNoPendingConfirmation
	}

	snapshot := p.settings.Snapshot()
	outcome := p.execute(ctx, sess.ID, pending.MessageID, pending.Command, snapshot)

	return &ConfirmResult{
		MessageID: pending.MessageID,
		Command:   pending.Command,
		Outcome:   outcome,
	}, nil
}

// RejectPending discards the session's pending confirmation without
// executing anything.
func (p *Pipeline) RejectPending(ctx context.Context, userID, sessionID string) error {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if _, ok := p.takePending(sess.ID); !ok {
		return ErrNoPendingConfirmation
	}
	p.logger.Info("pending confirmation rejected by user", "session_id", sess.ID)
	return nil
}

// ClearSession closes the session and starts a fresh one. The closed
// session's history stays addressable by its old id.
func (p *Pipeline) ClearSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := p.repo.CloseSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	p.dropState(sess.ID)

	fresh, err := p.repo.CreateSession(ctx, userID, "New conversation")
	if err != nil {
		return nil, fmt.Errorf("create replacement session: %w", err)
	}
	p.logger.Info("session cleared", "old_session_id", sess.ID, "new_session_id", fresh.ID)
	return fresh, nil
}

// History returns the session's messages after an ownership check.
func (p *Pipeline) History(ctx context.Context, userID, sessionID string) ([]*domain.Message, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return p.repo.GetHistory(ctx, sess.ID)
}

// Sessions lists the user's sessions.
func (p *Pipeline) Sessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return p.repo.ListSessions(ctx, userID)
}

// HasPending reports whether the session has a parked confirmation.
func (p *Pipeline) HasPending(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	return ok && st.pending != nil
}

func (p *Pipeline) resolveSession(ctx context.Context, userID, sessionID, text string) (*domain.Session, error) {
	if sessionID == "" {
		sess, err := p.repo.CreateSession(ctx, userID, domain.TitleFromText(text))
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return sess, nil
	}
	return p.ownedSession(ctx, userID, sessionID)
}

// ownedSession loads a session and checks ownership. A session belonging to
// someone else is reported as not found, indistinguishable from a missing one.
func (p *Pipeline) ownedSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	sess, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.UserID != userID {
		return nil, store.ErrSessionNotFound
	}
	return sess, nil
}

func (p *Pipeline) acquireRun(sessionID string) (*sessionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		p.sessions[sessionID] = st
	}
	if st.inflight >= maxSessionRuns {
		return nil, ErrSessionBusy
	}
	st.inflight++
	return st, nil
}

func (p *Pipeline) releaseRun(sessionID string, st *sessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st.inflight--
	if st.inflight == 0 && st.pending == nil {
		delete(p.sessions, sessionID)
	}
}

func (p *Pipeline) setPending(sessionID string, st *sessionState, pending *pendingConfirmation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st.pending = pending
}

func (p *Pipeline) supersedePending(sessionID string, st *sessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.pending != nil {
		p.logger.Debug("pending confirmation superseded by new message",
			"session_id", sessionID, "command", st.pending.Command)
		st.pending = nil
	}
}

// takePending atomically removes and returns the pending confirmation.
func (p *Pipeline) takePending(sessionID string) (*pendingConfirmation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok || st.pending == nil {
		return nil, false
	}
	pending := st.pending
	st.pending = nil
	if st.inflight == 0 {
		delete(p.sessions, sessionID)
	}
	return pending, true
}

func (p *Pipeline) dropState(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sessions[sessionID]; ok {
		st.pending = nil
		if st.inflight == 0 {
			delete(p.sessions, sessionID)
		}
	}
}

// generateReply calls the model with one retry on transient failures.
func (p *Pipeline) generateReply(ctx context.Context, snapshot domain.Settings, history []*domain.Message, text string) (string, error) {
	prov, err := p.newProvider(snapshot)
	if err != nil {
		return "", err
	}

	reply, err := p.callModel(ctx, prov, history, text)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, provider.ErrUnreachable) && !errors.Is(err, provider.ErrTimeout) {
		return "", err
	}

	p.logger.Debug("model call failed, retrying once", "error", err)
	select {
	case <-time.After(modelRetryDelay):
	case <-ctx.Done():
		return "", err
	}
	return p.callModel(ctx, prov, history, text)
}

func (p *Pipeline) callModel(ctx context.Context, prov provider.Provider, history []*domain.Message, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.modelTimeout)
	defer cancel()
	return prov.GenerateReply(callCtx, history, text)
}

// analyze runs the second model call and pattern classification. Analysis is
// best effort: on any failure the message is treated as pure conversation.
func (p *Pipeline) analyze(ctx context.Context, snapshot domain.Settings, text string) *domain.CommandProposal {
	prov, err := p.newProvider(snapshot)
	if err != nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.modelTimeout)
	defer cancel()

	raw, err := prov.AnalyzeCommand(callCtx, text)
	if err != nil {
		p.logger.Warn("command analysis failed", "error", err)
		return nil
	}
	return analyzer.Analyze(raw)
}

func (p *Pipeline) execute(ctx context.Context, sessionID, messageID, command string, snapshot domain.Settings) executor.Outcome {
	outcome := p.supervisor.Execute(ctx, sessionID, messageID, command, snapshot.LogCommands)

	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.repo.UpdateMessageExecution(updateCtx, messageID, command,
		outcome.ResultOrError(), outcome.IsError(), outcome.DurationMs); err != nil {
		p.logger.Error("failed to record execution on message",
			"message_id", messageID, "error", err)
	}

	p.hub.Publish(realtime.Event{
		Type:      realtime.EventExecutionResult,
		SessionID: sessionID,
		Execution: &realtime.ExecutionResult{
			MessageID:  messageID,
			Command:    command,
			Success:    !outcome.IsError(),
			Output:     outcome.Output,
			Error:      outcome.Error,
			DurationMs: outcome.DurationMs,
		},
	})
	return outcome
}

func (p *Pipeline) appendAssistant(ctx context.Context, sessionID, content string, isError bool) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        store.NewMessageID(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		IsError:   isError,
	}
	if _, err := p.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	p.publishMessage(msg)
	return msg, nil
}

func (p *Pipeline) publishMessage(msg *domain.Message) {
	p.hub.Publish(realtime.Event{
		Type:      realtime.EventMessageAdded,
		SessionID: msg.SessionID,
		Message:   msg,
	})
}
