// Package provider abstracts the AI model backends used to generate chat
// replies and to analyze user requests for actionable commands.
package provider

import (
	"context"
	"errors"

	"benchchat/internal/domain"
)

var (
	// ErrUnreachable means the backend could not be reached at all.
	ErrUnreachable = errors.New("model provider unreachable")
	// ErrTimeout means the backend did not answer within the deadline.
	ErrTimeout = errors.New("model provider timed out")
	// ErrRejected means the backend answered but refused the request,
	// e.g. bad credentials or an unknown model.
	ErrRejected = errors.New("model provider rejected the request")
	// ErrUnknownProvider means the configured provider name is not supported.
	ErrUnknownProvider = errors.New("unknown model provider")
)

// Provider is a chat-capable model backend. Implementations are stateless;
// all conversation context travels in the history argument.
type Provider interface {
	// Name identifies the backend ("ollama", "openai").
	Name() string

	// GenerateReply produces the assistant's conversational reply to
	// userText given the prior session history.
	GenerateReply(ctx context.Context, history []*domain.Message, userText string) (string, error)

	// AnalyzeCommand asks the model whether userText maps to an
	// administrative command and returns the raw model output. The caller
	// is responsible for extracting a structured proposal from it.
	AnalyzeCommand(ctx context.Context, userText string) (string, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// chatSystemPrompt frames the assistant's conversational replies.
const chatSystemPrompt = `You are an AI assistant embedded in a business management platform.
You help users query records, generate reports and analyze business data.
Answer concisely and stay within the platform's data. If the user asks for
an action you cannot perform directly, describe the administrative command
that would perform it.`

// analysisSystemPrompt asks for the structured command decision. The JSON
// shape here must stay in sync with what the analyzer extracts.
const analysisSystemPrompt = `You analyze a user's request to a business management platform and decide
whether it maps to a single administrative command.

Respond with JSON only, no prose, in exactly this shape:
{
  "command": "<the command to run, or empty string if none>",
  "description": "<one sentence describing what the command does>",
  "category": "<one of: query, report, analysis, other>",
  "isDestructive": <true if the command creates, modifies or deletes data>
}

Rules:
- Read-only lookups are category "query". Aggregations and summaries are
  "report". Trend or comparison work is "analysis". Anything else is "other".
- When in doubt about whether a command modifies data, set isDestructive true.
- If the request is pure conversation with no actionable command, return an
  empty command.`

// historyLimit caps how many prior messages are replayed to the model.
const historyLimit = 20

// trimHistory drops error messages and keeps only the most recent window.
func trimHistory(history []*domain.Message) []*domain.Message {
	kept := make([]*domain.Message, 0, len(history))
	for _, msg := range history {
		if msg.IsError {
			continue
		}
		kept = append(kept, msg)
	}
	if len(kept) > historyLimit {
		kept = kept[len(kept)-historyLimit:]
	}
	return kept
}
