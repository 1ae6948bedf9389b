// Package domain contains core domain types for the assistant service.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	// SessionActive marks a session that still accepts messages.
	SessionActive SessionStatus = "Active"
	// SessionClosed marks a session that was cleared or retired; its
	// history stays addressable by id.
	SessionClosed SessionStatus = "Closed"
)

// Session is an ordered, append-only conversation owned by one user.
type Session struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Title          string        `json:"title"`
	Status         SessionStatus `json:"status"`
	MessageCount   int           `json:"message_count"`
	StartedAt      time.Time     `json:"started_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
}

// IsActive reports whether the session still accepts messages.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// TitleFromText derives a session title from the first user message.
func TitleFromText(text string) string {
	const maxTitle = 60
	text = collapseWhitespace(text)
	if text == "" {
		return "New conversation"
	}
	runes := []rune(text)
	if len(runes) <= maxTitle {
		return text
	}
	return string(runes[:maxTitle-1]) + "…"
}

func collapseWhitespace(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, r)
	}
	return string(out)
}
