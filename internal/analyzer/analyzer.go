// Package analyzer turns raw model output into a risk-classified command
// proposal. The model's own claims are advisory: pattern tables have the
// final say on destructiveness, and anything ambiguous is treated as
// destructive.
package analyzer

import (
	"encoding/json"
	"regexp"
	"strings"

	"benchchat/internal/domain"
)

// proposalPayload is the JSON shape the analysis prompt asks the model for.
type proposalPayload struct {
	Command       string `json:"command"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	IsDestructive bool   `json:"isDestructive"`
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedRe     = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	bareObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// Analyze extracts a command proposal from raw model output. It returns nil
// when the output carries no actionable command: missing JSON, malformed
// JSON, or an empty command field. A nil result is not an error; it means
// the reply is pure conversation.
func Analyze(raw string) *domain.CommandProposal {
	payload, ok := extractPayload(raw)
	if !ok {
		return nil
	}

	command := strings.TrimSpace(payload.Command)
	if command == "" {
		return nil
	}

	p := &domain.CommandProposal{
		Command:       command,
		Description:   strings.TrimSpace(payload.Description),
		Category:      normalizeCategory(payload.Category, command),
		IsDestructive: payload.IsDestructive,
	}

	classifyRisk(p)
	return p
}

// extractPayload pulls the first JSON object out of the model output,
// trying fenced blocks before a bare object scan.
func extractPayload(raw string) (proposalPayload, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return proposalPayload{}, false
	}

	candidates := make([]string, 0, 3)
	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := fencedRe.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := bareObjectRe.FindString(raw); m != "" {
		candidates = append(candidates, m)
	}

	for _, candidate := range candidates {
		var payload proposalPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil {
			return payload, true
		}
	}
	return proposalPayload{}, false
}

// normalizeCategory keeps a recognized model category, otherwise classifies
// the command text itself.
func normalizeCategory(category, command string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case domain.CategoryQuery:
		return domain.CategoryQuery
	case domain.CategoryReport:
		return domain.CategoryReport
	case domain.CategoryAnalysis:
		return domain.CategoryAnalysis
	case domain.CategoryOther:
		return domain.CategoryOther
	}
	for _, cp := range categoryPatterns {
		if cp.re.MatchString(command) {
			return cp.category
		}
	}
	return domain.CategoryOther
}

// classifyRisk sets the destructive flag and confidence from the pattern
// tables. A destructive pattern match always wins over the model's flag;
// a command matching no known template is assumed destructive.
func classifyRisk(p *domain.CommandProposal) {
	switch {
	case matchesAny(destructivePatterns, p.Command):
		p.IsDestructive = true
		p.Confidence = domain.ConfidenceMedium
	case matchesAny(readOnlyPatterns, p.Command):
		if p.IsDestructive {
			// Model disagrees with the template match; keep the
			// conservative flag but lower confidence.
			p.Confidence = domain.ConfidenceMedium
		} else {
			p.Confidence = domain.ConfidenceHigh
		}
	default:
		p.IsDestructive = true
		p.Confidence = domain.ConfidenceLow
	}
}
