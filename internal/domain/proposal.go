package domain

// Confidence is a coarse signal for how well a proposed command matches a
// known-safe template.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Proposal categories. Category is a free-form tag but the analyzer only
// emits values from this set.
const (
	CategoryQuery    = "query"
	CategoryReport   = "report"
	CategoryAnalysis = "analysis"
	CategoryOther    = "other"
)

// CommandProposal is a structured, risk-classified command extracted from
// model output. It is ephemeral: derived from an assistant message and
// recomputed on demand, never stored independently.
type CommandProposal struct {
	Command       string     `json:"command"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	IsDestructive bool       `json:"is_destructive"`
	Confidence    Confidence `json:"confidence"`
}
