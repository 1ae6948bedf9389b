// Package gate decides what happens to a proposed command: run it now, hold
// it for confirmation, or refuse it. Decisions are pure functions of the
// proposal and a settings snapshot, so the same inputs always gate the same
// way and the table is trivially testable.
package gate

import (
	"benchchat/internal/domain"
)

// Decision is the gate's verdict for one proposal.
type Decision int

const (
	// NoCommand means there is nothing to gate: no proposal, or one
	// outside the executable categories.
	NoCommand Decision = iota
	// AutoExecute means the command runs immediately without user input.
	AutoExecute
	// RequireConfirmation means the command is parked until the user
	// explicitly confirms it.
	RequireConfirmation
	// Reject means the command is refused outright.
	Reject
)

func (d Decision) String() string {
	switch d {
	case NoCommand:
		return "no_command"
	case AutoExecute:
		return "auto_execute"
	case RequireConfirmation:
		return "require_confirmation"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Verdict carries the decision plus a human-readable reason suitable for
// showing to the user when the command is held or refused.
type Verdict struct {
	Decision Decision
	Reason   string
}

// Decide applies the safety table to a proposal under a settings snapshot.
//
// Destructive commands: held for confirmation whenever confirmation is
// required, even in safe mode — the user keeps the ability to approve.
// Without the confirmation guard, safe mode rejects them outright. Both
// guards off auto-executes. Non-destructive commands in an executable
// category run immediately.
func Decide(p *domain.CommandProposal, s domain.Settings) Verdict {
	if p == nil || p.Command == "" {
		return Verdict{Decision: NoCommand}
	}
	if !executableCategory(p.Category) {
		return Verdict{Decision: NoCommand, Reason: "not an executable command category"}
	}

	if p.IsDestructive {
		if s.ConfirmDestructive {
			return Verdict{
				Decision: RequireConfirmation,
				Reason:   "This command may modify data and requires your confirmation.",
			}
		}
		if s.SafeMode {
			return Verdict{
				Decision: Reject,
				Reason:   "Safe mode is enabled: commands that modify data are not executed.",
			}
		}
		return Verdict{Decision: AutoExecute}
	}

	return Verdict{Decision: AutoExecute}
}

// executableCategory reports whether proposals of this category are ever
// run. "other" is conversational fallout, never executed.
func executableCategory(category string) bool {
	switch category {
	case domain.CategoryQuery, domain.CategoryReport, domain.CategoryAnalysis:
		return true
	default:
		return false
	}
}
