package analyzer

import (
	"testing"

	"benchchat/internal/domain"
)

func TestAnalyze_PlainJSON(t *testing.T) {
	raw := `{"command":"list open sales orders","description":"Lists all open sales orders","category":"query","isDestructive":false}`

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if p.Command != "list open sales orders" {
		t.Errorf("Unexpected command: %q", p.Command)
	}
	if p.Category != domain.CategoryQuery {
		t.Errorf("Expected query category, got %s", p.Category)
	}
	if p.IsDestructive {
		t.Error("Read-only command must not be destructive")
	}
	if p.Confidence != domain.ConfidenceHigh {
		t.Errorf("Expected high confidence for known-safe template, got %s", p.Confidence)
	}
}

func TestAnalyze_FencedJSONBlock(t *testing.T) {
	raw := "Here is the command:\n```json\n{\"command\":\"show invoices\",\"category\":\"query\",\"isDestructive\":false}\n```\nLet me know."

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if p.Command != "show invoices" {
		t.Errorf("Unexpected command: %q", p.Command)
	}
}

func TestAnalyze_PlainFence(t *testing.T) {
	raw := "```\n{\"command\":\"count customers\",\"category\":\"query\",\"isDestructive\":false}\n```"

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if p.Command != "count customers" {
		t.Errorf("Unexpected command: %q", p.Command)
	}
}

func TestAnalyze_BareObjectInProse(t *testing.T) {
	raw := `Sure! {"command":"get stock levels","category":"query","isDestructive":false} Hope that helps.`

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if p.Command != "get stock levels" {
		t.Errorf("Unexpected command: %q", p.Command)
	}
}

func TestAnalyze_NoCommand(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"prose only":       "I'm just chatting, no command here.",
		"malformed json":   `{"command": "broken`,
		"empty command":    `{"command":"","description":"nothing"}`,
		"blank command":    `{"command":"   "}`,
		"array not object": `["not","an","object"]`,
	}
	for name, raw := range cases {
		if p := Analyze(raw); p != nil {
			t.Errorf("%s: expected nil, got %+v", name, p)
		}
	}
}

func TestAnalyze_DestructivePatternOverridesModel(t *testing.T) {
	// The model claims a DELETE is harmless; the pattern table wins.
	raw := `{"command":"DELETE FROM invoices WHERE status='draft'","category":"query","isDestructive":false}`

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if !p.IsDestructive {
		t.Error("DELETE must be classified destructive regardless of model flag")
	}
	if p.Confidence == domain.ConfidenceHigh {
		t.Error("Destructive command must not earn high confidence")
	}
}

func TestAnalyze_DestructiveKeywords(t *testing.T) {
	commands := []string{
		"DROP TABLE customers",
		"TRUNCATE audit_log",
		"UPDATE items SET price = 0",
		"INSERT INTO users VALUES (1)",
		"ALTER TABLE orders ADD COLUMN x",
		"cancel invoice INV-0042",
		"bulk update all item prices",
		"remove stale records",
	}
	for _, cmd := range commands {
		p := Analyze(`{"command":"` + cmd + `","isDestructive":false}`)
		if p == nil {
			t.Fatalf("%q: expected proposal", cmd)
		}
		if !p.IsDestructive {
			t.Errorf("%q: expected destructive", cmd)
		}
	}
}

func TestAnalyze_AmbiguousCommandAssumedDestructive(t *testing.T) {
	raw := `{"command":"recalculate ledger balances","category":"other","isDestructive":false}`

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if !p.IsDestructive {
		t.Error("Unrecognized command must be assumed destructive")
	}
	if p.Confidence != domain.ConfidenceLow {
		t.Errorf("Expected low confidence, got %s", p.Confidence)
	}
}

func TestAnalyze_CategoryFallbackFromCommandText(t *testing.T) {
	cases := []struct {
		command  string
		expected string
	}{
		{"generate monthly sales report", "report"},
		{"analyze revenue trend by quarter", "analysis"},
		{"list overdue invoices", "query"},
		{"do something mysterious", "other"},
	}
	for _, tc := range cases {
		p := Analyze(`{"command":"` + tc.command + `","category":"unknown-tag"}`)
		if p == nil {
			t.Fatalf("%q: expected proposal", tc.command)
		}
		if p.Category != tc.expected {
			t.Errorf("%q: expected category %s, got %s", tc.command, tc.expected, p.Category)
		}
	}
}

func TestAnalyze_ModelDestructiveFlagKeptOnReadOnlyMatch(t *testing.T) {
	// Model says destructive, template says read-only: keep the
	// conservative flag.
	raw := `{"command":"get ready to wipe","category":"query","isDestructive":true}`

	p := Analyze(raw)
	if p == nil {
		t.Fatal("Expected proposal, got nil")
	}
	if !p.IsDestructive {
		t.Error("Model's destructive flag must be kept")
	}
	if p.Confidence != domain.ConfidenceMedium {
		t.Errorf("Expected medium confidence on disagreement, got %s", p.Confidence)
	}
}
