package analyzer

import "regexp"

// destructivePatterns match commands that create, modify or delete data.
// A match here overrides whatever the model claimed about destructiveness.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDELETE\b`),
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bCREATE\b`),
	regexp.MustCompile(`(?i)\bREPLACE\b`),
	regexp.MustCompile(`(?i)\bREMOVE\b`),
	regexp.MustCompile(`(?i)\bcancel\b`),
	regexp.MustCompile(`(?i)\bsubmit\b`),
	regexp.MustCompile(`(?i)\brename\b`),
	regexp.MustCompile(`(?i)\bset[-_ ]value\b`),
	regexp.MustCompile(`(?i)\bbulk[-_ ](update|delete|edit)\b`),
}

// readOnlyPatterns match known-safe, read-only command templates. Commands
// matching one of these (and no destructive pattern) earn high confidence.
var readOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*SELECT\b`),
	regexp.MustCompile(`(?i)^\s*SHOW\b`),
	regexp.MustCompile(`(?i)^\s*DESCRIBE\b`),
	regexp.MustCompile(`(?i)^\s*EXPLAIN\b`),
	regexp.MustCompile(`(?i)^\s*(list|get|show|count|find|search|view)\b`),
}

// categoryPatterns classify a command when the model's category is missing
// or not one of the known values. Order matters: first match wins.
var categoryPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"report", regexp.MustCompile(`(?i)\b(report|summary|summarize|total|aggregate|breakdown)\b`)},
	{"analysis", regexp.MustCompile(`(?i)\b(analy[sz]e|trend|compare|comparison|forecast|insight)\b`)},
	{"query", regexp.MustCompile(`(?i)\b(select|list|get|show|count|find|search|view|fetch)\b`)},
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
