package enrich

import (
	"regexp"
	"strings"
)

var (
	genericActionRe = regexp.MustCompile(`(?i)^(?:maintain|continue|monitor|document|create benchmark|celebrate|keep up|no action|none)`)
	actionVerbRe    = regexp.MustCompile(`(?i)\b(?:verify|reconcile|cross-?check|investigate|contact|request|correct|update|adjust|book|amend|align|compute|recompute|escalate|implement|fix|map|match|attach|obtain|validate)\b`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// FilterActions keeps only concrete, actionable instructions: drops generic
// filler, requires an actionable verb and a minimum length, and dedupes
// case-insensitively with collapsed whitespace. Input order is preserved.
func FilterActions(actions []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if len(a) < 10 {
			continue
		}
		if genericActionRe.MatchString(a) {
			continue
		}
		if !actionVerbRe.MatchString(a) {
			continue
		}
		key := spaceRe.ReplaceAllString(strings.ToLower(a), " ")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
