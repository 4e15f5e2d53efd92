package enrich

import (
	"divrecon/internal/types"
)

// AnalyzePatterns aggregates root-cause categories across all enriched
// breaks. Systemic risk is flagged when one category accounts for more than
// the threshold share of all breaks.
func AnalyzePatterns(groups [][]types.EnrichedBreak, threshold float64) *types.PatternAnalysis {
	counts := map[string]int{}
	total := 0
	for _, breaks := range groups {
		for _, b := range breaks {
			if b.RootCauseCategory == "" {
				continue
			}
			counts[b.RootCauseCategory]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	var top string
	topCount := 0
	for cat, n := range counts {
		if n > topCount || (n == topCount && cat < top) {
			top = cat
			topCount = n
		}
	}

	ratio := float64(topCount) / float64(total)
	pa := &types.PatternAnalysis{
		TopCategory:      top,
		TopCategoryCount: topCount,
		TopCategoryRatio: ratio,
		SystemicRisk:     ratio > threshold,
	}
	pa.SystemicActions = systemicActions(top, ratio)
	return pa
}

// systemicActions returns canned process recommendations keyed by how
// concentrated the dominant root cause is.
func systemicActions(category string, ratio float64) []string {
	switch {
	case ratio > 0.7:
		return []string{
			"Investigate " + category + " as a systemic process failure affecting most breaks",
			"Escalate the dominant break pattern to the process owner",
			"Implement a preventive control for " + category + " before the next dividend cycle",
		}
	case ratio > 0.5:
		return []string{
			"Investigate the recurring " + category + " pattern across affected events",
			"Correct the shared upstream source of " + category + " breaks",
		}
	default:
		return nil
	}
}
