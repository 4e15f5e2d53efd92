package consolidate

import (
	"sort"

	"divrecon/internal/types"
)

// Legacy projects row analyses into the flat break list kept for
// pre-existing report consumers. Pure transform: nothing is recomputed,
// every value is read from the rows.
func Legacy(rows []types.RowAnalysis) []types.LegacyBreak {
	var out []types.LegacyBreak
	for _, row := range rows {
		for _, b := range row.Breaks {
			lb := types.LegacyBreak{
				BreakType:            b.Finding.Type,
				Severity:             string(b.Finding.Severity),
				RootCauses:           []string{b.RootCause},
				Actions:              append([]string(nil), b.Actions...),
				PriorityScore:        b.PriorityScore,
				Explanation:          b.Finding.Description,
				ISIN:                 row.ISIN,
				CompanyName:          row.CompanyName,
				AmountImpact:         b.FinancialImpact,
				Currency:             b.Currency,
				OperationalUrgency:   b.Urgency,
				EscalationRequired:   b.EscalationRequired,
				TargetResolutionDays: b.TargetResolutionDays,
				Degraded:             b.Degraded,
			}
			if b.Explanation != "" {
				lb.Explanation = b.Explanation
			}
			out = append(out, lb)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].PriorityScore > out[b].PriorityScore
	})
	return out
}
