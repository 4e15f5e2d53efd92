package classify

import (
	"github.com/shopspring/decimal"

	"divrecon/internal/types"
)

// Fallback is the deterministic classification substituted when the
// external capability yields nothing usable. Every field is derived from
// the finding alone, so two runs over the same input always agree.
type Fallback struct {
	RootCause            string
	RootCauseCategory    string
	Confidence           string
	Explanation          string
	PriorityScore        int
	PriorityLevel        string
	Urgency              string
	Actions              []string
	EscalationRequired   bool
	TargetResolutionDays int
}

var fallbackCategories = map[types.BreakType]string{
	types.BreakAmountMismatch:    "booking_discrepancy",
	types.BreakTaxMismatch:       "withholding_tax_variance",
	types.BreakDateMismatch:      "timing_difference",
	types.BreakCurrencyMismatch:  "currency_setup_error",
	types.BreakMissingRecord:     "missing_booking",
	types.BreakDuplicateRecord:   "duplicate_booking",
	types.BreakUnmatchableRecord: "data_quality_issue",
}

var fallbackCauses = map[types.BreakType]string{
	types.BreakAmountMismatch:    "Net amounts differ between ledger and custodian; likely a rate or basis difference in one booking",
	types.BreakTaxMismatch:       "Withholding tax amounts differ; likely a treaty rate or reclaim treatment difference",
	types.BreakDateMismatch:      "Event dates differ between sources; likely a market calendar or announcement timing difference",
	types.BreakCurrencyMismatch:  "Quotation currencies differ; likely an instrument setup or account configuration issue",
	types.BreakMissingRecord:     "Event booked on one side only; likely an unprocessed notification or a late booking",
	types.BreakDuplicateRecord:   "Same event booked more than once in a single source",
	types.BreakUnmatchableRecord: "Row lacks the identifiers needed to match it against the other source",
}

var fallbackActions = map[types.BreakType][]string{
	types.BreakAmountMismatch: {
		"Verify the dividend rate and holding basis against the corporate action notice",
		"Recompute the net amount from gross and withholding on both sides",
	},
	types.BreakTaxMismatch: {
		"Verify the applicable treaty withholding rate for the security's domicile",
		"Request the custodian's tax calculation breakdown",
	},
	types.BreakDateMismatch: {
		"Verify the ex-date and payment date against the official corporate action announcement",
	},
	types.BreakCurrencyMismatch: {
		"Verify the quotation currency in the instrument master data",
		"Contact the custodian to confirm the settlement currency",
	},
	types.BreakMissingRecord: {
		"Investigate why the event is absent from one source",
		"Contact the counterparty to obtain the missing booking",
	},
	types.BreakDuplicateRecord: {
		"Investigate the duplicated booking and amend the redundant entry",
	},
	types.BreakUnmatchableRecord: {
		"Correct the missing identifiers so the row can be matched",
	},
}

var fallbackPriorityBase = map[types.Severity]int{
	types.SeverityCritical: 9,
	types.SeverityHigh:     8,
	types.SeverityMedium:   5,
	types.SeverityLow:      2,
}

// FallbackFor derives the deterministic substitute for one finding.
// Priority starts from the severity base and shifts with the absolute
// financial impact, clamped to [1,10].
func FallbackFor(f types.Finding, impact decimal.Decimal) Fallback {
	score := fallbackPriorityBase[f.Severity]
	if score == 0 {
		score = 5
	}

	abs := impact.Abs()
	switch {
	case abs.GreaterThan(decimal.NewFromInt(100000)):
		score += 2
	case abs.GreaterThan(decimal.NewFromInt(10000)):
		score++
	case abs.LessThan(decimal.NewFromInt(100)):
		score--
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}

	level := "low"
	switch {
	case score >= 8:
		level = "high"
	case score >= 4:
		level = "medium"
	}

	return Fallback{
		RootCause:            fallbackCauses[f.Type],
		RootCauseCategory:    fallbackCategories[f.Type],
		Confidence:           "low",
		Explanation:          "Derived from break type and financial impact without external analysis",
		PriorityScore:        score,
		PriorityLevel:        level,
		Urgency:              urgencyFor(level),
		Actions:              append([]string(nil), fallbackActions[f.Type]...),
		EscalationRequired:   score >= 9,
		TargetResolutionDays: TargetResolutionDays(abs),
	}
}

// TargetResolutionDays maps absolute impact to a resolution deadline.
func TargetResolutionDays(abs decimal.Decimal) int {
	switch {
	case abs.GreaterThan(decimal.NewFromInt(100000)):
		return 1
	case abs.GreaterThan(decimal.NewFromInt(10000)):
		return 3
	case abs.GreaterThan(decimal.NewFromInt(1000)):
		return 7
	default:
		return 14
	}
}

func urgencyFor(level string) string {
	switch level {
	case "high":
		return "Resolve before the next payment cycle"
	case "medium":
		return "Resolve within the current reporting period"
	default:
		return "Resolve during routine reconciliation review"
	}
}
