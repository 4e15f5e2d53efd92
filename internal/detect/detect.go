// Package detect compares the two sides of each Match field by field and
// emits typed discrepancy findings. All amount arithmetic is exact decimal;
// deltas are signed custody minus NBIM.
package detect

import (
	"fmt"

	"github.com/shopspring/decimal"

	"divrecon/internal/config"
	"divrecon/internal/logging"
	"divrecon/internal/types"
)

// Detector holds the comparison tolerances.
type Detector struct {
	absTol decimal.Decimal
	relPct decimal.Decimal
}

// New builds a Detector from tolerance config. An unparsable absolute
// tolerance falls back to 0.01.
func New(cfg config.ToleranceConfig) *Detector {
	abs, err := decimal.NewFromString(cfg.Absolute)
	if err != nil {
		abs = decimal.NewFromFloat(0.01)
	}
	return &Detector{
		absTol: abs,
		relPct: decimal.NewFromFloat(cfg.RelativePct),
	}
}

// Detect runs field comparisons for every match and returns findings grouped
// per match, index-aligned with the input.
func (d *Detector) Detect(matches []types.Match) [][]types.Finding {
	log := logging.Get(logging.CategoryDetect)

	out := make([][]types.Finding, len(matches))
	total := 0
	for i, m := range matches {
		out[i] = d.detectOne(m)
		total += len(out[i])
	}
	log.Infow("detection complete", "matches", len(matches), "findings", total)
	return out
}

func (d *Detector) detectOne(m types.Match) []types.Finding {
	if !m.Complete() {
		// Neither-side matches are an internal invariant violation handled
		// by the consolidator; emit nothing here.
		if m.NBIM == nil && m.Custody == nil {
			return nil
		}
		return []types.Finding{missingRecord(m)}
	}

	var findings []types.Finding
	if f, ok := d.amountFinding(m, "net_amount", types.BreakAmountMismatch,
		m.NBIM.NetAmount, m.Custody.NetAmount); ok {
		findings = append(findings, f)
	}
	if f, ok := d.amountFinding(m, "tax_amount", types.BreakTaxMismatch,
		m.NBIM.TaxAmount, m.Custody.TaxAmount); ok {
		findings = append(findings, f)
	}
	if m.NBIM.ExDate != m.Custody.ExDate {
		findings = append(findings, dateFinding("ex_date", m.NBIM.ExDate, m.Custody.ExDate))
	}
	if m.NBIM.PaymentDate != m.Custody.PaymentDate {
		findings = append(findings, dateFinding("payment_date", m.NBIM.PaymentDate, m.Custody.PaymentDate))
	}
	if m.NBIM.Currency != m.Custody.Currency {
		findings = append(findings, types.Finding{
			Type:         types.BreakCurrencyMismatch,
			Severity:     types.SeverityHigh,
			Field:        "currency",
			NBIMValue:    m.NBIM.Currency,
			CustodyValue: m.Custody.Currency,
			Description: fmt.Sprintf("currency differs: ledger %s vs custodian %s",
				m.NBIM.Currency, m.Custody.Currency),
		})
	}
	return findings
}

// amountFinding compares one amount pair. Within tolerance when the absolute
// difference is at most the absolute tolerance, or at most relPct percent of
// the larger magnitude.
func (d *Detector) amountFinding(m types.Match, field string, bt types.BreakType, nbimVal, custVal decimal.Decimal) (types.Finding, bool) {
	delta := custVal.Sub(nbimVal)
	diff := delta.Abs()
	if diff.LessThanOrEqual(d.absTol) {
		return types.Finding{}, false
	}

	larger := nbimVal.Abs()
	if custVal.Abs().GreaterThan(larger) {
		larger = custVal.Abs()
	}
	relLimit := larger.Mul(d.relPct).Div(decimal.NewFromInt(100))
	if diff.LessThanOrEqual(relLimit) {
		return types.Finding{}, false
	}

	return types.Finding{
		Type:         bt,
		Severity:     amountSeverity(diff, larger),
		Field:        field,
		NBIMValue:    nbimVal.String(),
		CustodyValue: custVal.String(),
		Delta:        delta,
		Description: fmt.Sprintf("%s differs by %s (ledger %s vs custodian %s)",
			field, delta.String(), nbimVal.String(), custVal.String()),
	}, true
}

// amountSeverity buckets by relative magnitude: >=5% high, >=1% medium,
// otherwise low. A nonzero difference against a zero base is high.
func amountSeverity(diff, larger decimal.Decimal) types.Severity {
	if larger.IsZero() {
		return types.SeverityHigh
	}
	pct := diff.Div(larger).Mul(decimal.NewFromInt(100))
	switch {
	case pct.GreaterThanOrEqual(decimal.NewFromInt(5)):
		return types.SeverityHigh
	case pct.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func dateFinding(field, nbimVal, custVal string) types.Finding {
	return types.Finding{
		Type:         types.BreakDateMismatch,
		Severity:     types.SeverityMedium,
		Field:        field,
		NBIMValue:    nbimVal,
		CustodyValue: custVal,
		Description:  fmt.Sprintf("%s differs: ledger %s vs custodian %s", field, nbimVal, custVal),
	}
}

func missingRecord(m types.Match) types.Finding {
	present := m.Present()
	missing := types.SourceCustody
	if m.NBIM == nil {
		missing = types.SourceNBIM
	}
	f := types.Finding{
		Type:        types.BreakMissingRecord,
		Severity:    types.SeverityCritical,
		MissingFrom: missing,
		Description: fmt.Sprintf("event %s present only in %s; no %s record found",
			m.Key, present.Source, missing),
	}
	if present != nil {
		// The present side's net amount is the best available impact proxy.
		f.Delta = present.NetAmount
		if missing == types.SourceCustody {
			f.Delta = f.Delta.Neg()
		}
	}
	return f
}
