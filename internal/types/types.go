// Package types defines the core domain model shared by every pipeline stage:
// normalized event records, matches, findings, enriched breaks and the
// consolidated per-row and portfolio outputs.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which side of the reconciliation a record came from.
type Source string

const (
	SourceNBIM    Source = "NBIM"
	SourceCustody Source = "CUSTODY"
)

// EventRecord is one normalized dividend event row from one source.
// Records are immutable once loaded; downstream stages only read them.
type EventRecord struct {
	EventKey    string            `json:"event_key"`
	ISIN        string            `json:"isin"`
	SEDOL       string            `json:"sedol,omitempty"`
	Ticker      string            `json:"ticker,omitempty"`
	CompanyName string            `json:"company_name,omitempty"`
	ExDate      string            `json:"ex_date"`      // ISO date (2006-01-02)
	PaymentDate string            `json:"payment_date"` // ISO date
	GrossAmount decimal.Decimal   `json:"gross_amount"`
	NetAmount   decimal.Decimal   `json:"net_amount"`
	TaxAmount   decimal.Decimal   `json:"tax_amount"`
	Currency    string            `json:"currency"`
	Custodian   string            `json:"custodian,omitempty"`
	BankAccount string            `json:"bank_account,omitempty"`
	Source      Source            `json:"source"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// IdentityKey is the composite matching key: ISIN plus corporate-action
// event key. Empty when either component is missing, which marks the row
// unmatchable.
func (r EventRecord) IdentityKey() string {
	if r.ISIN == "" || r.EventKey == "" {
		return ""
	}
	return r.ISIN + "-" + r.EventKey
}

// Match pairs zero-or-one NBIM record with zero-or-one custody record that
// share an identity key. A one-sided Match is a missing-record break by
// construction.
type Match struct {
	Key     string       `json:"key"`
	NBIM    *EventRecord `json:"nbim_record,omitempty"`
	Custody *EventRecord `json:"custody_record,omitempty"`
}

// Present returns the side that exists, preferring NBIM.
func (m Match) Present() *EventRecord {
	if m.NBIM != nil {
		return m.NBIM
	}
	return m.Custody
}

// Complete reports whether both sides are present.
func (m Match) Complete() bool { return m.NBIM != nil && m.Custody != nil }

// BreakType classifies a discrepancy finding.
type BreakType string

const (
	BreakAmountMismatch    BreakType = "amount_mismatch"
	BreakTaxMismatch       BreakType = "tax_mismatch"
	BreakDateMismatch      BreakType = "date_mismatch"
	BreakCurrencyMismatch  BreakType = "currency_mismatch"
	BreakMissingRecord     BreakType = "missing_record"
	BreakDuplicateRecord   BreakType = "duplicate_record"
	BreakUnmatchableRecord BreakType = "unmatchable_record"
)

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is one typed discrepancy detected for a Match. Delta is signed,
// custody minus NBIM, and is always set when both sides are present.
type Finding struct {
	Type         BreakType       `json:"break_type"`
	Severity     Severity        `json:"severity"`
	Field        string          `json:"field,omitempty"`
	NBIMValue    string          `json:"nbim_value,omitempty"`
	CustodyValue string          `json:"custody_value,omitempty"`
	Delta        decimal.Decimal `json:"delta"`
	Description  string          `json:"description"`
	MissingFrom  Source          `json:"missing_from,omitempty"`
}

// DataQualityScores are 1-10 sub-scores attached during enrichment.
type DataQualityScores struct {
	Completeness int `json:"completeness_score"`
	Accuracy     int `json:"accuracy_score"`
	Consistency  int `json:"consistency_score"`
}

// EnrichedBreak is a Finding augmented by the enrichment passes. Degraded is
// true when the fields came from local fallback logic instead of the
// external classification capability.
type EnrichedBreak struct {
	Finding Finding `json:"finding"`

	RootCause         string   `json:"root_cause"`
	RootCauseCategory string   `json:"root_cause_category"`
	Confidence        string   `json:"analysis_confidence"`
	Explanation       string   `json:"explanation,omitempty"`
	RelatedCauses     []string `json:"related_causes,omitempty"`

	PriorityScore        int      `json:"priority_score"` // 1-10
	PriorityLevel        string   `json:"priority_level"` // high / medium / low
	Urgency              string   `json:"operational_urgency"`
	Actions              []string `json:"recommended_actions"`
	EscalationRequired   bool     `json:"escalation_required"`
	TargetResolutionDays int      `json:"target_resolution_days"`

	FinancialImpact decimal.Decimal   `json:"financial_impact"`
	Currency        string            `json:"currency"`
	DataQuality     DataQualityScores `json:"data_quality"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// Status is the per-row reconciliation outcome.
type Status string

const (
	StatusReconciled  Status = "reconciled"
	StatusMinorIssue  Status = "minor_issue"
	StatusMajorIssue  Status = "major_issue"
	StatusMissingData Status = "missing_data"
)

// RowAnalysis is the consolidated result for one Match. Constructed only by
// the consolidator; immutable afterwards.
type RowAnalysis struct {
	RowID       string          `json:"row_id"`
	MatchIndex  int             `json:"row_number"`
	ISIN        string          `json:"isin"`
	EventKey    string          `json:"event_key"`
	CompanyName string          `json:"company_name,omitempty"`
	ExDate      string          `json:"ex_date,omitempty"`
	PaymentDate string          `json:"payment_date,omitempty"`
	Breaks      []EnrichedBreak `json:"breaks"`
	Score       int             `json:"reconciliation_score"` // 0-10, 10 = fully reconciled
	Status      Status          `json:"overall_status"`
	TotalImpact decimal.Decimal `json:"total_impact"`
	Currency    string          `json:"currency,omitempty"`
	Narrative   string          `json:"narrative"`
}

// TopImpactRow is a portfolio summary line for the highest-impact rows.
type TopImpactRow struct {
	RowID   string          `json:"row_id"`
	Company string          `json:"company,omitempty"`
	Impact  decimal.Decimal `json:"impact"`
	Score   int             `json:"score"`
}

// PatternAnalysis is the portfolio-level root-cause pattern block.
type PatternAnalysis struct {
	TopCategory      string   `json:"most_common_root_cause"`
	TopCategoryCount int      `json:"frequency"`
	TopCategoryRatio float64  `json:"frequency_ratio"`
	SystemicRisk     bool     `json:"systemic_risk_indicator"`
	SystemicActions  []string `json:"recommended_systemic_actions,omitempty"`
}

// PortfolioSummary is the derived aggregate over all row analyses. It is
// recomputed on every run and never persisted apart from its rows.
type PortfolioSummary struct {
	TotalRows            int              `json:"total_rows"`
	TotalImpact          decimal.Decimal  `json:"total_financial_impact"`
	AverageScore         float64          `json:"average_reconciliation_score"`
	StatusDistribution   map[Status]int   `json:"status_distribution"`
	SeverityDistribution map[Severity]int `json:"severity_distribution"`
	HighImpactRows       int              `json:"high_impact_rows_count"`
	Health               string           `json:"portfolio_health"`
	Recommendations      []string         `json:"key_portfolio_recommendations"`
	TopByImpact          []TopImpactRow   `json:"top_issues_by_impact"`
	Patterns             *PatternAnalysis `json:"pattern_analysis,omitempty"`
	ExcludedRows         int              `json:"excluded_rows"`
	ExclusionReasons     []string         `json:"exclusion_reasons,omitempty"`
	DegradedBreaks       int              `json:"degraded_breaks"`
}

// AnalysisResult is one completed pipeline run.
type AnalysisResult struct {
	RunID       string           `json:"run_id"`
	State       string           `json:"state"`
	Fingerprint string           `json:"fingerprint"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Rows        []RowAnalysis    `json:"row_analyses"`
	Summary     PortfolioSummary `json:"portfolio_summary"`
}

// LegacyBreak is the flat break shape kept for pre-existing report
// consumers. It is always projected from RowAnalysis, never computed
// separately.
type LegacyBreak struct {
	BreakType            BreakType       `json:"break_type"`
	Severity             string          `json:"severity"`
	RootCauses           []string        `json:"root_causes"`
	Actions              []string        `json:"actions"`
	PriorityScore        int             `json:"priority_score"`
	Explanation          string          `json:"explanation"`
	ISIN                 string          `json:"isin"`
	CompanyName          string          `json:"company_name,omitempty"`
	AmountImpact         decimal.Decimal `json:"amount_impact"`
	Currency             string          `json:"currency,omitempty"`
	OperationalUrgency   string          `json:"operational_urgency"`
	EscalationRequired   bool            `json:"escalation_required"`
	TargetResolutionDays int             `json:"target_resolution_days"`
	Degraded             bool            `json:"degraded"`
}

// String implements fmt.Stringer for log lines.
func (f Finding) String() string {
	return fmt.Sprintf("%s/%s %s", f.Type, f.Severity, f.Description)
}
