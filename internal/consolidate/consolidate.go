// Package consolidate runs the full reconciliation pipeline and merges
// per-match findings into row analyses and the portfolio summary. This is
// the only place row scores, statuses and narratives are computed.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"divrecon/internal/config"
	"divrecon/internal/detect"
	"divrecon/internal/enrich"
	"divrecon/internal/logging"
	"divrecon/internal/matcher"
	"divrecon/internal/types"
)

// State names a pipeline stage boundary.
type State string

const (
	StateLoaded       State = "LOADED"
	StateMatched      State = "MATCHED"
	StateDetected     State = "DETECTED"
	StateEnriched     State = "ENRICHED"
	StateConsolidated State = "CONSOLIDATED"
	StateFailed       State = "FAILED"
)

// Orchestrator drives match, detect, enrich and consolidation for one run.
type Orchestrator struct {
	detector *detect.Detector
	enricher *enrich.Enricher
	weights  config.WeightsConfig
	enrich   config.EnrichConfig
}

// New builds an Orchestrator.
func New(detector *detect.Detector, enricher *enrich.Enricher, weights config.WeightsConfig, enrichCfg config.EnrichConfig) *Orchestrator {
	return &Orchestrator{detector: detector, enricher: enricher, weights: weights, enrich: enrichCfg}
}

// Run executes the pipeline over already-loaded records. Cancellation at a
// stage boundary returns the partial result with state FAILED and a non-nil
// error; callers must not cache or persist such results.
func (o *Orchestrator) Run(ctx context.Context, nbim, custody []types.EventRecord, fingerprint string) (*types.AnalysisResult, error) {
	log := logging.Get(logging.CategoryConsolidate)

	result := &types.AnalysisResult{
		RunID:       uuid.NewString(),
		State:       string(StateLoaded),
		Fingerprint: fingerprint,
		StartedAt:   time.Now().UTC(),
	}
	log.Infow("run started", "run_id", result.RunID, "nbim", len(nbim), "custody", len(custody))

	matched := matcher.Pair(nbim, custody)
	result.State = string(StateMatched)
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}

	groups := o.detector.Detect(matched.Matches)
	result.State = string(StateDetected)
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}

	enriched := o.enricher.Enrich(ctx, matched.Matches, groups)
	result.State = string(StateEnriched)
	if err := ctx.Err(); err != nil {
		return o.fail(result, err)
	}

	result.Rows = o.buildRows(matched.Matches, enriched)
	result.Summary = o.buildSummary(result.Rows, enriched, matched)
	result.State = string(StateConsolidated)
	result.CompletedAt = time.Now().UTC()

	log.Infow("run consolidated", "run_id", result.RunID,
		"rows", len(result.Rows), "health", result.Summary.Health,
		"degraded_breaks", result.Summary.DegradedBreaks)
	return result, nil
}

func (o *Orchestrator) fail(result *types.AnalysisResult, err error) (*types.AnalysisResult, error) {
	reached := result.State
	result.State = string(StateFailed)
	result.CompletedAt = time.Now().UTC()
	logging.Get(logging.CategoryConsolidate).Warnw("run failed",
		"run_id", result.RunID, "reached", reached, "error", err)
	return result, fmt.Errorf("run aborted after %s: %w", reached, err)
}

// buildRows turns each match plus its enriched breaks into a RowAnalysis.
// A match with neither side set violates the matcher contract; it is
// skipped here and surfaces in the summary's excluded count.
func (o *Orchestrator) buildRows(matches []types.Match, enriched [][]types.EnrichedBreak) []types.RowAnalysis {
	rows := make([]types.RowAnalysis, 0, len(matches))
	for i, m := range matches {
		rec := m.Present()
		if rec == nil {
			continue
		}
		var breaks []types.EnrichedBreak
		if i < len(enriched) {
			breaks = enriched[i]
		}

		row := types.RowAnalysis{
			RowID:       fmt.Sprintf("row_%03d", i+1),
			MatchIndex:  i,
			ISIN:        rec.ISIN,
			EventKey:    rec.EventKey,
			CompanyName: rec.CompanyName,
			ExDate:      rec.ExDate,
			PaymentDate: rec.PaymentDate,
			Currency:    rec.Currency,
			Breaks:      breaks,
		}

		row.Score, row.Status = o.scoreRow(breaks)
		row.TotalImpact = totalImpact(breaks)
		row.Narrative = narrative(row)
		rows = append(rows, row)
	}
	return rows
}

// scoreRow computes score = 10 - min(10, sum of severity weights), clamped
// to [0,10]. Any missing-record break forces score 0 and missing_data.
func (o *Orchestrator) scoreRow(breaks []types.EnrichedBreak) (int, types.Status) {
	for _, b := range breaks {
		if b.Finding.Type == types.BreakMissingRecord {
			return 0, types.StatusMissingData
		}
	}

	penalty := 0
	for _, b := range breaks {
		switch b.Finding.Severity {
		case types.SeverityLow:
			penalty += o.weights.Low
		case types.SeverityMedium:
			penalty += o.weights.Medium
		case types.SeverityHigh:
			penalty += o.weights.High
		case types.SeverityCritical:
			penalty += o.weights.Critical
		}
	}
	if penalty > 10 {
		penalty = 10
	}
	score := 10 - penalty

	switch {
	case score == 10:
		return score, types.StatusReconciled
	case score >= 7:
		return score, types.StatusMinorIssue
	default:
		return score, types.StatusMajorIssue
	}
}

func totalImpact(breaks []types.EnrichedBreak) decimal.Decimal {
	total := decimal.Zero
	for _, b := range breaks {
		total = total.Add(b.FinancialImpact)
	}
	return total
}

func narrative(row types.RowAnalysis) string {
	name := row.CompanyName
	if name == "" {
		name = row.ISIN
	}
	if len(row.Breaks) == 0 {
		return fmt.Sprintf("%s: ledger and custodian records agree on all compared fields.", name)
	}
	if row.Status == types.StatusMissingData {
		return fmt.Sprintf("%s: the event is recorded on one side only; reconciliation is not possible until the missing booking arrives.", name)
	}
	return fmt.Sprintf("%s: %d discrepanc%s with a combined impact of %s %s; leading issue: %s.",
		name, len(row.Breaks), pluralY(len(row.Breaks)), row.TotalImpact.StringFixed(2), row.Currency,
		row.Breaks[0].Finding.Type)
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// buildSummary aggregates the portfolio view. Unmatchable and duplicate
// rows never become RowAnalyses; they are accounted for here.
func (o *Orchestrator) buildSummary(rows []types.RowAnalysis, enriched [][]types.EnrichedBreak, matched matcher.Result) types.PortfolioSummary {
	sum := types.PortfolioSummary{
		TotalRows:            len(rows),
		TotalImpact:          decimal.Zero,
		StatusDistribution:   map[types.Status]int{},
		SeverityDistribution: map[types.Severity]int{},
	}

	scoreTotal := 0
	highImpactLimit := decimal.NewFromInt(10000)
	for _, row := range rows {
		sum.TotalImpact = sum.TotalImpact.Add(row.TotalImpact)
		sum.StatusDistribution[row.Status]++
		scoreTotal += row.Score
		if row.TotalImpact.Abs().GreaterThan(highImpactLimit) {
			sum.HighImpactRows++
		}
		for _, b := range row.Breaks {
			sum.SeverityDistribution[b.Finding.Severity]++
			if b.Degraded {
				sum.DegradedBreaks++
			}
		}
	}
	if len(rows) > 0 {
		sum.AverageScore = float64(scoreTotal) / float64(len(rows))
	} else {
		sum.AverageScore = 10
	}
	sum.Health = healthLabel(sum.AverageScore)

	// Excluded rows: unmatchable inputs, later duplicates, and any match
	// that arrived with neither side.
	for _, f := range matched.Unmatchable {
		sum.ExcludedRows++
		sum.ExclusionReasons = append(sum.ExclusionReasons, f.Description)
	}
	for _, f := range matched.Duplicates {
		sum.ExcludedRows++
		sum.ExclusionReasons = append(sum.ExclusionReasons, f.Description)
	}
	for _, m := range matched.Matches {
		if m.Present() == nil {
			sum.ExcludedRows++
			sum.ExclusionReasons = append(sum.ExclusionReasons,
				fmt.Sprintf("match %s carried no record on either side", m.Key))
		}
	}

	sum.TopByImpact = topByImpact(rows, o.enrich.TopImpactCount)
	sum.Recommendations = portfolioRecommendations(rows, sum.TopByImpact)
	sum.Patterns = enrich.AnalyzePatterns(enriched, o.enrich.SystemicThreshold)
	if sum.Patterns != nil && sum.Patterns.SystemicRisk {
		sum.Recommendations = append(sum.Recommendations, sum.Patterns.SystemicActions...)
	}
	return sum
}

func healthLabel(avg float64) string {
	switch {
	case avg >= 9:
		return "excellent"
	case avg >= 7:
		return "good"
	case avg >= 5:
		return "concerning"
	default:
		return "critical"
	}
}

// topByImpact returns the n highest-impact rows, ties broken by match index.
func topByImpact(rows []types.RowAnalysis, n int) []types.TopImpactRow {
	if n <= 0 {
		n = 5
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		cmp := rows[idx[a]].TotalImpact.Abs().Cmp(rows[idx[b]].TotalImpact.Abs())
		if cmp != 0 {
			return cmp > 0
		}
		return rows[idx[a]].MatchIndex < rows[idx[b]].MatchIndex
	})

	var top []types.TopImpactRow
	for _, i := range idx {
		if len(top) == n {
			break
		}
		if rows[i].TotalImpact.IsZero() {
			continue
		}
		top = append(top, types.TopImpactRow{
			RowID:   rows[i].RowID,
			Company: rows[i].CompanyName,
			Impact:  rows[i].TotalImpact,
			Score:   rows[i].Score,
		})
	}
	return top
}

// portfolioRecommendations unions the actions of the top-impact rows,
// filtered down to concrete instructions.
func portfolioRecommendations(rows []types.RowAnalysis, top []types.TopImpactRow) []string {
	byID := map[string]types.RowAnalysis{}
	for _, r := range rows {
		byID[r.RowID] = r
	}
	var actions []string
	for _, t := range top {
		for _, b := range byID[t.RowID].Breaks {
			actions = append(actions, b.Actions...)
		}
	}
	filtered := enrich.FilterActions(actions)
	if len(filtered) > 10 {
		filtered = filtered[:10]
	}
	return filtered
}
