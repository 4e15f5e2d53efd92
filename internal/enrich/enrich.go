// Package enrich runs the root-cause and priority passes over detected
// findings. External classification runs in bounded-parallel batches;
// results are reassembled by index and every member degrades independently
// to deterministic fallbacks.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"divrecon/internal/classify"
	"divrecon/internal/config"
	"divrecon/internal/logging"
	"divrecon/internal/types"
)

const rootCauseSystemPrompt = `You are a dividend reconciliation analyst. For each break, identify the most
likely root cause. Respond with a JSON array; each object must have:
root_cause (string), root_cause_category (snake_case string),
analysis_confidence (high|medium|low), explanation (string),
related_causes (array of strings).`

const prioritySystemPrompt = `You are a dividend reconciliation operations lead. For each break, assess its
operational priority. Respond with a JSON array; each object must have:
priority_score (integer 1-10), priority_level (high|medium|low),
operational_urgency (string), recommended_actions (array of imperative
strings), escalation_required (boolean), target_resolution_days (integer).`

// Enricher coordinates the two enrichment passes.
type Enricher struct {
	adapter     *classify.Adapter
	batchSize   int
	parallelism int
}

// New builds an Enricher. adapter may wrap a nil client; everything then
// comes from fallbacks.
func New(adapter *classify.Adapter, cfg config.EnrichConfig) *Enricher {
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 5
	}
	par := cfg.Parallelism
	if par < 1 {
		par = 1
	}
	return &Enricher{adapter: adapter, batchSize: batch, parallelism: par}
}

// breakRef addresses one finding inside the per-match grouping.
type breakRef struct {
	matchIdx int
	finding  types.Finding
	match    types.Match
	impact   decimal.Decimal
}

// Enrich runs both passes and returns enriched breaks grouped per match,
// index-aligned with the input groups.
func (e *Enricher) Enrich(ctx context.Context, matches []types.Match, groups [][]types.Finding) [][]types.EnrichedBreak {
	log := logging.Get(logging.CategoryEnrich)

	var refs []breakRef
	for i, findings := range groups {
		for _, f := range findings {
			var m types.Match
			if i < len(matches) {
				m = matches[i]
			}
			refs = append(refs, breakRef{matchIdx: i, finding: f, match: m, impact: f.Delta.Abs()})
		}
	}

	out := make([][]types.EnrichedBreak, len(groups))
	if len(refs) == 0 {
		return out
	}

	rootItems := e.runPass(ctx, rootCauseSystemPrompt, refs)
	prioItems := e.runPass(ctx, prioritySystemPrompt, refs)

	degraded := 0
	enriched := make([]types.EnrichedBreak, len(refs))
	for i, ref := range refs {
		eb := buildEnriched(ref, rootItems[i], prioItems[i])
		if eb.Degraded {
			degraded++
		}
		enriched[i] = eb
	}
	for i, ref := range refs {
		out[ref.matchIdx] = append(out[ref.matchIdx], enriched[i])
	}

	log.Infow("enrichment complete", "breaks", len(refs), "degraded", degraded)
	return out
}

// runPass classifies all refs under one system prompt, chunked into batches
// that run concurrently up to the parallelism limit. Output is index-aligned
// with refs regardless of completion order.
func (e *Enricher) runPass(ctx context.Context, systemPrompt string, refs []breakRef) []classify.Item {
	items := make([]classify.Item, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for start := 0; start < len(refs); start += e.batchSize {
		end := start + e.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		g.Go(func() error {
			contexts := make([]string, end-start)
			for i := start; i < end; i++ {
				contexts[i-start] = breakContext(refs[i])
			}
			batch := e.adapter.ClassifyBatch(gctx, systemPrompt, contexts)
			copy(items[start:end], batch)
			return nil
		})
	}
	// Workers never return errors; degradation is encoded per item.
	_ = g.Wait()

	// A cancelled context can leave zero-value items; mark them degraded.
	for i := range items {
		if items[i].Outcome == "" {
			items[i] = classify.Item{Outcome: classify.OutcomeFallback, Reason: "enrichment interrupted"}
		}
	}
	return items
}

// breakContext renders one finding as the per-item JSON context.
func breakContext(ref breakRef) string {
	ctx := map[string]any{
		"break_type":    string(ref.finding.Type),
		"severity":      string(ref.finding.Severity),
		"field":         ref.finding.Field,
		"ledger_value":  ref.finding.NBIMValue,
		"custody_value": ref.finding.CustodyValue,
		"delta":         ref.finding.Delta.String(),
		"description":   ref.finding.Description,
	}
	if rec := ref.match.Present(); rec != nil {
		ctx["isin"] = rec.ISIN
		ctx["company"] = rec.CompanyName
		ctx["currency"] = rec.Currency
		ctx["ex_date"] = rec.ExDate
	}
	data, _ := json.Marshal(ctx)
	return string(data)
}

// buildEnriched merges the two pass results for one finding, filling any
// degraded side from the deterministic fallback.
func buildEnriched(ref breakRef, root, prio classify.Item) types.EnrichedBreak {
	fb := classify.FallbackFor(ref.finding, ref.impact)

	eb := types.EnrichedBreak{
		Finding:         ref.finding,
		FinancialImpact: ref.impact,
		DataQuality:     dataQuality(ref.finding),
	}
	if rec := ref.match.Present(); rec != nil {
		eb.Currency = rec.Currency
	}

	var reasons []string

	if root.Outcome == classify.OutcomeParsed || root.Outcome == classify.OutcomePartial {
		eb.RootCause = stringField(root.Data, "root_cause", fb.RootCause)
		eb.RootCauseCategory = stringField(root.Data, "root_cause_category", fb.RootCauseCategory)
		eb.Confidence = stringField(root.Data, "analysis_confidence", fb.Confidence)
		eb.Explanation = stringField(root.Data, "explanation", "")
		eb.RelatedCauses = stringSlice(root.Data, "related_causes")
	} else {
		eb.RootCause = fb.RootCause
		eb.RootCauseCategory = fb.RootCauseCategory
		eb.Confidence = fb.Confidence
		eb.Explanation = fb.Explanation
	}
	if root.Degraded() {
		reasons = append(reasons, "root cause: "+degradeReason(root))
	}

	if prio.Outcome == classify.OutcomeParsed || prio.Outcome == classify.OutcomePartial {
		eb.PriorityScore = intField(prio.Data, "priority_score", fb.PriorityScore)
		eb.PriorityLevel = stringField(prio.Data, "priority_level", fb.PriorityLevel)
		eb.Urgency = stringField(prio.Data, "operational_urgency", fb.Urgency)
		eb.Actions = stringSlice(prio.Data, "recommended_actions")
		if len(eb.Actions) == 0 {
			eb.Actions = fb.Actions
		}
		eb.EscalationRequired = boolField(prio.Data, "escalation_required", fb.EscalationRequired)
		eb.TargetResolutionDays = intField(prio.Data, "target_resolution_days", fb.TargetResolutionDays)
	} else {
		eb.PriorityScore = fb.PriorityScore
		eb.PriorityLevel = fb.PriorityLevel
		eb.Urgency = fb.Urgency
		eb.Actions = fb.Actions
		eb.EscalationRequired = fb.EscalationRequired
		eb.TargetResolutionDays = fb.TargetResolutionDays
	}
	if prio.Degraded() {
		reasons = append(reasons, "priority: "+degradeReason(prio))
	}

	if eb.PriorityScore < 1 {
		eb.PriorityScore = 1
	}
	if eb.PriorityScore > 10 {
		eb.PriorityScore = 10
	}
	eb.PriorityLevel = levelForScore(eb.PriorityScore)

	if len(reasons) > 0 {
		eb.Degraded = true
		eb.DegradedReason = strings.Join(reasons, "; ")
	}
	return eb
}

// levelForScore buckets the 1-10 score: >=8 high, 4-7 medium, else low.
func levelForScore(score int) string {
	switch {
	case score >= 8:
		return "high"
	case score >= 4:
		return "medium"
	default:
		return "low"
	}
}

// dataQuality derives deterministic 1-10 sub-scores from the finding shape.
func dataQuality(f types.Finding) types.DataQualityScores {
	dq := types.DataQualityScores{Completeness: 10, Accuracy: 10, Consistency: 10}
	switch f.Type {
	case types.BreakMissingRecord:
		dq.Completeness = 2
		dq.Consistency = 3
	case types.BreakUnmatchableRecord:
		dq.Completeness = 3
		dq.Consistency = 4
	case types.BreakDuplicateRecord:
		dq.Consistency = 4
	case types.BreakAmountMismatch, types.BreakTaxMismatch:
		dq.Accuracy = 5
	case types.BreakDateMismatch, types.BreakCurrencyMismatch:
		dq.Consistency = 5
	}
	return dq
}

func degradeReason(it classify.Item) string {
	if it.Reason != "" {
		return it.Reason
	}
	return fmt.Sprintf("outcome %s", it.Outcome)
}

func stringField(data map[string]any, key, fallback string) string {
	if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

func intField(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func boolField(data map[string]any, key string, fallback bool) bool {
	if b, ok := data[key].(bool); ok {
		return b
	}
	return fallback
}

func stringSlice(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
