package enrich

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"divrecon/internal/classify"
	"divrecon/internal/config"
	"divrecon/internal/types"
)

// scriptedClient answers every call with the same array of n entries and
// counts calls atomically.
type scriptedClient struct {
	response string
	err      error
	calls    atomic.Int64
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	s.calls.Add(1)
	return s.response, s.err
}

func (s *scriptedClient) GetModel() string { return "scripted" }

func enrichCfg() config.EnrichConfig {
	return config.EnrichConfig{BatchSize: 2, Parallelism: 2, SystemicThreshold: 0.5, TopImpactCount: 5}
}

func finding(bt types.BreakType, sev types.Severity, delta string) types.Finding {
	return types.Finding{Type: bt, Severity: sev, Delta: decimal.RequireFromString(delta), Description: string(bt)}
}

func TestEnrichAllDegradedOnClientFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &scriptedClient{err: fmt.Errorf("boom")}
	e := New(classify.NewAdapter(client), enrichCfg())

	groups := [][]types.Finding{
		{finding(types.BreakAmountMismatch, types.SeverityHigh, "-50000")},
		{},
		{finding(types.BreakTaxMismatch, types.SeverityMedium, "-30")},
	}
	matches := make([]types.Match, len(groups))

	out := e.Enrich(context.Background(), matches, groups)

	if len(out) != 3 {
		t.Fatalf("got %d groups, want 3", len(out))
	}
	if len(out[1]) != 0 {
		t.Error("empty group gained breaks")
	}
	eb := out[0][0]
	if !eb.Degraded || eb.DegradedReason == "" {
		t.Errorf("break not marked degraded: %+v", eb)
	}
	// High severity base 8, +1 for impact > 10000.
	if eb.PriorityScore != 9 {
		t.Errorf("fallback priority = %d, want 9", eb.PriorityScore)
	}
	if eb.RootCauseCategory != "booking_discrepancy" {
		t.Errorf("fallback category = %q", eb.RootCauseCategory)
	}
	if len(eb.Actions) == 0 {
		t.Error("no fallback actions")
	}
}

func TestEnrichIndexAlignmentUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &scriptedClient{response: `[
		{"root_cause": "x", "root_cause_category": "cat", "analysis_confidence": "high",
		 "priority_score": 7, "priority_level": "medium", "operational_urgency": "soon",
		 "recommended_actions": ["Verify the booking against the notice"],
		 "escalation_required": false, "target_resolution_days": 3},
		{"root_cause": "x", "root_cause_category": "cat", "analysis_confidence": "high",
		 "priority_score": 7, "priority_level": "medium", "operational_urgency": "soon",
		 "recommended_actions": ["Verify the booking against the notice"],
		 "escalation_required": false, "target_resolution_days": 3}
	]`}
	e := New(classify.NewAdapter(client), enrichCfg())

	// 6 breaks across 4 matches, batch size 2 -> 3 concurrent batches per pass.
	groups := [][]types.Finding{
		{finding(types.BreakAmountMismatch, types.SeverityHigh, "-1"), finding(types.BreakTaxMismatch, types.SeverityLow, "-2")},
		{finding(types.BreakDateMismatch, types.SeverityMedium, "0")},
		{},
		{finding(types.BreakCurrencyMismatch, types.SeverityHigh, "0"),
			finding(types.BreakAmountMismatch, types.SeverityLow, "-3"),
			finding(types.BreakTaxMismatch, types.SeverityMedium, "-4")},
	}
	matches := make([]types.Match, len(groups))

	out := e.Enrich(context.Background(), matches, groups)

	for i, g := range groups {
		if len(out[i]) != len(g) {
			t.Fatalf("group %d: got %d breaks, want %d", i, len(out[i]), len(g))
		}
		for j := range g {
			if out[i][j].Finding.Type != g[j].Type {
				t.Errorf("group %d break %d: type %s, want %s", i, j, out[i][j].Finding.Type, g[j].Type)
			}
		}
	}
	if got := client.calls.Load(); got != 6 { // 3 batches x 2 passes
		t.Errorf("client calls = %d, want 6", got)
	}
}

func TestEnrichParsedValuesApplied(t *testing.T) {
	client := &scriptedClient{response: `[
		{"root_cause": "treaty rate applied late", "root_cause_category": "withholding_tax_variance",
		 "analysis_confidence": "high", "explanation": "rates differ",
		 "priority_score": 9, "priority_level": "high", "operational_urgency": "today",
		 "recommended_actions": ["Request the custodian tax breakdown"],
		 "escalation_required": true, "target_resolution_days": 1}
	]`}
	e := New(classify.NewAdapter(client), config.EnrichConfig{BatchSize: 5, Parallelism: 1})

	groups := [][]types.Finding{{finding(types.BreakTaxMismatch, types.SeverityHigh, "-30")}}
	out := e.Enrich(context.Background(), []types.Match{{}}, groups)

	eb := out[0][0]
	if eb.Degraded {
		t.Errorf("parsed break marked degraded: %s", eb.DegradedReason)
	}
	if eb.PriorityScore != 9 || eb.PriorityLevel != "high" {
		t.Errorf("priority = %d/%s, want 9/high", eb.PriorityScore, eb.PriorityLevel)
	}
	if eb.RootCause != "treaty rate applied late" {
		t.Errorf("root cause = %q", eb.RootCause)
	}
	if !eb.EscalationRequired || eb.TargetResolutionDays != 1 {
		t.Errorf("escalation=%v days=%d", eb.EscalationRequired, eb.TargetResolutionDays)
	}
}

func TestPriorityLevelDerivedFromScore(t *testing.T) {
	// Provider says level "low" but score 8; the score wins the bucket.
	client := &scriptedClient{response: `[{"priority_score": 8, "priority_level": "low"}]`}
	e := New(classify.NewAdapter(client), config.EnrichConfig{BatchSize: 5, Parallelism: 1})

	groups := [][]types.Finding{{finding(types.BreakAmountMismatch, types.SeverityLow, "-1")}}
	out := e.Enrich(context.Background(), []types.Match{{}}, groups)

	if out[0][0].PriorityLevel != "high" {
		t.Errorf("level = %q, want high for score 8", out[0][0].PriorityLevel)
	}
}

func TestFilterActions(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name: "generic phrases dropped",
			input: []string{
				"Monitor the situation going forward",
				"Continue current reconciliation practices",
				"Verify the withholding rate with the custodian",
				"No action required",
			},
			want: []string{"Verify the withholding rate with the custodian"},
		},
		{
			name: "requires actionable verb",
			input: []string{
				"The amounts look wrong somehow",
				"Investigate the missing custody booking",
			},
			want: []string{"Investigate the missing custody booking"},
		},
		{
			name: "dedupe case and whitespace insensitive",
			input: []string{
				"Verify the   booking amount",
				"verify the booking amount",
				"Reconcile the tax figures",
			},
			want: []string{"Verify the   booking amount", "Reconcile the tax figures"},
		},
		{
			name:  "too short dropped",
			input: []string{"Fix it", "Escalate to the operations manager"},
			want:  []string{"Escalate to the operations manager"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterActions(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("action %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAnalyzePatterns(t *testing.T) {
	mk := func(cat string) types.EnrichedBreak {
		return types.EnrichedBreak{RootCauseCategory: cat}
	}

	t.Run("systemic when dominant", func(t *testing.T) {
		groups := [][]types.EnrichedBreak{
			{mk("withholding_tax_variance"), mk("withholding_tax_variance")},
			{mk("withholding_tax_variance"), mk("timing_difference")},
		}
		pa := AnalyzePatterns(groups, 0.5)
		if pa == nil {
			t.Fatal("nil pattern analysis")
		}
		if pa.TopCategory != "withholding_tax_variance" || pa.TopCategoryCount != 3 {
			t.Errorf("top = %s/%d", pa.TopCategory, pa.TopCategoryCount)
		}
		if !pa.SystemicRisk {
			t.Error("ratio 0.75 should flag systemic risk")
		}
		if len(pa.SystemicActions) == 0 {
			t.Error("no systemic actions for ratio > 0.7")
		}
	})

	t.Run("not systemic when spread", func(t *testing.T) {
		groups := [][]types.EnrichedBreak{
			{mk("a"), mk("b")},
			{mk("c"), mk("d")},
		}
		pa := AnalyzePatterns(groups, 0.5)
		if pa.SystemicRisk {
			t.Error("ratio 0.25 flagged systemic")
		}
	})

	t.Run("no breaks", func(t *testing.T) {
		if pa := AnalyzePatterns(nil, 0.5); pa != nil {
			t.Errorf("want nil, got %+v", pa)
		}
	})
}
