package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	"divrecon/internal/classify"
	"divrecon/internal/config"
	"divrecon/internal/detect"
	"divrecon/internal/enrich"
	"divrecon/internal/types"
)

type fixedClient struct {
	response string
	err      error
}

func (f *fixedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fixedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func (f *fixedClient) GetModel() string { return "fixed" }

func newOrchestrator(client classify.LLMClient) *Orchestrator {
	cfg := config.DefaultConfig()
	detector := detect.New(cfg.Tolerance)
	enricher := enrich.New(classify.NewAdapter(client), cfg.Enrich)
	return New(detector, enricher, cfg.Weights, cfg.Enrich)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func record(src types.Source, isin, key, net, tax string) types.EventRecord {
	return types.EventRecord{
		Source: src, ISIN: isin, EventKey: key,
		NetAmount: dec(net), TaxAmount: dec(tax),
		Currency: "USD", ExDate: "2025-03-10", PaymentDate: "2025-03-24",
		CompanyName: "TEST CO",
	}
}

func failingClient() *fixedClient {
	return &fixedClient{err: fmt.Errorf("provider down")}
}

func TestRunCleanSnapshot(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{record(types.SourceNBIM, "US1", "E1", "1000.00", "150.00")}
	custody := []types.EventRecord{record(types.SourceCustody, "US1", "E1", "1000.00", "150.00")}

	result, err := o.Run(context.Background(), nbim, custody, "fp1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != string(StateConsolidated) {
		t.Errorf("state = %s", result.State)
	}
	row := result.Rows[0]
	if row.Score != 10 || row.Status != types.StatusReconciled {
		t.Errorf("clean row score=%d status=%s, want 10/reconciled", row.Score, row.Status)
	}
	if len(row.Breaks) != 0 {
		t.Errorf("clean row has breaks: %v", row.Breaks)
	}
	if result.Summary.Health != "excellent" {
		t.Errorf("health = %s, want excellent", result.Summary.Health)
	}
}

func TestRunScoringAndStatus(t *testing.T) {
	o := newOrchestrator(failingClient())

	// One high-severity amount break: weight 3, score 7, minor_issue.
	nbim := []types.EventRecord{record(types.SourceNBIM, "US1", "E1", "1000.00", "150.00")}
	custody := []types.EventRecord{record(types.SourceCustody, "US1", "E1", "900.00", "150.00")}

	result, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatal(err)
	}
	row := result.Rows[0]
	if row.Score != 7 {
		t.Errorf("score = %d, want 7 (10 minus high weight 3)", row.Score)
	}
	if row.Status != types.StatusMinorIssue {
		t.Errorf("status = %s, want minor_issue", row.Status)
	}
	if want := dec("100.00"); !row.TotalImpact.Equal(want) {
		t.Errorf("impact = %s, want 100.00", row.TotalImpact)
	}
}

func TestMissingRecordForcesMissingData(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{record(types.SourceNBIM, "US1", "E1", "1000.00", "0")}

	result, err := o.Run(context.Background(), nbim, nil, "fp")
	if err != nil {
		t.Fatal(err)
	}
	row := result.Rows[0]
	if row.Score != 0 {
		t.Errorf("score = %d, want 0", row.Score)
	}
	if row.Status != types.StatusMissingData {
		t.Errorf("status = %s, want missing_data", row.Status)
	}
	if result.Summary.StatusDistribution[types.StatusMissingData] != 1 {
		t.Errorf("distribution = %v", result.Summary.StatusDistribution)
	}
}

func TestScoreMonotonicityAndClamp(t *testing.T) {
	o := newOrchestrator(failingClient())

	// Pile on breaks: amount high, tax high, date medium, currency high =
	// 3+3+2+3 = 11, clamped to 10 -> score 0, major_issue.
	n := record(types.SourceNBIM, "US1", "E1", "1000.00", "150.00")
	c := record(types.SourceCustody, "US1", "E1", "500.00", "75.00")
	c.ExDate = "2025-03-11"
	c.Currency = "NOK"

	result, err := o.Run(context.Background(), []types.EventRecord{n}, []types.EventRecord{c}, "fp")
	if err != nil {
		t.Fatal(err)
	}
	row := result.Rows[0]
	if row.Score != 0 {
		t.Errorf("score = %d, want clamped 0", row.Score)
	}
	if row.Status != types.StatusMajorIssue {
		t.Errorf("status = %s, want major_issue", row.Status)
	}
}

func TestRunDeterministicWithStubClient(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{
		record(types.SourceNBIM, "US1", "E1", "1000.00", "150.00"),
		record(types.SourceNBIM, "NO1", "E2", "5000.00", "1250.00"),
	}
	custody := []types.EventRecord{
		record(types.SourceCustody, "NO1", "E2", "4800.00", "1250.00"),
		record(types.SourceCustody, "US1", "E1", "1000.00", "150.00"),
	}

	first, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatal(err)
	}

	ignore := cmpopts.IgnoreFields(types.AnalysisResult{}, "RunID", "StartedAt", "CompletedAt")
	if diff := cmp.Diff(first, second, ignore); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}

	// Serialized rows must be byte-identical across runs.
	a, _ := json.Marshal(first.Rows)
	b, _ := json.Marshal(second.Rows)
	if string(a) != string(b) {
		t.Error("serialized rows differ between identical runs")
	}
}

func TestDegradationNeverFailsRun(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{record(types.SourceNBIM, "US1", "E1", "1000.00", "150.00")}
	custody := []types.EventRecord{record(types.SourceCustody, "US1", "E1", "200.00", "150.00")}

	result, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatalf("degraded classification failed the run: %v", err)
	}
	b := result.Rows[0].Breaks[0]
	if !b.Degraded || b.DegradedReason == "" {
		t.Errorf("break not marked degraded: %+v", b)
	}
	if b.PriorityScore < 1 || b.PriorityScore > 10 {
		t.Errorf("fallback priority out of range: %d", b.PriorityScore)
	}
	if result.Summary.DegradedBreaks == 0 {
		t.Error("summary does not count degraded breaks")
	}
}

func TestCancelledContextFailsRun(t *testing.T) {
	o := newOrchestrator(failingClient())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, []types.EventRecord{record(types.SourceNBIM, "US1", "E1", "1", "0")}, nil, "fp")
	if err == nil {
		t.Fatal("cancelled run returned nil error")
	}
	if result == nil || result.State != string(StateFailed) {
		t.Errorf("result state = %v, want FAILED", result)
	}
}

func TestExcludedRowsCounted(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{
		record(types.SourceNBIM, "", "E1", "100.00", "0"), // unmatchable
		record(types.SourceNBIM, "US1", "E2", "100.00", "0"),
		record(types.SourceNBIM, "US1", "E2", "100.00", "0"), // duplicate
	}
	custody := []types.EventRecord{record(types.SourceCustody, "US1", "E2", "100.00", "0")}

	result, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.ExcludedRows != 2 {
		t.Errorf("excluded = %d, want 2 (one unmatchable, one duplicate)", result.Summary.ExcludedRows)
	}
	if len(result.Summary.ExclusionReasons) != 2 {
		t.Errorf("reasons = %v", result.Summary.ExclusionReasons)
	}
	if len(result.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(result.Rows))
	}
}

func TestLegacyProjection(t *testing.T) {
	rows := []types.RowAnalysis{
		{
			RowID: "row_001", ISIN: "US1", CompanyName: "ALPHA",
			Breaks: []types.EnrichedBreak{
				{
					Finding:         types.Finding{Type: types.BreakTaxMismatch, Severity: types.SeverityMedium, Description: "tax differs"},
					RootCause:       "treaty rate",
					PriorityScore:   5,
					Actions:         []string{"Verify the treaty rate"},
					FinancialImpact: dec("30.00"),
				},
			},
		},
		{
			RowID: "row_002", ISIN: "NO1", CompanyName: "BETA",
			Breaks: []types.EnrichedBreak{
				{
					Finding:         types.Finding{Type: types.BreakMissingRecord, Severity: types.SeverityCritical, Description: "missing"},
					RootCause:       "late booking",
					PriorityScore:   9,
					FinancialImpact: dec("5000.00"),
					Degraded:        true,
				},
			},
		},
	}

	legacy := Legacy(rows)

	if len(legacy) != 2 {
		t.Fatalf("got %d legacy breaks, want 2", len(legacy))
	}
	// Sorted by priority descending.
	if legacy[0].PriorityScore != 9 || legacy[0].ISIN != "NO1" {
		t.Errorf("first legacy break = %+v, want the priority-9 missing record", legacy[0])
	}
	if !legacy[1].AmountImpact.Equal(dec("30.00")) {
		t.Errorf("impact = %s, want 30.00", legacy[1].AmountImpact)
	}
	if legacy[0].Degraded != true {
		t.Error("degraded flag lost in projection")
	}

	// Projection must not mutate or recompute source rows.
	if rows[0].Breaks[0].PriorityScore != 5 {
		t.Error("projection mutated source rows")
	}
}

func TestSummaryTopByImpact(t *testing.T) {
	o := newOrchestrator(failingClient())
	nbim := []types.EventRecord{
		record(types.SourceNBIM, "A", "1", "100.00", "0"),
		record(types.SourceNBIM, "B", "2", "90000.00", "0"),
		record(types.SourceNBIM, "C", "3", "100.00", "0"),
	}
	custody := []types.EventRecord{
		record(types.SourceCustody, "A", "1", "100.00", "0"),
		record(types.SourceCustody, "B", "2", "50000.00", "0"), // 40000 impact
		record(types.SourceCustody, "C", "3", "99.00", "0"),    // 1.00 impact
	}

	result, err := o.Run(context.Background(), nbim, custody, "fp")
	if err != nil {
		t.Fatal(err)
	}
	top := result.Summary.TopByImpact
	if len(top) != 2 {
		t.Fatalf("top = %v, want 2 entries (zero-impact rows excluded)", top)
	}
	if !top[0].Impact.Equal(dec("40000.00")) {
		t.Errorf("top[0] impact = %s, want 40000.00", top[0].Impact)
	}
	if result.Summary.HighImpactRows != 1 {
		t.Errorf("high impact rows = %d, want 1", result.Summary.HighImpactRows)
	}
}
