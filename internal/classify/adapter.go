package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"divrecon/internal/logging"
)

// Outcome tags how an item's classification data was obtained.
type Outcome string

const (
	// OutcomeParsed means the provider returned valid structured data.
	OutcomeParsed Outcome = "parsed"
	// OutcomePartial means only fragments could be salvaged from the text.
	OutcomePartial Outcome = "partial"
	// OutcomeFallback means nothing usable came back and the caller must
	// substitute deterministic values.
	OutcomeFallback Outcome = "fallback"
)

// Item is one classified batch member. Data is nil when Outcome is
// Fallback; callers derive their own deterministic substitute.
type Item struct {
	Data    map[string]any
	Outcome Outcome
	Reason  string
}

// Degraded reports whether the item's fields need fallback or are partial.
func (it Item) Degraded() bool { return it.Outcome != OutcomeParsed }

// Adapter wraps an LLMClient with the batch-call and parse-or-degrade
// contract. A nil client degrades every item immediately, which keeps the
// pipeline runnable with no provider configured.
type Adapter struct {
	client LLMClient
}

// NewAdapter builds an adapter. client may be nil.
func NewAdapter(client LLMClient) *Adapter {
	return &Adapter{client: client}
}

// ClassifyBatch sends the item contexts as one call and returns exactly
// len(contexts) items. A failed call degrades every member; a short or
// malformed array degrades only the members without a usable entry. The
// returned slice is index-aligned with contexts.
func (a *Adapter) ClassifyBatch(ctx context.Context, systemPrompt string, contexts []string) []Item {
	log := logging.Get(logging.CategoryClassify)
	items := make([]Item, len(contexts))
	if len(contexts) == 0 {
		return items
	}

	if a.client == nil {
		for i := range items {
			items[i] = Item{Outcome: OutcomeFallback, Reason: "no classification provider configured"}
		}
		return items
	}

	prompt := buildBatchPrompt(contexts)
	raw, err := a.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		log.Warnw("classification call failed", "items", len(contexts), "error", err)
		for i := range items {
			items[i] = Item{Outcome: OutcomeFallback, Reason: fmt.Sprintf("classification call failed: %v", err)}
		}
		return items
	}

	entries := parseBatchResponse(raw, len(contexts))
	parsed, degraded := 0, 0
	for i := range items {
		if i < len(entries) && entries[i] != nil {
			items[i] = Item{Data: entries[i], Outcome: OutcomeParsed}
			parsed++
			continue
		}
		if salvaged := salvage(raw); salvaged != nil {
			items[i] = Item{Data: salvaged, Outcome: OutcomePartial, Reason: "salvaged fragments from unstructured response"}
		} else {
			items[i] = Item{Outcome: OutcomeFallback, Reason: "no usable entry in batch response"}
		}
		degraded++
	}
	log.Debugw("batch classified", "items", len(contexts), "parsed", parsed, "degraded", degraded)
	return items
}

func buildBatchPrompt(contexts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %d reconciliation breaks.\n", len(contexts))
	b.WriteString("Respond with ONLY a JSON array containing exactly one object per break, in the same order.\n\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "Break %d:\n%s\n\n", i+1, c)
	}
	return b.String()
}

// parseBatchResponse extracts a JSON array (or a lone object for a batch of
// one) and returns per-index entries; nil entries mark missing members.
func parseBatchResponse(raw string, n int) []map[string]any {
	extracted, ok := ExtractJSON(raw)
	if !ok {
		return nil
	}

	var arr []map[string]any
	if err := json.Unmarshal([]byte(extracted), &arr); err == nil {
		if len(arr) > n {
			arr = arr[:n]
		}
		return arr
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(extracted), &obj); err == nil {
		// Some providers wrap the array in an envelope object.
		for _, v := range obj {
			if inner, ok := v.([]any); ok {
				out := make([]map[string]any, 0, len(inner))
				for _, e := range inner {
					if m, ok := e.(map[string]any); ok {
						out = append(out, m)
					} else {
						out = append(out, nil)
					}
				}
				if len(out) > n {
					out = out[:n]
				}
				return out
			}
		}
		if n == 1 {
			return []map[string]any{obj}
		}
	}
	return nil
}

var (
	salvagePriorityRe = regexp.MustCompile(`(?i)\b(critical|high|medium|low)\b`)
	salvageActionRe   = regexp.MustCompile(`(?i)(verify|reconcile|investigate|contact|correct|update|escalate)[^.\n]{5,120}`)
)

// salvage pulls priority and action fragments out of unstructured text.
// Returns nil when nothing recognizable is present.
func salvage(raw string) map[string]any {
	out := map[string]any{}
	if m := salvagePriorityRe.FindString(raw); m != "" {
		out["priority_level"] = strings.ToLower(m)
	}
	if m := salvageActionRe.FindString(raw); m != "" {
		out["recommended_actions"] = []any{strings.TrimSpace(m)}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
