// Package matcher pairs NBIM and custody event records by identity key.
// Matching is pure and total: every usable key from either source ends up in
// exactly one Match, and nothing here ever aborts a run.
package matcher

import (
	"fmt"

	"divrecon/internal/logging"
	"divrecon/internal/types"
)

// Result is the complete matching outcome for one input snapshot.
type Result struct {
	// Matches in deterministic order: NBIM first-appearance order, then
	// custody-only keys in custody order.
	Matches []types.Match
	// Unmatchable holds one finding per row with an empty identity key.
	Unmatchable []types.Finding
	// Duplicates holds one finding per later duplicate of a key already
	// paired within the same source.
	Duplicates []types.Finding
}

// Pair matches the two record collections.
func Pair(nbim, custody []types.EventRecord) Result {
	log := logging.Get(logging.CategoryMatch)

	var res Result
	index := map[string]int{} // identity key -> position in res.Matches

	for i := range nbim {
		rec := &nbim[i]
		key := rec.IdentityKey()
		if key == "" {
			res.Unmatchable = append(res.Unmatchable, unmatchableFinding(rec))
			continue
		}
		if _, ok := index[key]; ok {
			res.Duplicates = append(res.Duplicates, duplicateFinding(rec, key))
			continue
		}
		index[key] = len(res.Matches)
		res.Matches = append(res.Matches, types.Match{Key: key, NBIM: rec})
	}

	for i := range custody {
		rec := &custody[i]
		key := rec.IdentityKey()
		if key == "" {
			res.Unmatchable = append(res.Unmatchable, unmatchableFinding(rec))
			continue
		}
		if pos, ok := index[key]; ok {
			if res.Matches[pos].Custody != nil {
				res.Duplicates = append(res.Duplicates, duplicateFinding(rec, key))
				continue
			}
			res.Matches[pos].Custody = rec
			continue
		}
		index[key] = len(res.Matches)
		res.Matches = append(res.Matches, types.Match{Key: key, Custody: rec})
	}

	log.Infow("paired records",
		"nbim", len(nbim), "custody", len(custody),
		"matches", len(res.Matches),
		"unmatchable", len(res.Unmatchable),
		"duplicates", len(res.Duplicates))
	return res
}

func unmatchableFinding(rec *types.EventRecord) types.Finding {
	return types.Finding{
		Type:        types.BreakUnmatchableRecord,
		Severity:    types.SeverityMedium,
		MissingFrom: rec.Source,
		Description: fmt.Sprintf("%s row lacks a usable identity key (isin=%q event_key=%q); excluded from matching",
			rec.Source, rec.ISIN, rec.EventKey),
	}
}

func duplicateFinding(rec *types.EventRecord, key string) types.Finding {
	return types.Finding{
		Type:        types.BreakDuplicateRecord,
		Severity:    types.SeverityMedium,
		MissingFrom: rec.Source,
		Description: fmt.Sprintf("duplicate %s row for key %s; first occurrence kept for pairing", rec.Source, key),
	}
}
