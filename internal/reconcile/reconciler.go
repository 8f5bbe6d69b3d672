// Package reconcile picks one play count out of ambiguous scraped evidence.
package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"streamrev/internal/core"
	"streamrev/pkg/fuzzy"
)

// Reconciler turns an ExtractionResult into a single best-guess play count.
//
// Evidence is consulted in order: the dedicated play-count elements, then a
// popular-track row whose name contains the page's track name, then the first
// popular-track row. Each step is reported with its own Confidence.
type Reconciler struct {
	primaryPick string
	normalizer  *fuzzy.Normalizer
}

func New(config *core.ReconcileConfig) (*Reconciler, error) {
	pick := config.PrimaryPick
	switch pick {
	case "":
		pick = core.PrimaryPickFirst
	case core.PrimaryPickFirst, core.PrimaryPickLargest:
	default:
		return nil, fmt.Errorf("unsupported primary pick policy: %s", pick)
	}

	return &Reconciler{
		primaryPick: pick,
		normalizer:  fuzzy.NewNormalizer(),
	}, nil
}

func (r *Reconciler) Reconcile(result *core.ExtractionResult) core.PlayCount {
	if result == nil {
		return core.NotFound
	}

	if len(result.PlayCounts) > 0 {
		return r.fromPrimary(result.PlayCounts)
	}

	if len(result.PopularTracks) == 0 {
		return core.NotFound
	}

	if result.TrackName != nil {
		for _, row := range result.PopularTracks {
			if r.normalizer.ContainsFold(row.Name, *result.TrackName) {
				return found(row.Count, core.ConfidenceMatched)
			}
		}
	}

	return found(result.PopularTracks[0].Count, core.ConfidenceFallback)
}

func (r *Reconciler) fromPrimary(candidates []core.RawPlayCountCandidate) core.PlayCount {
	if r.primaryPick == core.PrimaryPickFirst {
		return found(candidates[0].Count, core.ConfidencePrimary)
	}

	best := core.NotFound
	for _, candidate := range candidates {
		pc := found(candidate.Count, core.ConfidencePrimary)
		if pc.Found && (!best.Found || pc.Count > best.Count) {
			best = pc
		}
	}
	return best
}

func found(raw string, confidence core.Confidence) core.PlayCount {
	count, ok := ParseCount(raw)
	if !ok {
		return core.NotFound
	}
	return core.PlayCount{
		Found:      true,
		Count:      count,
		Confidence: confidence,
		Source:     raw,
	}
}

// ParseCount parses a digits-and-commas count such as "1,234,567".
func ParseCount(raw string) (int64, bool) {
	digits := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if digits == "" {
		return 0, false
	}

	count, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || count < 0 {
		return 0, false
	}
	return count, true
}
