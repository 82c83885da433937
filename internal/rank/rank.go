// Package rank scores candidate records and selects the one to act on.
package rank

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xkilldash9x/quill/api/schemas"
	"github.com/xkilldash9x/quill/internal/config"
)

// heatCounter is the only counter hot-list entries carry.
const heatCounter = "heat"

// Ranker applies a weighted sum over counters and inclusive range filters.
type Ranker struct {
	weights map[string]float64
	// order fixes the summation order so equal inputs always score equally.
	order   []string
	filters []config.RangeFilter
}

// New creates a ranker from configuration.
func New(cfg config.RankingConfig) *Ranker {
	weights := make(map[string]float64, len(cfg.Weights))
	order := make([]string, 0, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
		order = append(order, k)
	}
	if _, ok := weights[heatCounter]; !ok && cfg.HeatWeight > 0 {
		weights[heatCounter] = cfg.HeatWeight
		order = append(order, heatCounter)
	}
	sort.Strings(order)
	return &Ranker{
		weights: weights,
		order:   order,
		filters: append([]config.RangeFilter(nil), cfg.Filters...),
	}
}

// Score is the weighted sum of the record's counters. Absent and
// unparsable counters contribute zero.
func (r *Ranker) Score(rec schemas.Record) float64 {
	var score float64
	for _, name := range r.order {
		if c, ok := rec.Counter(name); ok {
			score += r.weights[name] * float64(c.Int())
		}
	}
	return score
}

// Rank scores every identifiable record and orders them by descending
// score. Ties keep input order.
func (r *Ranker) Rank(records []schemas.Record) []schemas.ScoredCandidate {
	scored := make([]schemas.ScoredCandidate, 0, len(records))
	for _, rec := range records {
		if !rec.Identifiable() {
			continue
		}
		c := schemas.ScoredCandidate{
			Record:   rec,
			Score:    r.Score(rec),
			Eligible: true,
			Index:    len(scored),
		}
		for _, f := range r.filters {
			v := float64(counterValue(rec, f.Field))
			if v >= f.Min && v <= f.Max {
				c.Passed = append(c.Passed, filterName(f))
			} else {
				c.Eligible = false
			}
		}
		scored = append(scored, c)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Select returns the highest-ranked eligible candidate, or the highest
// ranked overall when none passes every filter. ok is false only when
// ranked is empty.
func (r *Ranker) Select(ranked []schemas.ScoredCandidate) (schemas.ScoredCandidate, bool) {
	if len(ranked) == 0 {
		return schemas.ScoredCandidate{}, false
	}
	for _, c := range ranked {
		if c.Eligible {
			return c, true
		}
	}
	return ranked[0], true
}

// DedupeByURL keeps the first record for each URL. Records without a URL
// are kept as they are.
func DedupeByURL(records []schemas.Record) []schemas.Record {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, rec := range records {
		if rec.URL != nil {
			if _, dup := seen[*rec.URL]; dup {
				continue
			}
			seen[*rec.URL] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}

func counterValue(rec schemas.Record, name string) int64 {
	c, _ := rec.Counter(name)
	return c.Int()
}

func filterName(f config.RangeFilter) string {
	return fmt.Sprintf("%s[%s,%s]", f.Field,
		strconv.FormatFloat(f.Min, 'f', -1, 64),
		strconv.FormatFloat(f.Max, 'f', -1, 64))
}
