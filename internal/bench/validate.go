// Package bench orchestrates benchmark execution: timing, validation,
// reporting, and the run-history catalog.
package bench

import (
	"fmt"
	"math"
	"sort"

	"github.com/expbench/expbench/internal/config"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/pkg/types"
)

// Validator compares the two renderings of each combination and judges
// them against the configured tolerance bands.
type Validator struct {
	cfg *config.Config
}

// NewValidator creates a validator with the run's tolerance settings.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// groupKey identifies a result row by its grouping columns.
func groupKey(row types.ResultRow) string {
	key := row.String("variation")
	if dim, ok := row["dimension"]; ok {
		key += "|" + fmt.Sprint(dim)
	}
	return key
}

// diffPct is the relative difference in percent, anchored on the
// on-demand value. Two zeros agree exactly; a zero on one side only is a
// total disagreement.
func diffPct(ondemand, preagg float64) float64 {
	if ondemand == preagg {
		return 0
	}
	if ondemand == 0 {
		return 100
	}
	return math.Abs(ondemand-preagg) / math.Abs(ondemand) * 100
}

// Compare validates one pre-agg variant against its on-demand counterpart.
// User counts must match exactly; every other numeric column is compared
// within the tolerance band for the metric's shape and the variant's
// weighting.
func (v *Validator) Compare(m *experiment.MetricConfig, variant types.Variant, expID string, ondemand, preagg []types.ResultRow) *types.ValidationResult {
	tol := v.cfg.ToleranceFor(
		variant == types.VariantWeighted,
		m.Shape == experiment.ShapeQuantile,
		m.Capped(),
	)

	res := &types.ValidationResult{
		ExperimentID:   expID,
		MetricID:       m.ID,
		Variant:        variant,
		Deltas:         make(map[string]types.FieldDelta),
		UserCountMatch: true,
		Tolerance:      tol,
	}

	odRows := make(map[string]types.ResultRow, len(ondemand))
	for _, row := range ondemand {
		odRows[groupKey(row)] = row
	}
	paRows := make(map[string]types.ResultRow, len(preagg))
	for _, row := range preagg {
		paRows[groupKey(row)] = row
	}

	if len(odRows) != len(paRows) {
		res.UserCountMatch = false
	}

	for key, od := range odRows {
		pa, ok := paRows[key]
		if !ok {
			res.UserCountMatch = false
			continue
		}

		odUsers, _ := od.Float("users")
		paUsers, _ := pa.Float("users")
		if odUsers != paUsers {
			res.UserCountMatch = false
		}
		res.Deltas[key+"/users"] = types.FieldDelta{
			OnDemand: odUsers,
			PreAgg:   paUsers,
			DiffPct:  diffPct(odUsers, paUsers),
		}

		for _, col := range numericColumns(od) {
			a, aok := od.Float(col)
			b, bok := pa.Float(col)
			if !aok || !bok {
				continue
			}
			d := diffPct(a, b)
			res.Deltas[key+"/"+col] = types.FieldDelta{OnDemand: a, PreAgg: b, DiffPct: d}
			if d > res.MaxDiffPct {
				res.MaxDiffPct = d
			}
		}
	}

	res.Pass = res.UserCountMatch && res.MaxDiffPct <= tol*100
	return res
}

// numericColumns lists the value columns of a result row, excluding the
// grouping columns and the exactly-compared user count.
func numericColumns(row types.ResultRow) []string {
	var cols []string
	for col := range row {
		switch col {
		case "variation", "dimension", "users":
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Summarize aggregates all pairwise comparisons into the report's
// validation section, banding combinations by their worst difference.
func (v *Validator) Summarize(results []*types.ValidationResult, skipped int) *types.ValidationSummary {
	s := &types.ValidationSummary{
		TotalComparisons: len(results),
		Skipped:          skipped,
	}
	if len(results) == 0 {
		return s
	}

	diffs := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
		switch {
		case r.MaxDiffPct < 1:
			s.ExactLt1Pct++
		case r.MaxDiffPct <= 10:
			s.Close1To10Pct++
		default:
			s.FarGt10Pct++
		}
		diffs = append(diffs, r.MaxDiffPct)
	}

	sort.Float64s(diffs)
	s.MedianDiffPct = percentile(diffs, 0.5)
	s.P95DiffPct = percentile(diffs, 0.95)
	s.MaxDiffPct = diffs[len(diffs)-1]

	worst := make([]*types.ValidationResult, len(results))
	copy(worst, results)
	sort.Slice(worst, func(i, j int) bool { return worst[i].MaxDiffPct > worst[j].MaxDiffPct })
	for i := 0; i < len(worst) && i < 5; i++ {
		if worst[i].MaxDiffPct == 0 {
			break
		}
		s.TopOutliers = append(s.TopOutliers, *worst[i])
	}
	return s
}

// percentile interpolates linearly over a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
