package render

import (
	"fmt"
	"strings"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
	"github.com/expbench/expbench/pkg/types"
)

// Assembler renders complete queries for one engine dialect. The same
// assembler produces both approaches so that a combination's two renderings
// always share window arithmetic and metric clauses.
type Assembler struct {
	d                 *dialect.Dialect
	useApproxQuantile bool
}

// NewAssembler creates an assembler for the given dialect.
func NewAssembler(d *dialect.Dialect, useApproxQuantile bool) *Assembler {
	return &Assembler{d: d, useApproxQuantile: useApproxQuantile}
}

// RenderFailure records a combination the assembler refused to render.
type RenderFailure struct {
	ExperimentID string         `json:"experiment"`
	MetricID     string         `json:"metric"`
	Approach     types.Approach `json:"approach"`
	Variant      types.Variant  `json:"variant"`
	Err          error          `json:"error"`
}

// RenderAll renders the full cross product of a corpus: the on-demand
// rendering plus the unweighted and weighted pre-agg renderings of every
// (experiment, metric) pair. Failures are recorded per combination and do
// not abort the remaining work.
func (a *Assembler) RenderAll(corpus *experiment.Corpus) ([]types.RenderedQuery, []RenderFailure) {
	var queries []types.RenderedQuery
	var failures []RenderFailure

	combos := []struct {
		approach types.Approach
		variant  types.Variant
	}{
		{types.ApproachOnDemand, types.VariantStandard},
		{types.ApproachPreAgg, types.VariantUnweighted},
		{types.ApproachPreAgg, types.VariantWeighted},
	}

	for i := range corpus.Experiments {
		exp := &corpus.Experiments[i]
		for j := range corpus.Metrics {
			m := &corpus.Metrics[j]
			for _, c := range combos {
				q, err := a.Render(exp, m, c.approach, c.variant)
				if err != nil {
					failures = append(failures, RenderFailure{
						ExperimentID: exp.ID,
						MetricID:     m.ID,
						Approach:     c.approach,
						Variant:      c.variant,
						Err:          err,
					})
					continue
				}
				queries = append(queries, *q)
			}
		}
	}
	return queries, failures
}

// Render produces one query for an (experiment, metric, approach, variant)
// combination.
func (a *Assembler) Render(exp *experiment.ExperimentConfig, m *experiment.MetricConfig, approach types.Approach, variant types.Variant) (*types.RenderedQuery, error) {
	if approach == types.ApproachOnDemand && variant != types.VariantStandard {
		return nil, errors.NewRenderError(errors.CodeUnsupportedCombination,
			"on-demand queries have no weighting variants")
	}
	weighted := variant == types.VariantWeighted

	if m.Shape == experiment.ShapeQuantile {
		if weighted {
			return nil, errors.NewRenderError(errors.CodeUnsupportedCombination,
				"quantile metrics cannot apply partial-day weighting: "+m.ID)
		}
		if m.CupedEnabled() {
			return nil, errors.NewRenderError(errors.CodeUnsupportedCombination,
				"quantile metrics do not emit CUPED covariates: "+m.ID)
		}
	}
	if m.Shape == experiment.ShapeRatio && m.CupedEnabled() {
		return nil, errors.NewRenderError(errors.CodeUnsupportedCombination,
			"ratio metrics do not emit CUPED covariates: "+m.ID)
	}
	if m.Shape == experiment.ShapeRatio && m.Capping != nil {
		return nil, errors.NewRenderError(errors.CodeUnsupportedCombination,
			"ratio metrics cap through their sub-metrics: "+m.ID)
	}

	w, err := ResolveWindow(exp, a.d)
	if err != nil {
		return nil, err
	}
	stage, err := buildUnits(exp, w, a.d, approach)
	if err != nil {
		return nil, err
	}

	var sql string
	switch m.Shape {
	case experiment.ShapeQuantile:
		sql, err = a.renderQuantile(exp, m, w, stage, approach)
	case experiment.ShapeRatio:
		sql, err = a.renderRatio(exp, m, w, stage, approach, weighted)
	default:
		sql, err = a.renderScalar(exp, m, w, stage, approach, weighted)
	}
	if err != nil {
		return nil, err
	}

	return &types.RenderedQuery{
		ExperimentID: exp.ID,
		MetricID:     m.ID,
		Approach:     approach,
		Variant:      variant,
		SQL:          sql,
		Engine:       a.d.Name,
	}, nil
}

// metricCTE dispatches a per-user value CTE to the approach's builder.
func (a *Assembler) metricCTE(name string, m *experiment.MetricConfig, w *Window, unitsRef string, approach types.Approach, weighted bool, kind windowKind) (string, error) {
	if approach == types.ApproachOnDemand {
		return onDemandMetricCTE(name, m, w, a.d, unitsRef, kind)
	}
	return preAggMetricCTE(name, m, w, a.d, unitsRef, weighted, kind), nil
}

// renderScalar renders binomial and count metrics. The shape of the output
// is fixed: variation, optional dimension, users, main_sum,
// main_sum_squares, plus covariate columns when CUPED is on.
func (a *Assembler) renderScalar(exp *experiment.ExperimentConfig, m *experiment.MetricConfig, w *Window, stage *unitStage, approach types.Approach, weighted bool) (string, error) {
	ctes := append([]string{}, stage.ctes...)

	metricCTE, err := a.metricCTE("metric", m, w, stage.relation, approach, weighted, windowMain)
	if err != nil {
		return "", err
	}
	ctes = append(ctes, metricCTE)

	cuped := m.CupedEnabled()
	if cuped {
		covCTE, err := a.metricCTE("metric_cov", m, w, stage.relation, approach, false, windowCovariate)
		if err != nil {
			return "", err
		}
		ctes = append(ctes, covCTE)
	}

	valueExpr := "COALESCE(t.value, 0)"
	if m.KeepNulls {
		valueExpr = "t.value"
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        u.variation,\n")
	if stage.hasDimension {
		b.WriteString("        u.dimension,\n")
	}
	b.WriteString("        " + valueExpr + " AS value")
	if cuped {
		b.WriteString(",\n        COALESCE(c.value, 0) AS covariate_value")
	}
	b.WriteString("\n    FROM " + stage.relation + " u")
	b.WriteString("\n    LEFT JOIN metric t ON t.user_id = u.user_id")
	if cuped {
		b.WriteString("\n    LEFT JOIN metric_cov c ON c.user_id = u.user_id")
	}
	ctes = append(ctes, "user_totals AS (\n    "+b.String()+"\n)")

	finalRef := "user_totals"
	if m.Capping != nil {
		ctes = append(ctes, a.capCTEs(m.Capping.Quantile, stage.hasDimension, cuped)...)
		finalRef = "capped_totals"
	}

	return withClause(ctes) + a.finalScalarSelect(finalRef, stage.hasDimension, false, cuped), nil
}

// capCTEs clamps per-user totals at a population percentile computed over
// the whole run, both variations together, so the two renderings cap at
// comparable thresholds.
func (a *Assembler) capCTEs(q float64, hasDimension, cuped bool) []string {
	cap := fmt.Sprintf("cap AS (\n    SELECT %s AS cap_value\n    FROM user_totals\n    WHERE value IS NOT NULL\n)",
		a.d.Quantile("value", q))

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        t.user_id,\n")
	b.WriteString("        t.variation,\n")
	if hasDimension {
		b.WriteString("        t.dimension,\n")
	}
	// CASE keeps NULL totals NULL; LEAST would not on all engines.
	b.WriteString("        CASE WHEN t.value > c.cap_value THEN c.cap_value ELSE t.value END AS value")
	if cuped {
		b.WriteString(",\n        t.covariate_value")
	}
	b.WriteString("\n    FROM user_totals t\n    CROSS JOIN cap c")

	return []string{cap, "capped_totals AS (\n    " + b.String() + "\n)"}
}

// renderRatio renders ratio metrics: numerator and denominator are
// aggregated per user independently and summed jointly so the validator
// and the statistics engine see the paired moments.
func (a *Assembler) renderRatio(exp *experiment.ExperimentConfig, m *experiment.MetricConfig, w *Window, stage *unitStage, approach types.Approach, weighted bool) (string, error) {
	ctes := append([]string{}, stage.ctes...)

	numCTE, err := a.metricCTE("metric_num", m.Numerator, w, stage.relation, approach, weighted, windowMain)
	if err != nil {
		return "", err
	}
	denCTE, err := a.metricCTE("metric_den", m.Denominator, w, stage.relation, approach, weighted, windowMain)
	if err != nil {
		return "", err
	}
	ctes = append(ctes, numCTE, denCTE)

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        u.variation,\n")
	if stage.hasDimension {
		b.WriteString("        u.dimension,\n")
	}
	b.WriteString("        COALESCE(n.value, 0) AS value,\n")
	b.WriteString("        COALESCE(dn.value, 0) AS denominator_value")
	b.WriteString("\n    FROM " + stage.relation + " u")
	b.WriteString("\n    LEFT JOIN metric_num n ON n.user_id = u.user_id")
	b.WriteString("\n    LEFT JOIN metric_den dn ON dn.user_id = u.user_id")
	ctes = append(ctes, "user_totals AS (\n    "+b.String()+"\n)")

	finalRef := "user_totals"
	if m.Capped() {
		ctes = append(ctes, a.ratioCapCTEs(m, stage.hasDimension)...)
		finalRef = "capped_totals"
	}

	return withClause(ctes) + a.finalScalarSelect(finalRef, stage.hasDimension, true, false), nil
}

// ratioCapCTEs caps whichever sides of the ratio declare a cap, passing
// the other side through unchanged.
func (a *Assembler) ratioCapCTEs(m *experiment.MetricConfig, hasDimension bool) []string {
	var capCols []string
	numExpr := "t.value"
	denExpr := "t.denominator_value"

	if m.Numerator.Capping != nil {
		capCols = append(capCols, a.d.Quantile("value", m.Numerator.Capping.Quantile)+" AS num_cap")
		numExpr = "CASE WHEN t.value > c.num_cap THEN c.num_cap ELSE t.value END"
	}
	if m.Denominator.Capping != nil {
		capCols = append(capCols, a.d.Quantile("denominator_value", m.Denominator.Capping.Quantile)+" AS den_cap")
		denExpr = "CASE WHEN t.denominator_value > c.den_cap THEN c.den_cap ELSE t.denominator_value END"
	}

	cap := "cap AS (\n    SELECT\n        " + strings.Join(capCols, ",\n        ") + "\n    FROM user_totals\n)"

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        t.user_id,\n")
	b.WriteString("        t.variation,\n")
	if hasDimension {
		b.WriteString("        t.dimension,\n")
	}
	b.WriteString("        " + numExpr + " AS value,\n")
	b.WriteString("        " + denExpr + " AS denominator_value")
	b.WriteString("\n    FROM user_totals t\n    CROSS JOIN cap c")

	return []string{cap, "capped_totals AS (\n    " + b.String() + "\n)"}
}

// finalScalarSelect emits the moment columns the statistics engine
// consumes, grouped by variation and optional dimension.
func (a *Assembler) finalScalarSelect(relation string, hasDimension, ratio, cuped bool) string {
	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("    t.variation,\n")
	if hasDimension {
		b.WriteString("    t.dimension,\n")
	}
	b.WriteString("    COUNT(*) AS users,\n")
	b.WriteString("    SUM(t.value) AS main_sum,\n")
	b.WriteString("    SUM(t.value * t.value) AS main_sum_squares")
	if ratio {
		b.WriteString(",\n    SUM(t.denominator_value) AS denominator_sum")
		b.WriteString(",\n    SUM(t.denominator_value * t.denominator_value) AS denominator_sum_squares")
		b.WriteString(",\n    SUM(t.value * t.denominator_value) AS main_denominator_sum_product")
	}
	if cuped {
		b.WriteString(",\n    SUM(t.covariate_value) AS covariate_sum")
		b.WriteString(",\n    SUM(t.covariate_value * t.covariate_value) AS covariate_sum_squares")
		b.WriteString(",\n    SUM(t.value * t.covariate_value) AS main_covariate_sum_product")
	}
	b.WriteString("\nFROM " + relation + " t")
	group := "t.variation"
	if hasDimension {
		group += ", t.dimension"
	}
	b.WriteString("\nGROUP BY " + group)
	b.WriteString("\nORDER BY " + group)
	return b.String()
}

// renderQuantile renders event-level and unit-level quantile metrics. The
// pre-agg rendering unnests the per-day value arrays, so both approaches
// compute the percentile over the same raw values.
func (a *Assembler) renderQuantile(exp *experiment.ExperimentConfig, m *experiment.MetricConfig, w *Window, stage *unitStage, approach types.Approach) (string, error) {
	ctes := append([]string{}, stage.ctes...)

	var qual strings.Builder
	qual.WriteString("SELECT\n")
	qual.WriteString("        u.variation,\n")
	if stage.hasDimension {
		qual.WriteString("        u.dimension,\n")
	}
	qual.WriteString("        u.user_id,\n")

	eventFilter := m.Level == experiment.LevelEvent && m.IgnoreZeros

	if approach == types.ApproachOnDemand {
		qual.WriteString("        (" + m.Value + ") AS value")
		qual.WriteString("\n    FROM " + stage.relation + " u")
		if m.NeedsIdentityJoin() {
			qual.WriteString("\n    JOIN identity_map idm ON idm.user_id = u.user_id")
			qual.WriteString(fmt.Sprintf("\n    JOIN %s m ON m.anonymous_id = idm.anonymous_id", m.Table))
		} else {
			qual.WriteString(fmt.Sprintf("\n    JOIN %s m ON m.user_id = u.user_id", m.Table))
		}
		qual.WriteString("\n    WHERE " + w.OnDemandClause("u", "m.timestamp"))
		if eventFilter {
			qual.WriteString(fmt.Sprintf("\n      AND (%s) <> 0", m.Value))
		}
	} else {
		qual.WriteString("        q.value")
		qual.WriteString("\n    FROM " + stage.relation + " u")
		qual.WriteString("\n    JOIN " + a.d.UnnestValues(pipeline.TableSketches) + " q ON q.user_id = u.user_id")
		qual.WriteString(fmt.Sprintf("\n    WHERE q.metric_id = '%s'", m.ID))
		qual.WriteString("\n      AND " + w.PreAggClause("u", "q.metric_date"))
		if eventFilter {
			qual.WriteString("\n      AND q.value <> 0")
		}
	}
	ctes = append(ctes, "qualifying AS (\n    "+qual.String()+"\n)")

	quantileFn := a.d.Quantile
	if approach == types.ApproachPreAgg && a.useApproxQuantile && a.d.HasApproxQuantile {
		quantileFn = a.d.ApproxQuantile
	}

	group := "variation"
	if stage.hasDimension {
		group += ", dimension"
	}

	var b strings.Builder
	if m.Level == experiment.LevelUnit {
		agg, err := unitQuantileAgg(m)
		if err != nil {
			return "", err
		}
		var pu strings.Builder
		pu.WriteString("SELECT\n")
		pu.WriteString("        variation,\n")
		if stage.hasDimension {
			pu.WriteString("        dimension,\n")
		}
		pu.WriteString("        user_id,\n")
		pu.WriteString("        " + agg + " AS value\n")
		pu.WriteString("    FROM qualifying\n")
		pu.WriteString("    GROUP BY " + group + ", user_id")
		ctes = append(ctes, "per_user AS (\n    "+pu.String()+"\n)")

		b.WriteString(withClause(ctes))
		b.WriteString("SELECT\n    ")
		b.WriteString(strings.ReplaceAll(group, ", ", ",\n    "))
		b.WriteString(",\n    COUNT(*) AS users,\n")
		b.WriteString("    " + quantileFn("value", m.Quantile) + " AS quantile_value")
		b.WriteString("\nFROM per_user")
		if m.IgnoreZeros {
			b.WriteString("\nWHERE value <> 0")
		}
	} else {
		b.WriteString(withClause(ctes))
		b.WriteString("SELECT\n    ")
		b.WriteString(strings.ReplaceAll(group, ", ", ",\n    "))
		b.WriteString(",\n    COUNT(DISTINCT user_id) AS users,\n")
		b.WriteString("    " + quantileFn("value", m.Quantile) + " AS quantile_value")
		b.WriteString("\nFROM qualifying")
	}
	b.WriteString("\nGROUP BY " + group)
	b.WriteString("\nORDER BY " + group)
	return b.String(), nil
}

// unitQuantileAgg collapses a user's qualifying rows into the unit-level
// value the percentile ranges over.
func unitQuantileAgg(m *experiment.MetricConfig) (string, error) {
	switch m.Aggregation {
	case experiment.AggSum, "":
		return "SUM(value)", nil
	case experiment.AggCount:
		return "COUNT(value)", nil
	case experiment.AggCountDistinct:
		return "COUNT(DISTINCT value)", nil
	case experiment.AggCustom:
		if m.CustomAggregation == "" {
			return "", errors.NewRenderError(errors.CodeMissingField,
				"custom aggregation without an expression: "+m.ID)
		}
		return fmt.Sprintf(m.CustomAggregation, "value"), nil
	default:
		return "", errors.NewRenderError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown aggregation %q", m.Aggregation))
	}
}

func withClause(ctes []string) string {
	return "WITH " + strings.Join(ctes, ",\n") + "\n"
}
