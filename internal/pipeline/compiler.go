package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/experiment"
)

// TableBuild is one shared-table build: a DROP, a CREATE TABLE AS, and the
// table's indexes, executed and timed as a unit.
type TableBuild struct {
	// Name is the shared table name
	Name string

	// Statements holds the SQL statements in execution order
	Statements []string
}

// Compiler emits the shared-table build statements for a corpus.
type Compiler struct {
	d *dialect.Dialect
}

// NewCompiler creates a pipeline compiler for the given dialect.
func NewCompiler(d *dialect.Dialect) *Compiler {
	return &Compiler{d: d}
}

// dailyMetric is one column of shared_metrics_daily.
type dailyMetric struct {
	column    string
	table     string
	value     string
	agg       experiment.Aggregation
	customAgg string
	shape     experiment.MetricShape
	idType    experiment.IDType
	threshold bool
}

// sketchMetric is one metric_id slice of shared_sketches_array.
type sketchMetric struct {
	metricID string
	table    string
	value    string
	idType   experiment.IDType
}

// Compile emits the four shared-table builds in dependency order.
// Tables with no contributing configuration (no activation specs, no
// quantile metrics) are omitted.
func (c *Compiler) Compile(corpus *experiment.Corpus) ([]TableBuild, error) {
	daily, sketches := collectMetrics(corpus.Metrics)

	builds := []TableBuild{
		c.compileExposures(corpus.Experiments),
	}

	if len(daily) > 0 {
		builds = append(builds, c.compileMetricsDaily(daily))
	}
	if acts := collectActivations(corpus.Experiments); len(acts) > 0 {
		builds = append(builds, c.compileActivations(acts))
	}
	if len(sketches) > 0 {
		builds = append(builds, c.compileSketches(sketches))
	}

	return builds, nil
}

// collectMetrics flattens the metric corpus into daily columns and sketch
// slices. Ratio sub-metrics contribute their own columns; quantile metrics
// go to the sketch table, everything else to the daily table.
func collectMetrics(metrics []experiment.MetricConfig) ([]dailyMetric, []sketchMetric) {
	var daily []dailyMetric
	var sketches []sketchMetric
	seen := make(map[string]bool)

	var walk func(m *experiment.MetricConfig)
	walk = func(m *experiment.MetricConfig) {
		switch m.Shape {
		case experiment.ShapeRatio:
			walk(m.Numerator)
			walk(m.Denominator)
			return
		case experiment.ShapeQuantile:
			if seen[m.ID] {
				return
			}
			seen[m.ID] = true
			sketches = append(sketches, sketchMetric{
				metricID: m.ID,
				table:    m.Table,
				value:    m.Value,
				idType:   m.IDType,
			})
			return
		}
		if seen[m.ID] {
			return
		}
		seen[m.ID] = true
		daily = append(daily, dailyMetric{
			column:    m.DailyColumn(),
			table:     m.Table,
			value:     m.Value,
			agg:       m.Aggregation,
			customAgg: m.CustomAggregation,
			shape:     m.Shape,
			idType:    m.IDType,
			threshold: m.Threshold != nil,
		})
	}

	for i := range metrics {
		walk(&metrics[i])
	}
	return daily, sketches
}

func collectActivations(exps []experiment.ExperimentConfig) []*experiment.ActivationSpec {
	byKey := make(map[string]*experiment.ActivationSpec)
	for i := range exps {
		if a := exps[i].Activation; a != nil {
			byKey[a.Key()] = a
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*experiment.ActivationSpec, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// compileExposures builds shared_exposures: one row per (user, experiment,
// variation, exposure day) with the first exposure timestamp of that day
// retained so the units stage can recover the hour for partial-day weighting.
func (c *Compiler) compileExposures(exps []experiment.ExperimentConfig) TableBuild {
	tables := make(map[string]bool)
	for i := range exps {
		tables[exps[i].ExposureTable] = true
	}
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)

	var branches []string
	for _, t := range names {
		branches = append(branches, fmt.Sprintf(`SELECT
    e.user_id,
    e.experiment_id,
    e.variation,
    %s AS exposure_date,
    MIN(e.timestamp) AS first_exposure_timestamp,
    COUNT(*) AS exposure_count,
    MIN(e.browser) AS browser,
    MIN(e.country) AS country
FROM %s e
GROUP BY e.user_id, e.experiment_id, e.variation, %s`,
			c.d.DateCast("e.timestamp"), t, c.d.DateCast("e.timestamp")))
	}

	create := fmt.Sprintf("CREATE TABLE %s AS\n%s",
		TableExposures, strings.Join(branches, "\nUNION ALL\n"))
	return build(TableExposures, create)
}

// compileMetricsDaily builds shared_metrics_daily: one pre-aggregated
// column per binomial/count metric, one row per (user, day). Source tables
// are unioned with NULL padding so each metric aggregates only its own rows.
// Anonymous-id metrics resolve identity here, once, at build time.
func (c *Compiler) compileMetricsDaily(daily []dailyMetric) TableBuild {
	// Group metrics by (table, idType) so each source contributes one branch.
	type source struct {
		table  string
		idType experiment.IDType
	}
	var order []source
	bySource := make(map[source][]dailyMetric)
	for _, m := range daily {
		s := source{m.table, m.idType}
		if _, ok := bySource[s]; !ok {
			order = append(order, s)
		}
		bySource[s] = append(bySource[s], m)
	}

	var branches []string
	for _, s := range order {
		mine := make(map[string]string)
		for _, m := range bySource[s] {
			mine[m.column] = rowValue(m)
		}

		cols := make([]string, 0, len(daily))
		for _, m := range daily {
			if expr, ok := mine[m.column]; ok {
				cols = append(cols, fmt.Sprintf("%s AS %s", expr, m.column))
			} else {
				cols = append(cols, fmt.Sprintf("NULL AS %s", m.column))
			}
		}

		userExpr := "m.user_id"
		join := ""
		if s.idType == experiment.IDTypeAnonymous {
			userExpr = "idm.user_id"
			join = "\nJOIN identity_map idm ON idm.anonymous_id = m.anonymous_id"
		}

		branches = append(branches, fmt.Sprintf(`SELECT
    %s AS user_id,
    %s AS metric_date,
    %s
FROM %s m%s`,
			userExpr, c.d.DateCast("m.timestamp"), strings.Join(cols, ",\n    "), s.table, join))
	}

	aggs := make([]string, 0, len(daily))
	for _, m := range daily {
		aggs = append(aggs, fmt.Sprintf("%s AS %s", dayAggregate(m), m.column))
	}

	create := fmt.Sprintf(`CREATE TABLE %s AS
SELECT
    user_id,
    metric_date,
    %s
FROM (
%s
) daily
GROUP BY user_id, metric_date`,
		TableMetricsDaily, strings.Join(aggs, ",\n    "), strings.Join(branches, "\nUNION ALL\n"))

	return build(TableMetricsDaily, create)
}

// rowValue is the per-row expression a metric contributes to the union.
func rowValue(m dailyMetric) string {
	if m.shape == experiment.ShapeBinomial && !m.threshold {
		return "1"
	}
	return "(" + m.value + ")"
}

// dayAggregate collapses a metric's union rows into its per-day column.
// A thresholded binomial keeps daily sums so the threshold can be applied
// to the windowed total at query time.
func dayAggregate(m dailyMetric) string {
	if m.shape == experiment.ShapeBinomial {
		if m.threshold {
			return fmt.Sprintf("SUM(%s)", m.column)
		}
		return fmt.Sprintf("MAX(%s)", m.column)
	}
	switch m.agg {
	case experiment.AggCount:
		return fmt.Sprintf("COUNT(%s)", m.column)
	case experiment.AggCountDistinct:
		// Distinct within a day; cross-day duplicates are counted twice.
		// The validator's tolerance band covers the approximation.
		return fmt.Sprintf("COUNT(DISTINCT %s)", m.column)
	case experiment.AggCustom:
		return fmt.Sprintf(m.customAgg, m.column)
	default:
		return fmt.Sprintf("SUM(%s)", m.column)
	}
}

// compileActivations builds shared_activations keyed by activation spec.
func (c *Compiler) compileActivations(specs []*experiment.ActivationSpec) TableBuild {
	var branches []string
	for _, a := range specs {
		userExpr := "act.user_id"
		join := ""
		if a.IDType == experiment.IDTypeAnonymous {
			userExpr = "idm.user_id"
			join = "\nJOIN identity_map idm ON idm.anonymous_id = act.anonymous_id"
		}
		branches = append(branches, fmt.Sprintf(`SELECT
    '%s' AS activation_id,
    %s AS user_id,
    %s AS activation_date,
    MIN(act.timestamp) AS first_activation_timestamp,
    COUNT(*) AS activation_count
FROM %s act%s
WHERE (%s)
GROUP BY %s, %s`,
			a.Key(), userExpr, c.d.DateCast("act.timestamp"), a.Table, join,
			a.Condition, userExpr, c.d.DateCast("act.timestamp")))
	}

	create := fmt.Sprintf("CREATE TABLE %s AS\n%s",
		TableActivations, strings.Join(branches, "\nUNION ALL\n"))
	return build(TableActivations, create)
}

// compileSketches builds shared_sketches_array: per-day value collections
// for quantile metrics. Arrays are never weighted; the weighted variant of
// a quantile query is an unsupported rendering, not an approximation.
func (c *Compiler) compileSketches(sketches []sketchMetric) TableBuild {
	var branches []string
	for _, s := range sketches {
		userExpr := "m.user_id"
		join := ""
		if s.idType == experiment.IDTypeAnonymous {
			userExpr = "idm.user_id"
			join = "\nJOIN identity_map idm ON idm.anonymous_id = m.anonymous_id"
		}
		branches = append(branches, fmt.Sprintf(`SELECT
    '%s' AS metric_id,
    %s AS user_id,
    %s AS metric_date,
    %s AS value_list
FROM %s m%s
WHERE (%s) IS NOT NULL
GROUP BY %s, %s`,
			s.metricID, userExpr, c.d.DateCast("m.timestamp"),
			c.d.ArrayAgg("("+s.value+")"), s.table, join,
			s.value, userExpr, c.d.DateCast("m.timestamp")))
	}

	create := fmt.Sprintf("CREATE TABLE %s AS\n%s",
		TableSketches, strings.Join(branches, "\nUNION ALL\n"))
	return build(TableSketches, create)
}

func build(name, create string) TableBuild {
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", name),
		create,
	}
	stmts = append(stmts, indexStatements[name]...)
	return TableBuild{Name: name, Statements: stmts}
}
