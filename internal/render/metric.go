package render

import (
	"fmt"
	"strings"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
)

// windowKind selects which resolved window a metric CTE scans.
type windowKind int

const (
	windowMain windowKind = iota
	windowCovariate
)

// onDemandAgg renders the per-user aggregate over raw rows. Value
// expressions in metric configs address the source table as "m".
func onDemandAgg(m *experiment.MetricConfig) (string, error) {
	value := "(" + m.Value + ")"
	if m.Shape == experiment.ShapeBinomial {
		if m.Threshold != nil {
			return fmt.Sprintf("CASE WHEN SUM(%s) >= %s THEN 1 ELSE 0 END",
				value, formatFloat(*m.Threshold)), nil
		}
		return "MAX(1)", nil
	}
	switch m.Aggregation {
	case experiment.AggSum:
		return "SUM(" + value + ")", nil
	case experiment.AggCount:
		return "COUNT(" + value + ")", nil
	case experiment.AggCountDistinct:
		return "COUNT(DISTINCT " + value + ")", nil
	case experiment.AggCustom:
		if m.CustomAggregation == "" {
			return "", errors.NewRenderError(errors.CodeMissingField,
				"custom aggregation without an expression: "+m.ID)
		}
		return fmt.Sprintf(m.CustomAggregation, value), nil
	default:
		return "", errors.NewRenderError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown aggregation %q", m.Aggregation))
	}
}

// onDemandMetricCTE renders a per-user value CTE scanning the metric's raw
// source table at timestamp precision.
func onDemandMetricCTE(name string, m *experiment.MetricConfig, w *Window, d *dialect.Dialect, unitsRef string, kind windowKind) (string, error) {
	agg, err := onDemandAgg(m)
	if err != nil {
		return "", err
	}

	clause := w.OnDemandClause("u", "m.timestamp")
	if kind == windowCovariate {
		clause = w.OnDemandCovariate("u", "m.timestamp", m.CovariateLookbackDays())
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        " + agg + " AS value\n")
	b.WriteString("    FROM " + unitsRef + " u\n")
	if m.NeedsIdentityJoin() {
		b.WriteString("    JOIN identity_map idm ON idm.user_id = u.user_id\n")
		b.WriteString(fmt.Sprintf("    JOIN %s m ON m.anonymous_id = idm.anonymous_id", m.Table))
	} else {
		b.WriteString(fmt.Sprintf("    JOIN %s m ON m.user_id = u.user_id", m.Table))
	}
	b.WriteString("\n    WHERE " + clause)
	b.WriteString("\n    GROUP BY u.user_id")
	return name + " AS (\n    " + b.String() + "\n)", nil
}

// preAggWeight is the partial-day correction factor: on the first window
// day only the hours after exposure counted toward the on-demand window,
// so that day's contribution is scaled down proportionally.
func preAggWeight(w *Window) string {
	return fmt.Sprintf("CASE WHEN m.metric_date = %s THEN (24 - u.first_exposure_hour) / 24.0 ELSE 1.0 END",
		w.PreAggStartDate("u"))
}

// preAggAgg renders the per-user aggregate over daily pre-aggregated
// columns, optionally applying the partial-day weight.
func preAggAgg(m *experiment.MetricConfig, w *Window, weighted bool) string {
	col := "m." + m.DailyColumn()
	weight := "1"
	if weighted {
		weight = preAggWeight(w)
	}

	if m.Shape == experiment.ShapeBinomial {
		if m.Threshold != nil {
			if weighted {
				return fmt.Sprintf("CASE WHEN SUM(%s * %s) >= %s THEN 1 ELSE 0 END",
					col, weight, formatFloat(*m.Threshold))
			}
			return fmt.Sprintf("CASE WHEN SUM(%s) >= %s THEN 1 ELSE 0 END",
				col, formatFloat(*m.Threshold))
		}
		if weighted {
			return fmt.Sprintf("MAX(CASE WHEN %s > 0 THEN %s ELSE 0 END)", col, weight)
		}
		return fmt.Sprintf("MAX(CASE WHEN %s > 0 THEN 1 ELSE 0 END)", col)
	}
	if weighted {
		return fmt.Sprintf("SUM(%s * %s)", col, weight)
	}
	return fmt.Sprintf("SUM(%s)", col)
}

// preAggMetricCTE renders a per-user value CTE over the shared daily
// table. The covariate window precedes exposure entirely, so it is never
// weighted.
func preAggMetricCTE(name string, m *experiment.MetricConfig, w *Window, d *dialect.Dialect, unitsRef string, weighted bool, kind windowKind) string {
	clause := w.PreAggClause("u", "m.metric_date")
	if kind == windowCovariate {
		clause = w.PreAggCovariate("u", "m.metric_date", m.CovariateLookbackDays())
		weighted = false
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        " + preAggAgg(m, w, weighted) + " AS value\n")
	b.WriteString("    FROM " + unitsRef + " u\n")
	b.WriteString(fmt.Sprintf("    JOIN %s m ON m.user_id = u.user_id", pipeline.TableMetricsDaily))
	b.WriteString("\n    WHERE " + clause)
	if kind == windowMain {
		b.WriteString(fmt.Sprintf("\n      AND m.%s IS NOT NULL", m.DailyColumn()))
	}
	b.WriteString("\n    GROUP BY u.user_id")
	return name + " AS (\n    " + b.String() + "\n)"
}

// formatFloat renders a float literal without exponent notation.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	if !strings.ContainsAny(s, ".e") {
		return s
	}
	if strings.ContainsAny(s, "eE") {
		return fmt.Sprintf("%f", f)
	}
	return s
}
