// Package dialect isolates the engine-specific SQL fragments: date
// arithmetic, array aggregation and expansion, and quantile functions.
// The assembler composes queries from these fragments so a new backend
// only needs a Dialect entry plus an execution adapter.
package dialect

import (
	"fmt"
	"strconv"

	"github.com/expbench/expbench/internal/errors"
)

// Dialect holds the swappable SQL fragments for one engine.
type Dialect struct {
	// Name is the engine identifier (duckdb, postgres)
	Name string

	// HasApproxQuantile reports whether ApproxQuantile is a genuine
	// approximate function rather than a fallback to the exact one
	HasApproxQuantile bool

	quantile       func(expr string, q float64) string
	approxQuantile func(expr string, q float64) string
	arrayAgg       func(expr string) string
}

var registry = map[string]*Dialect{
	"duckdb": {
		Name:              "duckdb",
		HasApproxQuantile: true,
		quantile: func(expr string, q float64) string {
			return fmt.Sprintf("quantile_cont(%s, %s)", expr, formatQ(q))
		},
		approxQuantile: func(expr string, q float64) string {
			return fmt.Sprintf("approx_quantile(%s, %s)", expr, formatQ(q))
		},
		arrayAgg: func(expr string) string {
			return fmt.Sprintf("list(%s)", expr)
		},
	},
	"postgres": {
		Name:              "postgres",
		HasApproxQuantile: false,
		quantile: func(expr string, q float64) string {
			return fmt.Sprintf("percentile_cont(%s) WITHIN GROUP (ORDER BY %s)", formatQ(q), expr)
		},
		// No built-in sketch type; falls back to the exact computation.
		approxQuantile: func(expr string, q float64) string {
			return fmt.Sprintf("percentile_cont(%s) WITHIN GROUP (ORDER BY %s)", formatQ(q), expr)
		},
		arrayAgg: func(expr string) string {
			return fmt.Sprintf("array_agg(%s)", expr)
		},
	},
}

// ForEngine resolves the dialect for an engine name.
func ForEngine(name string) (*Dialect, error) {
	d, ok := registry[name]
	if !ok {
		return nil, errors.NewRenderError(errors.CodeUnknownEngine,
			fmt.Sprintf("no dialect registered for engine %q", name))
	}
	return d, nil
}

// Engines returns the registered engine names.
func Engines() []string {
	return []string{"duckdb", "postgres"}
}

// TimestampLiteral renders a timestamp literal.
func (d *Dialect) TimestampLiteral(s string) string {
	return "TIMESTAMP '" + s + "'"
}

// IntervalHours renders an interval of n hours (n may be negative; the
// caller chooses + or - and passes the magnitude).
func (d *Dialect) IntervalHours(n int) string {
	return fmt.Sprintf("INTERVAL '%d hours'", n)
}

// IntervalDays renders an interval of n days.
func (d *Dialect) IntervalDays(n int) string {
	return fmt.Sprintf("INTERVAL '%d days'", n)
}

// DateCast floors a timestamp expression to calendar-day granularity.
// This is the single point where the pre-agg approach loses sub-day
// precision.
func (d *Dialect) DateCast(expr string) string {
	return fmt.Sprintf("CAST(%s AS DATE)", expr)
}

// HourOf extracts the hour-of-day from a timestamp expression.
func (d *Dialect) HourOf(expr string) string {
	return fmt.Sprintf("EXTRACT(HOUR FROM %s)", expr)
}

// Quantile renders the exact quantile aggregate.
func (d *Dialect) Quantile(expr string, q float64) string {
	return d.quantile(expr, q)
}

// ApproxQuantile renders the approximate quantile aggregate, falling back
// to the exact one on engines without a sketch-backed function.
func (d *Dialect) ApproxQuantile(expr string, q float64) string {
	return d.approxQuantile(expr, q)
}

// ArrayAgg renders the per-day value collection aggregate for the sketch
// table build.
func (d *Dialect) ArrayAgg(expr string) string {
	return d.arrayAgg(expr)
}

// UnnestValues renders a derived table expanding the sketch table's
// value_list array into one row per element. Both engines accept a
// set-returning unnest in the select list, so the expansion itself is
// shared; it lives here because new backends are unlikely to.
func (d *Dialect) UnnestValues(sketchTable string) string {
	return fmt.Sprintf(
		"(SELECT user_id, metric_id, metric_date, unnest(value_list) AS value FROM %s)",
		sketchTable)
}

func formatQ(q float64) string {
	return strconv.FormatFloat(q, 'g', -1, 64)
}
