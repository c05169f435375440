// Package types provides core data types shared across the benchmark.
package types

import "math/big"

// Approach identifies which analysis strategy a query implements.
type Approach string

const (
	// ApproachOnDemand scans raw per-event tables on every invocation.
	ApproachOnDemand Approach = "ondemand"

	// ApproachPreAgg consumes the shared pre-aggregated tables.
	ApproachPreAgg Approach = "preagg"
)

// Variant identifies the weighting mode of a pre-agg rendering.
// On-demand queries always use VariantStandard.
type Variant string

const (
	// VariantStandard is the single on-demand rendering.
	VariantStandard Variant = "standard"

	// VariantUnweighted is the pre-agg rendering without first-day correction.
	VariantUnweighted Variant = "unweighted"

	// VariantWeighted applies the partial-day weight to the first window day.
	VariantWeighted Variant = "weighted"
)

// RenderedQuery is one SQL text produced by the assembler for a single
// (experiment, metric, approach, variant) combination.
type RenderedQuery struct {
	// ExperimentID identifies the experiment configuration
	ExperimentID string `json:"experiment"`

	// MetricID identifies the metric configuration
	MetricID string `json:"metric"`

	// Approach is ondemand or preagg
	Approach Approach `json:"approach"`

	// Variant is standard, unweighted, or weighted
	Variant Variant `json:"variant"`

	// SQL is the complete rendered query text
	SQL string `json:"-"`

	// Engine names the dialect the query was rendered for
	Engine string `json:"engine"`
}

// Key returns a stable identifier for the combination, used for file names
// and result grouping.
func (q RenderedQuery) Key() string {
	if q.Variant == VariantStandard {
		return string(q.Approach) + "/" + q.ExperimentID + "__" + q.MetricID
	}
	return string(q.Approach) + "/" + q.ExperimentID + "__" + q.MetricID + "__" + string(q.Variant)
}

// ResultRow is a single row of a query result with named columns.
type ResultRow map[string]interface{}

// ResultSet holds the rectangular result of one query execution.
type ResultSet struct {
	// Columns preserves the column order of the result
	Columns []string

	// Rows holds one entry per returned row
	Rows []ResultRow

	// WalltimeSeconds is the wall-clock execution time
	WalltimeSeconds float64
}

// Float extracts a numeric column from a row, tolerating the driver-specific
// integer and decimal types both engines return.
func (r ResultRow) Float(column string) (float64, bool) {
	v, ok := r[column]
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	case *big.Int:
		// DuckDB widens integer SUMs to HUGEINT, which the driver
		// scans as *big.Int.
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	default:
		return 0, false
	}
}

// String extracts a column as a string, converting non-string scalars.
func (r ResultRow) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return formatValue(x)
	}
}
