// Package experiment defines the declarative experiment and metric
// configuration model the query renderers consume.
package experiment

import (
	"fmt"
	"time"
)

// Attribution selects whose conversion window starts when.
type Attribution string

const (
	// AttributionFirstExposure anchors the window to the user's first exposure.
	AttributionFirstExposure Attribution = "first_exposure"

	// AttributionExperimentDuration extends the window to the experiment end.
	AttributionExperimentDuration Attribution = "experiment_duration"
)

// WindowType selects between a conversion window and a lookback window.
type WindowType string

const (
	// WindowConversion is the standard post-exposure conversion window.
	WindowConversion WindowType = "conversion"

	// WindowLookback anchors the window to the experiment end date.
	WindowLookback WindowType = "lookback"
)

// DimensionType selects the source of the breakdown column.
type DimensionType string

const (
	DimensionDate           DimensionType = "date"
	DimensionExposureColumn DimensionType = "exposure_column"
	DimensionAttribute      DimensionType = "attribute"
	DimensionActivation     DimensionType = "activation"
)

// IDType names a user-identifier namespace.
type IDType string

const (
	IDTypeUser      IDType = "user_id"
	IDTypeAnonymous IDType = "anonymous_id"
)

// ActivationSpec restricts analysis to users who performed a qualifying
// action after exposure.
type ActivationSpec struct {
	// Table is the raw event table holding activation events
	Table string `yaml:"table" json:"table"`

	// Condition is a SQL predicate on the activation table rows
	Condition string `yaml:"condition" json:"condition"`

	// IDType is the identifier namespace of the activation table
	// (an identity join is emitted when it differs from user_id)
	IDType IDType `yaml:"id_type" json:"id_type"`
}

// SegmentSpec excludes users failing a predicate. Inner-join semantics:
// excluded users are absent from both numerator and denominator.
type SegmentSpec struct {
	// Table is the attribute table carrying the segment columns
	Table string `yaml:"table" json:"table"`

	// Condition is a SQL predicate on the segment table rows
	Condition string `yaml:"condition" json:"condition"`
}

// DimensionSpec adds a GROUP BY breakdown column to the final aggregate.
type DimensionSpec struct {
	// Type selects the dimension source
	Type DimensionType `yaml:"type" json:"type"`

	// Column names the source column for exposure_column and attribute types
	Column string `yaml:"column" json:"column"`

	// Table is the attribute table for the attribute type
	Table string `yaml:"table" json:"table"`
}

// ExperimentConfig describes one A/B-test analysis problem.
type ExperimentConfig struct {
	// ID is the short name used in file names and reports
	ID string `yaml:"id" json:"id"`

	// ExperimentID is the experiment key recorded in exposure rows
	ExperimentID string `yaml:"experiment_id" json:"experiment_id"`

	// ExposureTable is the raw exposure event table
	ExposureTable string `yaml:"exposure_table" json:"exposure_table"`

	// Attribution is first_exposure or experiment_duration
	Attribution Attribution `yaml:"attribution" json:"attribution"`

	// DelayHours shifts the window start; negative values open a pre-period
	DelayHours int `yaml:"delay_hours" json:"delay_hours"`

	// ConversionWindowHours is the window length (lookback length for
	// lookback windows)
	ConversionWindowHours int `yaml:"conversion_window_hours" json:"conversion_window_hours"`

	// WindowType is conversion or lookback
	WindowType WindowType `yaml:"window_type" json:"window_type"`

	// SkipPartialData excludes users whose resolved window end passes the
	// experiment end date
	SkipPartialData bool `yaml:"skip_partial_data" json:"skip_partial_data"`

	// StartDate and EndDate bound the exposure scan, "2006-01-02T15:04:05"
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date" json:"end_date"`

	Activation *ActivationSpec `yaml:"activation" json:"activation,omitempty"`
	Segment    *SegmentSpec    `yaml:"segment" json:"segment,omitempty"`
	Dimension  *DimensionSpec  `yaml:"dimension" json:"dimension,omitempty"`
}

// Aggregation names the per-row aggregation applied inside the window.
type Aggregation string

const (
	AggSum           Aggregation = "sum"
	AggCount         Aggregation = "count"
	AggCountDistinct Aggregation = "count_distinct"
	AggCustom        Aggregation = "custom"
)

// MetricShape classifies the statistical shape of a metric.
type MetricShape string

const (
	ShapeBinomial MetricShape = "binomial"
	ShapeCount    MetricShape = "count"
	ShapeRatio    MetricShape = "ratio"
	ShapeQuantile MetricShape = "quantile"
)

// QuantileLevel selects between event-level and unit-level quantiles.
type QuantileLevel string

const (
	LevelEvent QuantileLevel = "event"
	LevelUnit  QuantileLevel = "unit"
)

// CappingSpec clamps per-user totals to a population percentile computed
// over the current run's per-user totals.
type CappingSpec struct {
	// Quantile is the cap percentile, typically 0.9
	Quantile float64 `yaml:"quantile" json:"quantile"`
}

// CupedSpec enables pre-exposure covariate emission.
type CupedSpec struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// LookbackDays is the covariate window length before exposure
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
}

// MetricConfig describes one metric definition.
type MetricConfig struct {
	// ID is the short name used in file names, reports, and as the
	// pre-aggregated daily column name
	ID string `yaml:"id" json:"id"`

	// Shape is binomial, count, ratio, or quantile
	Shape MetricShape `yaml:"type" json:"type"`

	// Table is the raw source event table (unused for ratio)
	Table string `yaml:"table" json:"table"`

	// Value is the SQL value expression over source rows
	Value string `yaml:"value" json:"value"`

	// Aggregation is sum, count, count_distinct, or custom
	Aggregation Aggregation `yaml:"aggregation" json:"aggregation"`

	// CustomAggregation is the full aggregate expression for custom,
	// with %s standing for the value expression
	CustomAggregation string `yaml:"custom_aggregation" json:"custom_aggregation"`

	// IDType is the identifier namespace of the source table; an identity
	// join is emitted when it differs from the exposure namespace
	IDType IDType `yaml:"id_type" json:"id_type"`

	// KeepNulls preserves NULL per-user totals instead of coalescing to 0
	KeepNulls bool `yaml:"keep_nulls" json:"keep_nulls"`

	// Numerator and Denominator are the sub-metrics of a ratio
	Numerator   *MetricConfig `yaml:"numerator" json:"numerator,omitempty"`
	Denominator *MetricConfig `yaml:"denominator" json:"denominator,omitempty"`

	// Quantile is the target quantile in (0, 1) for quantile metrics
	Quantile float64 `yaml:"quantile" json:"quantile"`

	// Level is event or unit for quantile metrics
	Level QuantileLevel `yaml:"level" json:"level"`

	// IgnoreZeros drops zero-valued rows/users before the percentile
	IgnoreZeros bool `yaml:"ignore_zeros" json:"ignore_zeros"`

	// Threshold turns a binomial into a thresholded conversion: the user
	// converts when their summed value reaches the threshold. Used to
	// chain a ratio numerator off another metric's per-user value.
	Threshold *float64 `yaml:"threshold" json:"threshold,omitempty"`

	Capping *CappingSpec `yaml:"capping" json:"capping,omitempty"`
	CUPED   *CupedSpec   `yaml:"cuped" json:"cuped,omitempty"`
}

const dateTimeLayout = "2006-01-02T15:04:05"

// ParseDate parses the date formats accepted in experiment configs.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{dateTimeLayout, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// StartTime returns the parsed experiment start.
func (e *ExperimentConfig) StartTime() (time.Time, error) {
	return ParseDate(e.StartDate)
}

// EndTime returns the parsed experiment end.
func (e *ExperimentConfig) EndTime() (time.Time, error) {
	return ParseDate(e.EndDate)
}

// NeedsIdentityJoin reports whether the metric's source id namespace
// differs from the exposure namespace.
func (m *MetricConfig) NeedsIdentityJoin() bool {
	return m.IDType == IDTypeAnonymous
}

// CupedEnabled reports whether covariate clauses should be emitted.
func (m *MetricConfig) CupedEnabled() bool {
	return m.CUPED != nil && m.CUPED.Enabled
}

// CovariateLookbackDays returns the covariate window length, defaulting
// to 4 days.
func (m *MetricConfig) CovariateLookbackDays() int {
	if m.CUPED == nil || m.CUPED.LookbackDays <= 0 {
		return 4
	}
	return m.CUPED.LookbackDays
}

// Capped reports whether the metric (or a ratio denominator) uses a
// percentile cap.
func (m *MetricConfig) Capped() bool {
	if m.Capping != nil {
		return true
	}
	if m.Shape == ShapeRatio {
		return (m.Numerator != nil && m.Numerator.Capping != nil) ||
			(m.Denominator != nil && m.Denominator.Capping != nil)
	}
	return false
}

// DailyColumn is the metric's column name in shared_metrics_daily.
func (m *MetricConfig) DailyColumn() string {
	return m.ID
}
