package experiment

import (
	"fmt"

	"github.com/expbench/expbench/internal/errors"
)

// ValidateExperiment rejects invalid experiment configurations before any
// rendering happens.
func ValidateExperiment(exp *ExperimentConfig) error {
	if exp.ID == "" {
		return errors.NewConfigError(errors.CodeMissingField, "experiment id is required")
	}
	if exp.ExposureTable == "" {
		return errors.NewConfigError(errors.CodeMissingField, "exposure_table is required")
	}
	if exp.ExperimentID == "" {
		return errors.NewConfigError(errors.CodeMissingField, "experiment_id is required")
	}

	switch exp.Attribution {
	case AttributionFirstExposure, AttributionExperimentDuration:
	default:
		return errors.NewConfigError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown attribution %q", exp.Attribution))
	}

	switch exp.WindowType {
	case WindowConversion, WindowLookback:
	default:
		return errors.NewConfigError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown window_type %q", exp.WindowType))
	}

	// A delay shifts the window relative to exposure while a lookback
	// anchors it to the experiment end; both at once is contradictory.
	if exp.WindowType == WindowLookback && exp.DelayHours != 0 {
		return errors.NewConfigError(errors.CodeConflictingWindow,
			"delay_hours and a lookback window cannot be combined")
	}

	if _, err := exp.StartTime(); err != nil {
		return errors.NewConfigError(errors.CodeMissingField,
			fmt.Sprintf("invalid start_date: %v", err))
	}
	if _, err := exp.EndTime(); err != nil {
		return errors.NewConfigError(errors.CodeMissingField,
			fmt.Sprintf("invalid end_date: %v", err))
	}

	if exp.Dimension != nil {
		switch exp.Dimension.Type {
		case DimensionDate, DimensionActivation:
		case DimensionExposureColumn:
			if exp.Dimension.Column == "" {
				return errors.NewConfigError(errors.CodeMissingField,
					"exposure_column dimension requires a column")
			}
		case DimensionAttribute:
			if exp.Dimension.Column == "" || exp.Dimension.Table == "" {
				return errors.NewConfigError(errors.CodeMissingField,
					"attribute dimension requires a table and column")
			}
		default:
			return errors.NewConfigError(errors.CodeUnknownEnum,
				fmt.Sprintf("unknown dimension type %q", exp.Dimension.Type))
		}
	}

	if exp.Dimension != nil && exp.Dimension.Type == DimensionActivation && exp.Activation == nil {
		return errors.NewConfigError(errors.CodeMissingField,
			"activation dimension requires an activation spec")
	}

	if exp.Activation != nil {
		if exp.Activation.Table == "" || exp.Activation.Condition == "" {
			return errors.NewConfigError(errors.CodeMissingField,
				"activation requires a table and condition")
		}
		switch exp.Activation.IDType {
		case IDTypeUser, IDTypeAnonymous:
		default:
			return errors.NewConfigError(errors.CodeUnknownEnum,
				fmt.Sprintf("unknown activation id_type %q", exp.Activation.IDType))
		}
	}

	if exp.Segment != nil && (exp.Segment.Table == "" || exp.Segment.Condition == "") {
		return errors.NewConfigError(errors.CodeMissingField,
			"segment requires a table and condition")
	}

	return nil
}

// ValidateMetric rejects invalid metric configurations.
func ValidateMetric(m *MetricConfig) error {
	if m.ID == "" {
		return errors.NewConfigError(errors.CodeMissingField, "metric id is required")
	}

	switch m.Shape {
	case ShapeBinomial, ShapeCount, ShapeQuantile:
		if m.Table == "" {
			return errors.NewConfigError(errors.CodeMissingField,
				fmt.Sprintf("metric %q requires a source table", m.ID))
		}
	case ShapeRatio:
		if m.Numerator == nil || m.Denominator == nil {
			return errors.NewConfigError(errors.CodeMissingSubMetric,
				fmt.Sprintf("ratio metric %q requires numerator and denominator", m.ID))
		}
		for _, sub := range []*MetricConfig{m.Numerator, m.Denominator} {
			if sub.Shape != ShapeBinomial && sub.Shape != ShapeCount {
				return errors.NewConfigError(errors.CodeMissingSubMetric,
					fmt.Sprintf("ratio sub-metric %q must be binomial or count", sub.ID))
			}
			if err := ValidateMetric(sub); err != nil {
				return err
			}
		}
	default:
		return errors.NewConfigError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown metric type %q", m.Shape))
	}

	switch m.Aggregation {
	case AggSum, AggCount, AggCountDistinct:
	case AggCustom:
		if m.CustomAggregation == "" {
			return errors.NewConfigError(errors.CodeMissingField,
				fmt.Sprintf("metric %q uses custom aggregation without an expression", m.ID))
		}
	default:
		return errors.NewConfigError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown aggregation %q", m.Aggregation))
	}

	switch m.IDType {
	case IDTypeUser, IDTypeAnonymous:
	default:
		return errors.NewConfigError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown id_type %q", m.IDType))
	}

	if m.Shape == ShapeQuantile {
		if m.Quantile <= 0 || m.Quantile >= 1 {
			return errors.NewConfigError(errors.CodeInvalidQuantile,
				fmt.Sprintf("metric %q quantile must be in (0, 1), got %g", m.ID, m.Quantile))
		}
		switch m.Level {
		case LevelEvent, LevelUnit:
		default:
			return errors.NewConfigError(errors.CodeUnknownEnum,
				fmt.Sprintf("unknown quantile level %q", m.Level))
		}
		if m.Value == "" {
			return errors.NewConfigError(errors.CodeMissingField,
				fmt.Sprintf("quantile metric %q requires a value expression", m.ID))
		}
	}

	if m.Shape == ShapeCount && m.Value == "" {
		return errors.NewConfigError(errors.CodeMissingField,
			fmt.Sprintf("count metric %q requires a value expression", m.ID))
	}

	if m.Capping != nil {
		if m.Capping.Quantile <= 0 || m.Capping.Quantile >= 1 {
			return errors.NewConfigError(errors.CodeInvalidQuantile,
				fmt.Sprintf("metric %q cap quantile must be in (0, 1), got %g", m.ID, m.Capping.Quantile))
		}
		if m.Shape == ShapeQuantile {
			return errors.NewConfigError(errors.CodeInvalidQuantile,
				fmt.Sprintf("quantile metric %q cannot be percentile-capped", m.ID))
		}
		// A ratio has no per-user total of its own to cap; each side
		// declares its own cap.
		if m.Shape == ShapeRatio {
			return errors.NewConfigError(errors.CodeInvalidQuantile,
				fmt.Sprintf("ratio metric %q caps its numerator or denominator, not itself", m.ID))
		}
	}

	return nil
}
