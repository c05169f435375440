package experiment

import (
	"testing"

	"github.com/expbench/expbench/internal/errors"
)

func validExperiment() *ExperimentConfig {
	return &ExperimentConfig{
		ID:                    "exp_test",
		ExperimentID:          "checkout-layout",
		ExposureTable:         "viewed_experiment",
		Attribution:           AttributionFirstExposure,
		ConversionWindowHours: 72,
		WindowType:            WindowConversion,
		StartDate:             "2021-10-01T00:00:00",
		EndDate:               "2022-01-28T23:59:59",
	}
}

func TestValidateExperiment(t *testing.T) {
	if err := ValidateExperiment(validExperiment()); err != nil {
		t.Fatalf("valid experiment rejected: %v", err)
	}
}

func TestValidateExperimentErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ExperimentConfig)
		wantCode string
	}{
		{"missing id", func(e *ExperimentConfig) { e.ID = "" }, errors.CodeMissingField},
		{"missing exposure table", func(e *ExperimentConfig) { e.ExposureTable = "" }, errors.CodeMissingField},
		{"bad attribution", func(e *ExperimentConfig) { e.Attribution = "last_exposure" }, errors.CodeUnknownEnum},
		{"bad window type", func(e *ExperimentConfig) { e.WindowType = "rolling" }, errors.CodeUnknownEnum},
		{"delay with lookback", func(e *ExperimentConfig) {
			e.WindowType = WindowLookback
			e.DelayHours = 24
		}, errors.CodeConflictingWindow},
		{"bad date", func(e *ExperimentConfig) { e.StartDate = "October 1st" }, errors.CodeMissingField},
		{"exposure dimension without column", func(e *ExperimentConfig) {
			e.Dimension = &DimensionSpec{Type: DimensionExposureColumn}
		}, errors.CodeMissingField},
		{"attribute dimension without table", func(e *ExperimentConfig) {
			e.Dimension = &DimensionSpec{Type: DimensionAttribute, Column: "country"}
		}, errors.CodeMissingField},
		{"activation dimension without activation", func(e *ExperimentConfig) {
			e.Dimension = &DimensionSpec{Type: DimensionActivation}
		}, errors.CodeMissingField},
		{"activation without condition", func(e *ExperimentConfig) {
			e.Activation = &ActivationSpec{Table: "pages", IDType: IDTypeUser}
		}, errors.CodeMissingField},
		{"segment without condition", func(e *ExperimentConfig) {
			e.Segment = &SegmentSpec{Table: "user_attributes"}
		}, errors.CodeMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := validExperiment()
			tt.mutate(exp)
			err := ValidateExperiment(exp)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.GetCode(err); got != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, got)
			}
			if !errors.IsFatal(err) {
				t.Error("config errors should be fatal")
			}
		})
	}
}

func validMetric() *MetricConfig {
	return &MetricConfig{
		ID:          "revenue",
		Shape:       ShapeCount,
		Table:       "orders",
		Value:       "m.amount",
		Aggregation: AggSum,
		IDType:      IDTypeUser,
	}
}

func TestValidateMetric(t *testing.T) {
	if err := ValidateMetric(validMetric()); err != nil {
		t.Fatalf("valid metric rejected: %v", err)
	}
}

func TestValidateMetricErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*MetricConfig)
		wantCode string
	}{
		{"missing id", func(m *MetricConfig) { m.ID = "" }, errors.CodeMissingField},
		{"missing table", func(m *MetricConfig) { m.Table = "" }, errors.CodeMissingField},
		{"bad shape", func(m *MetricConfig) { m.Shape = "gauge" }, errors.CodeUnknownEnum},
		{"count without value", func(m *MetricConfig) { m.Value = "" }, errors.CodeMissingField},
		{"custom without expression", func(m *MetricConfig) { m.Aggregation = AggCustom }, errors.CodeMissingField},
		{"bad id type", func(m *MetricConfig) { m.IDType = "device_id" }, errors.CodeUnknownEnum},
		{"cap quantile out of range", func(m *MetricConfig) {
			m.Capping = &CappingSpec{Quantile: 1.5}
		}, errors.CodeInvalidQuantile},
		{"capped ratio", func(m *MetricConfig) {
			m.Shape = ShapeRatio
			m.Value = ""
			m.Numerator = &MetricConfig{ID: "aov_num", Shape: ShapeCount, Table: "orders", Value: "m.amount", Aggregation: AggSum, IDType: IDTypeUser}
			m.Denominator = &MetricConfig{ID: "aov_den", Shape: ShapeBinomial, Table: "orders", IDType: IDTypeUser}
			m.Capping = &CappingSpec{Quantile: 0.9}
		}, errors.CodeInvalidQuantile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMetric()
			tt.mutate(m)
			err := ValidateMetric(m)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.GetCode(err); got != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, got)
			}
		})
	}
}

func TestValidateRatio(t *testing.T) {
	ratio := &MetricConfig{
		ID:    "aov",
		Shape: ShapeRatio,
		Numerator: &MetricConfig{
			ID: "aov_num", Shape: ShapeCount, Table: "orders",
			Value: "m.amount", Aggregation: AggSum, IDType: IDTypeUser,
		},
		Denominator: &MetricConfig{
			ID: "aov_den", Shape: ShapeCount, Table: "orders",
			Value: "m.session_id", Aggregation: AggCount, IDType: IDTypeUser,
		},
		Aggregation: AggSum,
		IDType:      IDTypeUser,
	}
	if err := ValidateMetric(ratio); err != nil {
		t.Fatalf("valid ratio rejected: %v", err)
	}

	ratio.Denominator = nil
	if errors.GetCode(ValidateMetric(ratio)) != errors.CodeMissingSubMetric {
		t.Error("ratio without denominator should be rejected")
	}

	ratio.Denominator = &MetricConfig{
		ID: "aov_den", Shape: ShapeQuantile, Table: "orders",
		Value: "m.amount", Quantile: 0.5, Level: LevelUnit,
		Aggregation: AggSum, IDType: IDTypeUser,
	}
	if errors.GetCode(ValidateMetric(ratio)) != errors.CodeMissingSubMetric {
		t.Error("quantile sub-metric should be rejected")
	}
}

func TestValidateQuantile(t *testing.T) {
	q := &MetricConfig{
		ID: "p90", Shape: ShapeQuantile, Table: "sessions",
		Value: "m.duration_seconds", Quantile: 0.9, Level: LevelEvent,
		Aggregation: AggSum, IDType: IDTypeUser,
	}
	if err := ValidateMetric(q); err != nil {
		t.Fatalf("valid quantile rejected: %v", err)
	}

	q.Quantile = 1.0
	if errors.GetCode(ValidateMetric(q)) != errors.CodeInvalidQuantile {
		t.Error("quantile of 1.0 should be rejected")
	}

	q.Quantile = 0.9
	q.Capping = &CappingSpec{Quantile: 0.9}
	if errors.GetCode(ValidateMetric(q)) != errors.CodeInvalidQuantile {
		t.Error("capped quantile metric should be rejected")
	}
}

func TestActivationKeyStable(t *testing.T) {
	a := &ActivationSpec{Table: "pages", Condition: "act.path = '/cart'", IDType: IDTypeUser}
	b := &ActivationSpec{Table: "pages", Condition: "act.path = '/cart'", IDType: IDTypeUser}
	c := &ActivationSpec{Table: "pages", Condition: "act.path = '/checkout'", IDType: IDTypeUser}

	if a.Key() != b.Key() {
		t.Error("identical specs must share a key")
	}
	if a.Key() == c.Key() {
		t.Error("different conditions must not collide")
	}
	if len(a.Key()) != len("act_")+8 {
		t.Errorf("unexpected key format: %s", a.Key())
	}
}
