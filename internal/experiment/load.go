package experiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults is the defaults block of the experiment corpus, merged into
// every experiment that leaves the field unset.
type Defaults struct {
	ExposureTable         string      `yaml:"exposure_table"`
	ExperimentID          string      `yaml:"experiment_id"`
	Attribution           Attribution `yaml:"attribution"`
	ConversionWindowHours int         `yaml:"conversion_window_hours"`
	WindowType            WindowType  `yaml:"window_type"`
	StartDate             string      `yaml:"start_date"`
	EndDate               string      `yaml:"end_date"`
}

type experimentFile struct {
	Defaults    Defaults           `yaml:"defaults"`
	Experiments []ExperimentConfig `yaml:"experiments"`
}

type metricFile struct {
	Metrics []MetricConfig `yaml:"metrics"`
}

// Corpus holds the loaded and validated experiment and metric definitions.
type Corpus struct {
	Experiments []ExperimentConfig
	Metrics     []MetricConfig
}

// LoadExperiments reads the experiment corpus, applies defaults, and
// validates every entry.
func LoadExperiments(path string) ([]ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiments file: %w", err)
	}

	var file experimentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse experiments file: %w", err)
	}

	exps := make([]ExperimentConfig, 0, len(file.Experiments))
	for i := range file.Experiments {
		exp := file.Experiments[i]
		applyDefaults(&exp, file.Defaults)
		if err := ValidateExperiment(&exp); err != nil {
			return nil, fmt.Errorf("experiment %q: %w", exp.ID, err)
		}
		exps = append(exps, exp)
	}
	return exps, nil
}

// LoadMetrics reads and validates the metric corpus.
func LoadMetrics(path string) ([]MetricConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics file: %w", err)
	}

	var file metricFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse metrics file: %w", err)
	}

	mets := make([]MetricConfig, 0, len(file.Metrics))
	for i := range file.Metrics {
		m := file.Metrics[i]
		normalizeMetric(&m)
		if err := ValidateMetric(&m); err != nil {
			return nil, fmt.Errorf("metric %q: %w", m.ID, err)
		}
		mets = append(mets, m)
	}
	return mets, nil
}

// LoadCorpus loads both corpora.
func LoadCorpus(experimentsPath, metricsPath string) (*Corpus, error) {
	exps, err := LoadExperiments(experimentsPath)
	if err != nil {
		return nil, err
	}
	mets, err := LoadMetrics(metricsPath)
	if err != nil {
		return nil, err
	}
	return &Corpus{Experiments: exps, Metrics: mets}, nil
}

// Filter returns a copy of the corpus restricted to the named IDs.
// Empty filters keep everything.
func (c *Corpus) Filter(experimentIDs, metricIDs []string) *Corpus {
	out := &Corpus{}
	out.Experiments = filterExperiments(c.Experiments, experimentIDs)
	out.Metrics = filterMetrics(c.Metrics, metricIDs)
	return out
}

func filterExperiments(exps []ExperimentConfig, ids []string) []ExperimentConfig {
	if len(ids) == 0 {
		return exps
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ExperimentConfig
	for _, e := range exps {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func filterMetrics(mets []MetricConfig, ids []string) []MetricConfig {
	if len(ids) == 0 {
		return mets
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []MetricConfig
	for _, m := range mets {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func applyDefaults(exp *ExperimentConfig, d Defaults) {
	if exp.ExposureTable == "" {
		exp.ExposureTable = d.ExposureTable
	}
	if exp.ExperimentID == "" {
		exp.ExperimentID = d.ExperimentID
	}
	if exp.Attribution == "" {
		if d.Attribution != "" {
			exp.Attribution = d.Attribution
		} else {
			exp.Attribution = AttributionFirstExposure
		}
	}
	if exp.ConversionWindowHours == 0 {
		if d.ConversionWindowHours != 0 {
			exp.ConversionWindowHours = d.ConversionWindowHours
		} else {
			exp.ConversionWindowHours = 72
		}
	}
	if exp.WindowType == "" {
		if d.WindowType != "" {
			exp.WindowType = d.WindowType
		} else {
			exp.WindowType = WindowConversion
		}
	}
	if exp.StartDate == "" {
		exp.StartDate = d.StartDate
	}
	if exp.EndDate == "" {
		exp.EndDate = d.EndDate
	}
	if exp.Activation != nil && exp.Activation.IDType == "" {
		exp.Activation.IDType = IDTypeUser
	}
}

func normalizeMetric(m *MetricConfig) {
	if m.IDType == "" {
		m.IDType = IDTypeUser
	}
	if m.Aggregation == "" {
		m.Aggregation = AggSum
	}
	if m.Shape == ShapeBinomial && m.Value == "" {
		m.Value = "1"
	}
	if m.Shape == ShapeQuantile && m.Level == "" {
		m.Level = LevelEvent
	}
	if m.Numerator != nil {
		normalizeMetric(m.Numerator)
		if m.Numerator.ID == "" {
			m.Numerator.ID = m.ID + "_num"
		}
	}
	if m.Denominator != nil {
		normalizeMetric(m.Denominator)
		if m.Denominator.ID == "" {
			m.Denominator.ID = m.ID + "_den"
		}
	}
}
