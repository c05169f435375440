package pipeline

import (
	"strings"
	"testing"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/experiment"
)

func testCorpus() *experiment.Corpus {
	return &experiment.Corpus{
		Experiments: []experiment.ExperimentConfig{
			{
				ID:            "exp_basic",
				ExperimentID:  "checkout-layout",
				ExposureTable: "viewed_experiment",
			},
			{
				ID:            "exp_activated",
				ExperimentID:  "checkout-layout",
				ExposureTable: "viewed_experiment",
				Activation: &experiment.ActivationSpec{
					Table:     "pages",
					Condition: "act.path = '/cart'",
					IDType:    experiment.IDTypeUser,
				},
			},
		},
		Metrics: []experiment.MetricConfig{
			{
				ID: "purchase", Shape: experiment.ShapeBinomial, Table: "orders",
				Value: "1", Aggregation: experiment.AggSum, IDType: experiment.IDTypeUser,
			},
			{
				ID: "revenue", Shape: experiment.ShapeCount, Table: "orders",
				Value: "m.amount", Aggregation: experiment.AggSum, IDType: experiment.IDTypeUser,
			},
			{
				ID: "cart_adds", Shape: experiment.ShapeCount, Table: "events",
				Value: "m.value", Aggregation: experiment.AggSum, IDType: experiment.IDTypeAnonymous,
			},
			{
				ID: "session_p90", Shape: experiment.ShapeQuantile, Table: "sessions",
				Value: "m.duration_seconds", Quantile: 0.9, Level: experiment.LevelEvent,
				IDType: experiment.IDTypeUser,
			},
		},
	}
}

func compile(t *testing.T) map[string]TableBuild {
	t.Helper()
	d, _ := dialect.ForEngine("duckdb")
	builds, err := NewCompiler(d).Compile(testCorpus())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	out := make(map[string]TableBuild, len(builds))
	for _, b := range builds {
		out[b.Name] = b
	}
	return out
}

func TestCompileProducesAllTables(t *testing.T) {
	builds := compile(t)
	for _, name := range BuildOrder {
		if _, ok := builds[name]; !ok {
			t.Errorf("missing build for %s", name)
		}
	}
}

func TestCompileExposures(t *testing.T) {
	b := compile(t)[TableExposures]
	sql := strings.Join(b.Statements, ";\n")

	for _, want := range []string{
		"DROP TABLE IF EXISTS shared_exposures",
		"CREATE TABLE shared_exposures AS",
		"CAST(e.timestamp AS DATE) AS exposure_date",
		"MIN(e.timestamp) AS first_exposure_timestamp",
		"GROUP BY e.user_id, e.experiment_id, e.variation",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}
}

func TestCompileMetricsDaily(t *testing.T) {
	b := compile(t)[TableMetricsDaily]
	sql := strings.Join(b.Statements, ";\n")

	for _, want := range []string{
		"CREATE TABLE shared_metrics_daily AS",
		"GROUP BY user_id, metric_date",
		"UNION ALL",
		// Binomial days collapse to an indicator; sums stay sums.
		"MAX(purchase) AS purchase",
		"SUM(revenue) AS revenue",
		"SUM(cart_adds) AS cart_adds",
		// Each source branch pads the other metrics with NULL.
		"NULL AS purchase",
		"NULL AS cart_adds",
		// The anonymous-id metric resolves identity at build time.
		"JOIN identity_map idm ON idm.anonymous_id = m.anonymous_id",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}

	// The quantile metric belongs to the sketch table, not the daily one.
	if strings.Contains(sql, "session_p90") {
		t.Errorf("quantile metric leaked into the daily table:\n%s", sql)
	}
}

func TestCompileActivations(t *testing.T) {
	b := compile(t)[TableActivations]
	sql := strings.Join(b.Statements, ";\n")

	corpus := testCorpus()
	key := corpus.Experiments[1].Activation.Key()
	for _, want := range []string{
		"CREATE TABLE shared_activations AS",
		"'" + key + "' AS activation_id",
		"WHERE (act.path = '/cart')",
		"MIN(act.timestamp) AS first_activation_timestamp",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}
}

func TestCompileSketches(t *testing.T) {
	b := compile(t)[TableSketches]
	sql := strings.Join(b.Statements, ";\n")

	for _, want := range []string{
		"CREATE TABLE shared_sketches_array AS",
		"'session_p90' AS metric_id",
		"list((m.duration_seconds)) AS value_list",
		"GROUP BY m.user_id, CAST(m.timestamp AS DATE)",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}
}

func TestCompileSkipsEmptyTables(t *testing.T) {
	corpus := testCorpus()
	corpus.Experiments = corpus.Experiments[:1] // no activation specs
	corpus.Metrics = corpus.Metrics[:2]         // no quantile metrics

	d, _ := dialect.ForEngine("duckdb")
	builds, err := NewCompiler(d).Compile(corpus)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, b := range builds {
		if b.Name == TableActivations || b.Name == TableSketches {
			t.Errorf("unused shared table %s should not be built", b.Name)
		}
	}
}

func TestCompileRatioSubMetrics(t *testing.T) {
	corpus := &experiment.Corpus{
		Experiments: testCorpus().Experiments[:1],
		Metrics: []experiment.MetricConfig{
			{
				ID:    "aov",
				Shape: experiment.ShapeRatio,
				Numerator: &experiment.MetricConfig{
					ID: "aov_num", Shape: experiment.ShapeCount, Table: "orders",
					Value: "m.amount", Aggregation: experiment.AggSum, IDType: experiment.IDTypeUser,
				},
				Denominator: &experiment.MetricConfig{
					ID: "aov_den", Shape: experiment.ShapeCount, Table: "orders",
					Value: "m.session_id", Aggregation: experiment.AggCount, IDType: experiment.IDTypeUser,
				},
			},
		},
	}

	d, _ := dialect.ForEngine("duckdb")
	builds, err := NewCompiler(d).Compile(corpus)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var daily string
	for _, b := range builds {
		if b.Name == TableMetricsDaily {
			daily = strings.Join(b.Statements, ";\n")
		}
	}
	if !strings.Contains(daily, "SUM(aov_num) AS aov_num") {
		t.Errorf("ratio numerator missing from the daily table:\n%s", daily)
	}
	if !strings.Contains(daily, "COUNT(aov_den) AS aov_den") {
		t.Errorf("ratio denominator missing from the daily table:\n%s", daily)
	}
}
