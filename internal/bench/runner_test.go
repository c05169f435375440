package bench

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/expbench/expbench/internal/config"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
	"github.com/expbench/expbench/internal/render"
	"github.com/expbench/expbench/pkg/types"
)

// fakeEngine replays canned result sets keyed by a marker substring of
// the query text.
type fakeEngine struct {
	results map[string]*types.ResultSet
	queries int
}

func (f *fakeEngine) Name() string                      { return "fake" }
func (f *fakeEngine) Connect(context.Context) error     { return nil }
func (f *fakeEngine) Close() error                      { return nil }
func (f *fakeEngine) Exec(_ context.Context, _ string) (float64, error) {
	return 0, nil
}

func (f *fakeEngine) Query(_ context.Context, sqlText string) (*types.ResultSet, error) {
	f.queries++
	for marker, rs := range f.results {
		if strings.Contains(sqlText, marker) {
			return rs, nil
		}
	}
	return nil, stderrors.New("no canned result")
}

func runnerCorpus() *experiment.Corpus {
	return &experiment.Corpus{
		Experiments: []experiment.ExperimentConfig{{ID: "exp_basic"}},
		Metrics: []experiment.MetricConfig{
			{ID: "purchase", Shape: experiment.ShapeBinomial},
		},
	}
}

func runnerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Run.WarmupRuns = 1
	cfg.Run.TimedRuns = 3
	return cfg
}

func rs(seconds float64, rows ...types.ResultRow) *types.ResultSet {
	return &types.ResultSet{Rows: rows, WalltimeSeconds: seconds}
}

func TestRunTimesAndValidates(t *testing.T) {
	sharedRow := types.ResultRow{"variation": "0", "users": float64(100), "main_sum": float64(42)}
	eng := &fakeEngine{results: map[string]*types.ResultSet{
		"q_ondemand":   rs(2.0, sharedRow),
		"q_unweighted": rs(0.25, sharedRow),
		"q_weighted":   rs(0.30, sharedRow),
	}}

	queries := []types.RenderedQuery{
		{ExperimentID: "exp_basic", MetricID: "purchase", Approach: types.ApproachOnDemand, Variant: types.VariantStandard, SQL: "-- q_ondemand\nSELECT 1"},
		{ExperimentID: "exp_basic", MetricID: "purchase", Approach: types.ApproachPreAgg, Variant: types.VariantUnweighted, SQL: "-- q_unweighted\nSELECT 1"},
		{ExperimentID: "exp_basic", MetricID: "purchase", Approach: types.ApproachPreAgg, Variant: types.VariantWeighted, SQL: "-- q_weighted\nSELECT 1"},
	}

	r := NewRunner(runnerConfig(), eng)
	report, err := r.Run(context.Background(), runnerCorpus(), queries, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.RunID == "" || report.Engine != "fake" {
		t.Errorf("report identity: %+v", report)
	}
	// 3 queries, 1 warmup + 3 timed runs each.
	if eng.queries != 12 {
		t.Errorf("engine saw %d queries, want 12", eng.queries)
	}
	if len(report.Queries) != 3 {
		t.Fatalf("report has %d queries", len(report.Queries))
	}
	for _, q := range report.Queries {
		if q.WalltimeSeconds < 0 || len(q.AllTimings) != 3 {
			t.Errorf("query %s/%s timings wrong: %+v", q.Approach, q.Variant, q)
		}
	}

	// The summary counts one pre-agg query per pair, the weighted one.
	if report.Summary.OnDemandQueryCount != 1 || report.Summary.PreAggQueryCount != 1 {
		t.Errorf("summary counts: %+v", report.Summary)
	}
	if report.Summary.PreAggTotalSeconds != 0.30 {
		t.Errorf("preagg total should use the weighted variant, got %g", report.Summary.PreAggTotalSeconds)
	}
	want := 2.0 / 0.30
	if diff := report.Summary.SpeedupAnalysisOnly - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("SpeedupAnalysisOnly = %g, want %g", report.Summary.SpeedupAnalysisOnly, want)
	}

	// Both pre-agg variants validate against the on-demand result.
	if report.Validation == nil {
		t.Fatal("validation missing")
	}
	if report.Validation.TotalComparisons != 2 || report.Validation.Passed != 2 {
		t.Errorf("validation: %+v", report.Validation)
	}
}

func TestRunRecordsRenderFailures(t *testing.T) {
	eng := &fakeEngine{results: map[string]*types.ResultSet{}}
	failures := []render.RenderFailure{
		{
			ExperimentID: "exp_basic", MetricID: "purchase",
			Approach: types.ApproachPreAgg, Variant: types.VariantWeighted,
			Err: errors.NewRenderError(errors.CodeUnsupportedCombination, "weighted quantile"),
		},
	}

	r := NewRunner(runnerConfig(), eng)
	report, err := r.Run(context.Background(), runnerCorpus(), nil, failures, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Queries) != 1 {
		t.Fatalf("report has %d queries", len(report.Queries))
	}
	q := report.Queries[0]
	if !q.Skipped || q.WalltimeSeconds != -1 {
		t.Errorf("unsupported combination should be a skipped entry: %+v", q)
	}
	if report.Validation.TotalComparisons != 0 {
		t.Errorf("skipped entries must not be compared: %+v", report.Validation)
	}
}

func TestRunQueryFailure(t *testing.T) {
	eng := &fakeEngine{results: map[string]*types.ResultSet{}} // every query fails
	queries := []types.RenderedQuery{
		{ExperimentID: "exp_basic", MetricID: "purchase", Approach: types.ApproachOnDemand, Variant: types.VariantStandard, SQL: "SELECT 1"},
	}

	r := NewRunner(runnerConfig(), eng)
	report, err := r.Run(context.Background(), runnerCorpus(), queries, nil, nil)
	if err != nil {
		t.Fatalf("Run must not abort on query failure: %v", err)
	}
	q := report.Queries[0]
	if q.WalltimeSeconds != -1 || q.Error == "" {
		t.Errorf("failed query not recorded: %+v", q)
	}
	for _, tm := range q.AllTimings {
		if tm != -1 {
			t.Errorf("failed run timing = %g, want -1 sentinel", tm)
		}
	}
}

func TestRunPipelineTimings(t *testing.T) {
	sharedRow := types.ResultRow{"variation": "0", "users": float64(10), "main_sum": float64(1)}
	eng := &fakeEngine{results: map[string]*types.ResultSet{"SELECT": rs(1.0, sharedRow)}}

	r := NewRunner(runnerConfig(), eng)
	report, err := r.Run(context.Background(), runnerCorpus(), nil, nil,
		[]pipeline.BuildResult{{Table: "shared_exposures", Seconds: 2.5}, {Table: "shared_metrics_daily", Seconds: 1.5}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.PipelineTimings["shared_exposures"] != 2.5 {
		t.Errorf("timings lost: %+v", report.PipelineTimings)
	}
	if report.Summary.PipelineTotalSeconds != 4.0 {
		t.Errorf("PipelineTotalSeconds = %g", report.Summary.PipelineTotalSeconds)
	}
	if report.Summary.PipelineAmortizedPerExp != 4.0 {
		t.Errorf("PipelineAmortizedPerExp = %g with one experiment", report.Summary.PipelineAmortizedPerExp)
	}
}
