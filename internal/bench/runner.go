package bench

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/expbench/expbench/internal/config"
	"github.com/expbench/expbench/internal/engine"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
	"github.com/expbench/expbench/internal/render"
	"github.com/expbench/expbench/pkg/types"
)

// Runner executes a rendered query corpus against one engine with warmup
// and timed repetitions, then validates and summarizes the run.
type Runner struct {
	cfg       *config.Config
	eng       engine.Engine
	validator *Validator
}

// NewRunner creates a benchmark runner.
func NewRunner(cfg *config.Config, eng engine.Engine) *Runner {
	return &Runner{cfg: cfg, eng: eng, validator: NewValidator(cfg)}
}

// Run times every query, compares the renderings when validation is on,
// and assembles the report. Render failures become skipped or failed
// entries; they never abort the rest of the run.
func (r *Runner) Run(ctx context.Context, corpus *experiment.Corpus, queries []types.RenderedQuery, failures []render.RenderFailure, pipelineTimings []pipeline.BuildResult) (*types.Report, error) {
	report := &types.Report{
		RunID:           uuid.NewString(),
		Engine:          r.eng.Name(),
		StartedAt:       time.Now().UTC(),
		WarmupRuns:      r.cfg.Run.WarmupRuns,
		TimedRuns:       r.cfg.Run.TimedRuns,
		PipelineTimings: make(map[string]float64, len(pipelineTimings)),
	}

	var pipelineTotal float64
	for _, t := range pipelineTimings {
		report.PipelineTimings[t.Table] = t.Seconds
		pipelineTotal += t.Seconds
	}

	for _, f := range failures {
		report.Queries = append(report.Queries, types.QueryResult{
			ExperimentID:    f.ExperimentID,
			MetricID:        f.MetricID,
			Approach:        f.Approach,
			Variant:         f.Variant,
			WalltimeSeconds: -1,
			Skipped:         errors.GetCode(f.Err) == errors.CodeUnsupportedCombination,
			Error:           f.Err.Error(),
		})
	}

	for _, q := range queries {
		report.Queries = append(report.Queries, r.runQuery(ctx, q))
	}

	report.Summary = r.summarize(corpus, report.Queries, pipelineTotal)

	if r.cfg.Run.Validate {
		report.Validation = r.validate(corpus, report.Queries)
	}
	return report, nil
}

// runQuery times one query: warmup runs are discarded, timed runs are
// recorded individually and summarized by their median.
func (r *Runner) runQuery(ctx context.Context, q types.RenderedQuery) types.QueryResult {
	res := types.QueryResult{
		ExperimentID: q.ExperimentID,
		MetricID:     q.MetricID,
		Approach:     q.Approach,
		Variant:      q.Variant,
	}

	for i := 0; i < r.cfg.Run.WarmupRuns; i++ {
		if _, err := r.query(ctx, q.SQL); err != nil {
			log.Printf("bench: warmup failed for %s: %v", q.Key(), err)
		}
	}

	var timings []float64
	for i := 0; i < r.cfg.Run.TimedRuns; i++ {
		rs, err := r.query(ctx, q.SQL)
		if err != nil {
			res.AllTimings = append(res.AllTimings, -1)
			res.Error = err.Error()
			continue
		}
		res.AllTimings = append(res.AllTimings, rs.WalltimeSeconds)
		timings = append(timings, rs.WalltimeSeconds)
		res.RowCount = len(rs.Rows)
		res.Rows = rs.Rows
	}

	if len(timings) == 0 {
		res.WalltimeSeconds = -1
		return res
	}
	sort.Float64s(timings)
	res.WalltimeSeconds = percentile(timings, 0.5)
	if res.Error != "" && len(timings) > 0 {
		// Some runs succeeded; keep the timings but surface the error.
		log.Printf("bench: %s/%s %s %s had failing runs", q.Approach, q.Variant, q.ExperimentID, q.MetricID)
	}
	return res
}

func (r *Runner) query(ctx context.Context, sqlText string) (*types.ResultSet, error) {
	qctx := ctx
	if r.cfg.Run.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.cfg.Run.QueryTimeout)
		defer cancel()
	}
	return r.eng.Query(qctx, sqlText)
}

// summarize derives the speedup statistics. The pre-agg side counts one
// query per (experiment, metric) pair, preferring the weighted variant,
// so the two totals cover the same work.
func (r *Runner) summarize(corpus *experiment.Corpus, results []types.QueryResult, pipelineTotal float64) types.Summary {
	type pair struct{ exp, metric string }

	var s types.Summary
	s.PipelineTotalSeconds = pipelineTotal
	if n := len(corpus.Experiments); n > 0 {
		s.PipelineAmortizedPerExp = pipelineTotal / float64(n)
	}

	var odTimings, paTimings []float64
	paBest := make(map[pair]float64)
	paVariant := make(map[pair]types.Variant)

	for _, q := range results {
		if q.WalltimeSeconds < 0 {
			continue
		}
		switch q.Approach {
		case types.ApproachOnDemand:
			odTimings = append(odTimings, q.WalltimeSeconds)
		case types.ApproachPreAgg:
			p := pair{q.ExperimentID, q.MetricID}
			if q.Variant == types.VariantWeighted || paVariant[p] != types.VariantWeighted {
				if _, seen := paBest[p]; !seen || q.Variant == types.VariantWeighted {
					paBest[p] = q.WalltimeSeconds
					paVariant[p] = q.Variant
				}
			}
		}
	}
	for _, t := range paBest {
		paTimings = append(paTimings, t)
	}

	s.OnDemandQueryCount = len(odTimings)
	s.PreAggQueryCount = len(paTimings)
	for _, t := range odTimings {
		s.OnDemandTotalSeconds += t
	}
	for _, t := range paTimings {
		s.PreAggTotalSeconds += t
	}
	sort.Float64s(odTimings)
	sort.Float64s(paTimings)
	s.OnDemandMedianPerQuery = percentile(odTimings, 0.5)
	s.PreAggMedianPerQuery = percentile(paTimings, 0.5)
	s.PreAggTotalWithPipeline = s.PreAggTotalSeconds + pipelineTotal

	if s.PreAggTotalSeconds > 0 {
		s.SpeedupAnalysisOnly = s.OnDemandTotalSeconds / s.PreAggTotalSeconds
	}
	if s.PreAggTotalWithPipeline > 0 {
		s.SpeedupIncludingPipeline = s.OnDemandTotalSeconds / s.PreAggTotalWithPipeline
	}
	return s
}

// validate pairs every pre-agg result against its on-demand counterpart.
// Pairs with a failed or skipped side are counted as skipped comparisons.
func (r *Runner) validate(corpus *experiment.Corpus, results []types.QueryResult) *types.ValidationSummary {
	metricByID := make(map[string]*experiment.MetricConfig, len(corpus.Metrics))
	for i := range corpus.Metrics {
		metricByID[corpus.Metrics[i].ID] = &corpus.Metrics[i]
	}

	type pair struct{ exp, metric string }
	ondemand := make(map[pair]*types.QueryResult)
	for i := range results {
		q := &results[i]
		if q.Approach == types.ApproachOnDemand {
			ondemand[pair{q.ExperimentID, q.MetricID}] = q
		}
	}

	var compared []*types.ValidationResult
	skipped := 0
	for i := range results {
		q := &results[i]
		if q.Approach != types.ApproachPreAgg {
			continue
		}
		od := ondemand[pair{q.ExperimentID, q.MetricID}]
		if q.Skipped || (od != nil && od.Skipped) {
			continue
		}
		m := metricByID[q.MetricID]
		if od == nil || m == nil || od.Error != "" || q.Error != "" {
			skipped++
			continue
		}
		compared = append(compared, r.validator.Compare(m, q.Variant, q.ExperimentID, od.Rows, q.Rows))
	}
	return r.validator.Summarize(compared, skipped)
}
