package types

import "time"

// QueryResult holds the timed outcome of one benchmark query.
type QueryResult struct {
	// ExperimentID identifies the experiment
	ExperimentID string `json:"experiment"`

	// MetricID identifies the metric
	MetricID string `json:"metric"`

	// Approach is ondemand or preagg
	Approach Approach `json:"approach"`

	// Variant is standard, unweighted, or weighted
	Variant Variant `json:"variant"`

	// WalltimeSeconds is the median of the timed runs (-1 if all runs failed)
	WalltimeSeconds float64 `json:"walltime_seconds"`

	// AllTimings holds every timed run, failed runs recorded as -1
	AllTimings []float64 `json:"all_timings"`

	// RowCount is the number of rows in the last successful run
	RowCount int `json:"row_count"`

	// Rows holds the per-variation aggregate rows of the last successful run
	Rows []ResultRow `json:"rows"`

	// Skipped is set when the combination had no defined rendering
	Skipped bool `json:"skipped,omitempty"`

	// Error records a render or execution failure for this combination
	Error string `json:"error,omitempty"`
}

// FieldDelta is the per-field comparison between the two approaches.
type FieldDelta struct {
	OnDemand float64 `json:"ondemand"`
	PreAgg   float64 `json:"preagg"`
	DiffPct  float64 `json:"diff_pct"`
}

// ValidationResult compares one on-demand rendering against one pre-agg
// variant of the same (experiment, metric) pair.
type ValidationResult struct {
	// ExperimentID identifies the experiment
	ExperimentID string `json:"experiment"`

	// MetricID identifies the metric
	MetricID string `json:"metric"`

	// Variant is the pre-agg weighting mode compared against
	Variant Variant `json:"variant"`

	// Deltas holds per-field comparisons, keyed by column name
	Deltas map[string]FieldDelta `json:"diffs"`

	// MaxDiffPct is the worst relative difference across compared fields
	MaxDiffPct float64 `json:"max_diff_pct"`

	// UserCountMatch reports whether user counts matched exactly
	UserCountMatch bool `json:"user_count_match"`

	// Pass is the verdict under the configured tolerance band
	Pass bool `json:"pass"`

	// Tolerance is the relative tolerance the pair was judged against
	Tolerance float64 `json:"tolerance"`
}

// ValidationSummary aggregates all pairwise comparisons of a run.
type ValidationSummary struct {
	TotalComparisons int                `json:"total_comparisons"`
	Passed           int                `json:"passed"`
	Failed           int                `json:"failed"`
	Skipped          int                `json:"skipped"`
	ExactLt1Pct      int                `json:"exact_lt_1pct"`
	Close1To10Pct    int                `json:"close_1_to_10pct"`
	FarGt10Pct       int                `json:"far_gt_10pct"`
	MedianDiffPct    float64            `json:"median_diff_pct"`
	P95DiffPct       float64            `json:"p95_diff_pct"`
	MaxDiffPct       float64            `json:"max_diff_pct"`
	TopOutliers      []ValidationResult `json:"top_outliers,omitempty"`
}

// Summary holds the derived timing statistics of a run.
type Summary struct {
	OnDemandQueryCount       int     `json:"ondemand_query_count"`
	OnDemandTotalSeconds     float64 `json:"ondemand_total_seconds"`
	OnDemandMedianPerQuery   float64 `json:"ondemand_median_per_query"`
	PreAggQueryCount         int     `json:"preagg_query_count"`
	PreAggTotalSeconds       float64 `json:"preagg_total_seconds"`
	PreAggMedianPerQuery     float64 `json:"preagg_median_per_query"`
	PipelineTotalSeconds     float64 `json:"pipeline_total_seconds"`
	PipelineAmortizedPerExp  float64 `json:"pipeline_amortized_per_experiment"`
	PreAggTotalWithPipeline  float64 `json:"preagg_total_with_pipeline"`
	SpeedupAnalysisOnly      float64 `json:"speedup_analysis_only"`
	SpeedupIncludingPipeline float64 `json:"speedup_including_pipeline"`
}

// Report is the full structured record of one benchmark run.
type Report struct {
	// RunID is a unique identifier for this run
	RunID string `json:"run_id"`

	// Engine names the database engine the run executed against
	Engine string `json:"engine"`

	// StartedAt is the wall-clock start of the run
	StartedAt time.Time `json:"started_at"`

	// WarmupRuns and TimedRuns echo the run configuration
	WarmupRuns int `json:"warmup_runs"`
	TimedRuns  int `json:"timed_runs"`

	// PipelineTimings maps shared table name to build seconds
	PipelineTimings map[string]float64 `json:"pipeline_timings"`

	// Summary holds derived timing statistics
	Summary Summary `json:"summary"`

	// Validation holds the equivalence comparison outcome, if requested
	Validation *ValidationSummary `json:"validation,omitempty"`

	// Queries holds every per-combination result
	Queries []QueryResult `json:"queries"`
}

// Failed reports whether the run should exit non-zero: any execution error
// or any validation comparison beyond tolerance.
func (r *Report) Failed() bool {
	for _, q := range r.Queries {
		if q.Error != "" && !q.Skipped {
			return true
		}
	}
	if r.Validation != nil && r.Validation.Failed > 0 {
		return true
	}
	return false
}
