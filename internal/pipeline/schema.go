// Package pipeline compiles and runs the pre-aggregation pipeline: the
// four shared tables every pre-agg query reads. The pipeline is the single
// writer; it runs to completion before any experiment query and the tables
// are immutable for the rest of the run.
package pipeline

// Shared table names. Every metric referenced by any metric config has a
// column in shared_metrics_daily or rows in shared_sketches_array, never both.
const (
	TableExposures    = "shared_exposures"
	TableMetricsDaily = "shared_metrics_daily"
	TableActivations  = "shared_activations"
	TableSketches     = "shared_sketches_array"
)

// BuildOrder is the dependency order of the shared table builds.
var BuildOrder = []string{
	TableExposures,
	TableMetricsDaily,
	TableActivations,
	TableSketches,
}

// indexStatements maps each shared table to its post-build indexes.
var indexStatements = map[string][]string{
	TableExposures: {
		`CREATE INDEX idx_shared_exposures_user ON shared_exposures (experiment_id, user_id)`,
	},
	TableMetricsDaily: {
		`CREATE INDEX idx_shared_metrics_daily_user ON shared_metrics_daily (user_id, metric_date)`,
	},
	TableActivations: {
		`CREATE INDEX idx_shared_activations_user ON shared_activations (activation_id, user_id)`,
	},
	TableSketches: {
		`CREATE INDEX idx_shared_sketches_user ON shared_sketches_array (metric_id, user_id, metric_date)`,
	},
}
