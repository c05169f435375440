// Package config provides unified configuration for the benchmark tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the operation to run.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeGenerate Mode = "generate"
	ModePipeline Mode = "pipeline"
	ModeRun      Mode = "run"
	ModeHistory  Mode = "history"
)

// Config holds the unified configuration for the benchmark tool.
type Config struct {
	// Mode specifies which phase to run: all, generate, pipeline, run, history
	Mode Mode `json:"mode" yaml:"mode"`

	// Engine selects the database engine: duckdb, postgres
	Engine string `json:"engine" yaml:"engine"`

	// DataDir is the base directory for all generated files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// ExperimentsFile is the experiment corpus YAML path
	ExperimentsFile string `json:"experiments_file" yaml:"experiments_file"`

	// MetricsFile is the metric corpus YAML path
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`

	// QueriesDir is the output directory for rendered SQL
	QueriesDir string `json:"queries_dir" yaml:"queries_dir"`

	// ResultsDir is the output directory for benchmark reports
	ResultsDir string `json:"results_dir" yaml:"results_dir"`

	// DuckDB configuration
	DuckDB DuckDBConfig `json:"duckdb" yaml:"duckdb"`

	// Postgres configuration
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`

	// Run configuration
	Run RunConfig `json:"run" yaml:"run"`

	// Tolerances holds the validator's relative tolerance bands
	Tolerances ToleranceConfig `json:"tolerances" yaml:"tolerances"`

	// Artifacts configures where rendered SQL and reports are stored
	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts"`
}

// DuckDBConfig holds DuckDB connection settings.
type DuckDBConfig struct {
	// Database is the database file path, empty for in-memory
	Database string `json:"database" yaml:"database"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// RunConfig holds execution settings for the benchmark run.
type RunConfig struct {
	// WarmupRuns is the number of untimed runs per query
	WarmupRuns int `json:"warmup_runs" yaml:"warmup_runs"`

	// TimedRuns is the number of timed runs per query (median reported)
	TimedRuns int `json:"timed_runs" yaml:"timed_runs"`

	// QueryTimeout bounds a single query execution
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// Validate enables the equivalence comparison
	Validate bool `json:"validate" yaml:"validate"`

	// UseApproxQuantile selects the engine's approximate quantile function
	// for quantile metrics when the engine has one
	UseApproxQuantile bool `json:"use_approx_quantile" yaml:"use_approx_quantile"`

	// HistoryRunID selects one remembered run in history mode; empty
	// lists the most recent runs instead
	HistoryRunID string `json:"history_run_id" yaml:"history_run_id"`

	// Experiments filters the run to the named experiment IDs (empty = all)
	Experiments []string `json:"experiments" yaml:"experiments"`

	// Metrics filters the run to the named metric IDs (empty = all)
	Metrics []string `json:"metrics" yaml:"metrics"`
}

// ToleranceConfig holds the validator's relative tolerance bands. The
// day-granularity approximation makes the unweighted comparison the loosest;
// weighting tightens it; approximate quantiles get their own band.
type ToleranceConfig struct {
	// Unweighted applies to unweighted pre-agg comparisons
	Unweighted float64 `json:"unweighted" yaml:"unweighted"`

	// Weighted applies to weighted pre-agg comparisons
	Weighted float64 `json:"weighted" yaml:"weighted"`

	// Quantile applies to quantile metric comparisons
	Quantile float64 `json:"quantile" yaml:"quantile"`

	// Capped applies to percentile-capped metric comparisons; the cap
	// threshold is approach-local so the band stays wide
	Capped float64 `json:"capped" yaml:"capped"`
}

// ArtifactConfig holds artifact sink settings.
type ArtifactConfig struct {
	// Sink is the artifact sink type: local, s3
	Sink string `json:"sink" yaml:"sink"`

	// S3 configuration (for s3 sink)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 sink configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the object key prefix for uploaded artifacts
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeAll,
		Engine:          "duckdb",
		DataDir:         "./data/expbench",
		ExperimentsFile: "configs/experiments.yaml",
		MetricsFile:     "configs/metrics.yaml",
		DuckDB: DuckDBConfig{
			Database: "",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "expbench",
			User:     "postgres",
			SSLMode:  "disable",
		},
		Run: RunConfig{
			WarmupRuns:   1,
			TimedRuns:    3,
			QueryTimeout: 5 * time.Minute,
			Validate:     true,
		},
		Tolerances: ToleranceConfig{
			Unweighted: 0.10,
			Weighted:   0.05,
			Quantile:   0.15,
			Capped:     0.10,
		},
		Artifacts: ArtifactConfig{
			Sink: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/expbench"
	}
	if c.QueriesDir == "" {
		c.QueriesDir = filepath.Join(c.DataDir, "queries")
	}
	if c.ResultsDir == "" {
		c.ResultsDir = filepath.Join(c.DataDir, "results")
	}
	if c.DuckDB.Database == "" {
		c.DuckDB.Database = filepath.Join(c.DataDir, "expbench.duckdb")
	}
}

// HistoryPath returns the path to the run-history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeGenerate, ModePipeline, ModeRun, ModeHistory:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, generate, pipeline, run, or history)", c.Mode)
	}

	if c.Engine != "duckdb" && c.Engine != "postgres" {
		return fmt.Errorf("invalid engine: %s (must be duckdb or postgres)", c.Engine)
	}

	if c.Engine == "postgres" && c.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required when engine is postgres")
	}

	if c.Run.TimedRuns < 1 {
		return fmt.Errorf("run.timed_runs must be at least 1, got %d", c.Run.TimedRuns)
	}
	if c.Run.WarmupRuns < 0 {
		return fmt.Errorf("run.warmup_runs must not be negative, got %d", c.Run.WarmupRuns)
	}

	for name, tol := range map[string]float64{
		"unweighted": c.Tolerances.Unweighted,
		"weighted":   c.Tolerances.Weighted,
		"quantile":   c.Tolerances.Quantile,
		"capped":     c.Tolerances.Capped,
	} {
		if tol < 0 || tol > 1 {
			return fmt.Errorf("tolerances.%s must be in [0, 1], got %g", name, tol)
		}
	}

	if c.Artifacts.Sink != "local" && c.Artifacts.Sink != "s3" {
		return fmt.Errorf("invalid artifact sink: %s (must be local or s3)", c.Artifacts.Sink)
	}
	if c.Artifacts.Sink == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required when sink is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EXPBENCH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EXPBENCH_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("EXPBENCH_ENGINE"); v != "" {
		cfg.Engine = v
	}
	if v := os.Getenv("EXPBENCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXPBENCH_EXPERIMENTS_FILE"); v != "" {
		cfg.ExperimentsFile = v
	}
	if v := os.Getenv("EXPBENCH_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}

	// DuckDB configuration
	if v := os.Getenv("EXPBENCH_DUCKDB_DATABASE"); v != "" {
		cfg.DuckDB.Database = v
	}

	// Postgres configuration
	if v := os.Getenv("EXPBENCH_PG_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("EXPBENCH_PG_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Postgres.Port)
	}
	if v := os.Getenv("EXPBENCH_PG_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("EXPBENCH_PG_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("EXPBENCH_PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}

	// Run configuration
	if v := os.Getenv("EXPBENCH_WARMUP_RUNS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.WarmupRuns)
	}
	if v := os.Getenv("EXPBENCH_TIMED_RUNS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.TimedRuns)
	}
	if v := os.Getenv("EXPBENCH_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.QueryTimeout = d
		}
	}

	// Artifact configuration
	if v := os.Getenv("EXPBENCH_ARTIFACT_SINK"); v != "" {
		cfg.Artifacts.Sink = v
	}
	if v := os.Getenv("EXPBENCH_S3_BUCKET"); v != "" {
		cfg.Artifacts.S3.Bucket = v
	}
	if v := os.Getenv("EXPBENCH_S3_REGION"); v != "" {
		cfg.Artifacts.S3.Region = v
	}
	if v := os.Getenv("EXPBENCH_S3_ENDPOINT"); v != "" {
		cfg.Artifacts.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.QueriesDir,
		c.ResultsDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ToleranceFor returns the relative tolerance band for a comparison.
func (c *Config) ToleranceFor(weighted, quantile, capped bool) float64 {
	switch {
	case quantile:
		return c.Tolerances.Quantile
	case capped:
		return c.Tolerances.Capped
	case weighted:
		return c.Tolerances.Weighted
	default:
		return c.Tolerances.Unweighted
	}
}
