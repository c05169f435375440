package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Mode != ModeAll || cfg.Engine != "duckdb" {
		t.Errorf("unexpected defaults: mode=%s engine=%s", cfg.Mode, cfg.Engine)
	}
	if !cfg.Run.Validate {
		t.Error("validation should be on by default")
	}
}

func TestValidateAcceptsAllModes(t *testing.T) {
	for _, m := range []Mode{ModeAll, ModeGenerate, ModePipeline, ModeRun, ModeHistory} {
		cfg := DefaultConfig()
		cfg.Mode = m
		cfg.Resolve()
		if err := cfg.Validate(); err != nil {
			t.Errorf("mode %s should validate: %v", m, err)
		}
	}
}

func TestResolveDerivesPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/bench"
	cfg.Resolve()

	if cfg.QueriesDir != filepath.Join("/tmp/bench", "queries") {
		t.Errorf("QueriesDir = %s", cfg.QueriesDir)
	}
	if cfg.ResultsDir != filepath.Join("/tmp/bench", "results") {
		t.Errorf("ResultsDir = %s", cfg.ResultsDir)
	}
	if cfg.DuckDB.Database != filepath.Join("/tmp/bench", "expbench.duckdb") {
		t.Errorf("DuckDB.Database = %s", cfg.DuckDB.Database)
	}
	if cfg.HistoryPath() != filepath.Join("/tmp/bench", "history.db") {
		t.Errorf("HistoryPath = %s", cfg.HistoryPath())
	}
}

func TestResolveKeepsExplicitPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueriesDir = "/elsewhere/q"
	cfg.DuckDB.Database = "/elsewhere/db.duckdb"
	cfg.Resolve()

	if cfg.QueriesDir != "/elsewhere/q" {
		t.Errorf("explicit QueriesDir overwritten: %s", cfg.QueriesDir)
	}
	if cfg.DuckDB.Database != "/elsewhere/db.duckdb" {
		t.Errorf("explicit database overwritten: %s", cfg.DuckDB.Database)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "benchmark" }, "invalid mode"},
		{"bad engine", func(c *Config) { c.Engine = "sqlite" }, "invalid engine"},
		{"postgres without database", func(c *Config) {
			c.Engine = "postgres"
			c.Postgres.Database = ""
		}, "postgres.database"},
		{"zero timed runs", func(c *Config) { c.Run.TimedRuns = 0 }, "timed_runs"},
		{"negative warmups", func(c *Config) { c.Run.WarmupRuns = -1 }, "warmup_runs"},
		{"tolerance out of range", func(c *Config) { c.Tolerances.Weighted = 1.5 }, "tolerances.weighted"},
		{"bad sink", func(c *Config) { c.Artifacts.Sink = "gcs" }, "artifact sink"},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Sink = "s3" }, "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
engine: postgres
postgres:
  host: db.internal
  database: bench
run:
  timed_runs: 5
tolerances:
  weighted: 0.02
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Engine != "postgres" || cfg.Postgres.Host != "db.internal" {
		t.Errorf("file values not applied: %+v", cfg.Postgres)
	}
	if cfg.Run.TimedRuns != 5 {
		t.Errorf("TimedRuns = %d, want 5", cfg.Run.TimedRuns)
	}
	if cfg.Tolerances.Weighted != 0.02 {
		t.Errorf("Tolerances.Weighted = %g, want 0.02", cfg.Tolerances.Weighted)
	}
	// Unset keys keep their defaults.
	if cfg.Tolerances.Quantile != 0.15 {
		t.Errorf("Tolerances.Quantile = %g, want default 0.15", cfg.Tolerances.Quantile)
	}
}

func TestLoadFromFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EXPBENCH_ENGINE", "postgres")
	t.Setenv("EXPBENCH_PG_PORT", "5433")
	t.Setenv("EXPBENCH_TIMED_RUNS", "7")
	t.Setenv("EXPBENCH_QUERY_TIMEOUT", "90s")
	t.Setenv("EXPBENCH_S3_BUCKET", "bench-artifacts")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Engine != "postgres" {
		t.Errorf("Engine = %s", cfg.Engine)
	}
	if cfg.Postgres.Port != 5433 {
		t.Errorf("Port = %d", cfg.Postgres.Port)
	}
	if cfg.Run.TimedRuns != 7 {
		t.Errorf("TimedRuns = %d", cfg.Run.TimedRuns)
	}
	if cfg.Run.QueryTimeout != 90*time.Second {
		t.Errorf("QueryTimeout = %s", cfg.Run.QueryTimeout)
	}
	if cfg.Artifacts.S3.Bucket != "bench-artifacts" {
		t.Errorf("Bucket = %s", cfg.Artifacts.S3.Bucket)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "bench")
	cfg.QueriesDir = ""
	cfg.ResultsDir = ""
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.QueriesDir, cfg.ResultsDir} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			t.Errorf("directory %s missing", dir)
		}
	}
}

func TestToleranceFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		weighted, quantile, capped bool
		want                       float64
	}{
		{false, false, false, 0.10},
		{true, false, false, 0.05},
		{false, true, false, 0.15},
		{true, true, false, 0.15},
		{false, false, true, 0.10},
		{true, false, true, 0.10},
	}
	for _, tt := range tests {
		got := cfg.ToleranceFor(tt.weighted, tt.quantile, tt.capped)
		if got != tt.want {
			t.Errorf("ToleranceFor(%v, %v, %v) = %g, want %g",
				tt.weighted, tt.quantile, tt.capped, got, tt.want)
		}
	}
}
