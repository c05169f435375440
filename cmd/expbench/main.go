// Package main implements the expbench binary: an A/B-test analysis
// benchmark comparing on-demand raw-event queries against shared
// pre-aggregated tables on DuckDB and Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/expbench/expbench/internal/app"
	"github.com/expbench/expbench/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile      string
		dataDir         string
		mode            string
		engineName      string
		experimentsFile string
		metricsFile     string
		experiments     string
		metrics         string
		runID           string
		warmupRuns      int
		timedRuns       int
		noValidate      bool
		approxQuantile  bool
		showVersion     bool
		showHelp        bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for data, queries, and results")
	flag.StringVar(&mode, "mode", "", "Phase to run: all, generate, pipeline, run, history")
	flag.StringVar(&engineName, "engine", "", "Database engine: duckdb, postgres")
	flag.StringVar(&experimentsFile, "experiments-file", "", "Path to the experiments YAML")
	flag.StringVar(&metricsFile, "metrics-file", "", "Path to the metrics YAML")
	flag.StringVar(&experiments, "experiments", "", "Comma-separated experiment IDs to run (default all)")
	flag.StringVar(&metrics, "metrics", "", "Comma-separated metric IDs to run (default all)")
	flag.StringVar(&runID, "run-id", "", "Run ID to show in history mode (default lists recent runs)")
	flag.IntVar(&warmupRuns, "warmup", -1, "Warmup runs per query")
	flag.IntVar(&timedRuns, "runs", -1, "Timed runs per query")
	flag.BoolVar(&noValidate, "no-validate", false, "Skip the equivalence comparison")
	flag.BoolVar(&approxQuantile, "approx-quantile", false, "Use the engine's approximate quantile function for pre-agg quantiles")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "expbench - A/B-test experimentation SQL benchmark\n\n")
		fmt.Fprintf(os.Stderr, "Usage: expbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  expbench --engine duckdb\n")
		fmt.Fprintf(os.Stderr, "  expbench --mode generate --engine postgres\n")
		fmt.Fprintf(os.Stderr, "  expbench --mode run --experiments exp_basic --metrics purchase,revenue\n")
		fmt.Fprintf(os.Stderr, "  expbench --config configs/expbench.yaml\n")
		fmt.Fprintf(os.Stderr, "  expbench --mode history --engine duckdb\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  EXPBENCH_MODE            Phase to run (all, generate, pipeline, run, history)\n")
		fmt.Fprintf(os.Stderr, "  EXPBENCH_ENGINE          Database engine (duckdb, postgres)\n")
		fmt.Fprintf(os.Stderr, "  EXPBENCH_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  EXPBENCH_PG_*            Postgres connection settings\n")
		fmt.Fprintf(os.Stderr, "  EXPBENCH_ARTIFACT_SINK   Artifact sink (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("expbench version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override file and environment settings.
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if engineName != "" {
		cfg.Engine = engineName
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if experimentsFile != "" {
		cfg.ExperimentsFile = experimentsFile
	}
	if metricsFile != "" {
		cfg.MetricsFile = metricsFile
	}
	if experiments != "" {
		cfg.Run.Experiments = splitIDs(experiments)
	}
	if metrics != "" {
		cfg.Run.Metrics = splitIDs(metrics)
	}
	if runID != "" {
		cfg.Run.HistoryRunID = runID
	}
	if warmupRuns >= 0 {
		cfg.Run.WarmupRuns = warmupRuns
	}
	if timedRuns > 0 {
		cfg.Run.TimedRuns = timedRuns
	}
	if noValidate {
		cfg.Run.Validate = false
	}
	if approxQuantile {
		cfg.Run.UseApproxQuantile = true
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
