// Package app wires the benchmark phases together: data generation,
// pipeline build, query rendering, execution, and reporting.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/expbench/expbench/internal/artifact"
	"github.com/expbench/expbench/internal/bench"
	"github.com/expbench/expbench/internal/config"
	"github.com/expbench/expbench/internal/datagen"
	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/engine"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
	"github.com/expbench/expbench/internal/render"
	"github.com/expbench/expbench/pkg/types"
)

// App runs the phases selected by the configured mode.
type App struct {
	cfg    *config.Config
	d      *dialect.Dialect
	corpus *experiment.Corpus
	store  *artifact.Store
}

// New validates the configuration and corpus and prepares the app.
// Config and corpus problems are fatal here; nothing has run yet.
func New(cfg *config.Config) (*App, error) {
	d, err := dialect.ForEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	corpus, err := experiment.LoadCorpus(cfg.ExperimentsFile, cfg.MetricsFile)
	if err != nil {
		return nil, err
	}
	corpus = corpus.Filter(cfg.Run.Experiments, cfg.Run.Metrics)

	for i := range corpus.Experiments {
		if err := experiment.ValidateExperiment(&corpus.Experiments[i]); err != nil {
			return nil, fmt.Errorf("experiment %s: %w", corpus.Experiments[i].ID, err)
		}
	}
	for i := range corpus.Metrics {
		if err := experiment.ValidateMetric(&corpus.Metrics[i]); err != nil {
			return nil, fmt.Errorf("metric %s: %w", corpus.Metrics[i].ID, err)
		}
	}
	if len(corpus.Experiments) == 0 || len(corpus.Metrics) == 0 {
		return nil, fmt.Errorf("corpus is empty after filtering")
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		d:      d,
		corpus: corpus,
		store:  artifact.NewStore(sink),
	}, nil
}

func newSink(cfg *config.Config) (artifact.Sink, error) {
	if cfg.Artifacts.Sink == "s3" {
		return artifact.NewS3Sink(context.Background(), cfg.Artifacts.S3)
	}
	return artifact.NewLocalSink(cfg.DataDir), nil
}

// Run executes the configured mode.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case config.ModeGenerate:
		_, _, err := a.generate(ctx)
		return err
	case config.ModePipeline:
		return a.withEngine(ctx, func(eng engine.Engine) error {
			_, err := a.buildPipeline(ctx, eng)
			return err
		})
	case config.ModeRun:
		return a.withEngine(ctx, func(eng engine.Engine) error {
			return a.benchmark(ctx, eng, false)
		})
	case config.ModeHistory:
		return a.history(ctx)
	default:
		return a.withEngine(ctx, func(eng engine.Engine) error {
			return a.benchmark(ctx, eng, true)
		})
	}
}

func (a *App) withEngine(ctx context.Context, fn func(engine.Engine) error) error {
	eng, err := engine.Open(a.cfg)
	if err != nil {
		return err
	}
	if err := eng.Connect(ctx); err != nil {
		return err
	}
	defer eng.Close()
	return fn(eng)
}

// generate renders the full query corpus and persists it with its manifest.
func (a *App) generate(ctx context.Context) ([]types.RenderedQuery, []render.RenderFailure, error) {
	asm := render.NewAssembler(a.d, a.cfg.Run.UseApproxQuantile)
	queries, failures := asm.RenderAll(a.corpus)
	log.Printf("app: rendered %d queries (%d combinations unsupported or failed)",
		len(queries), len(failures))

	if _, err := a.store.WriteCorpus(ctx, a.cfg.Engine, queries, failures); err != nil {
		return nil, nil, err
	}
	return queries, failures, nil
}

// buildPipeline materializes the shared pre-aggregation tables.
func (a *App) buildPipeline(ctx context.Context, eng engine.Engine) (*pipeline.Builder, error) {
	builder := pipeline.NewBuilder(pipeline.NewCompiler(a.d), eng)
	if err := builder.Build(ctx, a.corpus); err != nil {
		return nil, err
	}
	log.Printf("app: pipeline built in %.2fs", builder.TotalSeconds())
	return builder, nil
}

// benchmark runs the full measured workflow. With loadData set it first
// generates and loads the synthetic raw tables.
func (a *App) benchmark(ctx context.Context, eng engine.Engine, loadData bool) error {
	if loadData {
		log.Printf("app: generating synthetic dataset")
		ds := datagen.Generate(datagen.DefaultOptions())
		if err := datagen.Load(ctx, eng, ds); err != nil {
			return err
		}
	}

	builder, err := a.buildPipeline(ctx, eng)
	if err != nil {
		return err
	}
	if err := builder.RequireReady(); err != nil {
		return err
	}

	queries, failures, err := a.generate(ctx)
	if err != nil {
		return err
	}

	runner := bench.NewRunner(a.cfg, eng)
	report, err := runner.Run(ctx, a.corpus, queries, failures, builder.Results)
	if err != nil {
		return err
	}

	if err := a.store.WriteReport(ctx, report); err != nil {
		return err
	}
	if err := a.recordHistory(ctx, report); err != nil {
		log.Printf("app: failed to record run history: %v", err)
	}

	logSummary(report)
	if report.Failed() {
		return fmt.Errorf("benchmark run %s failed", report.RunID)
	}
	return nil
}

// history lists remembered runs for the configured engine, or replays a
// single run's summary when a run id is given.
func (a *App) history(ctx context.Context) error {
	history, err := bench.OpenHistory(a.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer history.Close()

	if runID := a.cfg.Run.HistoryRunID; runID != "" {
		report, err := history.Report(ctx, runID)
		if err != nil {
			return err
		}
		logSummary(report)
		return nil
	}

	records, err := history.Recent(ctx, a.cfg.Engine, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		log.Printf("app: no remembered runs for %s", a.cfg.Engine)
		return nil
	}
	for _, r := range records {
		log.Printf("app: %s  %s  %s  speedup %.1fx, %d queries, pipeline %.2fs, %d validation failures",
			r.StartedAt.Format(time.RFC3339), r.RunID, r.Engine,
			r.SpeedupAnalysisOnly, r.QueryCount, r.PipelineTotalSeconds, r.ValidationFailures)
	}
	return nil
}

func (a *App) recordHistory(ctx context.Context, report *types.Report) error {
	history, err := bench.OpenHistory(a.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer history.Close()
	return history.Record(ctx, report)
}

func logSummary(report *types.Report) {
	s := report.Summary
	log.Printf("app: run %s on %s", report.RunID, report.Engine)
	log.Printf("app: on-demand %d queries, %.2fs total (median %.3fs)",
		s.OnDemandQueryCount, s.OnDemandTotalSeconds, s.OnDemandMedianPerQuery)
	log.Printf("app: pre-agg %d queries, %.2fs total (median %.3fs), pipeline %.2fs",
		s.PreAggQueryCount, s.PreAggTotalSeconds, s.PreAggMedianPerQuery, s.PipelineTotalSeconds)
	log.Printf("app: speedup %.1fx analysis-only, %.1fx including pipeline",
		s.SpeedupAnalysisOnly, s.SpeedupIncludingPipeline)
	if v := report.Validation; v != nil {
		log.Printf("app: validation %d/%d passed (%d <1%%, %d 1-10%%, %d >10%%, %d skipped)",
			v.Passed, v.TotalComparisons, v.ExactLt1Pct, v.Close1To10Pct, v.FarGt10Pct, v.Skipped)
	}
}
