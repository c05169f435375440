package pipeline

import (
	"context"
	"log"

	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
)

// Executor runs a single SQL statement and reports its walltime in seconds.
// Satisfied by the engine adapters.
type Executor interface {
	Exec(ctx context.Context, sql string) (float64, error)
}

// BuildResult records one shared table's build outcome.
type BuildResult struct {
	Table   string  `json:"table"`
	Seconds float64 `json:"seconds"`
}

// Builder materializes the shared pre-aggregation tables. Queries against
// the pre-agg rendering must not run until Build has succeeded.
type Builder struct {
	compiler *Compiler
	exec     Executor
	ready    bool

	// Results holds per-table build timings from the last Build call.
	Results []BuildResult
}

// NewBuilder creates a pipeline builder that executes through exec.
func NewBuilder(c *Compiler, exec Executor) *Builder {
	return &Builder{compiler: c, exec: exec}
}

// Build compiles and executes the shared-table builds in dependency order.
// Total build time is the sum of the per-table timings in Results.
func (b *Builder) Build(ctx context.Context, corpus *experiment.Corpus) error {
	b.ready = false
	b.Results = nil

	builds, err := b.compiler.Compile(corpus)
	if err != nil {
		return err
	}

	for _, tb := range builds {
		var total float64
		for _, stmt := range tb.Statements {
			secs, err := b.exec.Exec(ctx, stmt)
			if err != nil {
				return errors.Wrap(errors.ErrCategoryExecution, errors.CodeQueryFailed,
					"building "+tb.Name, err)
			}
			total += secs
		}
		log.Printf("pipeline: built %s in %.2fs", tb.Name, total)
		b.Results = append(b.Results, BuildResult{Table: tb.Name, Seconds: total})
	}

	b.ready = true
	return nil
}

// TotalSeconds is the summed build time of the last Build call.
func (b *Builder) TotalSeconds() float64 {
	var t float64
	for _, r := range b.Results {
		t += r.Seconds
	}
	return t
}

// Ready reports whether the shared tables have been built this run.
func (b *Builder) Ready() bool {
	return b.ready
}

// RequireReady returns a PIPELINE_NOT_BUILT error when Build has not
// completed successfully.
func (b *Builder) RequireReady() error {
	if b.ready {
		return nil
	}
	return errors.New(errors.ErrCategoryExecution, errors.CodePipelineNotBuilt,
		"pre-aggregation tables have not been built")
}
