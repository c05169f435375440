package artifact

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/render"
	"github.com/expbench/expbench/pkg/types"
)

func TestLocalSinkRoundtrip(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	ctx := context.Background()

	if err := sink.Put(ctx, "queries/a/b.sql", []byte("SELECT 1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := sink.Get(ctx, "queries/a/b.sql")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "SELECT 1" {
		t.Errorf("Get = %q", data)
	}
}

func TestLocalSinkList(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	ctx := context.Background()

	for _, p := range []string{"queries/x.sql", "queries/y.sql", "results/report.json"} {
		if err := sink.Put(ctx, p, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := sink.List(ctx, "queries/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("List = %v, want 2 query files", paths)
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "queries/") {
			t.Errorf("path %s escaped the prefix", p)
		}
	}
}

func TestLocalSinkListMissingRoot(t *testing.T) {
	sink := NewLocalSink(t.TempDir() + "/never-created")
	paths, err := sink.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List on missing root: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("List = %v, want empty", paths)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("SELECT 1")
	if a != Fingerprint("SELECT 1") {
		t.Error("fingerprint must be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(a))
	}
	if a == Fingerprint("SELECT 2") {
		t.Error("different queries must not collide on a trivial edit")
	}
}

func TestWriteCorpus(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	store := NewStore(sink)
	ctx := context.Background()

	queries := []types.RenderedQuery{
		{
			ExperimentID: "exp_basic", MetricID: "purchase",
			Approach: types.ApproachOnDemand, Variant: types.VariantStandard,
			SQL: "SELECT 1",
		},
		{
			ExperimentID: "exp_basic", MetricID: "purchase",
			Approach: types.ApproachPreAgg, Variant: types.VariantWeighted,
			SQL: "SELECT 2",
		},
	}
	failures := []render.RenderFailure{
		{
			ExperimentID: "exp_basic", MetricID: "session_p90",
			Approach: types.ApproachPreAgg, Variant: types.VariantWeighted,
			Err: errors.NewRenderError(errors.CodeUnsupportedCombination, "weighted quantile"),
		},
	}

	m, err := store.WriteCorpus(ctx, "duckdb", queries, failures)
	if err != nil {
		t.Fatalf("WriteCorpus failed: %v", err)
	}
	if len(m.Queries) != 2 || len(m.Failures) != 1 {
		t.Fatalf("manifest entries: %d queries, %d failures", len(m.Queries), len(m.Failures))
	}

	// Each query lands at its key-derived path with a trailing newline.
	data, err := sink.Get(ctx, "queries/"+queries[0].Key()+".sql")
	if err != nil {
		t.Fatalf("query file missing: %v", err)
	}
	if string(data) != "SELECT 1\n" {
		t.Errorf("query file = %q", data)
	}

	// The manifest on disk matches what was returned.
	raw, err := sink.Get(ctx, "queries/manifest.json")
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	var onDisk Manifest
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if onDisk.Engine != "duckdb" || len(onDisk.Queries) != 2 {
		t.Errorf("manifest on disk: %+v", onDisk)
	}
	if onDisk.Queries[0].Fingerprint != Fingerprint("SELECT 1") {
		t.Errorf("fingerprint mismatch: %s", onDisk.Queries[0].Fingerprint)
	}
	if !strings.Contains(onDisk.Failures[0].Error, "UNSUPPORTED_COMBINATION") {
		t.Errorf("failure entry lost its code: %s", onDisk.Failures[0].Error)
	}
}

func TestWriteReport(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	store := NewStore(sink)
	ctx := context.Background()

	report := &types.Report{RunID: "0f2a", Engine: "duckdb"}
	if err := store.WriteReport(ctx, report); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	for _, path := range []string{"results/report_0f2a.json", "results/report.json"} {
		raw, err := sink.Get(ctx, path)
		if err != nil {
			t.Fatalf("%s missing: %v", path, err)
		}
		var back types.Report
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("%s not valid JSON: %v", path, err)
		}
		if back.RunID != "0f2a" {
			t.Errorf("%s RunID = %s", path, back.RunID)
		}
	}
}
