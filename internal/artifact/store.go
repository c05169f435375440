package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/expbench/expbench/internal/render"
	"github.com/expbench/expbench/pkg/types"
)

// ManifestEntry describes one rendered query file.
type ManifestEntry struct {
	Experiment  string         `json:"experiment"`
	Metric      string         `json:"metric"`
	Approach    types.Approach `json:"approach"`
	Variant     types.Variant  `json:"variant"`
	File        string         `json:"file"`
	Fingerprint string         `json:"fingerprint"`
}

// Manifest indexes a written query corpus. Fingerprints let a reader
// detect when a query file was edited by hand after generation.
type Manifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Engine      string          `json:"engine"`
	Queries     []ManifestEntry `json:"queries"`
	Failures    []failureEntry  `json:"failures,omitempty"`
}

type failureEntry struct {
	Experiment string         `json:"experiment"`
	Metric     string         `json:"metric"`
	Approach   types.Approach `json:"approach"`
	Variant    types.Variant  `json:"variant"`
	Error      string         `json:"error"`
}

// Store writes query corpora and benchmark reports through a sink.
type Store struct {
	sink Sink
}

// NewStore creates an artifact store over the given sink.
func NewStore(sink Sink) *Store {
	return &Store{sink: sink}
}

// Fingerprint is the stable hash recorded for a query text.
func Fingerprint(sql string) string {
	h1, h2 := murmur3.Sum128([]byte(sql))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// queryFile is the relative path for a rendered query.
func queryFile(q types.RenderedQuery) string {
	return "queries/" + q.Key() + ".sql"
}

// WriteCorpus persists every rendered query and the manifest indexing
// them. Render failures are recorded in the manifest, not dropped.
func (s *Store) WriteCorpus(ctx context.Context, engine string, queries []types.RenderedQuery, failures []render.RenderFailure) (*Manifest, error) {
	m := &Manifest{
		GeneratedAt: time.Now().UTC(),
		Engine:      engine,
	}

	for _, q := range queries {
		file := queryFile(q)
		if err := s.sink.Put(ctx, file, []byte(q.SQL+"\n")); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file, err)
		}
		m.Queries = append(m.Queries, ManifestEntry{
			Experiment:  q.ExperimentID,
			Metric:      q.MetricID,
			Approach:    q.Approach,
			Variant:     q.Variant,
			File:        file,
			Fingerprint: Fingerprint(q.SQL),
		})
	}

	for _, f := range failures {
		m.Failures = append(m.Failures, failureEntry{
			Experiment: f.ExperimentID,
			Metric:     f.MetricID,
			Approach:   f.Approach,
			Variant:    f.Variant,
			Error:      f.Err.Error(),
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := s.sink.Put(ctx, "queries/manifest.json", data); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}

// WriteReport persists the benchmark report as JSON.
func (s *Store) WriteReport(ctx context.Context, report *types.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("results/report_%s.json", report.RunID)
	if err := s.sink.Put(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	// Latest report is also written under a stable name.
	return s.sink.Put(ctx, "results/report.json", data)
}
