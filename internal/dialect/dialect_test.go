package dialect

import (
	"strings"
	"testing"
)

func TestForEngine(t *testing.T) {
	for _, name := range []string{"duckdb", "postgres"} {
		d, err := ForEngine(name)
		if err != nil {
			t.Fatalf("ForEngine(%s) failed: %v", name, err)
		}
		if d.Name != name {
			t.Errorf("expected name %s, got %s", name, d.Name)
		}
	}

	if _, err := ForEngine("sqlite"); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestQuantileDuckDB(t *testing.T) {
	d, _ := ForEngine("duckdb")

	got := d.Quantile("value", 0.9)
	if got != "quantile_cont(value, 0.9)" {
		t.Errorf("unexpected quantile expression: %s", got)
	}

	if !d.HasApproxQuantile {
		t.Error("duckdb should support approximate quantiles")
	}
	approx := d.ApproxQuantile("value", 0.5)
	if !strings.Contains(approx, "approx_quantile") {
		t.Errorf("expected approx_quantile, got %s", approx)
	}
}

func TestQuantilePostgres(t *testing.T) {
	d, _ := ForEngine("postgres")

	got := d.Quantile("value", 0.25)
	want := "percentile_cont(0.25) WITHIN GROUP (ORDER BY value)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if d.HasApproxQuantile {
		t.Error("postgres has no approximate quantile function")
	}
	// Approximate falls back to the exact form.
	if d.ApproxQuantile("value", 0.25) != want {
		t.Errorf("expected approx fallback to exact form")
	}
}

func TestDateExpressions(t *testing.T) {
	d, _ := ForEngine("duckdb")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"timestamp literal", d.TimestampLiteral("2021-10-01T00:00:00"), "TIMESTAMP '2021-10-01T00:00:00'"},
		{"interval hours", d.IntervalHours(72), "INTERVAL '72 hours'"},
		{"interval days", d.IntervalDays(3), "INTERVAL '3 days'"},
		{"date cast", d.DateCast("e.timestamp"), "CAST(e.timestamp AS DATE)"},
		{"hour of", d.HourOf("MIN(e.timestamp)"), "EXTRACT(HOUR FROM MIN(e.timestamp))"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, tt.got)
		}
	}
}

func TestArrayAgg(t *testing.T) {
	duck, _ := ForEngine("duckdb")
	pg, _ := ForEngine("postgres")

	if got := duck.ArrayAgg("value"); got != "list(value)" {
		t.Errorf("duckdb array agg: %s", got)
	}
	if got := pg.ArrayAgg("value"); got != "array_agg(value)" {
		t.Errorf("postgres array agg: %s", got)
	}
}

func TestUnnestValues(t *testing.T) {
	for _, name := range Engines() {
		d, _ := ForEngine(name)
		got := d.UnnestValues("shared_sketches_array")
		if !strings.Contains(got, "shared_sketches_array") {
			t.Errorf("%s: derived table should reference the sketch table: %s", name, got)
		}
		if !strings.Contains(got, "AS value") {
			t.Errorf("%s: derived table should expose a value column: %s", name, got)
		}
	}
}
