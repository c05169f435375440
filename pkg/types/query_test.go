package types

import (
	"math/big"
	"testing"
)

func TestResultRowFloat(t *testing.T) {
	row := ResultRow{
		"f":     3.5,
		"i":     int64(7),
		"huge":  big.NewInt(4996),
		"bytes": []byte("12.25"),
		"text":  "oops",
		"nil":   nil,
	}

	tests := []struct {
		column string
		want   float64
		ok     bool
	}{
		{"f", 3.5, true},
		{"i", 7, true},
		// DuckDB returns HUGEINT sums as *big.Int.
		{"huge", 4996, true},
		{"bytes", 12.25, true},
		{"text", 0, false},
		{"nil", 0, false},
		{"absent", 0, false},
	}
	for _, tt := range tests {
		got, ok := row.Float(tt.column)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Float(%q) = %v, %v, want %v, %v", tt.column, got, ok, tt.want, tt.ok)
		}
	}
}
