package engine

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"
	"time"

	"github.com/expbench/expbench/internal/errors"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"SELECT 1", []string{"SELECT 1"}},
		{"DROP TABLE x;\nCREATE TABLE x AS SELECT 1;", []string{"DROP TABLE x", "CREATE TABLE x AS SELECT 1"}},
		{";;  ;\n", nil},
		{"SELECT 1;\n\nSELECT 2", []string{"SELECT 1", "SELECT 2"}},
	}
	for _, tt := range tests {
		if got := splitStatements(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitStatements(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBytes(t *testing.T) {
	if got := normalize([]byte("Chrome")); got != "Chrome" {
		t.Errorf("normalize([]byte) = %v", got)
	}
	if got := normalize(3.14); got != 3.14 {
		t.Errorf("normalize(float64) = %v", got)
	}
	if got := normalize(nil); got != nil {
		t.Errorf("normalize(nil) = %v", got)
	}
}

func TestExecErrorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := execError(ctx, "duckdb", stderrors.New("interrupted"))
	if errors.GetCode(err) != errors.CodeExecutionTimeout {
		t.Errorf("deadline exceeded should map to timeout, got %s", errors.GetCode(err))
	}
}

func TestExecErrorQueryFailure(t *testing.T) {
	err := execError(context.Background(), "postgres", stderrors.New("syntax error"))
	if errors.GetCode(err) != errors.CodeQueryFailed {
		t.Errorf("plain failure should map to QUERY_FAILED, got %s", errors.GetCode(err))
	}
	if errors.GetCategory(err) != errors.ErrCategoryExecution {
		t.Errorf("category = %s", errors.GetCategory(err))
	}
}
