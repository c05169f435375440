package datagen

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Executor runs a single SQL statement and reports its walltime in seconds.
type Executor interface {
	Exec(ctx context.Context, sql string) (float64, error)
}

// insertBatchSize bounds the rows per INSERT statement.
const insertBatchSize = 500

// Load creates the raw tables and inserts the dataset. Existing tables are
// dropped first so a reload always starts clean.
func Load(ctx context.Context, exec Executor, ds *Dataset) error {
	for _, t := range rawTables {
		if _, err := exec.Exec(ctx, "DROP TABLE IF EXISTS "+t.name); err != nil {
			return fmt.Errorf("dropping %s: %w", t.name, err)
		}
		if _, err := exec.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("creating %s: %w", t.name, err)
		}
	}

	start := time.Now()
	if err := insertRows(ctx, exec, "viewed_experiment",
		"user_id, anonymous_id, session_id, browser, country, timestamp, experiment_id, variation",
		len(ds.Exposures), func(i int) string {
			r := ds.Exposures[i]
			return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s)",
				quote(r.UserID), quote(r.AnonymousID), quote(r.SessionID),
				quote(r.Browser), quote(r.Country), tsLiteral(r.Timestamp),
				quote(r.ExperimentID), quote(r.Variation))
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "orders",
		"user_id, anonymous_id, session_id, browser, country, timestamp, qty, amount",
		len(ds.Orders), func(i int) string {
			r := ds.Orders[i]
			amount := "NULL"
			if r.Amount != nil {
				amount = fmt.Sprintf("%g", *r.Amount)
			}
			return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %d, %s)",
				quote(r.UserID), quote(r.AnonymousID), quote(r.SessionID),
				quote(r.Browser), quote(r.Country), tsLiteral(r.Timestamp),
				r.Qty, amount)
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "events",
		"user_id, anonymous_id, session_id, browser, country, timestamp, event_name, value",
		len(ds.Events), func(i int) string {
			r := ds.Events[i]
			return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %d)",
				quote(r.UserID), quote(r.AnonymousID), quote(r.SessionID),
				quote(r.Browser), quote(r.Country), tsLiteral(r.Timestamp),
				quote(r.EventName), r.Value)
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "pages",
		"user_id, anonymous_id, session_id, browser, country, timestamp, path",
		len(ds.Pages), func(i int) string {
			r := ds.Pages[i]
			return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s)",
				quote(r.UserID), quote(r.AnonymousID), quote(r.SessionID),
				quote(r.Browser), quote(r.Country), tsLiteral(r.Timestamp),
				quote(r.Path))
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "sessions",
		"user_id, anonymous_id, session_id, browser, country, timestamp, pages, duration_seconds",
		len(ds.Sessions), func(i int) string {
			r := ds.Sessions[i]
			return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %d, %d)",
				quote(r.UserID), quote(r.AnonymousID), quote(r.SessionID),
				quote(r.Browser), quote(r.Country), tsLiteral(r.Timestamp),
				r.Pages, r.DurationSeconds)
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "user_attributes",
		"user_id, browser, country",
		len(ds.Users), func(i int) string {
			r := ds.Users[i]
			return fmt.Sprintf("(%s, %s, %s)",
				quote(r.UserID), quote(r.Browser), quote(r.Country))
		}); err != nil {
		return err
	}

	if err := insertRows(ctx, exec, "identity_map",
		"user_id, anonymous_id",
		len(ds.Users), func(i int) string {
			r := ds.Users[i]
			return fmt.Sprintf("(%s, %s)", quote(r.UserID), quote(r.AnonymousID))
		}); err != nil {
		return err
	}

	for _, idx := range rawIndexes {
		if _, err := exec.Exec(ctx, idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	log.Printf("datagen: loaded %d exposures, %d orders, %d events, %d pages, %d sessions in %.2fs",
		len(ds.Exposures), len(ds.Orders), len(ds.Events), len(ds.Pages), len(ds.Sessions),
		time.Since(start).Seconds())
	return nil
}

// insertRows writes n rows into table in batches.
func insertRows(ctx context.Context, exec Executor, table, columns string, n int, render func(int) string) error {
	for lo := 0; lo < n; lo += insertBatchSize {
		hi := lo + insertBatchSize
		if hi > n {
			hi = n
		}
		values := make([]string, 0, hi-lo)
		for i := lo; i < hi; i++ {
			values = append(values, render(i))
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n%s",
			table, columns, strings.Join(values, ",\n"))
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func tsLiteral(t time.Time) string {
	return "TIMESTAMP '" + t.Format("2006-01-02 15:04:05") + "'"
}
