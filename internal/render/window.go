// Package render synthesizes the on-demand and pre-aggregated SQL
// renderings of an experiment/metric combination. The two renderings are
// built from the same resolved windows and metric clauses and must stay
// numerically equivalent up to the day-granularity bias the weighted
// variant corrects.
package render

import (
	"fmt"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
)

// Window resolves an experiment's attribution, delay, lookback, and
// skip-partial flags into concrete boundary expressions, in timestamp
// precision for on-demand and calendar-day precision for pre-agg.
type Window struct {
	exp *experiment.ExperimentConfig
	d   *dialect.Dialect

	delayDays  int
	windowDays int
}

// ResolveWindow builds the window resolver for one experiment.
func ResolveWindow(exp *experiment.ExperimentConfig, d *dialect.Dialect) (*Window, error) {
	if exp.WindowType == experiment.WindowLookback && exp.DelayHours != 0 {
		return nil, errors.NewConfigError(errors.CodeConflictingWindow,
			"delay_hours and a lookback window cannot be combined")
	}
	return &Window{
		exp:        exp,
		d:          d,
		delayDays:  hoursToDaysToward(exp.DelayHours),
		windowDays: hoursToDaysUp(exp.ConversionWindowHours),
	}, nil
}

// hoursToDaysToward converts a signed delay to whole days, flooring
// negative values and ceiling positive ones so the day window never
// undershoots the hour window.
func hoursToDaysToward(hours int) int {
	if hours < 0 {
		return -((-hours + 23) / 24)
	}
	return (hours + 23) / 24
}

// hoursToDaysUp converts a window length to whole days, rounding up.
func hoursToDaysUp(hours int) int {
	if hours < 0 {
		hours = -hours
	}
	return (hours + 23) / 24
}

// WindowDays returns the window length in whole days.
func (w *Window) WindowDays() int { return w.windowDays }

// DelayDays returns the delay in whole days.
func (w *Window) DelayDays() int { return w.delayDays }

// shiftHours renders expr shifted by a signed number of hours.
func (w *Window) shiftHours(expr string, hours int) string {
	switch {
	case hours > 0:
		return fmt.Sprintf("%s + %s", expr, w.d.IntervalHours(hours))
	case hours < 0:
		return fmt.Sprintf("%s - %s", expr, w.d.IntervalHours(-hours))
	default:
		return expr
	}
}

// shiftDays renders expr shifted by a signed number of days.
func (w *Window) shiftDays(expr string, days int) string {
	switch {
	case days > 0:
		return fmt.Sprintf("%s + %s", expr, w.d.IntervalDays(days))
	case days < 0:
		return fmt.Sprintf("%s - %s", expr, w.d.IntervalDays(-days))
	default:
		return expr
	}
}

// OnDemandClause builds the timestamp-precision window predicate.
// unitAlias must expose first_exposure_timestamp; tsColumn is the metric
// table's timestamp column qualified by its alias.
func (w *Window) OnDemandClause(unitAlias, tsColumn string) string {
	anchor := unitAlias + ".first_exposure_timestamp"
	end := w.d.TimestampLiteral(w.exp.EndDate)

	if w.exp.WindowType == experiment.WindowLookback {
		lookbackStart := fmt.Sprintf("%s - %s", end, w.d.IntervalHours(w.exp.ConversionWindowHours))
		return fmt.Sprintf("%s >= %s\n      AND %s >= %s\n      AND %s <= %s",
			tsColumn, anchor, tsColumn, lookbackStart, tsColumn, end)
	}

	start := fmt.Sprintf("%s >= %s", tsColumn, w.shiftHours(anchor, w.exp.DelayHours))

	var endClause string
	if w.exp.Attribution == experiment.AttributionExperimentDuration {
		endClause = fmt.Sprintf("%s <= %s", tsColumn, end)
	} else {
		total := w.exp.DelayHours + w.exp.ConversionWindowHours
		endClause = fmt.Sprintf("%s <= %s", tsColumn, w.shiftHours(anchor, total))
	}

	return start + "\n      AND " + endClause
}

// PreAggClause builds the calendar-day window predicate against a daily
// table whose date column is metricDateCol.
func (w *Window) PreAggClause(unitAlias, metricDateCol string) string {
	anchorDate := w.d.DateCast(unitAlias + ".first_exposure_timestamp")
	endDate := w.d.DateCast(w.d.TimestampLiteral(w.exp.EndDate))

	if w.exp.WindowType == experiment.WindowLookback {
		lookbackStart := w.d.DateCast(fmt.Sprintf("%s - %s",
			w.d.TimestampLiteral(w.exp.EndDate), w.d.IntervalHours(w.exp.ConversionWindowHours)))
		return fmt.Sprintf("%s >= %s\n      AND %s >= %s\n      AND %s <= %s",
			metricDateCol, anchorDate, metricDateCol, lookbackStart, metricDateCol, endDate)
	}

	start := fmt.Sprintf("%s >= %s", metricDateCol, w.shiftDays(anchorDate, w.delayDays))

	var endClause string
	if w.exp.Attribution == experiment.AttributionExperimentDuration {
		endClause = fmt.Sprintf("%s <= %s", metricDateCol, endDate)
	} else {
		total := w.delayDays + w.windowDays
		endClause = fmt.Sprintf("%s <= %s", metricDateCol, w.shiftDays(anchorDate, total))
	}

	return start + "\n      AND " + endClause
}

// PreAggStartDate is the first calendar day of the resolved window, the
// day the partial-day weight applies to.
func (w *Window) PreAggStartDate(unitAlias string) string {
	if w.exp.WindowType == experiment.WindowLookback {
		return w.d.DateCast(fmt.Sprintf("%s - %s",
			w.d.TimestampLiteral(w.exp.EndDate), w.d.IntervalHours(w.exp.ConversionWindowHours)))
	}
	return w.shiftDays(w.d.DateCast(unitAlias+".first_exposure_timestamp"), w.delayDays)
}

// OnDemandSkipPartial is the filter excluding users whose resolved window
// end exceeds the experiment end. Empty when the window already ends at
// the experiment end (duration attribution, lookback).
func (w *Window) OnDemandSkipPartial(unitAlias string) string {
	if !w.skipPartialApplies() {
		return ""
	}
	anchor := unitAlias + ".first_exposure_timestamp"
	total := w.exp.DelayHours + w.exp.ConversionWindowHours
	return fmt.Sprintf("%s <= %s", w.shiftHours(anchor, total), w.d.TimestampLiteral(w.exp.EndDate))
}

// PreAggSkipPartial is the day-precision skip-partial filter.
func (w *Window) PreAggSkipPartial(unitAlias string) string {
	if !w.skipPartialApplies() {
		return ""
	}
	anchorDate := w.d.DateCast(unitAlias + ".first_exposure_timestamp")
	total := w.delayDays + w.windowDays
	return fmt.Sprintf("%s <= %s", w.shiftDays(anchorDate, total),
		w.d.DateCast(w.d.TimestampLiteral(w.exp.EndDate)))
}

func (w *Window) skipPartialApplies() bool {
	return w.exp.SkipPartialData &&
		w.exp.WindowType != experiment.WindowLookback &&
		w.exp.Attribution != experiment.AttributionExperimentDuration
}

// OnDemandCovariate builds the pre-exposure covariate window
// [exposure - lookbackDays, exposure). The covariate and main windows
// never overlap.
func (w *Window) OnDemandCovariate(unitAlias, tsColumn string, lookbackDays int) string {
	anchor := unitAlias + ".first_exposure_timestamp"
	return fmt.Sprintf("%s >= %s\n      AND %s < %s",
		tsColumn, w.shiftDays(anchor, -lookbackDays), tsColumn, anchor)
}

// PreAggCovariate is the day-precision covariate window.
func (w *Window) PreAggCovariate(unitAlias, metricDateCol string, lookbackDays int) string {
	anchorDate := w.d.DateCast(unitAlias + ".first_exposure_timestamp")
	return fmt.Sprintf("%s >= %s\n      AND %s < %s",
		metricDateCol, w.shiftDays(anchorDate, -lookbackDays), metricDateCol, anchorDate)
}
