package render

import (
	"fmt"
	"strings"

	"github.com/expbench/expbench/internal/dialect"
	"github.com/expbench/expbench/internal/errors"
	"github.com/expbench/expbench/internal/experiment"
	"github.com/expbench/expbench/internal/pipeline"
	"github.com/expbench/expbench/pkg/types"
)

// unitStage is the rendered exposure resolution: the CTEs that produce one
// row per analysis unit with its assigned variation, first exposure
// timestamp, and optional dimension column.
type unitStage struct {
	// ctes holds "name AS (...)" fragments in dependency order
	ctes []string

	// relation is the CTE name downstream stages read units from
	relation string

	hasDimension bool
}

// buildUnits renders the units stage for one approach. A user exposed to
// multiple variations resolves deterministically to MIN(variation).
func buildUnits(exp *experiment.ExperimentConfig, w *Window, d *dialect.Dialect, approach types.Approach) (*unitStage, error) {
	if approach == types.ApproachOnDemand {
		return buildOnDemandUnits(exp, w, d)
	}
	return buildPreAggUnits(exp, w, d)
}

// dimensionSelect renders the dimension expression inside the exposure
// GROUP BY. The activation-status dimension is resolved later, in the
// exposed CTE, and contributes nothing here.
func dimensionSelect(exp *experiment.ExperimentConfig, d *dialect.Dialect, exposureAlias string, preagg bool) (expr, attrJoin string, err error) {
	dim := exp.Dimension
	if dim == nil || dim.Type == experiment.DimensionActivation {
		return "", "", nil
	}
	switch dim.Type {
	case experiment.DimensionDate:
		if preagg {
			return fmt.Sprintf("MIN(%s.exposure_date)", exposureAlias), "", nil
		}
		return d.DateCast(fmt.Sprintf("MIN(%s.timestamp)", exposureAlias)), "", nil
	case experiment.DimensionExposureColumn:
		return fmt.Sprintf("MIN(%s.%s)", exposureAlias, dim.Column), "", nil
	case experiment.DimensionAttribute:
		join := fmt.Sprintf("JOIN %s attr ON attr.user_id = %s.user_id", dim.Table, exposureAlias)
		return fmt.Sprintf("MIN(attr.%s)", dim.Column), join, nil
	default:
		return "", "", errors.NewRenderError(errors.CodeUnknownEnum,
			fmt.Sprintf("unknown dimension type %q", dim.Type))
	}
}

func buildOnDemandUnits(exp *experiment.ExperimentConfig, w *Window, d *dialect.Dialect) (*unitStage, error) {
	dimExpr, attrJoin, err := dimensionSelect(exp, d, "e", false)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        e.user_id,\n")
	b.WriteString("        MIN(e.variation) AS variation,\n")
	b.WriteString("        MIN(e.timestamp) AS first_exposure_timestamp")
	if dimExpr != "" {
		b.WriteString(",\n        " + dimExpr + " AS dimension")
	}
	b.WriteString("\n    FROM " + exp.ExposureTable + " e")
	if attrJoin != "" {
		b.WriteString("\n    " + attrJoin)
	}
	if exp.Segment != nil {
		b.WriteString(fmt.Sprintf("\n    JOIN %s seg ON seg.user_id = e.user_id", exp.Segment.Table))
	}
	b.WriteString(fmt.Sprintf("\n    WHERE e.experiment_id = '%s'", exp.ExperimentID))
	b.WriteString(fmt.Sprintf("\n      AND e.timestamp >= %s", d.TimestampLiteral(exp.StartDate)))
	b.WriteString(fmt.Sprintf("\n      AND e.timestamp <= %s", d.TimestampLiteral(exp.EndDate)))
	if exp.Segment != nil {
		b.WriteString(fmt.Sprintf("\n      AND (%s)", exp.Segment.Condition))
	}
	b.WriteString("\n    GROUP BY e.user_id")

	stage := &unitStage{
		ctes:         []string{"units AS (\n    " + b.String() + "\n)"},
		relation:     "units",
		hasDimension: dimExpr != "",
	}
	return finishUnits(stage, exp, w, d, types.ApproachOnDemand)
}

func buildPreAggUnits(exp *experiment.ExperimentConfig, w *Window, d *dialect.Dialect) (*unitStage, error) {
	dimExpr, attrJoin, err := dimensionSelect(exp, d, "s", true)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        s.user_id,\n")
	b.WriteString("        MIN(s.variation) AS variation,\n")
	b.WriteString("        MIN(s.first_exposure_timestamp) AS first_exposure_timestamp,\n")
	b.WriteString("        " + d.HourOf("MIN(s.first_exposure_timestamp)") + " AS first_exposure_hour")
	if dimExpr != "" {
		b.WriteString(",\n        " + dimExpr + " AS dimension")
	}
	b.WriteString("\n    FROM " + pipeline.TableExposures + " s")
	if attrJoin != "" {
		b.WriteString("\n    " + attrJoin)
	}
	if exp.Segment != nil {
		b.WriteString(fmt.Sprintf("\n    JOIN %s seg ON seg.user_id = s.user_id", exp.Segment.Table))
	}
	b.WriteString(fmt.Sprintf("\n    WHERE s.experiment_id = '%s'", exp.ExperimentID))
	b.WriteString(fmt.Sprintf("\n      AND s.exposure_date >= %s", d.DateCast(d.TimestampLiteral(exp.StartDate))))
	b.WriteString(fmt.Sprintf("\n      AND s.exposure_date <= %s", d.DateCast(d.TimestampLiteral(exp.EndDate))))
	if exp.Segment != nil {
		b.WriteString(fmt.Sprintf("\n      AND (%s)", exp.Segment.Condition))
	}
	b.WriteString("\n    GROUP BY s.user_id")

	stage := &unitStage{
		ctes:         []string{"units AS (\n    " + b.String() + "\n)"},
		relation:     "units",
		hasDimension: dimExpr != "",
	}
	return finishUnits(stage, exp, w, d, types.ApproachPreAgg)
}

// finishUnits appends the activations CTE and the exposed CTE when the
// experiment needs them. Activation with dimension type "activation" keeps
// unactivated units and labels them; an activation filter drops them.
func finishUnits(stage *unitStage, exp *experiment.ExperimentConfig, w *Window, d *dialect.Dialect, approach types.Approach) (*unitStage, error) {
	activationDim := exp.Dimension != nil && exp.Dimension.Type == experiment.DimensionActivation
	if activationDim && exp.Activation == nil {
		return nil, errors.NewRenderError(errors.CodeMissingField,
			"activation dimension requires an activation spec")
	}

	skipPartial := w.OnDemandSkipPartial("u")
	if approach == types.ApproachPreAgg {
		skipPartial = w.PreAggSkipPartial("u")
	}

	if exp.Activation == nil && skipPartial == "" {
		return stage, nil
	}

	if exp.Activation != nil {
		if approach == types.ApproachOnDemand {
			stage.ctes = append(stage.ctes, onDemandActivations(exp.Activation, w, d))
		} else {
			stage.ctes = append(stage.ctes, preAggActivations(exp.Activation, w, d))
		}
	}

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        u.variation,\n")
	b.WriteString("        u.first_exposure_timestamp")
	if approach == types.ApproachPreAgg {
		b.WriteString(",\n        u.first_exposure_hour")
	}
	switch {
	case activationDim:
		b.WriteString(",\n        CASE WHEN act.user_id IS NOT NULL THEN 'activated' ELSE 'not_activated' END AS dimension")
		stage.hasDimension = true
	case stage.hasDimension:
		b.WriteString(",\n        u.dimension")
	}
	b.WriteString("\n    FROM units u")
	if exp.Activation != nil {
		joinKind := "JOIN"
		if activationDim {
			joinKind = "LEFT JOIN"
		}
		b.WriteString(fmt.Sprintf("\n    %s activations act ON act.user_id = u.user_id", joinKind))
	}
	if skipPartial != "" {
		b.WriteString("\n    WHERE " + skipPartial)
	}

	stage.ctes = append(stage.ctes, "exposed AS (\n    "+b.String()+"\n)")
	stage.relation = "exposed"
	return stage, nil
}

// onDemandActivations scans the raw activation table for each unit's first
// qualifying event at or after exposure.
func onDemandActivations(a *experiment.ActivationSpec, w *Window, d *dialect.Dialect) string {
	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        MIN(act.timestamp) AS first_activation_timestamp\n")
	b.WriteString("    FROM units u\n")
	if a.IDType == experiment.IDTypeAnonymous {
		b.WriteString("    JOIN identity_map idm ON idm.user_id = u.user_id\n")
		b.WriteString(fmt.Sprintf("    JOIN %s act ON act.anonymous_id = idm.anonymous_id", a.Table))
	} else {
		b.WriteString(fmt.Sprintf("    JOIN %s act ON act.user_id = u.user_id", a.Table))
	}
	b.WriteString(fmt.Sprintf("\n    WHERE (%s)", a.Condition))
	b.WriteString("\n      AND act.timestamp >= u.first_exposure_timestamp")
	b.WriteString(fmt.Sprintf("\n      AND act.timestamp <= %s", d.TimestampLiteral(w.exp.EndDate)))
	b.WriteString("\n    GROUP BY u.user_id")
	return "activations AS (\n    " + b.String() + "\n)"
}

// preAggActivations reads the shared activation table, which already
// resolved the condition and identity at build time.
func preAggActivations(a *experiment.ActivationSpec, w *Window, d *dialect.Dialect) string {
	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("        u.user_id,\n")
	b.WriteString("        MIN(act.first_activation_timestamp) AS first_activation_timestamp\n")
	b.WriteString("    FROM units u\n")
	b.WriteString(fmt.Sprintf("    JOIN %s act ON act.user_id = u.user_id", pipeline.TableActivations))
	b.WriteString(fmt.Sprintf("\n    WHERE act.activation_id = '%s'", a.Key()))
	b.WriteString(fmt.Sprintf("\n      AND act.activation_date >= %s", d.DateCast("u.first_exposure_timestamp")))
	b.WriteString(fmt.Sprintf("\n      AND act.activation_date <= %s", d.DateCast(d.TimestampLiteral(w.exp.EndDate))))
	b.WriteString("\n    GROUP BY u.user_id")
	return "activations AS (\n    " + b.String() + "\n)"
}
