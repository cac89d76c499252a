package aggregates

import (
	"context"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

// RepairPositions renumbers a parent's children to 0..n-1. Relative order
// is kept; rows sharing a position keep creation order.
func (a *collectionAggregate) RepairPositions(ctx context.Context, in domainagg.RepairInput) (ordering.IntegrityReport, error) {
	const op = opRepairPositions
	var out ordering.IntegrityReport

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	parent, err := a.loadParent(ctx, op, rel, in.ParentID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := a.authorize(ctx, op, in.ActorID, parent.OrgID, ordering.ActionRepair); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if _, err := a.lockParent(dbc, op, rel, in.ParentID); err != nil {
			return err
		}
		rows, err := a.deps.Members.List(dbc, rel, in.ParentID)
		if err != nil {
			return err
		}
		positions := make([]int, len(rows))
		slots := make([]ordering.Slot, len(rows))
		for i, r := range rows {
			positions[i] = r.Position
			slots[i] = ordering.Slot{ChildID: r.ChildID, Position: r.Position}
		}
		out = ordering.Inspect(rel.Name, in.ParentID, positions)
		if out.Contiguous {
			return nil
		}
		a.deps.Base.Hooks.IncIntegrityViolation(string(rel.Name))
		a.deps.Base.Log.Warn("repairing positions", "relation", rel.Name, "parent_id", in.ParentID,
			"gaps", out.Gaps, "duplicates", out.DuplicatePositions)

		// List already ordered ties by created_at then id; Compact is stable
		compacted, changed := ordering.Compact(slots)
		if !changed {
			return nil
		}
		assignments := make([]ordering.Assignment, len(compacted))
		for i, s := range compacted {
			assignments[i] = ordering.Assignment{ChildID: s.ChildID, Position: s.Position}
		}
		if err := a.deps.Members.Assign(dbc, rel, in.ParentID, assignments); err != nil {
			return err
		}
		out.Repaired = true
		return nil
	})
	return out, err
}
