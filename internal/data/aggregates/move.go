package aggregates

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/data/repos"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

func (a *collectionAggregate) MoveChild(ctx context.Context, in domainagg.MoveInput) (ordering.Membership, error) {
	const op = opMoveChild
	var out ordering.Membership

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	from, err := a.loadParent(ctx, op, rel, in.FromParentID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := a.authorize(ctx, op, in.ActorID, from.OrgID, ordering.ActionMove); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	to := from
	if in.ToParentID != in.FromParentID {
		if to, err = a.loadParent(ctx, op, rel, in.ToParentID); err != nil {
			return out, rejectEarly(a.deps.Base, op, err)
		}
	}
	child, err := a.loadChild(ctx, op, rel, in.ChildID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := RequireSameOrg(op, from, to, child); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	existing, err := a.deps.Members.Get(read(ctx), rel, in.FromParentID, in.ChildID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if existing == nil {
		return out, rejectEarly(a.deps.Base, op, reasonError(domainagg.CodeNotFound, domainagg.ReasonMembershipNotFound, op,
			fmt.Sprintf("%s %s not in %s %s", rel.ChildTable, in.ChildID, rel.ParentTable, in.FromParentID), nil))
	}

	if in.FromParentID == in.ToParentID {
		err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
			m, err := a.reposition(dbc, op, rel, in.FromParentID, in.ChildID, in.Position)
			out = m
			return err
		})
		return out, err
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		first, second := lockOrder(in.FromParentID, in.ToParentID)
		locked := make(map[uuid.UUID]*repos.Node, 2)
		for _, id := range []uuid.UUID{first, second} {
			n, err := a.lockParent(dbc, op, rel, id)
			if err != nil {
				return err
			}
			locked[id] = n
		}

		m, err := a.deps.Members.Get(dbc, rel, in.FromParentID, in.ChildID)
		if err != nil {
			return err
		}
		if m == nil {
			return reasonError(domainagg.CodeRetryable, domainagg.ReasonAlreadyRemoved, op,
				fmt.Sprintf("%s %s was removed concurrently", rel.ChildTable, in.ChildID), nil)
		}
		dup, err := a.deps.Members.Get(dbc, rel, in.ToParentID, in.ChildID)
		if err != nil {
			return err
		}
		if dup != nil {
			return duplicateMembership(op, rel, in.ToParentID, in.ChildID)
		}

		nFrom, err := a.deps.Members.Count(dbc, rel, in.FromParentID)
		if err != nil {
			return err
		}
		down, err := ordering.RemoveShift(m.Position, nFrom)
		if err != nil {
			return InvariantError(fmt.Sprintf("%s %s: %v", rel.ParentTable, in.FromParentID, err))
		}
		nTo, err := a.deps.Members.Count(dbc, rel, in.ToParentID)
		if err != nil {
			return err
		}
		p, up := ordering.InsertShift(in.Position, nTo)

		// open the target slot, repoint the row, then close the source gap
		if !up.Empty(nTo) {
			if err := a.deps.Members.Shift(dbc, rel, in.ToParentID, up); err != nil {
				return err
			}
		}
		if err := a.deps.Members.Move(dbc, rel, in.FromParentID, in.ToParentID, in.ChildID, p); err != nil {
			return err
		}
		if !down.Empty(nFrom) {
			if err := a.deps.Members.Shift(dbc, rel, in.FromParentID, down); err != nil {
				return err
			}
		}

		// same visibility rule as attach
		if target := locked[in.ToParentID]; !target.IsPublished {
			if err := a.deps.Nodes.SetPublished(dbc, rel.ChildTable, in.ChildID, true); err != nil {
				return err
			}
		}
		out = ordering.Membership{Relation: rel.Name, ParentID: in.ToParentID, ChildID: in.ChildID, Position: p}
		return nil
	})
	return out, err
}

// reposition moves a child within one parent by planning the result in
// memory and writing it as a permutation.
func (a *collectionAggregate) reposition(dbc dbctx.Context, op string, rel ordering.Relation, parentID, childID uuid.UUID, position int) (ordering.Membership, error) {
	if _, err := a.lockParent(dbc, op, rel, parentID); err != nil {
		return ordering.Membership{}, err
	}
	rows, err := a.deps.Members.List(dbc, rel, parentID)
	if err != nil {
		return ordering.Membership{}, err
	}
	slots := make([]ordering.Slot, len(rows))
	for i, r := range rows {
		slots[i] = ordering.Slot{ChildID: r.ChildID, Position: r.Position}
	}
	rest, _, err := ordering.ApplyRemove(slots, childID)
	if err != nil {
		return ordering.Membership{}, reasonError(domainagg.CodeRetryable, domainagg.ReasonAlreadyRemoved, op,
			fmt.Sprintf("%s %s was removed concurrently", rel.ChildTable, childID), err)
	}
	planned, p := ordering.ApplyInsert(rest, childID, position)
	assignments := make([]ordering.Assignment, len(planned))
	for i, s := range planned {
		assignments[i] = ordering.Assignment{ChildID: s.ChildID, Position: s.Position}
	}
	if err := a.deps.Members.Assign(dbc, rel, parentID, assignments); err != nil {
		return ordering.Membership{}, err
	}
	return ordering.Membership{Relation: rel.Name, ParentID: parentID, ChildID: childID, Position: p}, nil
}
