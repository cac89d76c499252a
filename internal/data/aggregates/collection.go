package aggregates

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/data/repos"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

const (
	opCreateChild     = "collection.CreateChild"
	opAttachExisting  = "collection.AttachExisting"
	opRemoveChild     = "collection.RemoveChild"
	opReorderChildren = "collection.ReorderChildren"
	opMoveChild       = "collection.MoveChild"
	opRepairPositions = "collection.RepairPositions"
)

type CollectionAggregateDeps struct {
	Base BaseDeps

	Relations *ordering.Registry
	Nodes     repos.NodeRepo
	Members   repos.MembershipRepo
	Locker    repos.Locker
	Gate      domainagg.Gate
}

type collectionAggregate struct {
	deps CollectionAggregateDeps
}

func NewCollectionAggregate(deps CollectionAggregateDeps) domainagg.CollectionAggregate {
	deps.Base = deps.Base.withDefaults()
	if deps.Relations == nil {
		deps.Relations = ordering.DefaultRegistry()
	}
	if deps.Locker == nil && deps.Nodes != nil {
		deps.Locker = repos.NewLocker("row", "", deps.Nodes)
	}
	return &collectionAggregate{deps: deps}
}

func (a *collectionAggregate) Contract() domainagg.Contract {
	return domainagg.CollectionAggregateContract
}

func (a *collectionAggregate) relation(op string, name ordering.RelationName) (ordering.Relation, error) {
	if a.deps.Nodes == nil || a.deps.Members == nil || a.deps.Locker == nil || a.deps.Gate == nil {
		return ordering.Relation{}, domainagg.NewError(domainagg.CodeInternal, op, "collection aggregate deps not configured", nil)
	}
	rel, ok := a.deps.Relations.Lookup(name)
	if !ok {
		return ordering.Relation{}, reasonError(domainagg.CodeValidation, domainagg.ReasonUnknownRelation, op,
			fmt.Sprintf("unknown relation %q", name), nil)
	}
	return rel, nil
}

// read is the connection used for pre-checks. They run before the
// transaction opens and are repeated under lock where a race matters.
func read(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

func (a *collectionAggregate) loadParent(ctx context.Context, op string, rel ordering.Relation, id uuid.UUID) (*repos.Node, error) {
	if id == uuid.Nil {
		return nil, ValidationError("missing parent_id")
	}
	n, err := a.deps.Nodes.Get(read(ctx), rel.ParentTable, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, reasonError(domainagg.CodeNotFound, domainagg.ReasonParentNotFound, op,
			fmt.Sprintf("%s not found: %s", rel.ParentTable, id), nil)
	}
	return n, nil
}

func (a *collectionAggregate) loadChild(ctx context.Context, op string, rel ordering.Relation, id uuid.UUID) (*repos.Node, error) {
	if id == uuid.Nil {
		return nil, ValidationError("missing child_id")
	}
	n, err := a.deps.Nodes.Get(read(ctx), rel.ChildTable, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, reasonError(domainagg.CodeNotFound, domainagg.ReasonChildNotFound, op,
			fmt.Sprintf("%s not found: %s", rel.ChildTable, id), nil)
	}
	return n, nil
}

func (a *collectionAggregate) authorize(ctx context.Context, op string, actorID, orgID uuid.UUID, action ordering.Action) error {
	ok, err := a.deps.Gate.Authorize(ctx, actorID, orgID, action)
	if err != nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "permission check failed", err)
	}
	if !ok {
		return reasonError(domainagg.CodeForbidden, domainagg.ReasonForbidden, op,
			fmt.Sprintf("actor %s may not %s in org %s", actorID, action, orgID), nil)
	}
	return nil
}

// lockParent takes the per-parent serialization point. A parent that passed
// the pre-check but is gone now was deleted concurrently.
func (a *collectionAggregate) lockParent(dbc dbctx.Context, op string, rel ordering.Relation, id uuid.UUID) (*repos.Node, error) {
	n, err := a.deps.Locker.AcquireExclusive(dbc, rel.ParentTable, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, raceLost(op, fmt.Sprintf("%s %s vanished before lock", rel.ParentTable, id))
	}
	return n, nil
}

func (a *collectionAggregate) CreateChild(ctx context.Context, in domainagg.CreateChildInput) (ordering.Child, error) {
	const op = opCreateChild
	var out ordering.Child

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	parent, err := a.loadParent(ctx, op, rel, in.ParentID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := a.authorize(ctx, op, in.ActorID, parent.OrgID, ordering.ActionCreate); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		locked, err := a.lockParent(dbc, op, rel, in.ParentID)
		if err != nil {
			return err
		}
		n, err := a.deps.Members.Count(dbc, rel, in.ParentID)
		if err != nil {
			return err
		}
		p, shift := ordering.InsertShift(in.Position, n)
		if !shift.Empty(n) {
			if err := a.deps.Members.Shift(dbc, rel, in.ParentID, shift); err != nil {
				return err
			}
		}

		// new children start hidden under a published parent and visible
		// under a draft one
		node := &repos.Node{
			OrgID:       locked.OrgID,
			Title:       strings.TrimSpace(in.Attrs.Title),
			IsPublished: !locked.IsPublished,
			Metadata:    in.Attrs.Metadata,
		}
		if rel.Embedded() {
			if err := a.deps.Nodes.Insert(dbc, rel.ChildTable, node, map[string]interface{}{
				rel.ParentColumn:   in.ParentID,
				rel.PositionColumn: p,
			}); err != nil {
				return err
			}
		} else {
			if err := a.deps.Nodes.Insert(dbc, rel.ChildTable, node, nil); err != nil {
				return err
			}
			if err := a.deps.Members.Insert(dbc, rel, in.ParentID, node.ID, p); err != nil {
				return err
			}
		}
		out = node.AsChild(rel.Name, in.ParentID, p)
		return nil
	})
	return out, err
}

func (a *collectionAggregate) AttachExisting(ctx context.Context, in domainagg.AttachInput) (ordering.Membership, error) {
	const op = opAttachExisting
	var out ordering.Membership

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if !rel.Shared() {
		return out, rejectEarly(a.deps.Base, op, reasonError(domainagg.CodeValidation, domainagg.ReasonSharingUnsupported, op,
			fmt.Sprintf("%s children belong to exactly one parent", rel.Name), nil))
	}
	parent, err := a.loadParent(ctx, op, rel, in.ParentID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	// authorize before anything about the child is revealed
	if err := a.authorize(ctx, op, in.ActorID, parent.OrgID, ordering.ActionAttach); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	child, err := a.loadChild(ctx, op, rel, in.ChildID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := RequireSameOrg(op, parent, child); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	existing, err := a.deps.Members.Get(read(ctx), rel, in.ParentID, in.ChildID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if existing != nil {
		return out, rejectEarly(a.deps.Base, op, duplicateMembership(op, rel, in.ParentID, in.ChildID))
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		locked, err := a.lockParent(dbc, op, rel, in.ParentID)
		if err != nil {
			return err
		}
		// the child row lock orders this attach against a concurrent removal
		// of the child's last membership
		lockedChild, err := a.deps.Nodes.LockByID(dbc, rel.ChildTable, in.ChildID)
		if err != nil {
			return err
		}
		if lockedChild == nil {
			return raceLost(op, fmt.Sprintf("%s %s vanished before lock", rel.ChildTable, in.ChildID))
		}
		again, err := a.deps.Members.Get(dbc, rel, in.ParentID, in.ChildID)
		if err != nil {
			return err
		}
		if again != nil {
			return duplicateMembership(op, rel, in.ParentID, in.ChildID)
		}

		n, err := a.deps.Members.Count(dbc, rel, in.ParentID)
		if err != nil {
			return err
		}
		p, shift := ordering.InsertShift(in.Position, n)
		if !shift.Empty(n) {
			if err := a.deps.Members.Shift(dbc, rel, in.ParentID, shift); err != nil {
				return err
			}
		}
		if err := a.deps.Members.Insert(dbc, rel, in.ParentID, in.ChildID, p); err != nil {
			return err
		}
		if !locked.IsPublished && !lockedChild.IsPublished {
			if err := a.deps.Nodes.SetPublished(dbc, rel.ChildTable, in.ChildID, true); err != nil {
				return err
			}
		}
		out = ordering.Membership{Relation: rel.Name, ParentID: in.ParentID, ChildID: in.ChildID, Position: p}
		return nil
	})
	return out, err
}

func duplicateMembership(op string, rel ordering.Relation, parentID, childID uuid.UUID) error {
	return reasonError(domainagg.CodeConflict, domainagg.ReasonDuplicateMembership, op,
		fmt.Sprintf("%s %s already in %s %s", rel.ChildTable, childID, rel.ParentTable, parentID), nil)
}

func (a *collectionAggregate) RemoveChild(ctx context.Context, in domainagg.RemoveInput) (ordering.Membership, error) {
	const op = opRemoveChild
	var out ordering.Membership

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	parent, err := a.loadParent(ctx, op, rel, in.ParentID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if err := a.authorize(ctx, op, in.ActorID, parent.OrgID, ordering.ActionRemove); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if _, err := a.loadChild(ctx, op, rel, in.ChildID); err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	existing, err := a.deps.Members.Get(read(ctx), rel, in.ParentID, in.ChildID)
	if err != nil {
		return out, rejectEarly(a.deps.Base, op, err)
	}
	if existing == nil {
		return out, rejectEarly(a.deps.Base, op, reasonError(domainagg.CodeNotFound, domainagg.ReasonMembershipNotFound, op,
			fmt.Sprintf("%s %s not in %s %s", rel.ChildTable, in.ChildID, rel.ParentTable, in.ParentID), nil))
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if _, err := a.lockParent(dbc, op, rel, in.ParentID); err != nil {
			return err
		}
		m, err := a.deps.Members.Get(dbc, rel, in.ParentID, in.ChildID)
		if err != nil {
			return err
		}
		if m == nil {
			return reasonError(domainagg.CodeRetryable, domainagg.ReasonAlreadyRemoved, op,
				fmt.Sprintf("%s %s was removed concurrently", rel.ChildTable, in.ChildID), nil)
		}
		n, err := a.deps.Members.Count(dbc, rel, in.ParentID)
		if err != nil {
			return err
		}
		shift, err := ordering.RemoveShift(m.Position, n)
		if err != nil {
			return InvariantError(fmt.Sprintf("%s %s: %v", rel.ParentTable, in.ParentID, err))
		}

		if rel.Embedded() {
			// the membership row is the child; clear what it owns first
			if err := a.deleteOwned(dbc, rel.ChildTable, in.ChildID); err != nil {
				return err
			}
		}
		affected, err := a.deps.Members.Delete(dbc, rel, in.ParentID, in.ChildID)
		if err != nil {
			return err
		}
		if err := RequireRowsAffected(op, affected, 1, "delete membership"); err != nil {
			return err
		}
		if !shift.Empty(n) {
			if err := a.deps.Members.Shift(dbc, rel, in.ParentID, shift); err != nil {
				return err
			}
		}
		if !rel.Embedded() {
			if err := a.releaseShared(dbc, rel, in.ChildID); err != nil {
				return err
			}
		}
		out = ordering.Membership{Relation: rel.Name, ParentID: in.ParentID, ChildID: in.ChildID, Position: m.Position}
		return nil
	})
	return out, err
}

func (a *collectionAggregate) ReorderChildren(ctx context.Context, in domainagg.ReorderInput) ([]ordering.Membership, error) {
	const op = opReorderChildren
	var out []ordering.Membership

	rel, err := a.relation(op, in.Relation)
	if err != nil {
		return nil, rejectEarly(a.deps.Base, op, err)
	}
	parent, err := a.loadParent(ctx, op, rel, in.ParentID)
	if err != nil {
		return nil, rejectEarly(a.deps.Base, op, err)
	}
	if err := a.authorize(ctx, op, in.ActorID, parent.OrgID, ordering.ActionReorder); err != nil {
		return nil, rejectEarly(a.deps.Base, op, err)
	}

	err = executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if _, err := a.lockParent(dbc, op, rel, in.ParentID); err != nil {
			return err
		}
		rows, err := a.deps.Members.List(dbc, rel, in.ParentID)
		if err != nil {
			return err
		}
		current := make([]uuid.UUID, len(rows))
		for i, r := range rows {
			current[i] = r.ChildID
		}
		sorted, err := ordering.ValidatePermutation(current, in.Assignments)
		if err != nil {
			return reasonError(domainagg.CodeConflict, domainagg.ReasonInvalidPermutation, op, err.Error(), err)
		}
		if err := a.deps.Members.Assign(dbc, rel, in.ParentID, sorted); err != nil {
			return err
		}
		out = make([]ordering.Membership, len(sorted))
		for i, s := range sorted {
			out[i] = ordering.Membership{Relation: rel.Name, ParentID: in.ParentID, ChildID: s.ChildID, Position: s.Position}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
