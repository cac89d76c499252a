package aggregates

import (
	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

// deleteOwned deletes every membership the node holds as a parent, along
// with exclusive children and any shared child left without a parent. The
// node itself is left for the caller. Locks are taken top-down (node, then
// children) like every other write path.
func (a *collectionAggregate) deleteOwned(dbc dbctx.Context, table string, id uuid.UUID) error {
	rels := a.deps.Relations.ChildrenOf(table)
	if len(rels) == 0 {
		return nil
	}
	if _, err := a.deps.Locker.AcquireExclusive(dbc, table, id); err != nil {
		return err
	}
	for _, rel := range rels {
		rows, err := a.deps.Members.List(dbc, rel, id)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if rel.Embedded() {
				if err := a.deleteOwned(dbc, rel.ChildTable, r.ChildID); err != nil {
					return err
				}
			}
			if _, err := a.deps.Members.Delete(dbc, rel, id, r.ChildID); err != nil {
				return err
			}
			if !rel.Embedded() {
				if err := a.releaseShared(dbc, rel, r.ChildID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// releaseShared deletes a shared child once its last membership is gone.
// The child row lock makes the count and the delete atomic with respect to
// a concurrent attach.
func (a *collectionAggregate) releaseShared(dbc dbctx.Context, rel ordering.Relation, childID uuid.UUID) error {
	child, err := a.deps.Nodes.LockByID(dbc, rel.ChildTable, childID)
	if err != nil {
		return err
	}
	if child == nil {
		return nil
	}
	remaining := 0
	for _, parentRel := range a.deps.Relations.ParentsOf(rel.ChildTable) {
		if parentRel.Embedded() {
			continue
		}
		n, err := a.deps.Members.CountForChild(dbc, parentRel, childID)
		if err != nil {
			return err
		}
		remaining += n
	}
	if remaining > 0 {
		return nil
	}
	if err := a.deleteOwned(dbc, rel.ChildTable, childID); err != nil {
		return err
	}
	if _, err := a.deps.Nodes.Delete(dbc, rel.ChildTable, childID); err != nil {
		return err
	}
	a.deps.Base.Log.Debug("deleted orphaned child", "relation", rel.Name, "child_id", childID)
	return nil
}
