package aggregates

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/domain/ordering"
)

var CollectionAggregateContract = Contract{
	Name:        "CollectionAggregate",
	TxOwnership: TxOwnedByAggregate,
	// Cross-parent moves lock both parents in ascending id order.
	LockOrder: []string{"parent", "child"},
	Notes:     "Contiguous zero-based positions per parent, shared-child reference counts, publish defaults.",
}

// Gate decides whether actor may perform action on collections owned by org.
// It is consulted once per mutating call, before any lock is taken.
type Gate interface {
	Authorize(ctx context.Context, actorID, orgID uuid.UUID, action ordering.Action) (bool, error)
}

// CollectionAggregate owns ordered parent/child collections.
//
// Write method failures return *aggregates.Error with codes:
// CodeValidation, CodeNotFound, CodeForbidden, CodeConflict, CodeRetryable,
// CodeCanceled, CodeInternal.
// Reason narrows the failure (parent_not_found, org_mismatch, race_lost, ...).
type CollectionAggregate interface {
	Aggregate

	// CreateChild creates a child and inserts it at Position, shifting later siblings down.
	CreateChild(ctx context.Context, in CreateChildInput) (ordering.Child, error)

	// AttachExisting links an existing child into a shared relation at Position.
	AttachExisting(ctx context.Context, in AttachInput) (ordering.Membership, error)

	// RemoveChild deletes one membership and closes the gap. A child left with
	// no memberships is deleted along with everything it owns.
	RemoveChild(ctx context.Context, in RemoveInput) (ordering.Membership, error)

	// ReorderChildren applies a full permutation of the parent's children.
	ReorderChildren(ctx context.Context, in ReorderInput) ([]ordering.Membership, error)

	// MoveChild moves a membership from one parent to another (or within one).
	MoveChild(ctx context.Context, in MoveInput) (ordering.Membership, error)

	// RepairPositions compacts a drifted parent back to 0..n-1.
	RepairPositions(ctx context.Context, in RepairInput) (ordering.IntegrityReport, error)
}

type CreateChildInput struct {
	ActorID  uuid.UUID
	Relation ordering.RelationName
	ParentID uuid.UUID
	Position int
	Attrs    ordering.Attrs
}

type AttachInput struct {
	ActorID  uuid.UUID
	Relation ordering.RelationName
	ParentID uuid.UUID
	ChildID  uuid.UUID
	Position int
}

type RemoveInput struct {
	ActorID  uuid.UUID
	Relation ordering.RelationName
	ParentID uuid.UUID
	ChildID  uuid.UUID
}

type ReorderInput struct {
	ActorID     uuid.UUID
	Relation    ordering.RelationName
	ParentID    uuid.UUID
	Assignments []ordering.Assignment
}

type MoveInput struct {
	ActorID      uuid.UUID
	Relation     ordering.RelationName
	ChildID      uuid.UUID
	FromParentID uuid.UUID
	ToParentID   uuid.UUID
	Position     int
}

type RepairInput struct {
	ActorID  uuid.UUID
	Relation ordering.RelationName
	ParentID uuid.UUID
}
