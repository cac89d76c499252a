package ordering

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Membership is the (parent, child, position) unit the store manages.
type Membership struct {
	Relation RelationName `json:"relation"`
	ParentID uuid.UUID    `json:"parent_id"`
	ChildID  uuid.UUID    `json:"child_id"`
	Position int          `json:"position"`
}

// Child is an ordered entity as seen through one of its memberships.
type Child struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"org_id"`
	Title       string         `json:"title"`
	IsPublished bool           `json:"is_published"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Membership Membership `json:"membership"`
}

// Attrs are the caller-supplied fields of a new child.
type Attrs struct {
	Title    string         `json:"title"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`
}

// Action names what a caller is trying to do to a parent's collection.
type Action string

const (
	ActionCreate  Action = "create"
	ActionAttach  Action = "attach"
	ActionRemove  Action = "remove"
	ActionReorder Action = "reorder"
	ActionMove    Action = "move"
	ActionRepair  Action = "repair"

	ActionRead Action = "read"
)

// Mutating reports whether the action changes positions.
func (a Action) Mutating() bool {
	switch a {
	case ActionCreate, ActionAttach, ActionRemove, ActionReorder, ActionMove, ActionRepair:
		return true
	default:
		return false
	}
}

// IntegrityReport describes how a parent's positions deviate from 0..n-1.
type IntegrityReport struct {
	Relation           RelationName `json:"relation"`
	ParentID           uuid.UUID    `json:"parent_id"`
	Count              int          `json:"count"`
	Contiguous         bool         `json:"contiguous"`
	Gaps               []int        `json:"gaps,omitempty"`
	DuplicatePositions []int        `json:"duplicate_positions,omitempty"`
	Repaired           bool         `json:"repaired"`
}

// Inspect builds an IntegrityReport from raw positions.
func Inspect(rel RelationName, parentID uuid.UUID, positions []int) IntegrityReport {
	rep := IntegrityReport{Relation: rel, ParentID: parentID, Count: len(positions)}
	counts := make(map[int]int, len(positions))
	for _, p := range positions {
		counts[p]++
	}
	for i := 0; i < len(positions); i++ {
		if counts[i] == 0 {
			rep.Gaps = append(rep.Gaps, i)
		}
	}
	for p, c := range counts {
		if c > 1 {
			rep.DuplicatePositions = append(rep.DuplicatePositions, p)
		}
	}
	sort.Ints(rep.DuplicatePositions)
	rep.Contiguous = Contiguous(positions)
	return rep
}
