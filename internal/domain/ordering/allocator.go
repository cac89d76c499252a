package ordering

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrInvalidPermutation = errors.New("invalid permutation")
	ErrUnknownChild       = errors.New("child not in collection")
)

// Shift moves every row with position >= From by Delta.
type Shift struct {
	From  int
	Delta int
}

// Empty reports whether applying the shift would touch nothing in a
// collection of n rows.
func (s Shift) Empty(n int) bool {
	return s.Delta == 0 || s.From >= n
}

// ParkOffset is the constant used by the two-phase update that keeps
// (parent, position) unique while a shift is in flight: phase one rewrites
// p to -(p + ParkOffset), phase two rewrites every negative q to -q - 1,
// which lands on p + Delta.
func (s Shift) ParkOffset() int { return 1 + s.Delta }

// Park maps a final position onto a negative placeholder that cannot
// collide with any live position.
func Park(position int) int { return -(position + 1) }

// Unpark inverts Park.
func Unpark(parked int) int { return -parked - 1 }

// ClampInsert pins an insert position to [0, n]; n is the append slot.
func ClampInsert(position, n int) int {
	if n < 0 {
		n = 0
	}
	switch {
	case position < 0:
		return 0
	case position > n:
		return n
	default:
		return position
	}
}

// InsertShift returns the clamped insert position and the shift that opens
// a gap there.
func InsertShift(position, n int) (int, Shift) {
	p := ClampInsert(position, n)
	return p, Shift{From: p, Delta: 1}
}

// RemoveShift returns the shift that closes the gap left by removing the
// row at position.
func RemoveShift(position, n int) (Shift, error) {
	if position < 0 || position >= n {
		return Shift{}, fmt.Errorf("%w: %d not in [0,%d)", ErrPositionOutOfRange, position, n)
	}
	return Shift{From: position + 1, Delta: -1}, nil
}

// Assignment pins a child to a position in a reorder request.
type Assignment struct {
	ChildID  uuid.UUID `json:"child_id"`
	Position int       `json:"position"`
}

// PermutationError lists everything wrong with a reorder request.
type PermutationError struct {
	Expected           int
	Got                int
	Missing            []uuid.UUID
	Unknown            []uuid.UUID
	DuplicateChildren  []uuid.UUID
	DuplicatePositions []int
	OutOfRange         []int
}

func (e *PermutationError) Error() string {
	parts := []string{fmt.Sprintf("expected %d assignments, got %d", e.Expected, e.Got)}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %d children", len(e.Missing)))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("%d unknown children", len(e.Unknown)))
	}
	if len(e.DuplicateChildren) > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicated children", len(e.DuplicateChildren)))
	}
	if len(e.DuplicatePositions) > 0 {
		parts = append(parts, fmt.Sprintf("duplicated positions %v", e.DuplicatePositions))
	}
	if len(e.OutOfRange) > 0 {
		parts = append(parts, fmt.Sprintf("positions out of range %v", e.OutOfRange))
	}
	return "invalid permutation: " + strings.Join(parts, "; ")
}

func (e *PermutationError) Unwrap() error { return ErrInvalidPermutation }

func (e *PermutationError) empty() bool {
	return e.Expected == e.Got &&
		len(e.Missing) == 0 &&
		len(e.Unknown) == 0 &&
		len(e.DuplicateChildren) == 0 &&
		len(e.DuplicatePositions) == 0 &&
		len(e.OutOfRange) == 0
}

// ValidatePermutation accepts assignments only if they place every current
// child exactly once onto exactly the positions 0..n-1. The result is sorted
// by position.
func ValidatePermutation(current []uuid.UUID, assignments []Assignment) ([]Assignment, error) {
	n := len(current)
	perr := &PermutationError{Expected: n, Got: len(assignments)}

	known := make(map[uuid.UUID]struct{}, n)
	for _, id := range current {
		known[id] = struct{}{}
	}
	seenChild := make(map[uuid.UUID]struct{}, len(assignments))
	seenPos := make(map[int]struct{}, len(assignments))
	for _, a := range assignments {
		if _, ok := known[a.ChildID]; !ok {
			perr.Unknown = append(perr.Unknown, a.ChildID)
		}
		if _, dup := seenChild[a.ChildID]; dup {
			perr.DuplicateChildren = append(perr.DuplicateChildren, a.ChildID)
		}
		seenChild[a.ChildID] = struct{}{}

		if a.Position < 0 || a.Position >= n {
			perr.OutOfRange = append(perr.OutOfRange, a.Position)
			continue
		}
		if _, dup := seenPos[a.Position]; dup {
			perr.DuplicatePositions = append(perr.DuplicatePositions, a.Position)
		}
		seenPos[a.Position] = struct{}{}
	}
	for _, id := range current {
		if _, ok := seenChild[id]; !ok {
			perr.Missing = append(perr.Missing, id)
		}
	}
	if !perr.empty() {
		return nil, perr
	}

	out := make([]Assignment, len(assignments))
	copy(out, assignments)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// Contiguous reports whether positions are exactly {0..len-1}.
func Contiguous(positions []int) bool {
	seen := make([]bool, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(positions) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

// Slot is an in-memory membership used to plan and verify orderings.
type Slot struct {
	ChildID  uuid.UUID
	Position int
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Position < slots[j].Position })
}

// ApplyInsert mirrors what the store does on insert: clamp, shift, place.
func ApplyInsert(slots []Slot, child uuid.UUID, position int) ([]Slot, int) {
	p, shift := InsertShift(position, len(slots))
	out := make([]Slot, 0, len(slots)+1)
	for _, s := range slots {
		if s.Position >= shift.From {
			s.Position += shift.Delta
		}
		out = append(out, s)
	}
	out = append(out, Slot{ChildID: child, Position: p})
	sortSlots(out)
	return out, p
}

// ApplyRemove mirrors what the store does on remove.
func ApplyRemove(slots []Slot, child uuid.UUID) ([]Slot, Slot, error) {
	idx := -1
	for i, s := range slots {
		if s.ChildID == child {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, Slot{}, ErrUnknownChild
	}
	removed := slots[idx]
	shift, err := RemoveShift(removed.Position, len(slots))
	if err != nil {
		return nil, Slot{}, err
	}
	out := make([]Slot, 0, len(slots)-1)
	for i, s := range slots {
		if i == idx {
			continue
		}
		if s.Position >= shift.From {
			s.Position += shift.Delta
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, removed, nil
}

// Compact renumbers slots to 0..n-1 keeping their relative order. It is the
// repair step for collections that drifted (gaps or duplicates).
func Compact(slots []Slot) ([]Slot, bool) {
	out := make([]Slot, len(slots))
	copy(out, slots)
	sortSlots(out)
	changed := false
	for i := range out {
		if out[i].Position != i {
			out[i].Position = i
			changed = true
		}
	}
	return out, changed
}
