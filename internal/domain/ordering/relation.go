// Package ordering holds the storage-independent rules for ordered parent/child
// collections: which relations exist, how positions shift on insert/remove,
// and what a valid bulk reorder looks like.
package ordering

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Mode says whether a child belongs to exactly one parent or may be linked
// into several.
type Mode string

const (
	ModeExclusive Mode = "exclusive"
	ModeShared    Mode = "shared"
)

type RelationName string

const (
	CourseChapter  RelationName = "course_chapter"
	ChapterLesson  RelationName = "chapter_lesson"
	LessonActivity RelationName = "lesson_activity"
)

// Relation describes where the membership rows of one parent/child pairing
// live. Exclusive relations embed the membership in the child row
// (MembershipTable == ChildTable, ChildColumn == "id"); shared relations use
// a join table.
type Relation struct {
	Name            RelationName
	Mode            Mode
	ParentTable     string
	ChildTable      string
	MembershipTable string
	ParentColumn    string
	ChildColumn     string
	PositionColumn  string
}

func (r Relation) Shared() bool { return r.Mode == ModeShared }

// Embedded reports whether deleting the membership row deletes the child.
func (r Relation) Embedded() bool {
	return r.MembershipTable == r.ChildTable && r.ChildColumn == "id"
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the descriptor. Table and column names end up in SQL text,
// so only lower-case identifiers are accepted.
func (r Relation) Validate() error {
	if strings.TrimSpace(string(r.Name)) == "" {
		return fmt.Errorf("relation name required")
	}
	for label, ident := range map[string]string{
		"parent_table":     r.ParentTable,
		"child_table":      r.ChildTable,
		"membership_table": r.MembershipTable,
		"parent_column":    r.ParentColumn,
		"child_column":     r.ChildColumn,
		"position_column":  r.PositionColumn,
	} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("relation %s: invalid %s %q", r.Name, label, ident)
		}
	}
	switch r.Mode {
	case ModeExclusive:
		if !r.Embedded() {
			return fmt.Errorf("relation %s: exclusive relations must embed membership in the child row", r.Name)
		}
	case ModeShared:
		if r.Embedded() {
			return fmt.Errorf("relation %s: shared relations need a join table", r.Name)
		}
	default:
		return fmt.Errorf("relation %s: unknown mode %q", r.Name, r.Mode)
	}
	if r.ParentTable == r.ChildTable {
		return fmt.Errorf("relation %s: self-referencing relations are not supported", r.Name)
	}
	return nil
}

// Registry indexes relations by name and by parent table so deletes can
// cascade through every collection an entity owns.
type Registry struct {
	byName   map[RelationName]Relation
	byParent map[string][]Relation
	byChild  map[string][]Relation
}

func NewRegistry(rels ...Relation) (*Registry, error) {
	reg := &Registry{
		byName:   make(map[RelationName]Relation, len(rels)),
		byParent: make(map[string][]Relation),
		byChild:  make(map[string][]Relation),
	}
	for _, rel := range rels {
		if err := reg.Register(rel); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) Register(rel Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	if _, dup := r.byName[rel.Name]; dup {
		return fmt.Errorf("relation %s already registered", rel.Name)
	}
	r.byName[rel.Name] = rel
	r.byParent[rel.ParentTable] = append(r.byParent[rel.ParentTable], rel)
	r.byChild[rel.ChildTable] = append(r.byChild[rel.ChildTable], rel)
	return nil
}

func (r *Registry) Lookup(name RelationName) (Relation, bool) {
	if r == nil {
		return Relation{}, false
	}
	rel, ok := r.byName[name]
	return rel, ok
}

// ChildrenOf returns every relation in which table is the parent.
func (r *Registry) ChildrenOf(table string) []Relation {
	if r == nil {
		return nil
	}
	return r.byParent[table]
}

// ParentsOf returns every relation in which table is the child.
func (r *Registry) ParentsOf(table string) []Relation {
	if r == nil {
		return nil
	}
	return r.byChild[table]
}

// All returns relations sorted by name.
func (r *Registry) All() []Relation {
	if r == nil {
		return nil
	}
	out := make([]Relation, 0, len(r.byName))
	for _, rel := range r.byName {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultRelations are the course-authoring collections.
func DefaultRelations() []Relation {
	return []Relation{
		{
			Name:            CourseChapter,
			Mode:            ModeExclusive,
			ParentTable:     "course",
			ChildTable:      "chapter",
			MembershipTable: "chapter",
			ParentColumn:    "course_id",
			ChildColumn:     "id",
			PositionColumn:  "position",
		},
		{
			Name:            ChapterLesson,
			Mode:            ModeShared,
			ParentTable:     "chapter",
			ChildTable:      "lesson",
			MembershipTable: "chapter_lesson",
			ParentColumn:    "chapter_id",
			ChildColumn:     "lesson_id",
			PositionColumn:  "position",
		},
		{
			Name:            LessonActivity,
			Mode:            ModeExclusive,
			ParentTable:     "lesson",
			ChildTable:      "activity",
			MembershipTable: "activity",
			ParentColumn:    "lesson_id",
			ChildColumn:     "id",
			PositionColumn:  "position",
		},
	}
}

// DefaultRegistry panics on an invalid built-in relation.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultRelations()...)
	if err != nil {
		panic(err)
	}
	return reg
}
