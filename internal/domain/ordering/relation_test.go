package ordering

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	rel, ok := reg.Lookup(ChapterLesson)
	require.True(t, ok)
	require.True(t, rel.Shared())
	require.False(t, rel.Embedded())

	rel, ok = reg.Lookup(CourseChapter)
	require.True(t, ok)
	require.False(t, rel.Shared())
	require.True(t, rel.Embedded())

	children := reg.ChildrenOf("chapter")
	require.Len(t, children, 1)
	require.Equal(t, ChapterLesson, children[0].Name)
	require.Empty(t, reg.ChildrenOf("activity"))

	parents := reg.ParentsOf("lesson")
	require.Len(t, parents, 1)
	require.Equal(t, ChapterLesson, parents[0].Name)
	require.Empty(t, reg.ParentsOf("course"))

	all := reg.All()
	require.Len(t, all, 3)
	require.Equal(t, ChapterLesson, all[0].Name)
}

func TestRelationValidate(t *testing.T) {
	base := DefaultRelations()[1]

	bad := base
	bad.MembershipTable = "chapter_lesson; drop table x"
	require.Error(t, bad.Validate())

	bad = base
	bad.Mode = ModeExclusive
	require.Error(t, bad.Validate(), "exclusive relation with a join table")

	bad = base
	bad.ChildTable = bad.ParentTable
	require.Error(t, bad.Validate())

	bad = base
	bad.Mode = "weird"
	require.Error(t, bad.Validate())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	rels := DefaultRelations()
	_, err := NewRegistry(append(rels, rels[0])...)
	require.Error(t, err)
}

func TestActionMutating(t *testing.T) {
	require.True(t, ActionReorder.Mutating())
	require.False(t, ActionRead.Mutating())
}
