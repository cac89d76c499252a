package aggregates_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/aggregates"
	aggtest "github.com/yungbote/coursebuilder/internal/data/aggregates/testutil"
	"github.com/yungbote/coursebuilder/internal/data/repos"
	repotest "github.com/yungbote/coursebuilder/internal/data/repos/testutil"
	types "github.com/yungbote/coursebuilder/internal/domain"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
)

type fixture struct {
	db      *gorm.DB
	agg     domainagg.CollectionAggregate
	gate    *aggtest.StaticGate
	hooks   *aggtest.HooksRecorder
	nodes   repos.NodeRepo
	deletes *countingNodes
	members repos.MembershipRepo
	org     *types.Org
	actor   uuid.UUID
}

// countingNodes tallies rows deleted per table, so a test can tell how many
// writers actually removed a node.
type countingNodes struct {
	repos.NodeRepo

	mu      sync.Mutex
	deleted map[string]int64
}

func (n *countingNodes) Delete(dbc dbctx.Context, table string, id uuid.UUID) (int64, error) {
	affected, err := n.NodeRepo.Delete(dbc, table, id)
	if err == nil {
		n.mu.Lock()
		n.deleted[table] += affected
		n.mu.Unlock()
	}
	return affected, err
}

func (n *countingNodes) Deleted(table string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deleted[table]
}

func newFixture(t *testing.T, db *gorm.DB) *fixture {
	return newLockedFixture(t, db, repos.LockStrategyRow)
}

// newLockedFixture picks the parent lock strategy. Advisory locks fall back
// to row locks off Postgres.
func newLockedFixture(t *testing.T, db *gorm.DB, strategy string) *fixture {
	t.Helper()
	log := repotest.Logger(t)
	nodes := &countingNodes{NodeRepo: repos.NewNodeRepo(db, log), deleted: map[string]int64{}}
	f := &fixture{
		db:      db,
		gate:    &aggtest.StaticGate{Allow: true},
		hooks:   &aggtest.HooksRecorder{},
		nodes:   nodes,
		deletes: nodes,
		members: repos.NewMembershipRepo(db, log),
		actor:   uuid.New(),
	}
	f.agg = aggregates.NewCollectionAggregate(aggregates.CollectionAggregateDeps{
		Base: aggregates.BaseDeps{
			DB:    db,
			Log:   log,
			Hooks: f.hooks,
		},
		Nodes:   f.nodes,
		Members: f.members,
		Locker:  repos.NewLocker(strategy, db.Dialector.Name(), f.nodes),
		Gate:    f.gate,
	})
	f.org = repotest.SeedOrg(t, context.Background(), db, "org")
	return f
}

func (f *fixture) relation(name ordering.RelationName) ordering.Relation {
	rel, _ := ordering.DefaultRegistry().Lookup(name)
	return rel
}

// order returns child ids by position and fails unless positions are 0..n-1.
func (f *fixture) order(t *testing.T, name ordering.RelationName, parentID uuid.UUID) []uuid.UUID {
	t.Helper()
	rows, err := f.members.List(dbctx.Context{Ctx: context.Background()}, f.relation(name), parentID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		if r.Position != i {
			t.Fatalf("positions not contiguous at %d: %+v", i, rows)
		}
		out[i] = r.ChildID
	}
	return out
}

func (f *fixture) exists(t *testing.T, table string, id uuid.UUID) bool {
	t.Helper()
	n, err := f.nodes.Get(dbctx.Context{Ctx: context.Background()}, table, id)
	if err != nil {
		t.Fatalf("Get %s: %v", table, err)
	}
	return n != nil
}

func (f *fixture) create(t *testing.T, name ordering.RelationName, parentID uuid.UUID, position int, title string) ordering.Child {
	t.Helper()
	c, err := f.agg.CreateChild(context.Background(), domainagg.CreateChildInput{
		ActorID:  f.actor,
		Relation: name,
		ParentID: parentID,
		Position: position,
		Attrs:    ordering.Attrs{Title: title},
	})
	if err != nil {
		t.Fatalf("CreateChild %s: %v", title, err)
	}
	return c
}

func sameOrder(got, want []uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestCreateChildInsertsAndShifts(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)

	a := f.create(t, ordering.CourseChapter, course.ID, 0, "A")
	b := f.create(t, ordering.CourseChapter, course.ID, 1, "B")
	x := f.create(t, ordering.CourseChapter, course.ID, 1, "X")
	head := f.create(t, ordering.CourseChapter, course.ID, -5, "head")
	tail := f.create(t, ordering.CourseChapter, course.ID, 99, "tail")

	if x.Membership.Position != 1 {
		t.Fatalf("X position: want=1 got=%d", x.Membership.Position)
	}
	if head.Membership.Position != 0 {
		t.Fatalf("negative position: want=0 got=%d", head.Membership.Position)
	}
	if tail.Membership.Position != 4 {
		t.Fatalf("past-end position: want=4 (append) got=%d", tail.Membership.Position)
	}
	want := []uuid.UUID{head.ID, a.ID, x.ID, b.ID, tail.ID}
	if got := f.order(t, ordering.CourseChapter, course.ID); !sameOrder(got, want) {
		t.Fatalf("order: want=%v got=%v", want, got)
	}
	if got := f.hooks.Count("collection.CreateChild", "success"); got != 5 {
		t.Fatalf("success hooks: want=5 got=%d", got)
	}
	if a.OrgID != f.org.ID {
		t.Fatalf("child org: want=%s got=%s", f.org.ID, a.OrgID)
	}
}

func TestCreateChildVisibilityDefault(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	draft := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	live := repotest.SeedCourse(t, ctx, f.db, f.org.ID, true)

	underDraft := f.create(t, ordering.CourseChapter, draft.ID, 0, "d")
	underLive := f.create(t, ordering.CourseChapter, live.ID, 0, "l")
	if !underDraft.IsPublished {
		t.Fatalf("child of unpublished parent: want published")
	}
	if underLive.IsPublished {
		t.Fatalf("child of published parent: want unpublished")
	}

	ch := repotest.SeedChapter(t, ctx, f.db, f.org.ID, draft.ID, 1, true)
	lesson := f.create(t, ordering.ChapterLesson, ch.ID, 0, "lesson")
	if lesson.IsPublished {
		t.Fatalf("lesson under published chapter: want unpublished")
	}
	if !f.exists(t, "lesson", lesson.ID) {
		t.Fatalf("lesson row missing")
	}
}

func TestCreateChildMetadataRoundTrip(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	ch := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	lesson := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	repotest.SeedChapterLesson(t, ctx, f.db, ch.ID, lesson.ID, 0)

	c, err := f.agg.CreateChild(ctx, domainagg.CreateChildInput{
		ActorID:  f.actor,
		Relation: ordering.LessonActivity,
		ParentID: lesson.ID,
		Attrs:    ordering.Attrs{Title: "  quiz  ", Metadata: datatypes.JSON(`{"kind":"quiz"}`)},
	})
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if c.Title != "quiz" {
		t.Fatalf("title: want=quiz got=%q", c.Title)
	}
	var row types.Activity
	if err := f.db.Where("id = ?", c.ID).Take(&row).Error; err != nil {
		t.Fatalf("load activity: %v", err)
	}
	if row.LessonID != lesson.ID || row.Position != 0 || string(row.Metadata) != `{"kind":"quiz"}` {
		t.Fatalf("activity row: %+v", row)
	}
}

// Scenario A: P = {A(0), B(1), C(2)}; removing B leaves {A(0), C(1)} and
// deletes B's entity only if it has no other parent.
func TestRemoveChildScenarioA(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	p := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	other := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 1, false)

	a := f.create(t, ordering.ChapterLesson, p.ID, 0, "A")
	b := f.create(t, ordering.ChapterLesson, p.ID, 1, "B")
	c := f.create(t, ordering.ChapterLesson, p.ID, 2, "C")
	if _, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: other.ID, ChildID: b.ID, Position: 0,
	}); err != nil {
		t.Fatalf("AttachExisting: %v", err)
	}

	removed, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: p.ID, ChildID: b.ID,
	})
	if err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}
	if removed.Position != 1 {
		t.Fatalf("removed position: want=1 got=%d", removed.Position)
	}
	if got := f.order(t, ordering.ChapterLesson, p.ID); !sameOrder(got, []uuid.UUID{a.ID, c.ID}) {
		t.Fatalf("after remove: want=[A C] got=%v", got)
	}
	if !f.exists(t, "lesson", b.ID) {
		t.Fatalf("B still linked from another chapter: must survive")
	}
	if got := f.order(t, ordering.ChapterLesson, other.ID); !sameOrder(got, []uuid.UUID{b.ID}) {
		t.Fatalf("other chapter: want=[B] got=%v", got)
	}

	// last membership: B goes away
	if _, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: other.ID, ChildID: b.ID,
	}); err != nil {
		t.Fatalf("RemoveChild last: %v", err)
	}
	if f.exists(t, "lesson", b.ID) {
		t.Fatalf("orphaned lesson must be deleted")
	}
}

func TestRemoveChildCascadesOwnedRows(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	ch := f.create(t, ordering.CourseChapter, course.ID, 0, "chapter")
	keep := f.create(t, ordering.CourseChapter, course.ID, 1, "keep")
	shared := f.create(t, ordering.ChapterLesson, ch.ID, 0, "shared")
	solo := f.create(t, ordering.ChapterLesson, ch.ID, 1, "solo")
	act := f.create(t, ordering.LessonActivity, solo.ID, 0, "activity")
	if _, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: keep.ID, ChildID: shared.ID,
	}); err != nil {
		t.Fatalf("AttachExisting: %v", err)
	}

	if _, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ParentID: course.ID, ChildID: ch.ID,
	}); err != nil {
		t.Fatalf("RemoveChild chapter: %v", err)
	}
	if f.exists(t, "chapter", ch.ID) {
		t.Fatalf("chapter must be deleted")
	}
	if f.exists(t, "lesson", solo.ID) || f.exists(t, "activity", act.ID) {
		t.Fatalf("lesson owned only by the chapter (and its activity) must be deleted")
	}
	if !f.exists(t, "lesson", shared.ID) {
		t.Fatalf("lesson linked elsewhere must survive")
	}
	if got := f.order(t, ordering.CourseChapter, course.ID); !sameOrder(got, []uuid.UUID{keep.ID}) {
		t.Fatalf("course: want=[keep] got=%v", got)
	}
}

func TestRemoveChildMissingMembership(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	ch := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	loose := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)

	_, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: ch.ID, ChildID: loose.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeNotFound) || !domainagg.IsReason(err, domainagg.ReasonMembershipNotFound) {
		t.Fatalf("want not_found/membership_not_found got=%v", err)
	}
	_, err = f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: ch.ID, ChildID: uuid.New(),
	})
	if !domainagg.IsReason(err, domainagg.ReasonChildNotFound) {
		t.Fatalf("want child_not_found got=%v", err)
	}
}

// Scenario C: reorder {A,B,C} to {C,A,B}; bad permutations are rejected as
// conflicts and leave the parent unchanged.
func TestReorderChildrenScenarioC(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	lesson := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	a := f.create(t, ordering.LessonActivity, lesson.ID, 0, "A")
	b := f.create(t, ordering.LessonActivity, lesson.ID, 1, "B")
	c := f.create(t, ordering.LessonActivity, lesson.ID, 2, "C")

	bad := [][]ordering.Assignment{
		{{ChildID: c.ID, Position: 0}, {ChildID: a.ID, Position: 1}},
		{{ChildID: c.ID, Position: 0}, {ChildID: a.ID, Position: 0}, {ChildID: b.ID, Position: 2}},
		{{ChildID: c.ID, Position: 0}, {ChildID: a.ID, Position: 1}, {ChildID: uuid.New(), Position: 2}},
	}
	for i, assignments := range bad {
		_, err := f.agg.ReorderChildren(ctx, domainagg.ReorderInput{
			ActorID: f.actor, Relation: ordering.LessonActivity, ParentID: lesson.ID, Assignments: assignments,
		})
		if !domainagg.IsCode(err, domainagg.CodeConflict) || !domainagg.IsReason(err, domainagg.ReasonInvalidPermutation) {
			t.Fatalf("case %d: want conflict/invalid_permutation got=%v", i, err)
		}
		if !errors.Is(err, ordering.ErrInvalidPermutation) {
			t.Fatalf("case %d: cause lost: %v", i, err)
		}
		if got := f.order(t, ordering.LessonActivity, lesson.ID); !sameOrder(got, []uuid.UUID{a.ID, b.ID, c.ID}) {
			t.Fatalf("case %d: parent changed: %v", i, got)
		}
	}

	out, err := f.agg.ReorderChildren(ctx, domainagg.ReorderInput{
		ActorID:  f.actor,
		Relation: ordering.LessonActivity,
		ParentID: lesson.ID,
		Assignments: []ordering.Assignment{
			{ChildID: c.ID, Position: 0},
			{ChildID: a.ID, Position: 1},
			{ChildID: b.ID, Position: 2},
		},
	})
	if err != nil {
		t.Fatalf("ReorderChildren: %v", err)
	}
	if len(out) != 3 || out[0].ChildID != c.ID {
		t.Fatalf("result: %+v", out)
	}
	if got := f.order(t, ordering.LessonActivity, lesson.ID); !sameOrder(got, []uuid.UUID{c.ID, a.ID, b.ID}) {
		t.Fatalf("after reorder: want=[C A B] got=%v", got)
	}
	if len(f.hooks.Conflicts) != len(bad) {
		t.Fatalf("conflict hooks: want=%d got=%d", len(bad), len(f.hooks.Conflicts))
	}
}

func TestAttachExistingRules(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	draft := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	live := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 1, true)
	hidden := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)

	// published parent leaves the child's flag alone
	if _, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: live.ID, ChildID: hidden.ID,
	}); err != nil {
		t.Fatalf("attach to live: %v", err)
	}
	n, _ := f.nodes.Get(dbctx.Context{Ctx: ctx}, "lesson", hidden.ID)
	if n.IsPublished {
		t.Fatalf("attach under published parent must not publish the child")
	}

	// unpublished parent forces the child to published
	m, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: draft.ID, ChildID: hidden.ID, Position: 7,
	})
	if err != nil {
		t.Fatalf("attach to draft: %v", err)
	}
	if m.Position != 0 {
		t.Fatalf("clamped position: want=0 got=%d", m.Position)
	}
	n, _ = f.nodes.Get(dbctx.Context{Ctx: ctx}, "lesson", hidden.ID)
	if !n.IsPublished {
		t.Fatalf("attach under unpublished parent must publish the child")
	}

	_, err = f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: draft.ID, ChildID: hidden.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) || !domainagg.IsReason(err, domainagg.ReasonDuplicateMembership) {
		t.Fatalf("duplicate: want conflict/duplicate_membership got=%v", err)
	}

	otherOrg := repotest.SeedOrg(t, ctx, f.db, "other")
	foreign := repotest.SeedLesson(t, ctx, f.db, otherOrg.ID, false)
	_, err = f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: draft.ID, ChildID: foreign.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) || !domainagg.IsReason(err, domainagg.ReasonOrgMismatch) {
		t.Fatalf("org mismatch: want conflict/org_mismatch got=%v", err)
	}

	_, err = f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ParentID: course.ID, ChildID: draft.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeValidation) || !domainagg.IsReason(err, domainagg.ReasonSharingUnsupported) {
		t.Fatalf("exclusive attach: want validation/sharing_unsupported got=%v", err)
	}

	_, err = f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: uuid.New(), ChildID: hidden.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeNotFound) || !domainagg.IsReason(err, domainagg.ReasonParentNotFound) {
		t.Fatalf("missing parent: want not_found/parent_not_found got=%v", err)
	}
}

func TestForbiddenPerformsNoWrites(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	lesson := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	a := f.create(t, ordering.LessonActivity, lesson.ID, 0, "A")
	f.gate.Allow = false

	_, err := f.agg.CreateChild(ctx, domainagg.CreateChildInput{
		ActorID: f.actor, Relation: ordering.LessonActivity, ParentID: lesson.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeForbidden) {
		t.Fatalf("create: want forbidden got=%v", err)
	}
	_, err = f.agg.RemoveChild(ctx, domainagg.RemoveInput{
		ActorID: f.actor, Relation: ordering.LessonActivity, ParentID: lesson.ID, ChildID: a.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeForbidden) {
		t.Fatalf("remove: want forbidden got=%v", err)
	}
	if domainagg.IsRetryable(err) {
		t.Fatalf("forbidden must not be retryable")
	}
	if got := f.order(t, ordering.LessonActivity, lesson.ID); !sameOrder(got, []uuid.UUID{a.ID}) {
		t.Fatalf("collection changed: %v", got)
	}

	last := f.gate.Calls[len(f.gate.Calls)-1]
	if last.OrgID != f.org.ID || last.ActorID != f.actor || last.Action != ordering.ActionRemove {
		t.Fatalf("gate call: %+v", last)
	}
}

func TestForbiddenHidesMembershipState(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	chapter := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	linked := f.create(t, ordering.ChapterLesson, chapter.ID, 0, "linked")
	stray := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	otherOrg := repotest.SeedOrg(t, ctx, f.db, "other")
	foreign := repotest.SeedLesson(t, ctx, f.db, otherOrg.ID, false)
	f.gate.Allow = false

	cases := []struct {
		name string
		call func() error
	}{
		{"attach duplicate", func() error {
			_, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
				ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: chapter.ID, ChildID: linked.ID,
			})
			return err
		}},
		{"attach foreign", func() error {
			_, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
				ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: chapter.ID, ChildID: foreign.ID,
			})
			return err
		}},
		{"remove unlinked", func() error {
			_, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
				ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: chapter.ID, ChildID: stray.ID,
			})
			return err
		}},
		{"move unlinked", func() error {
			_, err := f.agg.MoveChild(ctx, domainagg.MoveInput{
				ActorID: f.actor, Relation: ordering.ChapterLesson, ChildID: stray.ID,
				FromParentID: chapter.ID, ToParentID: chapter.ID,
			})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !domainagg.IsReason(err, domainagg.ReasonForbidden) {
				t.Fatalf("want forbidden got=%v", err)
			}
		})
	}
	if got := f.order(t, ordering.ChapterLesson, chapter.ID); !sameOrder(got, []uuid.UUID{linked.ID}) {
		t.Fatalf("collection changed: %v", got)
	}
}

func TestGateErrorIsInternal(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	f.gate.Err = errors.New("redis down")

	_, err := f.agg.CreateChild(ctx, domainagg.CreateChildInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ParentID: course.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeInternal) {
		t.Fatalf("want internal got=%v", err)
	}
}

func TestUnknownRelation(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	_, err := f.agg.CreateChild(context.Background(), domainagg.CreateChildInput{
		ActorID: f.actor, Relation: "course_lesson", ParentID: uuid.New(),
	})
	if !domainagg.IsReason(err, domainagg.ReasonUnknownRelation) {
		t.Fatalf("want unknown_relation got=%v", err)
	}
}

func TestCanceledContextHasNoSideEffects(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	a := f.create(t, ordering.CourseChapter, course.ID, 0, "A")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := f.agg.CreateChild(canceled, domainagg.CreateChildInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ParentID: course.ID,
	})
	if !domainagg.IsCode(err, domainagg.CodeCanceled) {
		t.Fatalf("want canceled got=%v", err)
	}
	if len(f.hooks.Retries) != 0 {
		t.Fatalf("canceled write counted as retry: %v", f.hooks.Retries)
	}
	if got := f.order(t, ordering.CourseChapter, course.ID); !sameOrder(got, []uuid.UUID{a.ID}) {
		t.Fatalf("collection changed: %v", got)
	}
}

func TestInjectedTxFailuresLeaveCollectionUnchanged(t *testing.T) {
	cases := []struct {
		name       string
		runner     func(db *gorm.DB, err error) *aggtest.InjectedTxRunner
		err        error
		wantStatus domainagg.ErrorCode
		wantCalls  aggtest.TxCalls
	}{
		{
			name:       "begin",
			runner:     func(_ *gorm.DB, err error) *aggtest.InjectedTxRunner { return &aggtest.InjectedTxRunner{FailBegin: err} },
			err:        errors.New("database is locked"),
			wantStatus: domainagg.CodeRetryable,
			wantCalls:  aggtest.TxCalls{Begin: 1},
		},
		{
			name: "before body",
			runner: func(db *gorm.DB, err error) *aggtest.InjectedTxRunner {
				return &aggtest.InjectedTxRunner{Inner: aggregates.NewGormTxRunner(db), FailBeforeBody: err}
			},
			err:        errors.New("connection reset by peer"),
			wantStatus: domainagg.CodeInternal,
			wantCalls:  aggtest.TxCalls{Begin: 1, Rollback: 1},
		},
		{
			name: "commit",
			runner: func(db *gorm.DB, err error) *aggtest.InjectedTxRunner {
				return &aggtest.InjectedTxRunner{Inner: aggregates.NewGormTxRunner(db), FailCommit: err}
			},
			err:        errors.New("commit failed"),
			wantStatus: domainagg.CodeInternal,
			wantCalls:  aggtest.TxCalls{Begin: 1, Body: 1, Rollback: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := repotest.SQLite(t)
			log := repotest.Logger(t)
			ctx := context.Background()
			nodes := repos.NewNodeRepo(db, log)
			members := repos.NewMembershipRepo(db, log)
			org := repotest.SeedOrg(t, ctx, db, "org")
			course := repotest.SeedCourse(t, ctx, db, org.ID, false)
			first := repotest.SeedChapter(t, ctx, db, org.ID, course.ID, 0, false)

			runner := tc.runner(db, tc.err)
			hooks := &aggtest.HooksRecorder{}
			agg := aggregates.NewCollectionAggregate(aggregates.CollectionAggregateDeps{
				Base:    aggregates.BaseDeps{DB: db, Log: log, Runner: runner, Hooks: hooks},
				Nodes:   nodes,
				Members: members,
				Gate:    &aggtest.StaticGate{Allow: true},
			})
			_, err := agg.CreateChild(ctx, domainagg.CreateChildInput{
				ActorID: uuid.New(), Relation: ordering.CourseChapter, ParentID: course.ID, Position: 0,
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("want injected error got=%v", err)
			}
			if !domainagg.IsCode(err, tc.wantStatus) {
				t.Fatalf("code: want=%s got=%s", tc.wantStatus, domainagg.CodeOf(err))
			}
			if got := hooks.Count("collection.CreateChild", string(tc.wantStatus)); got != 1 {
				t.Fatalf("hook status %s: want=1 got=%d (%+v)", tc.wantStatus, got, hooks.Operations)
			}
			if got := runner.Calls(); got != tc.wantCalls {
				t.Fatalf("tx calls: want=%+v got=%+v", tc.wantCalls, got)
			}

			rows, err := members.List(dbctx.Context{Ctx: ctx}, mustRelation(ordering.CourseChapter), course.ID)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(rows) != 1 || rows[0].ChildID != first.ID || rows[0].Position != 0 {
				t.Fatalf("collection changed after failed write: %+v", rows)
			}
		})
	}
}

func mustRelation(name ordering.RelationName) ordering.Relation {
	rel, ok := ordering.DefaultRegistry().Lookup(name)
	if !ok {
		panic(fmt.Sprintf("unknown relation %s", name))
	}
	return rel
}

func concurrentCreates(t *testing.T, f *fixture, parentID uuid.UUID, k int) {
	t.Helper()
	start := make(chan struct{})
	errs := make(chan error, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.agg.CreateChild(context.Background(), domainagg.CreateChildInput{
				ActorID:  f.actor,
				Relation: ordering.CourseChapter,
				ParentID: parentID,
				Position: 0,
				Attrs:    ordering.Attrs{Title: fmt.Sprintf("c%d", i)},
			})
			errs <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent CreateChild: %v", err)
		}
	}

	rows, err := f.members.List(dbctx.Context{Ctx: context.Background()}, mustRelation(ordering.CourseChapter), parentID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != k {
		t.Fatalf("children: want=%d got=%d", k, len(rows))
	}
	positions := make([]int, len(rows))
	for i, r := range rows {
		positions[i] = r.Position
	}
	sort.Ints(positions)
	for i, p := range positions {
		if p != i {
			t.Fatalf("positions: want permutation of 0..%d got=%v", k-1, positions)
		}
	}
}

// Scenario B plus a wider fan-out.
func TestConcurrentCreatesAreContiguous(t *testing.T) {
	for _, k := range []int{5, 20} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			f := newFixture(t, repotest.SQLite(t))
			course := repotest.SeedCourse(t, context.Background(), f.db, f.org.ID, false)
			concurrentCreates(t, f, course.ID, k)
		})
	}
}

// cleanupOrg removes everything a Postgres test seeded under org.
func cleanupOrg(t *testing.T, db *gorm.DB, orgID uuid.UUID) {
	t.Cleanup(func() {
		_ = db.Exec("DELETE FROM chapter_lesson WHERE chapter_id IN (SELECT id FROM chapter WHERE org_id = ?)", orgID).Error
		_ = db.Where("org_id = ?", orgID).Delete(&types.Activity{}).Error
		_ = db.Where("org_id = ?", orgID).Delete(&types.Lesson{}).Error
		_ = db.Where("org_id = ?", orgID).Delete(&types.Chapter{}).Error
		_ = db.Where("org_id = ?", orgID).Delete(&types.Course{}).Error
		_ = db.Where("id = ?", orgID).Delete(&types.Org{}).Error
	})
}

func TestConcurrentCreatesPostgres(t *testing.T) {
	db := repotest.DB(t)
	for _, strategy := range []string{repos.LockStrategyRow, repos.LockStrategyAdvisory} {
		t.Run(strategy, func(t *testing.T) {
			f := newLockedFixture(t, db, strategy)
			cleanupOrg(t, db, f.org.ID)
			course := repotest.SeedCourse(t, context.Background(), db, f.org.ID, false)
			concurrentCreates(t, f, course.ID, 20)
		})
	}
}

// Two writers drop a shared lesson's last two links at once. Each holds
// only its own chapter lock, so the lesson row lock alone decides which of
// them sees zero remaining links.
func TestConcurrentLastLinkRemovalPostgres(t *testing.T) {
	db := repotest.DB(t)
	for _, strategy := range []string{repos.LockStrategyRow, repos.LockStrategyAdvisory} {
		t.Run(strategy, func(t *testing.T) {
			for round := 0; round < 10; round++ {
				f := newLockedFixture(t, db, strategy)
				cleanupOrg(t, db, f.org.ID)
				ctx := context.Background()
				course := repotest.SeedCourse(t, ctx, db, f.org.ID, false)
				one := repotest.SeedChapter(t, ctx, db, f.org.ID, course.ID, 0, false)
				two := repotest.SeedChapter(t, ctx, db, f.org.ID, course.ID, 1, false)
				lesson := f.create(t, ordering.ChapterLesson, one.ID, 0, "shared")
				if _, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
					ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: two.ID, ChildID: lesson.ID,
				}); err != nil {
					t.Fatalf("AttachExisting: %v", err)
				}
				quiz := f.create(t, ordering.LessonActivity, lesson.ID, 0, "quiz")

				start := make(chan struct{})
				errs := make(chan error, 2)
				var wg sync.WaitGroup
				for _, parent := range []uuid.UUID{one.ID, two.ID} {
					wg.Add(1)
					go func(parentID uuid.UUID) {
						defer wg.Done()
						<-start
						_, err := f.agg.RemoveChild(ctx, domainagg.RemoveInput{
							ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: parentID, ChildID: lesson.ID,
						})
						errs <- err
					}(parent)
				}
				close(start)
				wg.Wait()
				close(errs)
				for err := range errs {
					if err != nil {
						t.Fatalf("round %d: RemoveChild: %v", round, err)
					}
				}

				if got := f.deletes.Deleted("lesson"); got != 1 {
					t.Fatalf("round %d: lesson deletes: want=1 got=%d", round, got)
				}
				if f.exists(t, "lesson", lesson.ID) || f.exists(t, "activity", quiz.ID) {
					t.Fatalf("round %d: orphaned lesson or its activity survived", round)
				}
				for _, parent := range []uuid.UUID{one.ID, two.ID} {
					if got := f.order(t, ordering.ChapterLesson, parent); len(got) != 0 {
						t.Fatalf("round %d: chapter %s still links %v", round, parent, got)
					}
				}
			}
		})
	}
}

// An attach racing the removal of a lesson's last link either keeps the
// lesson alive under the new chapter or loses cleanly; it never leaves a
// link to a deleted lesson.
func TestAttachRacingLastRemovalPostgres(t *testing.T) {
	db := repotest.DB(t)
	for _, strategy := range []string{repos.LockStrategyRow, repos.LockStrategyAdvisory} {
		t.Run(strategy, func(t *testing.T) {
			for round := 0; round < 10; round++ {
				f := newLockedFixture(t, db, strategy)
				cleanupOrg(t, db, f.org.ID)
				ctx := context.Background()
				course := repotest.SeedCourse(t, ctx, db, f.org.ID, false)
				one := repotest.SeedChapter(t, ctx, db, f.org.ID, course.ID, 0, false)
				two := repotest.SeedChapter(t, ctx, db, f.org.ID, course.ID, 1, false)
				lesson := f.create(t, ordering.ChapterLesson, one.ID, 0, "shared")

				start := make(chan struct{})
				var wg sync.WaitGroup
				var removeErr, attachErr error
				wg.Add(2)
				go func() {
					defer wg.Done()
					<-start
					_, removeErr = f.agg.RemoveChild(ctx, domainagg.RemoveInput{
						ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: one.ID, ChildID: lesson.ID,
					})
				}()
				go func() {
					defer wg.Done()
					<-start
					_, attachErr = f.agg.AttachExisting(ctx, domainagg.AttachInput{
						ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: two.ID, ChildID: lesson.ID,
					})
				}()
				close(start)
				wg.Wait()

				if removeErr != nil {
					t.Fatalf("round %d: RemoveChild: %v", round, removeErr)
				}
				linked := f.order(t, ordering.ChapterLesson, two.ID)
				alive := f.exists(t, "lesson", lesson.ID)
				switch {
				case attachErr == nil:
					if !alive || !sameOrder(linked, []uuid.UUID{lesson.ID}) {
						t.Fatalf("round %d: attach won but alive=%v links=%v", round, alive, linked)
					}
				case domainagg.IsRetryable(attachErr) || domainagg.IsReason(attachErr, domainagg.ReasonChildNotFound):
					if alive || len(linked) != 0 {
						t.Fatalf("round %d: attach lost but alive=%v links=%v", round, alive, linked)
					}
				default:
					t.Fatalf("round %d: AttachExisting: %v", round, attachErr)
				}
			}
		})
	}
}

func TestMoveChildBetweenParents(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	src := repotest.SeedCourse(t, ctx, f.db, f.org.ID, true)
	dst := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	a := f.create(t, ordering.CourseChapter, src.ID, 0, "A")
	b := f.create(t, ordering.CourseChapter, src.ID, 1, "B")
	c := f.create(t, ordering.CourseChapter, src.ID, 2, "C")
	x := f.create(t, ordering.CourseChapter, dst.ID, 0, "X")
	y := f.create(t, ordering.CourseChapter, dst.ID, 1, "Y")

	m, err := f.agg.MoveChild(ctx, domainagg.MoveInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ChildID: b.ID,
		FromParentID: src.ID, ToParentID: dst.ID, Position: 1,
	})
	if err != nil {
		t.Fatalf("MoveChild: %v", err)
	}
	if m.ParentID != dst.ID || m.Position != 1 {
		t.Fatalf("membership: %+v", m)
	}
	if got := f.order(t, ordering.CourseChapter, src.ID); !sameOrder(got, []uuid.UUID{a.ID, c.ID}) {
		t.Fatalf("source: want=[A C] got=%v", got)
	}
	if got := f.order(t, ordering.CourseChapter, dst.ID); !sameOrder(got, []uuid.UUID{x.ID, b.ID, y.ID}) {
		t.Fatalf("target: want=[X B Y] got=%v", got)
	}
	n, _ := f.nodes.Get(dbctx.Context{Ctx: ctx}, "chapter", b.ID)
	if !n.IsPublished {
		t.Fatalf("moved under unpublished parent: want published")
	}

	_, err = f.agg.MoveChild(ctx, domainagg.MoveInput{
		ActorID: f.actor, Relation: ordering.CourseChapter, ChildID: b.ID,
		FromParentID: src.ID, ToParentID: dst.ID,
	})
	if !domainagg.IsReason(err, domainagg.ReasonMembershipNotFound) {
		t.Fatalf("second move: want membership_not_found got=%v", err)
	}
}

func TestMoveChildWithinParent(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	lesson := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	a := f.create(t, ordering.LessonActivity, lesson.ID, 0, "A")
	b := f.create(t, ordering.LessonActivity, lesson.ID, 1, "B")
	c := f.create(t, ordering.LessonActivity, lesson.ID, 2, "C")

	m, err := f.agg.MoveChild(ctx, domainagg.MoveInput{
		ActorID: f.actor, Relation: ordering.LessonActivity, ChildID: a.ID,
		FromParentID: lesson.ID, ToParentID: lesson.ID, Position: 2,
	})
	if err != nil {
		t.Fatalf("MoveChild: %v", err)
	}
	if m.Position != 2 {
		t.Fatalf("position: want=2 got=%d", m.Position)
	}
	if got := f.order(t, ordering.LessonActivity, lesson.ID); !sameOrder(got, []uuid.UUID{b.ID, c.ID, a.ID}) {
		t.Fatalf("after move: want=[B C A] got=%v", got)
	}
}

func TestMoveSharedChildRejectsDuplicate(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	course := repotest.SeedCourse(t, ctx, f.db, f.org.ID, false)
	one := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 0, false)
	two := repotest.SeedChapter(t, ctx, f.db, f.org.ID, course.ID, 1, false)
	l := f.create(t, ordering.ChapterLesson, one.ID, 0, "L")
	if _, err := f.agg.AttachExisting(ctx, domainagg.AttachInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ParentID: two.ID, ChildID: l.ID,
	}); err != nil {
		t.Fatalf("AttachExisting: %v", err)
	}
	_, err := f.agg.MoveChild(ctx, domainagg.MoveInput{
		ActorID: f.actor, Relation: ordering.ChapterLesson, ChildID: l.ID,
		FromParentID: one.ID, ToParentID: two.ID,
	})
	if !domainagg.IsReason(err, domainagg.ReasonDuplicateMembership) {
		t.Fatalf("want duplicate_membership got=%v", err)
	}
}

func TestRepairPositionsCompactsGaps(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	ctx := context.Background()
	lesson := repotest.SeedLesson(t, ctx, f.db, f.org.ID, false)
	a := repotest.SeedActivity(t, ctx, f.db, f.org.ID, lesson.ID, 0)
	b := repotest.SeedActivity(t, ctx, f.db, f.org.ID, lesson.ID, 3)
	c := repotest.SeedActivity(t, ctx, f.db, f.org.ID, lesson.ID, 7)

	rep, err := f.agg.RepairPositions(ctx, domainagg.RepairInput{
		ActorID: f.actor, Relation: ordering.LessonActivity, ParentID: lesson.ID,
	})
	if err != nil {
		t.Fatalf("RepairPositions: %v", err)
	}
	if rep.Contiguous || !rep.Repaired || len(rep.Gaps) != 2 {
		t.Fatalf("report: %+v", rep)
	}
	if got := f.order(t, ordering.LessonActivity, lesson.ID); !sameOrder(got, []uuid.UUID{a.ID, b.ID, c.ID}) {
		t.Fatalf("after repair: want=[A B C] got=%v", got)
	}
	if len(f.hooks.Integrity) != 1 {
		t.Fatalf("integrity hooks: want=1 got=%d", len(f.hooks.Integrity))
	}

	rep, err = f.agg.RepairPositions(ctx, domainagg.RepairInput{
		ActorID: f.actor, Relation: ordering.LessonActivity, ParentID: lesson.ID,
	})
	if err != nil || rep.Repaired || !rep.Contiguous {
		t.Fatalf("second repair: rep=%+v err=%v", rep, err)
	}
}

func TestCollectionContract(t *testing.T) {
	f := newFixture(t, repotest.SQLite(t))
	c := f.agg.Contract()
	if !c.OwnsTx() {
		t.Fatalf("collection aggregate must own its transactions: %+v", c)
	}
	if len(c.LockOrder) == 0 || c.LockOrder[0] != "parent" {
		t.Fatalf("parent must be locked first: %v", c.LockOrder)
	}
}
