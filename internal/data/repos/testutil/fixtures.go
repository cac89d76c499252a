package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/coursebuilder/internal/domain"
)

func SeedOrg(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Org {
	tb.Helper()
	o := &types.Org{ID: uuid.New(), Name: name}
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		tb.Fatalf("seed org: %v", err)
	}
	return o
}

func SeedMember(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID, userID uuid.UUID, role string) *types.OrgMember {
	tb.Helper()
	m := &types.OrgMember{ID: uuid.New(), OrgID: orgID, UserID: userID, Role: role}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed org member: %v", err)
	}
	return m
}

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID uuid.UUID, published bool) *types.Course {
	tb.Helper()
	c := &types.Course{ID: uuid.New(), OrgID: orgID, Title: "course", IsPublished: published}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

func SeedChapter(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID, courseID uuid.UUID, position int, published bool) *types.Chapter {
	tb.Helper()
	ch := &types.Chapter{ID: uuid.New(), OrgID: orgID, CourseID: courseID, Position: position, Title: "chapter", IsPublished: published}
	if err := tx.WithContext(ctx).Create(ch).Error; err != nil {
		tb.Fatalf("seed chapter: %v", err)
	}
	return ch
}

// SeedLesson creates a lesson with no chapter memberships.
func SeedLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID uuid.UUID, published bool) *types.Lesson {
	tb.Helper()
	l := &types.Lesson{ID: uuid.New(), OrgID: orgID, Title: "lesson", IsPublished: published}
	if err := tx.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed lesson: %v", err)
	}
	return l
}

func SeedChapterLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, chapterID, lessonID uuid.UUID, position int) *types.ChapterLesson {
	tb.Helper()
	cl := &types.ChapterLesson{ID: uuid.New(), ChapterID: chapterID, LessonID: lessonID, Position: position}
	if err := tx.WithContext(ctx).Create(cl).Error; err != nil {
		tb.Fatalf("seed chapter lesson: %v", err)
	}
	return cl
}

func SeedActivity(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID, lessonID uuid.UUID, position int) *types.Activity {
	tb.Helper()
	a := &types.Activity{ID: uuid.New(), OrgID: orgID, LessonID: lessonID, Position: position, Title: "activity"}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed activity: %v", err)
	}
	return a
}
