package domain

import (
	"github.com/yungbote/coursebuilder/internal/domain/learning/core"
	"github.com/yungbote/coursebuilder/internal/domain/learning/joins"
	"github.com/yungbote/coursebuilder/internal/domain/org"
)

type Course = core.Course
type Chapter = core.Chapter
type Lesson = core.Lesson
type Activity = core.Activity

type ChapterLesson = joins.ChapterLesson

type Org = org.Org
type OrgMember = org.OrgMember

const (
	RoleOwner  = org.RoleOwner
	RoleAdmin  = org.RoleAdmin
	RoleEditor = org.RoleEditor
	RoleViewer = org.RoleViewer
)
