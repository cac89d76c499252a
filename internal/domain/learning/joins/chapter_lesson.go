package joins

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChapterLesson struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChapterID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chapter_lesson_pair,priority:1;uniqueIndex:idx_chapter_lesson_position,priority:1" json:"chapter_id"`
	LessonID  uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_chapter_lesson_pair,priority:2" json:"lesson_id"`
	Position  int       `gorm:"column:position;not null;uniqueIndex:idx_chapter_lesson_position,priority:2" json:"position"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (ChapterLesson) TableName() string { return "chapter_lesson" }

func (m *ChapterLesson) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
