package core

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Activity struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	LessonID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_activity_lesson_position,priority:1" json:"lesson_id"`
	Position    int            `gorm:"column:position;not null;uniqueIndex:idx_activity_lesson_position,priority:2" json:"position"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	IsPublished bool           `gorm:"column:is_published;not null;default:false" json:"is_published"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Activity) TableName() string { return "activity" }

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
