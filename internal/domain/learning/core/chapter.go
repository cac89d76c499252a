package core

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chapter is exclusively owned by one course; its membership (course_id,
// position) lives on the row itself.
type Chapter struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_chapter_course_position,priority:1" json:"course_id"`
	Position    int            `gorm:"column:position;not null;uniqueIndex:idx_chapter_course_position,priority:2" json:"position"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	IsPublished bool           `gorm:"column:is_published;not null;default:false" json:"is_published"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Chapter) TableName() string { return "chapter" }

func (c *Chapter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
