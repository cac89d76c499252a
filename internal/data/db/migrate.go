package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/coursebuilder/internal/domain"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// =========================
		// Tenancy
		// =========================
		&types.Org{},
		&types.OrgMember{},

		// =========================
		// Course structure
		// =========================
		&types.Course{},
		&types.Chapter{},
		&types.Lesson{},
		&types.ChapterLesson{},
		&types.Activity{},
	); err != nil {
		return err
	}
	return EnsureOrderingIndexes(db, ordering.DefaultRelations())
}

// EnsureOrderingIndexes creates the (parent, position) and (parent, child)
// unique indexes for every relation.
func EnsureOrderingIndexes(db *gorm.DB, rels []ordering.Relation) error {
	for _, rel := range rels {
		if err := rel.Validate(); err != nil {
			return err
		}
		posIdx := fmt.Sprintf("uq_%s_parent_position", rel.Name)
		if err := db.Exec(fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s)`,
			posIdx, rel.MembershipTable, rel.ParentColumn, rel.PositionColumn,
		)).Error; err != nil {
			return fmt.Errorf("create %s: %w", posIdx, err)
		}
		if rel.Embedded() {
			// child id is the primary key; (parent, child) is unique already
			continue
		}
		pairIdx := fmt.Sprintf("uq_%s_parent_child", rel.Name)
		if err := db.Exec(fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s)`,
			pairIdx, rel.MembershipTable, rel.ParentColumn, rel.ChildColumn,
		)).Error; err != nil {
			return fmt.Errorf("create %s: %w", pairIdx, err)
		}
	}
	return nil
}
