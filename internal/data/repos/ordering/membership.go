package ordering

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domord "github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

// MembershipRow is one (child, position) pair read from a relation's
// membership table.
type MembershipRow struct {
	ChildID   uuid.UUID `gorm:"column:child_id"`
	Position  int       `gorm:"column:position"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// MembershipRepo reads and rewrites positions for any registered relation.
// Callers must hold the parent lock before calling any write method.
type MembershipRepo interface {
	List(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID) ([]MembershipRow, error)
	Get(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID) (*MembershipRow, error)
	Count(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID) (int, error)
	CountForChild(dbc dbctx.Context, rel domord.Relation, childID uuid.UUID) (int, error)

	Insert(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID, position int) error
	Delete(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID) (int64, error)
	Move(dbc dbctx.Context, rel domord.Relation, fromParentID, toParentID, childID uuid.UUID, position int) error
	Shift(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID, shift domord.Shift) error
	Assign(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID, assignments []domord.Assignment) error
}

type membershipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return &membershipRepo{db: db, log: baseLog.With("repo", "MembershipRepo")}
}

func (r *membershipRepo) conn(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func selectRow(rel domord.Relation) string {
	return fmt.Sprintf("%s AS child_id, %s AS position, created_at", rel.ChildColumn, rel.PositionColumn)
}

// List returns memberships by position; ties (only possible if the unique
// index is missing) fall back to creation order, then id.
func (r *membershipRepo) List(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID) ([]MembershipRow, error) {
	if parentID == uuid.Nil {
		return nil, fmt.Errorf("missing parent_id")
	}
	var out []MembershipRow
	if err := r.conn(dbc).
		Table(rel.MembershipTable).
		Select(selectRow(rel)).
		Where(fmt.Sprintf("%s = ?", rel.ParentColumn), parentID).
		Order(fmt.Sprintf("%s ASC, created_at ASC, %s ASC", rel.PositionColumn, rel.ChildColumn)).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns (nil, nil) when the pair has no membership.
func (r *membershipRepo) Get(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID) (*MembershipRow, error) {
	if parentID == uuid.Nil || childID == uuid.Nil {
		return nil, fmt.Errorf("missing parent_id or child_id")
	}
	var out MembershipRow
	err := r.conn(dbc).
		Table(rel.MembershipTable).
		Select(selectRow(rel)).
		Where(fmt.Sprintf("%s = ? AND %s = ?", rel.ParentColumn, rel.ChildColumn), parentID, childID).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *membershipRepo) Count(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID) (int, error) {
	var n int64
	if err := r.conn(dbc).
		Table(rel.MembershipTable).
		Where(fmt.Sprintf("%s = ?", rel.ParentColumn), parentID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountForChild counts the parents a child is linked into.
func (r *membershipRepo) CountForChild(dbc dbctx.Context, rel domord.Relation, childID uuid.UUID) (int, error) {
	var n int64
	if err := r.conn(dbc).
		Table(rel.MembershipTable).
		Where(fmt.Sprintf("%s = ?", rel.ChildColumn), childID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// Insert adds a join row. Embedded relations are written together with the
// child (NodeRepo.Insert) and never come through here.
func (r *membershipRepo) Insert(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID, position int) error {
	if rel.Embedded() {
		return fmt.Errorf("relation %s embeds membership in %s", rel.Name, rel.ChildTable)
	}
	now := time.Now().UTC()
	return r.conn(dbc).Table(rel.MembershipTable).Create(map[string]interface{}{
		"id":               uuid.New(),
		rel.ParentColumn:   parentID,
		rel.ChildColumn:    childID,
		rel.PositionColumn: position,
		"created_at":       now,
		"updated_at":       now,
	}).Error
}

// Delete removes the membership row. For embedded relations that row is the
// child itself.
func (r *membershipRepo) Delete(dbc dbctx.Context, rel domord.Relation, parentID, childID uuid.UUID) (int64, error) {
	res := r.conn(dbc).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", rel.MembershipTable, rel.ParentColumn, rel.ChildColumn),
		parentID, childID,
	)
	return res.RowsAffected, res.Error
}

// Move repoints a membership at another parent. The target slot must already
// be open.
func (r *membershipRepo) Move(dbc dbctx.Context, rel domord.Relation, fromParentID, toParentID, childID uuid.UUID, position int) error {
	res := r.conn(dbc).
		Table(rel.MembershipTable).
		Where(fmt.Sprintf("%s = ? AND %s = ?", rel.ParentColumn, rel.ChildColumn), fromParentID, childID).
		Updates(map[string]interface{}{
			rel.ParentColumn:   toParentID,
			rel.PositionColumn: position,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("move %s: expected 1 row, updated %d", rel.Name, res.RowsAffected)
	}
	return nil
}

// Shift moves every position >= shift.From by shift.Delta in two statements
// so that (parent, position) stays unique after each row update: first park
// the affected rows on distinct negative values, then unpark them.
func (r *membershipRepo) Shift(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID, shift domord.Shift) error {
	if shift.Delta == 0 {
		return nil
	}
	pos := rel.PositionColumn
	db := r.conn(dbc)
	if err := db.Table(rel.MembershipTable).
		Where(fmt.Sprintf("%s = ? AND %s >= ?", rel.ParentColumn, pos), parentID, shift.From).
		UpdateColumn(pos, gorm.Expr(fmt.Sprintf("-(%s + ?)", pos), shift.ParkOffset())).Error; err != nil {
		return fmt.Errorf("park %s: %w", rel.Name, err)
	}
	return r.unpark(db, rel, parentID)
}

// Assign writes a validated permutation using the same park/unpark scheme.
func (r *membershipRepo) Assign(dbc dbctx.Context, rel domord.Relation, parentID uuid.UUID, assignments []domord.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	pos := rel.PositionColumn
	db := r.conn(dbc)
	for _, a := range assignments {
		res := db.Table(rel.MembershipTable).
			Where(fmt.Sprintf("%s = ? AND %s = ?", rel.ParentColumn, rel.ChildColumn), parentID, a.ChildID).
			UpdateColumn(pos, domord.Park(a.Position))
		if res.Error != nil {
			return fmt.Errorf("park %s: %w", rel.Name, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("park %s: child %s not in parent %s", rel.Name, a.ChildID, parentID)
		}
	}
	return r.unpark(db, rel, parentID)
}

func (r *membershipRepo) unpark(db *gorm.DB, rel domord.Relation, parentID uuid.UUID) error {
	pos := rel.PositionColumn
	if err := db.Table(rel.MembershipTable).
		Where(fmt.Sprintf("%s = ? AND %s < 0", rel.ParentColumn, pos), parentID).
		UpdateColumns(map[string]interface{}{
			pos:          gorm.Expr(fmt.Sprintf("-%s - 1", pos)),
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("unpark %s: %w", rel.Name, err)
	}
	return nil
}
