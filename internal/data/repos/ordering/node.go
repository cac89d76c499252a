package ordering

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domord "github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

// Node is the shape every parent and child table shares.
type Node struct {
	ID          uuid.UUID      `gorm:"column:id"`
	OrgID       uuid.UUID      `gorm:"column:org_id"`
	Title       string         `gorm:"column:title"`
	IsPublished bool           `gorm:"column:is_published"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

type NodeRepo interface {
	Get(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error)
	GetByIDs(dbc dbctx.Context, table string, ids []uuid.UUID) ([]*Node, error)
	LockByID(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error)
	Insert(dbc dbctx.Context, table string, node *Node, extra map[string]interface{}) error
	SetPublished(dbc dbctx.Context, table string, id uuid.UUID, published bool) error
	Delete(dbc dbctx.Context, table string, id uuid.UUID) (int64, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: baseLog.With("repo", "NodeRepo")}
}

func (r *nodeRepo) conn(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

// Get returns (nil, nil) when the row does not exist.
func (r *nodeRepo) Get(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out Node
	err := r.conn(dbc).Table(table).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *nodeRepo) GetByIDs(dbc dbctx.Context, table string, ids []uuid.UUID) ([]*Node, error) {
	if len(ids) == 0 {
		return []*Node{}, nil
	}
	var out []*Node
	if err := r.conn(dbc).Table(table).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LockByID takes a row lock held until the transaction ends. SQLite ignores
// the locking clause; its single writer serializes instead.
func (r *nodeRepo) LockByID(dbc dbctx.Context, table string, id uuid.UUID) (*Node, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID required dbc.Tx")
	}
	var out Node
	err := dbc.Tx.WithContext(dbc.Ctx).
		Table(table).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Insert writes node into table. extra carries relation columns for
// children whose membership lives on their own row.
func (r *nodeRepo) Insert(dbc dbctx.Context, table string, node *Node, extra map[string]interface{}) error {
	if node == nil {
		return fmt.Errorf("missing node")
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	row := map[string]interface{}{
		"id":           node.ID,
		"org_id":       node.OrgID,
		"title":        node.Title,
		"is_published": node.IsPublished,
		"metadata":     node.Metadata,
		"created_at":   node.CreatedAt,
		"updated_at":   node.UpdatedAt,
	}
	for k, v := range extra {
		row[k] = v
	}
	return r.conn(dbc).Table(table).Create(row).Error
}

func (r *nodeRepo) SetPublished(dbc dbctx.Context, table string, id uuid.UUID, published bool) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return r.conn(dbc).
		Table(table).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_published": published,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *nodeRepo) Delete(dbc dbctx.Context, table string, id uuid.UUID) (int64, error) {
	if id == uuid.Nil {
		return 0, fmt.Errorf("missing id")
	}
	res := r.conn(dbc).Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return res.RowsAffected, res.Error
}

// AsChild views the node through one of its memberships.
func (n *Node) AsChild(rel domord.RelationName, parentID uuid.UUID, position int) domord.Child {
	return domord.Child{
		ID:          n.ID,
		OrgID:       n.OrgID,
		Title:       n.Title,
		IsPublished: n.IsPublished,
		Metadata:    n.Metadata,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		Membership: domord.Membership{
			Relation: rel,
			ParentID: parentID,
			ChildID:  n.ID,
			Position: position,
		},
	}
}
