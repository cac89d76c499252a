package orgs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/coursebuilder/internal/domain"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type OrgMemberRepo interface {
	Upsert(dbc dbctx.Context, row *types.OrgMember) (*types.OrgMember, error)
	GetRole(dbc dbctx.Context, orgID, userID uuid.UUID) (string, error)
	ListByOrg(dbc dbctx.Context, orgID uuid.UUID) ([]*types.OrgMember, error)
}

type orgMemberRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrgMemberRepo(db *gorm.DB, baseLog *logger.Logger) OrgMemberRepo {
	return &orgMemberRepo{db: db, log: baseLog.With("repo", "OrgMemberRepo")}
}

func (r *orgMemberRepo) conn(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *orgMemberRepo) Upsert(dbc dbctx.Context, row *types.OrgMember) (*types.OrgMember, error) {
	if row == nil || row.OrgID == uuid.Nil || row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing org_id or user_id")
	}
	row.Role = strings.ToLower(strings.TrimSpace(row.Role))
	if err := r.conn(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// GetRole returns "" when the user is not a member of the org.
func (r *orgMemberRepo) GetRole(dbc dbctx.Context, orgID, userID uuid.UUID) (string, error) {
	if orgID == uuid.Nil || userID == uuid.Nil {
		return "", nil
	}
	var m types.OrgMember
	err := r.conn(dbc).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

func (r *orgMemberRepo) ListByOrg(dbc dbctx.Context, orgID uuid.UUID) ([]*types.OrgMember, error) {
	var out []*types.OrgMember
	if err := r.conn(dbc).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
