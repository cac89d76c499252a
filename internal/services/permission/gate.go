// Package permission answers "may this actor change collections in this org".
package permission

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/data/repos"
	types "github.com/yungbote/coursebuilder/internal/domain"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type Gate = domainagg.Gate

// Allows reports whether role may perform action. Any member may read;
// viewers may not change anything.
func Allows(role string, action ordering.Action) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case types.RoleOwner, types.RoleAdmin, types.RoleEditor:
		return true
	case types.RoleViewer:
		return !action.Mutating()
	default:
		return false
	}
}

// RoleGate decides from the org_member table.
type RoleGate struct {
	members repos.OrgMemberRepo
	log     *logger.Logger
}

func NewRoleGate(baseLog *logger.Logger, members repos.OrgMemberRepo) *RoleGate {
	return &RoleGate{members: members, log: baseLog.With("service", "RoleGate")}
}

func (g *RoleGate) Authorize(ctx context.Context, actorID, orgID uuid.UUID, action ordering.Action) (bool, error) {
	if actorID == uuid.Nil || orgID == uuid.Nil {
		return false, nil
	}
	role, err := g.members.GetRole(dbctx.Context{Ctx: ctx}, orgID, actorID)
	if err != nil {
		return false, err
	}
	ok := Allows(role, action)
	if !ok {
		g.log.Debug("permission denied", "actor_id", actorID, "org_id", orgID, "action", action, "role", role)
	}
	return ok, nil
}
