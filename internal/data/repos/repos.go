package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/repos/ordering"
	"github.com/yungbote/coursebuilder/internal/data/repos/orgs"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type NodeRepo = ordering.NodeRepo
type MembershipRepo = ordering.MembershipRepo
type Locker = ordering.Locker
type OrgMemberRepo = orgs.OrgMemberRepo

const (
	LockStrategyRow      = ordering.LockStrategyRow
	LockStrategyAdvisory = ordering.LockStrategyAdvisory
)

type Node = ordering.Node
type MembershipRow = ordering.MembershipRow

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return ordering.NewNodeRepo(db, baseLog)
}

func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return ordering.NewMembershipRepo(db, baseLog)
}

func NewOrgMemberRepo(db *gorm.DB, baseLog *logger.Logger) OrgMemberRepo {
	return orgs.NewOrgMemberRepo(db, baseLog)
}

func NewLocker(strategy, driver string, nodes NodeRepo) Locker {
	return ordering.NewLocker(strategy, driver, nodes)
}
