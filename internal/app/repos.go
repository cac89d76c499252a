package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/repos"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type Repos struct {
	Nodes      repos.NodeRepo
	Members    repos.MembershipRepo
	OrgMembers repos.OrgMemberRepo
	Locker     repos.Locker
}

func wireRepos(db *gorm.DB, log *logger.Logger, cfg Config) Repos {
	log.Info("Wiring repos...")
	nodes := repos.NewNodeRepo(db, log)
	return Repos{
		Nodes:      nodes,
		Members:    repos.NewMembershipRepo(db, log),
		OrgMembers: repos.NewOrgMemberRepo(db, log),
		Locker:     repos.NewLocker(cfg.LockStrategy, cfg.DB.Driver, nodes),
	}
}
