package app

import (
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/aggregates"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/observability"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/realtime/bus"
	"github.com/yungbote/coursebuilder/internal/services"
	"github.com/yungbote/coursebuilder/internal/services/permission"
)

type Services struct {
	Gate       domainagg.Gate
	Collection services.CollectionService
	Tokens     services.TokenService
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	reposet Repos,
	metrics *observability.Metrics,
	rdb goredis.UniversalClient,
	events bus.Bus,
) Services {
	log.Info("Wiring services...")

	var gate domainagg.Gate = permission.NewRoleGate(log, reposet.OrgMembers)
	if rdb != nil {
		gate = permission.NewCachedGate(log, gate, rdb, cfg.GateCacheTTL)
	}

	agg := aggregates.NewCollectionAggregate(aggregates.CollectionAggregateDeps{
		Base: aggregates.BaseDeps{
			DB:    db,
			Log:   log,
			Hooks: aggregates.NewObservabilityHooks(metrics),
		},
		Nodes:   reposet.Nodes,
		Members: reposet.Members,
		Locker:  reposet.Locker,
		Gate:    gate,
	})

	return Services{
		Gate: gate,
		Collection: services.NewCollectionService(db, log, services.CollectionServiceDeps{
			Aggregate: agg,
			Nodes:     reposet.Nodes,
			Members:   reposet.Members,
			Gate:      gate,
			Bus:       events,
			Metrics:   metrics,
			Retry: services.RetryConfig{
				MaxAttempts:     cfg.Retry.MaxAttempts,
				InitialInterval: cfg.Retry.InitialInterval,
			},
		}),
		Tokens: services.NewTokenService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
	}
}
