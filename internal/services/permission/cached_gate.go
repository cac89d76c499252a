package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

const defaultCacheTTL = 30 * time.Second

// CachedGate memoizes another gate's answers in redis. Concurrent misses for
// the same key share one inner call. Redis failures are logged and fall
// through to the inner gate; an inner error is never cached.
type CachedGate struct {
	inner Gate
	rdb   goredis.UniversalClient
	ttl   time.Duration
	log   *logger.Logger
	group singleflight.Group
}

func NewCachedGate(baseLog *logger.Logger, inner Gate, rdb goredis.UniversalClient, ttl time.Duration) *CachedGate {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedGate{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   baseLog.With("service", "CachedGate"),
	}
}

func CacheKey(orgID, actorID uuid.UUID, action ordering.Action) string {
	return fmt.Sprintf("gate:%s:%s:%s", orgID, actorID, action)
}

func (g *CachedGate) Authorize(ctx context.Context, actorID, orgID uuid.UUID, action ordering.Action) (bool, error) {
	key := CacheKey(orgID, actorID, action)
	cached, err := g.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case errors.Is(err, goredis.Nil):
	default:
		g.log.Warn("gate cache read failed", "key", key, "error", err)
	}

	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		ok, err := g.inner.Authorize(ctx, actorID, orgID, action)
		if err != nil {
			return false, err
		}
		val := "0"
		if ok {
			val = "1"
		}
		if err := g.rdb.Set(ctx, key, val, g.ttl).Err(); err != nil {
			g.log.Warn("gate cache write failed", "key", key, "error", err)
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
