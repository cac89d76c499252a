package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
)

// StaticGate answers every permission check with Allow (or Err) and
// records the calls it saw.
type StaticGate struct {
	mu sync.Mutex

	Allow bool
	Err   error

	Calls []GateCall
}

type GateCall struct {
	ActorID uuid.UUID
	OrgID   uuid.UUID
	Action  ordering.Action
}

var _ domainagg.Gate = (*StaticGate)(nil)

func (g *StaticGate) Authorize(_ context.Context, actorID, orgID uuid.UUID, action ordering.Action) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, GateCall{ActorID: actorID, OrgID: orgID, Action: action})
	return g.Allow, g.Err
}
