package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/data/aggregates"
	"github.com/yungbote/coursebuilder/internal/data/repos"
	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/observability"
	"github.com/yungbote/coursebuilder/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/realtime/bus"
)

const (
	opListChildren   = "collection.ListChildren"
	opCheckIntegrity = "collection.CheckIntegrity"
	opWatch          = "collection.Watch"
)

// CollectionService is the entry point for callers that act on behalf of the
// user in the request context.
type CollectionService interface {
	CreateChild(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID, position int, attrs ordering.Attrs) (ordering.Child, error)
	AttachExisting(ctx context.Context, rel ordering.RelationName, parentID, childID uuid.UUID, position int) (ordering.Membership, error)
	RemoveChild(ctx context.Context, rel ordering.RelationName, parentID, childID uuid.UUID) (ordering.Membership, error)
	ReorderChildren(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID, assignments []ordering.Assignment) ([]ordering.Membership, error)
	MoveChild(ctx context.Context, rel ordering.RelationName, childID, fromParentID, toParentID uuid.UUID, position int) (ordering.Membership, error)
	RepairPositions(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID) (ordering.IntegrityReport, error)

	ListChildren(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID) ([]ordering.Child, error)
	CheckIntegrity(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID) (ordering.IntegrityReport, error)
	// AuthorizeWatch reports whether the actor may subscribe to change
	// events for the parent. Same rules as ListChildren.
	AuthorizeWatch(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID) error
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 25 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Second
	}
	return c
}

type CollectionServiceDeps struct {
	Aggregate domainagg.CollectionAggregate
	Relations *ordering.Registry
	Nodes     repos.NodeRepo
	Members   repos.MembershipRepo
	Gate      domainagg.Gate
	Bus       bus.Bus
	Metrics   *observability.Metrics
	Retry     RetryConfig
}

type collectionService struct {
	db   *gorm.DB
	log  *logger.Logger
	deps CollectionServiceDeps
}

func NewCollectionService(db *gorm.DB, baseLog *logger.Logger, deps CollectionServiceDeps) CollectionService {
	if deps.Relations == nil {
		deps.Relations = ordering.DefaultRegistry()
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewNopBus()
	}
	deps.Retry = deps.Retry.withDefaults()
	return &collectionService{
		db:   db,
		log:  baseLog.With("service", "CollectionService"),
		deps: deps,
	}
}

// withRetry reruns op while it fails with a retryable error. Every attempt is
// its own transaction, so a retry never observes a half-applied write.
func withRetry[T any](ctx context.Context, s *collectionService, name string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.deps.Retry.InitialInterval
	b.MaxInterval = s.deps.Retry.MaxInterval

	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		out, err := op()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !domainagg.IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		s.log.Debug("retrying collection write", "op", name, "attempt", attempt, "reason", domainagg.ReasonOf(err))
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.deps.Retry.MaxAttempts)))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return out, err
}

// publish runs after commit. The write has happened, so a bus failure is
// only logged.
func (s *collectionService) publish(ctx context.Context, op string, rel ordering.RelationName, parentID, childID uuid.UUID) {
	ev := bus.CollectionChanged{
		Relation: rel,
		ParentID: parentID,
		Op:       op,
		ChildID:  childID,
		At:       time.Now().UTC(),
	}
	if err := s.deps.Bus.Publish(ctx, ev); err != nil {
		s.log.Warn("collection event publish failed", "op", op, "relation", rel, "parent_id", parentID, "error", err)
	}
}

func (s *collectionService) CreateChild(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID, position int, attrs ordering.Attrs) (ordering.Child, error) {
	in := domainagg.CreateChildInput{
		ActorID:  ctxutil.ActorID(ctx),
		Relation: rel,
		ParentID: parentID,
		Position: position,
		Attrs:    attrs,
	}
	child, err := withRetry(ctx, s, "collection.CreateChild", func() (ordering.Child, error) {
		return s.deps.Aggregate.CreateChild(ctx, in)
	})
	if err != nil {
		return ordering.Child{}, err
	}
	s.publish(ctx, "collection.CreateChild", rel, parentID, child.ID)
	return child, nil
}

func (s *collectionService) AttachExisting(ctx context.Context, rel ordering.RelationName, parentID, childID uuid.UUID, position int) (ordering.Membership, error) {
	in := domainagg.AttachInput{
		ActorID:  ctxutil.ActorID(ctx),
		Relation: rel,
		ParentID: parentID,
		ChildID:  childID,
		Position: position,
	}
	m, err := withRetry(ctx, s, "collection.AttachExisting", func() (ordering.Membership, error) {
		return s.deps.Aggregate.AttachExisting(ctx, in)
	})
	if err != nil {
		return ordering.Membership{}, err
	}
	s.publish(ctx, "collection.AttachExisting", rel, parentID, childID)
	return m, nil
}

func (s *collectionService) RemoveChild(ctx context.Context, rel ordering.RelationName, parentID, childID uuid.UUID) (ordering.Membership, error) {
	in := domainagg.RemoveInput{
		ActorID:  ctxutil.ActorID(ctx),
		Relation: rel,
		ParentID: parentID,
		ChildID:  childID,
	}
	m, err := withRetry(ctx, s, "collection.RemoveChild", func() (ordering.Membership, error) {
		return s.deps.Aggregate.RemoveChild(ctx, in)
	})
	if err != nil {
		return ordering.Membership{}, err
	}
	s.publish(ctx, "collection.RemoveChild", rel, parentID, childID)
	return m, nil
}

func (s *collectionService) ReorderChildren(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID, assignments []ordering.Assignment) ([]ordering.Membership, error) {
	in := domainagg.ReorderInput{
		ActorID:     ctxutil.ActorID(ctx),
		Relation:    rel,
		ParentID:    parentID,
		Assignments: assignments,
	}
	out, err := withRetry(ctx, s, "collection.ReorderChildren", func() ([]ordering.Membership, error) {
		return s.deps.Aggregate.ReorderChildren(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "collection.ReorderChildren", rel, parentID, uuid.Nil)
	return out, nil
}

func (s *collectionService) MoveChild(ctx context.Context, rel ordering.RelationName, childID, fromParentID, toParentID uuid.UUID, position int) (ordering.Membership, error) {
	in := domainagg.MoveInput{
		ActorID:      ctxutil.ActorID(ctx),
		Relation:     rel,
		ChildID:      childID,
		FromParentID: fromParentID,
		ToParentID:   toParentID,
		Position:     position,
	}
	m, err := withRetry(ctx, s, "collection.MoveChild", func() (ordering.Membership, error) {
		return s.deps.Aggregate.MoveChild(ctx, in)
	})
	if err != nil {
		return ordering.Membership{}, err
	}
	s.publish(ctx, "collection.MoveChild", rel, fromParentID, childID)
	if toParentID != fromParentID {
		s.publish(ctx, "collection.MoveChild", rel, toParentID, childID)
	}
	return m, nil
}

func (s *collectionService) RepairPositions(ctx context.Context, rel ordering.RelationName, parentID uuid.UUID) (ordering.IntegrityReport, error) {
	in := domainagg.RepairInput{
		ActorID:  ctxutil.ActorID(ctx),
		Relation: rel,
		ParentID: parentID,
	}
	rep, err := withRetry(ctx, s, "collection.RepairPositions", func() (ordering.IntegrityReport, error) {
		return s.deps.Aggregate.RepairPositions(ctx, in)
	})
	if err != nil {
		return ordering.IntegrityReport{}, err
	}
	if rep.Repaired {
		s.publish(ctx, "collection.RepairPositions", rel, parentID, uuid.Nil)
	}
	return rep, nil
}

// readable resolves the relation and parent and checks the read permission.
func (s *collectionService) readable(ctx context.Context, op string, name ordering.RelationName, parentID uuid.UUID) (ordering.Relation, error) {
	rel, ok := s.deps.Relations.Lookup(name)
	if !ok {
		return rel, domainagg.NewReasonError(domainagg.CodeValidation, domainagg.ReasonUnknownRelation, op,
			fmt.Sprintf("unknown relation %q", name))
	}
	if parentID == uuid.Nil {
		return rel, domainagg.NewError(domainagg.CodeValidation, op, "missing parent_id", nil)
	}
	parent, err := s.deps.Nodes.Get(dbctx.Context{Ctx: ctx}, rel.ParentTable, parentID)
	if err != nil {
		return rel, aggregates.MapError(op, err)
	}
	if parent == nil {
		return rel, domainagg.NewReasonError(domainagg.CodeNotFound, domainagg.ReasonParentNotFound, op,
			fmt.Sprintf("%s not found: %s", rel.ParentTable, parentID))
	}
	actorID := ctxutil.ActorID(ctx)
	allowed, err := s.deps.Gate.Authorize(ctx, actorID, parent.OrgID, ordering.ActionRead)
	if err != nil {
		return rel, domainagg.NewError(domainagg.CodeInternal, op, "permission check failed", err)
	}
	if !allowed {
		return rel, domainagg.NewReasonError(domainagg.CodeForbidden, domainagg.ReasonForbidden, op,
			fmt.Sprintf("actor %s may not read in org %s", actorID, parent.OrgID))
	}
	return rel, nil
}

func (s *collectionService) ListChildren(ctx context.Context, name ordering.RelationName, parentID uuid.UUID) ([]ordering.Child, error) {
	const op = opListChildren
	rel, err := s.readable(ctx, op, name, parentID)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.deps.Members.List(dbc, rel, parentID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ChildID)
	}
	nodes, err := s.deps.Nodes.GetByIDs(dbc, rel.ChildTable, ids)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	byID := make(map[uuid.UUID]*repos.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := make([]ordering.Child, 0, len(rows))
	for _, r := range rows {
		n := byID[r.ChildID]
		if n == nil {
			// membership committed after the node read; next read will see both
			continue
		}
		out = append(out, n.AsChild(rel.Name, parentID, r.Position))
	}
	return out, nil
}

func (s *collectionService) CheckIntegrity(ctx context.Context, name ordering.RelationName, parentID uuid.UUID) (ordering.IntegrityReport, error) {
	const op = opCheckIntegrity
	rel, err := s.readable(ctx, op, name, parentID)
	if err != nil {
		return ordering.IntegrityReport{}, err
	}
	rows, err := s.deps.Members.List(dbctx.Context{Ctx: ctx}, rel, parentID)
	if err != nil {
		return ordering.IntegrityReport{}, aggregates.MapError(op, err)
	}
	positions := make([]int, len(rows))
	for i, r := range rows {
		positions[i] = r.Position
	}
	rep := ordering.Inspect(rel.Name, parentID, positions)
	if !rep.Contiguous {
		s.deps.Metrics.IncIntegrityViolation(string(rel.Name))
		s.log.Warn("collection positions not contiguous",
			"relation", rel.Name, "parent_id", parentID, "gaps", rep.Gaps, "duplicates", rep.DuplicatePositions)
	}
	return rep, nil
}

func (s *collectionService) AuthorizeWatch(ctx context.Context, name ordering.RelationName, parentID uuid.UUID) error {
	_, err := s.readable(ctx, opWatch, name, parentID)
	return err
}
