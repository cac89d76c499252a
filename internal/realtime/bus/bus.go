package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/domain/ordering"
)

// CollectionChanged is published after a committed write to a parent's
// ordered collection. Consumers re-read the collection; the event carries
// no positions.
type CollectionChanged struct {
	Relation ordering.RelationName `json:"relation"`
	ParentID uuid.UUID             `json:"parent_id"`
	Op       string                `json:"op"`
	ChildID  uuid.UUID             `json:"child_id,omitempty"`
	At       time.Time             `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev CollectionChanged) error
	StartForwarder(ctx context.Context, onEvent func(ev CollectionChanged)) error
	Close() error
}

type nopBus struct{}

// NewNopBus drops every event.
func NewNopBus() Bus { return nopBus{} }

func (nopBus) Publish(context.Context, CollectionChanged) error { return nil }

func (nopBus) StartForwarder(context.Context, func(CollectionChanged)) error { return nil }

func (nopBus) Close() error { return nil }

type localBus struct {
	mu       sync.RWMutex
	handlers []func(CollectionChanged)
}

// NewLocalBus delivers events to forwarders in the same process. Used for
// single-replica runs without redis.
func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(_ context.Context, ev CollectionChanged) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onEvent func(ev CollectionChanged)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	b.mu.Lock()
	idx := len(b.handlers)
	b.handlers = append(b.handlers, onEvent)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.handlers[idx] = func(CollectionChanged) {}
		b.mu.Unlock()
	}()
	return nil
}

func (b *localBus) Close() error { return nil }
