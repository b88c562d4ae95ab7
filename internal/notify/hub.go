package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	dbtypes "github.com/angelmondragon/vetsync/pkg/db/types"
	"github.com/angelmondragon/vetsync/pkg/enums"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// AppliedChange is the generic notification raised when a remote change should be materialized
// by an entity store. The sync core never touches entity data itself.
type AppliedChange struct {
	EntityType string              `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	ChangeType enums.ChangeType    `json:"change_type"`
	Record     dbtypes.JSONPayload `json:"record"`
	Version    json.RawMessage     `json:"version,omitempty"`
}

type Subscriber interface {
	HandleChange(ctx context.Context, change AppliedChange)
}

type SubscriberFunc func(ctx context.Context, change AppliedChange)

func (f SubscriberFunc) HandleChange(ctx context.Context, change AppliedChange) {
	f(ctx, change)
}

// Dispatcher is what the conflict resolver needs to raise notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, change AppliedChange)
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// Hub fans applied changes out to subscribers in subscription order.
type Hub struct {
	logg *logger.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func NewHub(logg *logger.Logger) *Hub {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{logg: logg}
}

// Subscribe registers sub and returns a func that removes it. Calling the func twice is harmless.
func (h *Hub) Subscribe(sub Subscriber) func() {
	if sub == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, sub: sub})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch delivers change to every subscriber. A panicking subscriber is logged and skipped.
func (h *Hub) Dispatch(ctx context.Context, change AppliedChange) {
	h.mu.RLock()
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(ctx, s.sub, change)
	}
}

func (h *Hub) deliver(ctx context.Context, sub Subscriber, change AppliedChange) {
	defer func() {
		if r := recover(); r != nil {
			fields := map[string]any{
				"entity_type": change.EntityType,
				"entity_id":   change.EntityID,
			}
			h.logg.Error(h.logg.WithFields(ctx, fields), "applied change subscriber panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	sub.HandleChange(ctx, change)
}

// Channel subscribes a buffered channel. Changes that do not fit in the buffer are dropped and logged.
// The returned func unsubscribes and closes the channel.
func (h *Hub) Channel(buffer int) (<-chan AppliedChange, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan AppliedChange, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := h.Subscribe(SubscriberFunc(func(ctx context.Context, change AppliedChange) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- change:
		default:
			h.logg.Warn(h.logg.WithField(ctx, "entity_id", change.EntityID), "applied change channel full, dropping notification")
		}
	}))
	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}
