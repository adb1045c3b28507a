package views

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"dismissal/internal/logging"
	"dismissal/internal/metrics"
	"dismissal/internal/pickup"
)

// Hub follows the store's change feed, keeps the latest snapshot of both
// collections, feeds it to the engine and tells subscribers what changed.
type Hub struct {
	store   pickup.Store
	engine  *pickup.Engine
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	pending  []pickup.PendingPickup
	released []pickup.ReleasedPickup
	subs     map[chan pickup.Collection]struct{}
}

// NewHub creates a hub. log and m may be nil.
func NewHub(store pickup.Store, engine *pickup.Engine, log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		store:   store,
		engine:  engine,
		log:     logging.OrNop(log),
		metrics: m,
		subs:    make(map[chan pickup.Collection]struct{}),
	}
}

// Run consumes changes until ctx is done or the feed closes.
func (h *Hub) Run(ctx context.Context) error {
	changes, err := h.store.Watch(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		h.Apply(change)
	}
	return ctx.Err()
}

// Apply folds one change into the hub synchronously.
func (h *Hub) Apply(change pickup.Change) {
	h.engine.Observe(change)

	h.mu.Lock()
	switch change.Collection {
	case pickup.CollectionPending:
		h.pending = change.Pending
	case pickup.CollectionReleased:
		h.released = change.Released
	}
	pending, released := len(h.pending), len(h.released)
	for ch := range h.subs {
		select {
		case ch <- change.Collection:
		default:
			// The subscriber already has a wakeup queued and will read the latest snapshot.
		}
	}
	h.mu.Unlock()

	h.metrics.SetCounts(pending, released)
	h.log.Debug("collection changed", zap.String("collection", string(change.Collection)),
		zap.Int("pending", pending), zap.Int("released", released))
}

// Pending returns the latest pending snapshot.
func (h *Hub) Pending() []pickup.PendingPickup {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pending
}

// Released returns the latest released snapshot.
func (h *Hub) Released() []pickup.ReleasedPickup {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// Subscribe returns a channel that receives the collection name after each
// change, and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan pickup.Collection, func()) {
	ch := make(chan pickup.Collection, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}
