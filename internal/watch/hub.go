package watch

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
)

// Fetcher reads an order snapshot by number.
type Fetcher interface {
	GetByNumber(ctx context.Context, number string) (*order.Order, error)
}

// Hub fans order change notifications out to subscribers of that order.
//
// Each subscriber owns a one-slot channel: a new snapshot replaces one the
// subscriber has not consumed yet, so a slow reader never blocks the hub and
// always sees the latest state.
type Hub struct {
	orders Fetcher

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates a Hub that loads changed orders from orders.
func NewHub(orders Fetcher) *Hub {
	return &Hub{
		orders: orders,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription receives snapshots of one order.
type Subscription struct {
	hub    *Hub
	number string
	ch     chan *order.Order
	once   sync.Once
}

// C returns the snapshot channel. It is never closed.
func (s *Subscription) C() <-chan *order.Order { return s.ch }

// Close removes the subscription from the hub. It is safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		set := s.hub.subs[s.number]
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.number)
		}
	})
}

// Subscribe registers interest in the order with the given number.
func (h *Hub) Subscribe(number string) *Subscription {
	s := &Subscription{hub: h, number: number, ch: make(chan *order.Order, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[number]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[number] = set
	}
	set[s] = struct{}{}
	return s
}

// Subscribers returns the number of live subscriptions for an order.
func (h *Hub) Subscribers(number string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[number])
}

// Notify reports that the order changed. The row is loaded once and
// delivered to every subscriber; nothing is loaded without subscribers.
func (h *Hub) Notify(ctx context.Context, number string) {
	if h.Subscribers(number) == 0 {
		return
	}
	o, err := h.orders.GetByNumber(ctx, number)
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			zctx.From(ctx).Warn("Load changed order",
				zap.String("order_number", number), zap.Error(err))
		}
		return
	}
	h.Publish(o)
}

// Publish delivers a snapshot to the subscribers of its order.
func (h *Hub) Publish(o *order.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[o.Number] {
		c := *o
		offer(s.ch, &c)
	}
}

// offer puts o into the one-slot channel ch, replacing an unread value.
func offer(ch chan *order.Order, o *order.Order) {
	for {
		select {
		case ch <- o:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
