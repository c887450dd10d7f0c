// Package watch keeps a customer's view of an order converged with the
// store.
//
// Two sources feed a view: change notifications pushed through a Hub and a
// fixed-interval poll that covers lost notifications. A single goroutine owns
// the current snapshot and only accepts snapshots with a higher revision, so
// the two sources can race freely without the view going backwards.
package watch

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// DefaultPollInterval is the fallback poll period.
const DefaultPollInterval = 5 * time.Second

// EventKind tells snapshot events from the post-approval event.
type EventKind string

const (
	// EventSnapshot carries a newer order snapshot.
	EventSnapshot EventKind = "snapshot"
	// EventApproved is emitted once per Run, right after the first approved
	// snapshot.
	EventApproved EventKind = "approved"
)

// Event is passed to the emit callback of Run.
type Event struct {
	Kind EventKind
	View View
}

// Watcher drives order views.
type Watcher struct {
	orders   Fetcher
	hub      *Hub
	interval time.Duration
}

// NewWatcher creates a Watcher. A non-positive interval selects
// DefaultPollInterval.
func NewWatcher(orders Fetcher, hub *Hub, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{orders: orders, hub: hub, interval: interval}
}

// Run watches the order with the given number until ctx is done or emit
// returns an error. It emits the baseline snapshot first, then every accepted
// newer snapshot, and a single EventApproved once the order is approved.
//
// Run returns order.ErrNotFound if the order does not exist or is deleted
// while watched, the emit error if emit fails, and nil when ctx ends. The hub
// subscription and the poll ticker are released on return.
func (w *Watcher) Run(ctx context.Context, number string, emit func(Event) error) error {
	lg := zctx.From(ctx).With(zap.String("order_number", number))

	// Subscribe before the baseline read so a change between the two is not
	// lost.
	sub := w.hub.Subscribe(number)
	defer sub.Close()

	current, err := w.orders.GetByNumber(ctx, number)
	if err != nil {
		return errors.Wrap(err, "baseline")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	handedOff := false
	publish := func(o *order.Order) error {
		if err := emit(Event{Kind: EventSnapshot, View: NewView(o)}); err != nil {
			return err
		}
		if o.PaymentStatus == payment.StatusApproved && !handedOff {
			handedOff = true
			return emit(Event{Kind: EventApproved, View: NewView(o)})
		}
		return nil
	}
	if err := publish(current); err != nil {
		return err
	}

	for {
		var next *order.Order
		select {
		case <-ctx.Done():
			return nil
		case o := <-sub.C():
			next = o
		case <-ticker.C:
			o, err := w.orders.GetByNumber(ctx, number)
			switch {
			case errors.Is(err, order.ErrNotFound):
				return errors.Wrap(err, "poll")
			case err != nil:
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Poll order", zap.Error(err))
				continue
			}
			next = o
		}

		if next.Revision <= current.Revision {
			continue
		}
		current = next
		if err := publish(current); err != nil {
			return err
		}
	}
}
