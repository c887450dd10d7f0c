package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/watch"
)

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, r.PathValue("number"))
	if err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeView(e, watch.NewView(o))
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orders, err := h.orders.ListByTaxID(ctx, r.URL.Query().Get("tax_id"))
	if err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// orderEvents streams the order as Server-Sent Events: a "snapshot" event for
// the baseline and every newer state, and one "handoff" event after approval.
// The stream ends when the client disconnects.
func (h *Handler) orderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := r.PathValue("number")
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		zctx.From(ctx).Warn("Clear write deadline", zap.Error(err))
	}

	started := false
	err := h.watcher.Run(ctx, number, func(ev watch.Event) error {
		if !started {
			hdr := w.Header()
			hdr.Set("Content-Type", "text/event-stream")
			hdr.Set("Cache-Control", "no-cache")
			hdr.Set("Connection", "keep-alive")
			hdr.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		var e jx.Encoder
		name := "snapshot"
		switch ev.Kind {
		case watch.EventApproved:
			name = "handoff"
			encodeHandoff(&e, h.handoff.Build(ctx, ev.View.Order))
		default:
			encodeView(&e, ev.View)
		}
		if err := writeEvent(w, name, ev.View.Order.Revision, e.Bytes()); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err == nil {
		return
	}
	if !started {
		writeError(w, mapError(ctx, err))
		return
	}
	if !errors.Is(err, order.ErrNotFound) {
		zctx.From(ctx).Debug("Order stream closed", zap.String("order_number", number), zap.Error(err))
	}
}

// writeEvent writes one SSE frame. data is a single line of JSON.
func writeEvent(w http.ResponseWriter, name string, id int64, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", name, id, data)
	return err
}
