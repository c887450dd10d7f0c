package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, badRequest("request body too large or unreadable"))
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(w, badRequest("malformed request body"))
		return
	}

	res, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeCheckout(e, res.Order, res.Session)
	})
}

func (h *Handler) retryCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.orders.RetrySession(ctx, r.PathValue("number"))
	if err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCheckout(e, res.Order, res.Session)
	})
}
