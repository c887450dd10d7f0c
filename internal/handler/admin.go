package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

// DefaultPurgeAge is used when older_than is not given.
const DefaultPurgeAge = 72 * time.Hour

func (h *Handler) purgePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	age := DefaultPurgeAge
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, badRequest("older_than must be a duration such as 72h"))
			return
		}
		age = d
	}

	n, err := h.orders.PurgePending(ctx, age)
	if err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("deleted", func(e *jx.Encoder) { e.Int64(n) })
		})
	})
}

func (h *Handler) putSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")
	if !setting.Known(key) {
		writeError(w, apiError{Code: http.StatusNotFound, Message: "unknown setting " + key})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, badRequest("request body too large or unreadable"))
		return
	}
	value, err := decodeSettingValue(body)
	if err != nil {
		writeError(w, badRequest("body must be {\"value\": string}"))
		return
	}

	if err := h.settings.Put(ctx, key, value); err != nil {
		writeError(w, mapError(ctx, err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("key", func(e *jx.Encoder) { e.Str(key) })
			e.Field("value", func(e *jx.Encoder) { e.Str(value) })
		})
	})
}
