package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/gateway/mercadopago"
)

// paymentWebhook receives gateway payment callbacks. Every delivery that can
// never succeed is acknowledged with 200 so the gateway stops retrying; only
// transient failures answer 500.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		lg.Warn("Read payment callback", zap.Error(err))
		writeReceived(w)
		return
	}
	n, err := mercadopago.ParseNotification(body, r.URL.Query())
	if err != nil {
		lg.Warn("Malformed payment callback", zap.Error(err), zap.ByteString("body", body))
		writeReceived(w)
		return
	}

	if h.webhookSecret != "" {
		dataID := r.URL.Query().Get("data.id")
		if dataID == "" {
			dataID = n.PaymentID
		}
		if err := mercadopago.VerifySignature(h.webhookSecret,
			r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID,
		); err != nil {
			lg.Warn("Rejected payment callback", zap.Error(err), zap.String("payment_id", n.PaymentID))
			writeError(w, apiError{Code: http.StatusUnauthorized, Message: "invalid signature"})
			return
		}
	}

	outcome, err := h.reconciler.Handle(ctx, n)
	if err != nil {
		lg.Error("Payment callback failed, gateway will retry",
			zap.String("payment_id", n.PaymentID),
			zap.Error(err),
		)
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "processing failed"})
		return
	}
	lg.Debug("Payment callback handled",
		zap.String("payment_id", n.PaymentID),
		zap.String("outcome", string(outcome)),
	)
	writeReceived(w)
}

func writeReceived(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
		})
	})
}
