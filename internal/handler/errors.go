package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/product"
)

// apiError is the JSON error body: {"code": int, "message": string}.
type apiError struct {
	Code    int
	Message string
	// Number is set when an order was stored but its payment session failed.
	Number string
}

func writeError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.Code, func(enc *jx.Encoder) {
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("code", func(enc *jx.Encoder) { enc.Int(e.Code) })
			enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
			if e.Number != "" {
				enc.Field("order_number", func(enc *jx.Encoder) { enc.Str(e.Number) })
			}
		})
	})
}

func badRequest(msg string) apiError {
	return apiError{Code: http.StatusBadRequest, Message: msg}
}

// mapError converts domain errors to API errors. Unknown errors are logged and
// reported as 500 without details.
func mapError(ctx context.Context, err error) apiError {
	var (
		validationErr *order.ValidationError
		quantityErr   *order.InvalidQuantityError
		productErr    *order.ProductNotFoundError
		variantErr    *order.VariantNotFoundError
		priceErr      *order.PriceMismatchError
		sessionErr    *order.SessionError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		return badRequest(err.Error())
	case errors.As(err, &validationErr):
		return badRequest(validationErr.Error())
	case errors.As(err, &quantityErr):
		return badRequest(quantityErr.Error())
	case errors.Is(err, order.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "order not found"}
	case errors.Is(err, product.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "product not found"}
	case errors.Is(err, order.ErrNotPending):
		return apiError{Code: http.StatusConflict, Message: err.Error()}
	case errors.As(err, &productErr):
		return apiError{Code: http.StatusUnprocessableEntity, Message: productErr.Error()}
	case errors.As(err, &variantErr):
		return apiError{Code: http.StatusUnprocessableEntity, Message: variantErr.Error()}
	case errors.As(err, &priceErr):
		return apiError{Code: http.StatusUnprocessableEntity, Message: priceErr.Error()}
	case errors.As(err, &sessionErr):
		return apiError{
			Code:    http.StatusBadGateway,
			Message: "payment session could not be created, retry later",
			Number:  sessionErr.Number,
		}
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, auth.ErrForbidden):
		return apiError{Code: http.StatusForbidden, Message: "forbidden"}
	}

	zctx.From(ctx).Error("Request failed", zap.Error(err))
	return apiError{Code: http.StatusInternalServerError, Message: "internal error"}
}
