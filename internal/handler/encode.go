package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/handoff"
	"github.com/xenking/apparel-checkout/internal/watch"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func optTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCheckout(e *jx.Encoder, o *order.Order, s *payment.Session) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("payment_session_reference", func(e *jx.Encoder) { e.Str(s.RedirectURL) })
		e.Field("session_id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	})
}

func encodeArtifacts(e *jx.Encoder, a payment.Artifacts) {
	e.Obj(func(e *jx.Encoder) {
		if a.QRCode != "" {
			e.Field("qr_code", func(e *jx.Encoder) { e.Str(a.QRCode) })
		}
		if a.QRCodeBase64 != "" {
			e.Field("qr_code_base64", func(e *jx.Encoder) { e.Str(a.QRCodeBase64) })
		}
		if a.TicketURL != "" {
			e.Field("ticket_url", func(e *jx.Encoder) { e.Str(a.TicketURL) })
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("paid_at", func(e *jx.Encoder) { optTime(e, o.PaidAt) })
		e.Field("revision", func(e *jx.Encoder) { e.Int64(o.Revision) })
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
			})
		})
		e.Field("address", func(e *jx.Encoder) {
			a := o.Address
			e.Obj(func(e *jx.Encoder) {
				e.Field("street", func(e *jx.Encoder) { e.Str(a.Street) })
				e.Field("number", func(e *jx.Encoder) { e.Str(a.Number) })
				e.Field("complement", func(e *jx.Encoder) { e.Str(a.Complement) })
				e.Field("neighborhood", func(e *jx.Encoder) { e.Str(a.Neighborhood) })
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
				e.Field("zipcode", func(e *jx.Encoder) { e.Str(a.Zipcode) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("title", func(e *jx.Encoder) { e.Str(li.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, li.UnitPrice) })
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(li.ProductID) })
						e.Field("size", func(e *jx.Encoder) { e.Str(li.Size) })
						e.Field("color", func(e *jx.Encoder) { e.Str(li.Color) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("price_list", func(e *jx.Encoder) { e.Str(o.PriceList) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeView(e *jx.Encoder, v watch.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("state", func(e *jx.Encoder) { e.Str(string(v.State)) })
		e.Field("artifacts", func(e *jx.Encoder) { encodeArtifacts(e, v.Artifacts) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, v.Order) })
	})
}

func encodeHandoff(e *jx.Encoder, h handoff.Handoff) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("url", func(e *jx.Encoder) { e.Str(h.URL) })
		e.Field("message", func(e *jx.Encoder) { e.Str(h.Message) })
		e.Field("countdown_seconds", func(e *jx.Encoder) { e.Int(int(h.Countdown / time.Second)) })
	})
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("pix_price", func(e *jx.Encoder) { money(e, p.UnitPrice(payment.MethodPix)) })
		e.Field("pix_discount", func(e *jx.Encoder) { e.Raw([]byte(p.PixDiscount.String())) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) { e.Str(p.Image) })
		e.Field("variants", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, v := range p.Variants {
					e.Obj(func(e *jx.Encoder) {
						e.Field("size", func(e *jx.Encoder) { e.Str(v.Size) })
						e.Field("color", func(e *jx.Encoder) { e.Str(v.Color) })
						e.Field("stock", func(e *jx.Encoder) { e.Int(v.Stock) })
					})
				}
			})
		})
	})
}
