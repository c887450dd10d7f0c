// Package mercadopago adapts the Mercado Pago REST API to the payment
// gateway interfaces: hosted checkout preferences, payment lookups and
// webhook signature verification.
package mercadopago

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.mercadopago.com"

var _ payment.Gateway = (*Client)(nil)

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	AccessToken string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// Retries is the number of attempts per call, including the first.
	Retries int
	// Sandbox selects the sandbox checkout URL of created preferences.
	Sandbox bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTelemetry instruments outgoing requests.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(cl *Client) {
		cl.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		}
	}
}

// Client calls the Mercado Pago API.
type Client struct {
	http    *http.Client
	cfg     Config
	backoff func() backoff.BackOff
}

// NewClient creates a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mercadopago: access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}

	c := &Client{
		http: http.DefaultClient,
		cfg:  cfg,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CreateSession creates a checkout preference for an order.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	body := encodePreference(req)
	// One key for every attempt: a retried POST must not create a second
	// preference.
	idempotencyKey := uuid.NewString()

	raw, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, idempotencyKey)
	if err != nil {
		return nil, errors.Wrap(err, "create preference")
	}

	pref, err := decodePreference(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode preference")
	}
	s := &payment.Session{ID: pref.ID, RedirectURL: pref.InitPoint}
	if c.cfg.Sandbox && pref.SandboxInitPoint != "" {
		s.RedirectURL = pref.SandboxInitPoint
	}
	if s.RedirectURL == "" {
		return nil, errors.New("preference has no checkout URL")
	}
	return s, nil
}

// FetchPayment reads a payment. It returns payment.ErrPaymentNotFound when
// the API does not know the id.
func (c *Client) FetchPayment(ctx context.Context, id string) (*payment.Payment, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, errors.Wrap(err, "get payment")
	}

	p, err := decodePayment(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	return p, nil
}

// do performs a request with a per-attempt timeout, retrying network errors,
// 429 and 5xx responses with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	lg := zctx.From(ctx)
	attempt := func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, c.cfg.BaseURL+path, r)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "create request"))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
			if apiErr.Temporary() {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}
		return raw, nil
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(uint(c.cfg.Retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Gateway request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}

// pixExcludedTypes are the payment types removed from a PIX-priced checkout,
// leaving bank transfer (PIX) as the only choice.
var pixExcludedTypes = []string{"credit_card", "debit_card", "prepaid_card", "ticket", "atm"}

func encodePreference(req payment.SessionRequest) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range req.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("title", func(e *jx.Encoder) { e.Str(it.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Raw([]byte(it.UnitPrice.StringFixed(2))) })
						e.Field("currency_id", func(e *jx.Encoder) { e.Str("BRL") })
					})
				}
			})
		})
		e.Field("payer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(req.Payer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(req.Payer.Email) })
				e.Field("phone", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("number", func(e *jx.Encoder) { e.Str(req.Payer.Phone) })
					})
				})
				e.Field("identification", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("type", func(e *jx.Encoder) { e.Str("CPF") })
						e.Field("number", func(e *jx.Encoder) { e.Str(req.Payer.TaxID) })
					})
				})
			})
		})
		e.Field("back_urls", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("success", func(e *jx.Encoder) { e.Str(req.SuccessURL) })
				e.Field("failure", func(e *jx.Encoder) { e.Str(req.FailureURL) })
				e.Field("pending", func(e *jx.Encoder) { e.Str(req.PendingURL) })
			})
		})
		if req.PaymentMethod == payment.MethodPix {
			e.Field("payment_methods", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("excluded_payment_types", func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for _, id := range pixExcludedTypes {
								e.Obj(func(e *jx.Encoder) {
									e.Field("id", func(e *jx.Encoder) { e.Str(id) })
								})
							}
						})
					})
					e.Field("installments", func(e *jx.Encoder) { e.Int(1) })
				})
			})
		}
		e.Field("auto_return", func(e *jx.Encoder) { e.Str("approved") })
		e.Field("external_reference", func(e *jx.Encoder) { e.Str(req.OrderNumber) })
		e.Field("notification_url", func(e *jx.Encoder) { e.Str(req.NotificationURL) })
	})
	return e.Bytes()
}

// errorMessage extracts "message" from an API error body.
func errorMessage(raw []byte) string {
	var msg string
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		if key == "message" && d.Next() == jx.String {
			var err error
			msg, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil || msg == "" {
		if len(raw) > 200 {
			raw = raw[:200]
		}
		return strings.TrimSpace(string(raw))
	}
	return msg
}
