// Package reconcile applies asynchronous gateway payment notifications to
// orders.
//
// Reconciliation is safe to run any number of times for the same
// notification: the order store applies each payment update atomically and
// decrements stock only for the first approval of an order. A delivery claim
// store, when configured, only saves the gateway round trip for retries.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// Outcome describes how a notification was handled.
type Outcome string

const (
	OutcomeIgnored           Outcome = "ignored"
	OutcomeDuplicateDelivery Outcome = "duplicate_delivery"
	OutcomeApplied           Outcome = "applied"
	OutcomeStale             Outcome = "stale"
	OutcomeOrderNotFound     Outcome = "order_not_found"
	OutcomePaymentNotFound   Outcome = "payment_not_found"
	// OutcomeRefused is an approval that does not pay for the order at its
	// price list. The order stays unapproved and stock untouched.
	OutcomeRefused Outcome = "refused"
)

// DefaultPublishTimeout bounds the approval event publish.
const DefaultPublishTimeout = 5 * time.Second

// Store applies payment updates to orders.
type Store interface {
	ApplyPayment(ctx context.Context, number string, u order.PaymentUpdate) (*order.PaymentResult, error)
}

// Claimer records processed deliveries.
type Claimer interface {
	// Claim returns false if key was already claimed.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher announces approved orders.
type Publisher interface {
	PublishApproved(ctx context.Context, o *order.Order) error
}

// StockInvalidator drops cached stock of a product.
type StockInvalidator interface {
	InvalidateProduct(id int64)
}

// Options configures the optional collaborators of a Service.
type Options struct {
	Claimer       Claimer
	Publisher     Publisher
	Invalidator   StockInvalidator
	MeterProvider metric.MeterProvider
	// PublishTimeout bounds PublishApproved; DefaultPublishTimeout if zero.
	PublishTimeout time.Duration
}

// Service handles gateway payment notifications.
type Service struct {
	payments    payment.PaymentFetcher
	orders      Store
	claimer     Claimer
	publisher   Publisher
	invalidator StockInvalidator

	publishTimeout time.Duration

	notifications metric.Int64Counter
	decrements    metric.Int64Counter
}

// NewService creates a reconciliation Service.
func NewService(payments payment.PaymentFetcher, orders Store, opts Options) (*Service, error) {
	s := &Service{
		payments:    payments,
		orders:      orders,
		claimer:     opts.Claimer,
		publisher:   opts.Publisher,
		invalidator: opts.Invalidator,

		publishTimeout: opts.PublishTimeout,
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = DefaultPublishTimeout
	}
	if opts.MeterProvider != nil {
		meter := opts.MeterProvider.Meter("github.com/xenking/apparel-checkout/internal/domain/reconcile")
		var err error
		if s.notifications, err = meter.Int64Counter("shop.payment.notifications",
			metric.WithDescription("Payment notifications by outcome"),
		); err != nil {
			return nil, errors.Wrap(err, "notifications counter")
		}
		if s.decrements, err = meter.Int64Counter("shop.stock.decrements",
			metric.WithDescription("Orders whose stock was decremented"),
		); err != nil {
			return nil, errors.Wrap(err, "decrements counter")
		}
	}
	return s, nil
}

// Handle reconciles one notification. A nil error means the notification was
// fully handled and must be acknowledged, whatever the outcome. A non-nil
// error is transient: the gateway should deliver the notification again.
func (s *Service) Handle(ctx context.Context, n payment.Notification) (Outcome, error) {
	outcome, err := s.handle(ctx, n)
	if err == nil {
		s.count(ctx, outcome)
	}
	return outcome, err
}

func (s *Service) handle(ctx context.Context, n payment.Notification) (Outcome, error) {
	if n.Type != payment.NotificationTypePayment || n.PaymentID == "" {
		return OutcomeIgnored, nil
	}

	lg := zctx.From(ctx).With(
		zap.String("payment_id", n.PaymentID),
		zap.String("notification_id", n.ID),
	)
	ctx = zctx.Base(ctx, lg)

	key := claimKey(n)
	if s.claimer != nil && key != "" {
		claimed, err := s.claimer.Claim(ctx, key)
		switch {
		case err != nil:
			// Reconciliation is idempotent on its own, so a broken claim store
			// only costs an extra gateway call.
			lg.Warn("Delivery claim failed, processing anyway", zap.Error(err))
			key = ""
		case !claimed:
			lg.Debug("Duplicate delivery skipped")
			return OutcomeDuplicateDelivery, nil
		}
	}

	outcome, err := s.apply(ctx, n)
	if err != nil && key != "" {
		if rerr := s.claimer.Release(ctx, key); rerr != nil {
			lg.Warn("Release delivery claim", zap.Error(rerr))
		}
	}
	return outcome, err
}

func (s *Service) apply(ctx context.Context, n payment.Notification) (Outcome, error) {
	lg := zctx.From(ctx)

	p, err := s.payments.FetchPayment(ctx, n.PaymentID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			lg.Warn("Payment not found at gateway")
			return OutcomePaymentNotFound, nil
		}
		return "", errors.Wrap(err, "fetch payment")
	}

	number := strings.TrimSpace(p.ExternalReference)
	if number == "" {
		lg.Warn("Payment has no external reference")
		return OutcomeOrderNotFound, nil
	}
	lg = lg.With(zap.String("order_number", number), zap.String("status", string(p.Status)))

	res, err := s.orders.ApplyPayment(ctx, number, order.PaymentUpdate{
		PaymentID:  p.ID,
		Status:     p.Status,
		Method:     methodOf(p),
		ApprovedAt: p.ApprovedAt,
		Artifacts:  p.Artifacts,
		Amount:     p.Amount,
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Order not found for payment")
			return OutcomeOrderNotFound, nil
		}
		return "", errors.Wrap(err, "apply payment")
	}

	if res.Refused != nil {
		// Redelivery cannot fix this; it needs a refund or a manual decision.
		lg.Error("Payment refused for order",
			zap.String("payment_method", methodOf(p)),
			zap.String("amount", p.Amount.StringFixed(2)),
			zap.Error(res.Refused),
		)
		return OutcomeRefused, nil
	}
	if !res.Applied {
		lg.Info("Payment update not applied", zap.String("order_status", string(res.Order.PaymentStatus)))
		return OutcomeStale, nil
	}
	lg.Info("Payment update applied", zap.Bool("stock_decremented", res.DecrementStock))

	if res.DecrementStock {
		if s.decrements != nil {
			s.decrements.Add(ctx, 1)
		}
		s.afterApproval(ctx, res.Order)
	}
	return OutcomeApplied, nil
}

// afterApproval runs the side effects of the first approval. They are best
// effort: the order and stock are already committed, and later deliveries
// of the notification no longer reach this point. The order.approved event
// is therefore published at most once; a failed publish is only logged.
func (s *Service) afterApproval(ctx context.Context, o *order.Order) {
	if s.invalidator != nil {
		for _, li := range o.Items {
			s.invalidator.InvalidateProduct(li.ProductID)
		}
	}
	if s.publisher == nil {
		return
	}
	// The webhook response waits for this; the gateway hanging up must not
	// cut it short, and a slow broker must not hold the response.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.PublishApproved(pubCtx, o); err != nil {
		zctx.From(ctx).Error("Publish order approved",
			zap.String("order_number", o.Number),
			zap.Error(err),
		)
	}
}

func (s *Service) count(ctx context.Context, outcome Outcome) {
	if s.notifications == nil {
		return
	}
	s.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// methodOf prefers the specific method id for PIX, so that PIX orders are
// recognisable regardless of the gateway's payment type grouping.
func methodOf(p *payment.Payment) string {
	if p.MethodID == payment.MethodPix {
		return payment.MethodPix
	}
	if p.Method != "" {
		return p.Method
	}
	return p.MethodID
}

func claimKey(n payment.Notification) string {
	if n.ID == "" {
		return ""
	}
	return "notification:" + n.ID + ":" + n.Action
}

// ClaimTTL is how long a delivery claim should be kept by claim stores. The
// gateway stops retrying a notification well before that.
const ClaimTTL = 24 * time.Hour
