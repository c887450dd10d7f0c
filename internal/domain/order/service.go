package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
)

// Sentinel errors for order intake.
var (
	ErrEmptyItems = errors.New("items required")
	ErrNotPending = errors.New("order is not pending")
)

const numberAttempts = 3

// MaxQuantity bounds the quantity of a single line.
const MaxQuantity = 999

// ValidationError reports a malformed checkout field.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s failed %q validation", e.Field, e.Rule)
}

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %d", MaxQuantity, e.ProductID)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// VariantNotFoundError indicates the product is not sold in the requested
// size and color.
type VariantNotFoundError struct {
	ProductID int64
	Size      string
	Color     string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("product %d has no variant size=%q color=%q", e.ProductID, e.Size, e.Color)
}

// PriceMismatchError indicates the client-supplied unit price differs from
// the catalog price.
type PriceMismatchError struct {
	ProductID int64
	Got       decimal.Decimal
	Want      decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("unit price %s for product %d does not match catalog price %s",
		e.Got.StringFixed(2), e.ProductID, e.Want.StringFixed(2))
}

// SessionError is returned when the order was persisted but the gateway
// session could not be created. The order stays pending; the checkout can be
// retried against Number.
type SessionError struct {
	Number string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("create payment session for order %s: %v", e.Number, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ItemRequest is a cart line as submitted by the client.
type ItemRequest struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Size      string          `json:"size" validate:"required,max=16"`
	Color     string          `json:"color" validate:"max=32"`
}

// AddressRequest is the shipping address as submitted by the client.
type AddressRequest struct {
	Street       string `json:"street" validate:"required,max=200"`
	Number       string `json:"number" validate:"required,max=20"`
	Complement   string `json:"complement" validate:"max=100"`
	Neighborhood string `json:"neighborhood" validate:"required,max=100"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"required,len=2,alpha"`
	Zipcode      string `json:"zipcode" validate:"required,zipcode"`
}

// CustomerRequest is the buyer form as submitted by the client.
type CustomerRequest struct {
	Name    string         `json:"name" validate:"required,max=200"`
	Email   string         `json:"email" validate:"required,email"`
	Phone   string         `json:"phone" validate:"required,min=8,max=20"`
	TaxID   string         `json:"tax_id" validate:"required,taxid"`
	Address AddressRequest `json:"address"`
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items    []ItemRequest   `json:"items" validate:"dive"`
	Customer CustomerRequest `json:"customer"`
	// PaymentMethod selects the price list; "pix" applies PIX discounts.
	PaymentMethod string `json:"payment_method"`
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order   *Order
	Session *payment.Session
}

// ServiceConfig holds non-dependency configuration for the Service.
type ServiceConfig struct {
	// SiteURL is the public base URL used for gateway callbacks and returns.
	SiteURL string
	// PriceTolerance is the largest accepted difference between a
	// client-supplied unit price and the catalog price.
	PriceTolerance decimal.Decimal
}

// Service encapsulates order intake and lookup.
type Service struct {
	products product.Repository
	orders   Repository
	gateway  payment.SessionCreator
	validate *validator.Validate
	cfg      ServiceConfig

	now       func() time.Time
	newNumber func(time.Time) string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cfg ServiceConfig,
	products product.Repository,
	orders Repository,
	gateway payment.SessionCreator,
) *Service {
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Service{
		products:  products,
		orders:    orders,
		gateway:   gateway,
		validate:  newValidator(),
		cfg:       cfg,
		now:       time.Now,
		newNumber: NewNumber,
	}
}

// PlaceOrder validates the cart and customer, re-derives every unit price from
// the catalog, persists a pending order and requests a payment session.
//
// Nothing is persisted when validation fails. When the gateway fails after the
// order was stored, a *SessionError carrying the order number is returned.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	// Only PIX has its own price list; every other method pays list price.
	var priceList string
	if req.PaymentMethod == payment.MethodPix {
		priceList = payment.MethodPix
	}
	items, listTotal, err := s.priceItems(ctx, req.Items, priceList)
	if err != nil {
		return nil, err
	}

	subtotal := Sum(items)
	discount := listTotal.Sub(subtotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	o := &Order{
		Customer: Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: req.Customer.Phone,
			TaxID: NormalizeTaxID(req.Customer.TaxID),
		},
		Address: Address{
			Street:       req.Customer.Address.Street,
			Number:       req.Customer.Address.Number,
			Complement:   req.Customer.Address.Complement,
			Neighborhood: req.Customer.Address.Neighborhood,
			City:         req.Customer.Address.City,
			State:        strings.ToUpper(req.Customer.Address.State),
			Zipcode:      req.Customer.Address.Zipcode,
		},
		Items:         items,
		Subtotal:      subtotal.Round(2),
		Discount:      discount.Round(2),
		Total:         subtotal.Round(2),
		PriceList:     priceList,
		PaymentStatus: payment.StatusPending,
	}

	if err := s.create(ctx, o); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_number", o.Number))
	lg.Info("Order created",
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Total.StringFixed(2)),
	)

	sess, err := s.openSession(ctx, o)
	if err != nil {
		lg.Warn("Payment session failed, order left pending", zap.Error(err))
		return nil, &SessionError{Number: o.Number, Err: err}
	}

	return &PlaceOrderResult{Order: o, Session: sess}, nil
}

// RetrySession requests a new payment session for an order that is still
// pending, typically after PlaceOrder returned a *SessionError.
func (s *Service) RetrySession(ctx context.Context, number string) (*PlaceOrderResult, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.PaymentStatus != payment.StatusPending {
		return nil, ErrNotPending
	}

	sess, err := s.openSession(ctx, o)
	if err != nil {
		return nil, &SessionError{Number: o.Number, Err: err}
	}
	return &PlaceOrderResult{Order: o, Session: sess}, nil
}

// Get returns the order with the given number.
func (s *Service) Get(ctx context.Context, number string) (*Order, error) {
	return s.orders.GetByNumber(ctx, strings.TrimPrefix(strings.TrimSpace(number), "#"))
}

// ListByTaxID returns the orders of a customer, newest first.
func (s *Service) ListByTaxID(ctx context.Context, taxID string) ([]Order, error) {
	taxID = NormalizeTaxID(taxID)
	if len(taxID) != 11 {
		return nil, &ValidationError{Field: "tax_id", Rule: "taxid"}
	}
	return s.orders.ListByTaxID(ctx, taxID)
}

// PurgePending deletes orders that stayed pending for longer than age.
func (s *Service) PurgePending(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, &ValidationError{Field: "older_than", Rule: "gt"}
	}
	n, err := s.orders.DeletePending(ctx, s.now().Add(-age))
	if err != nil {
		return 0, errors.Wrap(err, "delete pending orders")
	}
	zctx.From(ctx).Info("Pending orders purged", zap.Int64("deleted", n), zap.Duration("older_than", age))
	return n, nil
}

func (s *Service) validateRequest(req PlaceOrderRequest) error {
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			// Drop the root struct name: "customer.address.zipcode".
			_, field, _ := strings.Cut(verrs[0].Namespace(), ".")
			return &ValidationError{Field: field, Rule: verrs[0].Tag()}
		}
		return errors.Wrap(err, "validate request")
	}
	return nil
}

// priceItems fetches every referenced product in one batch and builds line
// items from catalog prices. Lines referencing the same variant are kept
// apart, each with its own quantity. The second result is the cart total at
// full catalog price, before the payment method discount.
func (s *Service) priceItems(ctx context.Context, reqItems []ItemRequest, method string) ([]LineItem, decimal.Decimal, error) {
	products, err := s.fetchProducts(ctx, reqItems)
	if err != nil {
		return nil, decimal.Zero, err
	}

	listTotal := decimal.Zero
	items := make([]LineItem, len(reqItems))
	for i, item := range reqItems {
		p := products[item.ProductID]
		if !p.HasVariant(item.Size, item.Color) {
			return nil, decimal.Zero, &VariantNotFoundError{ProductID: item.ProductID, Size: item.Size, Color: item.Color}
		}

		price := p.UnitPrice(method)
		if !item.UnitPrice.IsZero() && item.UnitPrice.Sub(price).Abs().GreaterThan(s.cfg.PriceTolerance) {
			return nil, decimal.Zero, &PriceMismatchError{ProductID: item.ProductID, Got: item.UnitPrice, Want: price}
		}

		qty := decimal.NewFromInt(int64(item.Quantity))
		listTotal = listTotal.Add(p.Price.Mul(qty))
		items[i] = LineItem{
			Title:     p.Title(item.Size, item.Color),
			Quantity:  item.Quantity,
			UnitPrice: price,
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
		}
	}
	return items, listTotal, nil
}

func (s *Service) fetchProducts(ctx context.Context, reqItems []ItemRequest) (map[int64]product.Product, error) {
	ids := make([]int64, 0, len(reqItems))
	for _, item := range reqItems {
		ids = append(ids, item.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	for _, item := range reqItems {
		if _, ok := byID[item.ProductID]; !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
	}
	return byID, nil
}

// create persists o under a fresh order number, retrying on the rare number
// collision.
func (s *Service) create(ctx context.Context, o *Order) error {
	var err error
	for range numberAttempts {
		now := s.now()
		o.Number = s.newNumber(now)
		o.CreatedAt = now
		o.UpdatedAt = now

		err = s.orders.Create(ctx, o)
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
	}
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

func (s *Service) openSession(ctx context.Context, o *Order) (*payment.Session, error) {
	items := make([]payment.SessionItem, len(o.Items))
	for i, li := range o.Items {
		items[i] = payment.SessionItem{
			Title:     li.Title,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice,
		}
	}

	sess, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		OrderNumber: o.Number,
		Items:       items,
		Payer: payment.Payer{
			Name:  o.Customer.Name,
			Email: o.Customer.Email,
			Phone: o.Customer.Phone,
			TaxID: o.Customer.TaxID,
		},
		PaymentMethod:   o.PriceList,
		NotificationURL: s.cfg.SiteURL + "/api/webhooks/payment",
		SuccessURL:      s.cfg.SiteURL + "/checkout/success?order=" + o.Number,
		FailureURL:      s.cfg.SiteURL + "/checkout/failure",
		PendingURL:      s.cfg.SiteURL + "/checkout/pending",
	})
	if err != nil {
		return nil, err
	}

	ref := Session{ID: sess.ID, RedirectURL: sess.RedirectURL}
	if err := s.orders.SetSession(ctx, o.Number, ref); err != nil {
		// The session exists at the gateway and the webhook correlates by
		// order number, so a missing reference only affects display.
		zctx.From(ctx).Warn("Failed to store session reference",
			zap.String("order_number", o.Number), zap.Error(err))
	}
	o.Session = ref
	return sess, nil
}
