package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// Repository errors.
var (
	ErrNotFound        = errors.New("order not found")
	ErrDuplicateNumber = errors.New("order number already exists")
	// ErrConflict is returned by a store when concurrent writers kept
	// changing the order while a payment update was being applied.
	ErrConflict = errors.New("order changed concurrently")
)

// Order is a customer order. Line items and totals are fixed at creation;
// only the payment fields, artifacts and paid-at timestamp change afterwards.
type Order struct {
	ID       int64
	Number   string
	Customer Customer
	Address  Address
	Items    []LineItem
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	// PriceList is the payment method the lines were priced for: MethodPix
	// for PIX prices, empty for the regular price list.
	PriceList string

	PaymentStatus payment.Status
	PaymentMethod string
	PaymentID     string
	PaidAt        *time.Time
	Artifacts     payment.Artifacts
	Session       Session

	// StockAppliedAt is set exactly once, by the first approval that
	// decremented inventory.
	StockAppliedAt *time.Time
	// Revision increases on every mutation of the row.
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is a purchased product snapshot. UnitPrice is copied from the
// catalog at creation time.
type LineItem struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ProductID int64           `json:"product_id"`
	Size      string          `json:"size"`
	Color     string          `json:"color,omitempty"`
}

// Amount returns UnitPrice * Quantity.
func (li LineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Customer is the buyer identity snapshot.
type Customer struct {
	Name  string
	Email string
	Phone string
	TaxID string
}

// Address is the shipping address snapshot.
type Address struct {
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	City         string
	State        string
	Zipcode      string
}

// Session references the gateway checkout session of the order.
type Session struct {
	ID          string
	RedirectURL string
}

// Sum returns the sum of UnitPrice * Quantity over items.
func Sum(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Amount())
	}
	return total
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order and fills in ID, Revision and timestamps.
	// It returns ErrDuplicateNumber when the order number is taken.
	Create(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByTaxID(ctx context.Context, taxID string) ([]Order, error)
	SetSession(ctx context.Context, number string, s Session) error
	// DeletePending removes orders still pending that were created before
	// the given time and returns how many were removed.
	DeletePending(ctx context.Context, before time.Time) (int64, error)
	// ApplyPayment atomically applies a gateway payment update to the order
	// identified by number, and decrements stock when the update is the
	// first approval of the order.
	ApplyPayment(ctx context.Context, number string, u PaymentUpdate) (*PaymentResult, error)
}
