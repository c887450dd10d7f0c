// Package payment holds the payment gateway vocabulary: statuses, the
// notification envelope, payment details and the gateway adapter interfaces.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrPaymentNotFound is returned by a PaymentFetcher when the gateway does not
// know the requested payment. It is permanent and must not be retried.
var ErrPaymentNotFound = errors.New("payment not found")

// NotificationTypePayment is the only notification type that is reconciled.
const NotificationTypePayment = "payment"

// MethodPix is the payment method that receives the per-product PIX discount.
const MethodPix = "pix"

// Notification is an asynchronous status callback delivered by the gateway.
// The gateway may deliver the same notification more than once.
type Notification struct {
	// ID identifies the delivery itself; retries of one delivery share it.
	ID        string
	Type      string
	Action    string
	PaymentID string
}

// Artifacts are the gateway-issued payloads a customer pays against.
type Artifacts struct {
	QRCode       string `json:"qr_code,omitempty"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

// Empty reports whether no artifact was issued.
func (a Artifacts) Empty() bool {
	return a.QRCode == "" && a.QRCodeBase64 == "" && a.TicketURL == ""
}

// Payment is the gateway's view of a single payment attempt.
type Payment struct {
	ID                string
	Status            Status
	StatusDetail      string
	Method            string // payment_type_id, e.g. "credit_card", "bank_transfer"
	MethodID          string // payment_method_id, e.g. "pix", "visa"
	ExternalReference string // the merchant order number
	Amount            decimal.Decimal
	ApprovedAt        *time.Time
	Artifacts         Artifacts
}

// SessionItem is a line item as presented to the gateway checkout.
type SessionItem struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Payer identifies the buyer towards the gateway.
type Payer struct {
	Name  string
	Email string
	Phone string
	TaxID string
}

// SessionRequest asks the gateway for a hosted checkout session.
type SessionRequest struct {
	OrderNumber     string
	Items           []SessionItem
	Payer           Payer
	// PaymentMethod restricts the hosted checkout. MethodPix offers PIX
	// only; empty offers every method.
	PaymentMethod   string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
}

// Session is a gateway-hosted checkout the customer completes payment against.
type Session struct {
	ID string
	// RedirectURL is the page the customer is sent to (init_point).
	RedirectURL string
}

// SessionCreator creates hosted checkout sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// PaymentFetcher reads payment details by gateway payment id.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, id string) (*Payment, error)
}

// Gateway is the full payment gateway adapter.
type Gateway interface {
	SessionCreator
	PaymentFetcher
}
