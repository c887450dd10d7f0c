package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// PaymentUpdate is a gateway payment state to apply to an order.
type PaymentUpdate struct {
	PaymentID  string
	Status     payment.Status
	Method     string
	ApprovedAt *time.Time
	Artifacts  payment.Artifacts
	// Amount is the amount the gateway charged. Zero skips the amount check.
	Amount decimal.Decimal
}

// PaymentMismatchError is the reason an approval was refused: the payment
// does not pay for the order at the price list it was created with.
type PaymentMismatchError struct {
	Number    string
	PriceList string
	Method    string
	Total     decimal.Decimal
	Amount    decimal.Decimal
}

func (e *PaymentMismatchError) Error() string {
	if e.PriceList == payment.MethodPix && e.Method != payment.MethodPix {
		return fmt.Sprintf("order %s was priced for %s but paid with %q", e.Number, e.PriceList, e.Method)
	}
	return fmt.Sprintf("order %s totals %s but payment amount is %s",
		e.Number, e.Total.StringFixed(2), e.Amount.StringFixed(2))
}

// CheckPayment reports whether u may approve the order: PIX-priced orders
// must be paid with PIX, and a reported amount must equal the order total.
func (o *Order) CheckPayment(u PaymentUpdate) error {
	methodOK := o.PriceList != payment.MethodPix || u.Method == payment.MethodPix
	amountOK := u.Amount.IsZero() || u.Amount.Round(2).Equal(o.Total.Round(2))
	if methodOK && amountOK {
		return nil
	}
	return &PaymentMismatchError{
		Number:    o.Number,
		PriceList: o.PriceList,
		Method:    u.Method,
		Total:     o.Total,
		Amount:    u.Amount,
	}
}

// PaymentChange describes what ApplyPayment did to the order.
type PaymentChange struct {
	// Applied is true when any order field changed.
	Applied bool
	// DecrementStock is true when the caller must subtract the line-item
	// quantities from inventory. It is true at most once per order.
	DecrementStock bool
	// Refused is set, and nothing changed, when an approval did not match
	// the order (see CheckPayment).
	Refused error
}

// PaymentResult is returned by Repository.ApplyPayment.
type PaymentResult struct {
	Order *Order
	PaymentChange
}

// ApplyPayment transitions the order according to u and reports the change.
// It is a pure state transition shared by every store implementation: stores
// load the order, call ApplyPayment, and persist the result only if the
// order revision they loaded is still current.
//
// PaidAt is set on the first approval only. StockAppliedAt is set, and
// DecrementStock reported, the first time the order is seen approved. An
// approval failing CheckPayment leaves the order untouched.
func (o *Order) ApplyPayment(u PaymentUpdate, now time.Time) PaymentChange {
	var change PaymentChange

	samePayment := o.PaymentID != "" && o.PaymentID == u.PaymentID
	accepted := payment.Accepts(o.PaymentStatus, u.Status, samePayment)
	if accepted && u.Status == payment.StatusApproved {
		if err := o.CheckPayment(u); err != nil {
			change.Refused = err
			return change
		}
	}

	switch {
	case accepted:
		o.PaymentStatus = u.Status
		o.PaymentID = u.PaymentID
		if u.Method != "" {
			o.PaymentMethod = u.Method
		}
		if !u.Artifacts.Empty() {
			o.Artifacts = u.Artifacts
		}
		if u.Status == payment.StatusApproved && o.PaidAt == nil {
			paidAt := now
			if u.ApprovedAt != nil {
				paidAt = *u.ApprovedAt
			}
			o.PaidAt = &paidAt
		}
		change.Applied = true
	case samePayment && u.Status == o.PaymentStatus &&
		!u.Artifacts.Empty() && u.Artifacts != o.Artifacts:
		// Same attempt, artifacts issued after the first notification.
		o.Artifacts = u.Artifacts
		change.Applied = true
	}

	if o.PaymentStatus == payment.StatusApproved && o.StockAppliedAt == nil {
		appliedAt := now
		o.StockAppliedAt = &appliedAt
		change.DecrementStock = true
		change.Applied = true
	}

	if change.Applied {
		o.Revision++
		o.UpdatedAt = now
	}
	return change
}
