package watch

import (
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// State is the customer-facing rendering branch of an order.
type State string

const (
	// StateApproved shows the success page and the handoff action.
	StateApproved State = "approved"
	// StateAwaitingArtifact shows the PIX QR code or the boleto ticket.
	StateAwaitingArtifact State = "awaiting_artifact"
	// StateAwaitingPayment shows a generic waiting message.
	StateAwaitingPayment State = "awaiting_payment"
)

// View is what the customer sees for an order.
type View struct {
	Order     *order.Order
	State     State
	Artifacts payment.Artifacts
}

// NewView derives the rendering branch of o.
func NewView(o *order.Order) View {
	v := View{Order: o}
	switch {
	case o.PaymentStatus == payment.StatusApproved:
		v.State = StateApproved
	case !o.Artifacts.Empty():
		v.State = StateAwaitingArtifact
		v.Artifacts = o.Artifacts
	default:
		v.State = StateAwaitingPayment
	}
	return v
}
