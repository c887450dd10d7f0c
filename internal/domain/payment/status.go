package payment

// Status is the payment status vocabulary defined by the gateway.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAuthorized  Status = "authorized"
	StatusInProcess   Status = "in_process"
	StatusInMediation Status = "in_mediation"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
	StatusChargedBack Status = "charged_back"
)

// Rank orders statuses by finality. Unknown statuses rank with in-flight ones.
func (s Status) Rank() int {
	switch s {
	case StatusPending, "":
		return 0
	case StatusApproved, StatusRejected, StatusCancelled:
		return 2
	case StatusRefunded, StatusChargedBack:
		return 3
	default:
		return 1
	}
}

// Final reports whether no further transition is accepted from s.
func (s Status) Final() bool {
	return s == StatusRefunded || s == StatusChargedBack
}

// Accepts reports whether an order whose payment is in status current may move
// to next. samePayment is true when next refers to the same gateway payment id
// that produced current.
//
// Approved only moves to refunded or charged back of that same payment: a
// refund of a second, unapplied payment leaves the captured one in place. For
// one payment id the
// status never goes back in rank and repeating it is a duplicate. A different
// payment id is a new attempt and may replace any unpaid state.
func Accepts(current, next Status, samePayment bool) bool {
	switch {
	case current.Final():
		return false
	case current == StatusApproved:
		return samePayment && (next == StatusRefunded || next == StatusChargedBack)
	case next.Final():
		// Refunds and chargebacks only make sense on an approved payment.
		return false
	case !samePayment:
		return true
	case next == current:
		return false
	default:
		return next.Rank() >= current.Rank()
	}
}
