package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

func pendingOrder() *Order {
	return &Order{Number: "LA1", PaymentStatus: payment.StatusPending, Revision: 1}
}

func TestApplyPayment_FirstApproval(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	approvedAt := now.Add(-time.Minute)
	o := pendingOrder()

	change := o.ApplyPayment(PaymentUpdate{
		PaymentID:  "123",
		Status:     payment.StatusApproved,
		Method:     "credit_card",
		ApprovedAt: &approvedAt,
	}, now)

	assert.True(t, change.Applied)
	assert.True(t, change.DecrementStock)
	assert.Equal(t, payment.StatusApproved, o.PaymentStatus)
	assert.Equal(t, "123", o.PaymentID)
	assert.Equal(t, "credit_card", o.PaymentMethod)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, approvedAt, *o.PaidAt)
	require.NotNil(t, o.StockAppliedAt)
	assert.Equal(t, int64(2), o.Revision)
	assert.Equal(t, now, o.UpdatedAt)
}

func TestApplyPayment_DuplicateApprovalIsNoop(t *testing.T) {
	now := time.Now()
	o := pendingOrder()
	first := o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: payment.StatusApproved}, now)
	require.True(t, first.DecrementStock)
	paidAt := *o.PaidAt
	rev := o.Revision

	second := o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: payment.StatusApproved}, now.Add(time.Hour))
	assert.False(t, second.Applied)
	assert.False(t, second.DecrementStock)
	assert.Equal(t, paidAt, *o.PaidAt)
	assert.Equal(t, rev, o.Revision)
}

func TestApplyPayment_NoRegressionAfterApproval(t *testing.T) {
	now := time.Now()
	o := pendingOrder()
	o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: payment.StatusApproved}, now)

	for _, status := range []payment.Status{payment.StatusPending, payment.StatusInProcess, payment.StatusRejected} {
		change := o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: status}, now)
		assert.False(t, change.Applied, status)
		change = o.ApplyPayment(PaymentUpdate{PaymentID: "999", Status: status}, now)
		assert.False(t, change.Applied, status)
	}
	assert.Equal(t, payment.StatusApproved, o.PaymentStatus)
	assert.Equal(t, "123", o.PaymentID)
}

func TestApplyPayment_RefundAfterApproval(t *testing.T) {
	now := time.Now()
	o := pendingOrder()
	o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: payment.StatusApproved}, now)
	paidAt := *o.PaidAt

	change := o.ApplyPayment(PaymentUpdate{PaymentID: "123", Status: payment.StatusRefunded}, now.Add(time.Hour))
	assert.True(t, change.Applied)
	assert.False(t, change.DecrementStock)
	assert.Equal(t, payment.StatusRefunded, o.PaymentStatus)
	assert.Equal(t, paidAt, *o.PaidAt)
}

func TestApplyPayment_NewAttemptAfterRejection(t *testing.T) {
	now := time.Now()
	o := pendingOrder()

	change := o.ApplyPayment(PaymentUpdate{PaymentID: "1", Status: payment.StatusRejected}, now)
	require.True(t, change.Applied)
	assert.False(t, change.DecrementStock)
	assert.Nil(t, o.PaidAt)

	// A late in_process for the rejected attempt is ignored.
	change = o.ApplyPayment(PaymentUpdate{PaymentID: "1", Status: payment.StatusInProcess}, now)
	assert.False(t, change.Applied)

	change = o.ApplyPayment(PaymentUpdate{PaymentID: "2", Status: payment.StatusApproved}, now)
	assert.True(t, change.DecrementStock)
	assert.Equal(t, "2", o.PaymentID)
}

func TestApplyPayment_ArtifactsArriveLater(t *testing.T) {
	now := time.Now()
	o := pendingOrder()

	change := o.ApplyPayment(PaymentUpdate{PaymentID: "7", Status: payment.StatusPending, Method: "bank_transfer"}, now)
	require.True(t, change.Applied)
	assert.True(t, o.Artifacts.Empty())

	art := payment.Artifacts{QRCode: "00020126...", QRCodeBase64: "iVBORw0KGgo="}
	change = o.ApplyPayment(PaymentUpdate{PaymentID: "7", Status: payment.StatusPending, Artifacts: art}, now)
	assert.True(t, change.Applied)
	assert.Equal(t, art, o.Artifacts)
	assert.Equal(t, "bank_transfer", o.PaymentMethod)

	change = o.ApplyPayment(PaymentUpdate{PaymentID: "7", Status: payment.StatusPending, Artifacts: art}, now)
	assert.False(t, change.Applied)
}

func TestApplyPayment_RefundOfUnappliedSecondPayment(t *testing.T) {
	now := time.Now()
	o := pendingOrder()
	require.True(t, o.ApplyPayment(PaymentUpdate{PaymentID: "A", Status: payment.StatusApproved}, now).DecrementStock)

	// The customer paid twice; the second approval does not replace the first.
	change := o.ApplyPayment(PaymentUpdate{PaymentID: "B", Status: payment.StatusApproved}, now)
	require.False(t, change.Applied)

	// The merchant refunds the duplicate. Payment A is still captured.
	for _, status := range []payment.Status{payment.StatusRefunded, payment.StatusChargedBack} {
		change = o.ApplyPayment(PaymentUpdate{PaymentID: "B", Status: status}, now.Add(time.Hour))
		assert.False(t, change.Applied, status)
	}
	assert.Equal(t, payment.StatusApproved, o.PaymentStatus)
	assert.Equal(t, "A", o.PaymentID)
}

func pixOrder() *Order {
	o := pendingOrder()
	o.PriceList = payment.MethodPix
	o.Total = decimal.RequireFromString("170.82")
	return o
}

func TestApplyPayment_PixPricedOrderPaidWithCard(t *testing.T) {
	now := time.Now()
	o := pixOrder()

	change := o.ApplyPayment(PaymentUpdate{
		PaymentID: "1",
		Status:    payment.StatusApproved,
		Method:    "credit_card",
		Amount:    decimal.RequireFromString("170.82"),
	}, now)

	var mismatch *PaymentMismatchError
	require.ErrorAs(t, change.Refused, &mismatch)
	assert.Equal(t, "credit_card", mismatch.Method)
	assert.False(t, change.Applied)
	assert.False(t, change.DecrementStock)
	assert.Equal(t, payment.StatusPending, o.PaymentStatus)
	assert.Empty(t, o.PaymentID)
	assert.Nil(t, o.PaidAt)
	assert.Nil(t, o.StockAppliedAt)
	assert.Equal(t, int64(1), o.Revision)

	// Non-approving updates of that payment are still recorded.
	change = o.ApplyPayment(PaymentUpdate{PaymentID: "1", Status: payment.StatusInProcess, Method: "credit_card"}, now)
	assert.NoError(t, change.Refused)
	assert.True(t, change.Applied)
}

func TestApplyPayment_PixPricedOrderPaidWithPix(t *testing.T) {
	o := pixOrder()

	change := o.ApplyPayment(PaymentUpdate{
		PaymentID: "1",
		Status:    payment.StatusApproved,
		Method:    payment.MethodPix,
		Amount:    decimal.RequireFromString("170.82"),
	}, time.Now())

	assert.NoError(t, change.Refused)
	assert.True(t, change.DecrementStock)
	assert.Equal(t, payment.StatusApproved, o.PaymentStatus)
}

func TestApplyPayment_AmountMustMatchTotal(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		refused bool
	}{
		{"exact", "179.80", false},
		{"trailing zero", "179.8", false},
		{"underpaid", "170.82", true},
		{"overpaid", "200.00", true},
		{"not reported", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder()
			o.Total = decimal.RequireFromString("179.80")
			change := o.ApplyPayment(PaymentUpdate{
				PaymentID: "1",
				Status:    payment.StatusApproved,
				Method:    "credit_card",
				Amount:    decimal.RequireFromString(tt.amount),
			}, time.Now())
			if tt.refused {
				assert.Error(t, change.Refused)
				assert.Equal(t, payment.StatusPending, o.PaymentStatus)
				return
			}
			assert.NoError(t, change.Refused)
			assert.True(t, change.DecrementStock)
		})
	}
}
