package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
)

func seed(t *testing.T, stock int, qty int) (*Store, string) {
	t.Helper()
	s := New()
	s.PutProduct(product.Product{
		ID:    1,
		Name:  "Camiseta",
		Price: decimal.RequireFromString("89.90"),
		Variants: []product.Variant{
			{ProductID: 1, Size: "M", Color: "Preto", Stock: stock},
			{ProductID: 1, Size: "M", Color: "Branco", Stock: stock},
		},
	})
	o := &order.Order{
		Number:        "LA1",
		PaymentStatus: payment.StatusPending,
		Items:         []order.LineItem{{ProductID: 1, Size: "M", Color: "Preto", Quantity: qty}},
	}
	require.NoError(t, s.Create(context.Background(), o))
	return s, o.Number
}

func TestStore_CreateDuplicateNumber(t *testing.T) {
	s, number := seed(t, 3, 1)
	err := s.Create(context.Background(), &order.Order{Number: number})
	require.ErrorIs(t, err, order.ErrDuplicateNumber)
}

func TestStore_ApplyPaymentDecrementsOnce(t *testing.T) {
	s, number := seed(t, 3, 2)
	ctx := context.Background()
	u := order.PaymentUpdate{PaymentID: "p1", Status: payment.StatusApproved}

	res, err := s.ApplyPayment(ctx, number, u)
	require.NoError(t, err)
	assert.True(t, res.DecrementStock)
	assert.Equal(t, 1, s.Stock(1, "M", "Preto"))
	assert.Equal(t, 3, s.Stock(1, "M", "Branco"))

	res, err = s.ApplyPayment(ctx, number, u)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 1, s.Stock(1, "M", "Preto"))
}

func TestStore_ApplyPaymentConcurrent(t *testing.T) {
	s, number := seed(t, 10, 3)
	var decrements atomic.Int32
	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			res, err := s.ApplyPayment(context.Background(), number, order.PaymentUpdate{
				PaymentID: "p1", Status: payment.StatusApproved,
			})
			if err == nil && res.DecrementStock {
				decrements.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), decrements.Load())
	assert.Equal(t, 7, s.Stock(1, "M", "Preto"))
}

func TestStore_ApplyPaymentClampsAtZero(t *testing.T) {
	s, number := seed(t, 3, 5)
	_, err := s.ApplyPayment(context.Background(), number, order.PaymentUpdate{
		PaymentID: "p1", Status: payment.StatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Stock(1, "M", "Preto"))
}

func TestStore_ApplyPaymentUnknownOrder(t *testing.T) {
	s := New()
	_, err := s.ApplyPayment(context.Background(), "LA404", order.PaymentUpdate{Status: payment.StatusApproved})
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestStore_OnChange(t *testing.T) {
	s, number := seed(t, 3, 1)
	var got []string
	s.OnChange(func(_ context.Context, n string) { got = append(got, n) })

	_, err := s.ApplyPayment(context.Background(), number, order.PaymentUpdate{PaymentID: "p1", Status: payment.StatusInProcess})
	require.NoError(t, err)
	// Not applied: no notification.
	_, err = s.ApplyPayment(context.Background(), number, order.PaymentUpdate{PaymentID: "p1", Status: payment.StatusInProcess})
	require.NoError(t, err)

	assert.Equal(t, []string{number}, got)
}

func TestStore_DeletePendingAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []payment.Status{payment.StatusPending, payment.StatusApproved, payment.StatusPending} {
		o := &order.Order{
			Number:        "LA" + string(rune('A'+i)),
			PaymentStatus: st,
			Customer:      order.Customer{TaxID: "52998224725"},
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.Create(ctx, o))
	}

	list, err := s.ListByTaxID(ctx, "52998224725")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "LAC", list[0].Number)

	n, err := s.DeletePending(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByNumber(ctx, "LAA")
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = s.GetByNumber(ctx, "LAB")
	require.NoError(t, err)
}

func TestStore_ColorlessLineTakesSmallestColor(t *testing.T) {
	s, _ := seed(t, 3, 1)
	ctx := context.Background()
	// Inserted Preto first; Branco sorts before it.
	require.NoError(t, s.Create(ctx, &order.Order{
		Number:        "LA2",
		PaymentStatus: payment.StatusPending,
		Items:         []order.LineItem{{ProductID: 1, Size: "M", Quantity: 2}},
	}))

	_, err := s.ApplyPayment(ctx, "LA2", order.PaymentUpdate{PaymentID: "p2", Status: payment.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stock(1, "M", "Branco"))
	assert.Equal(t, 3, s.Stock(1, "M", "Preto"))

	p, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Branco", p.Variants[0].Color)
}

func TestStore_RefusedApprovalChangesNothing(t *testing.T) {
	s, number := seed(t, 3, 1)
	var notified int
	s.OnChange(func(context.Context, string) { notified++ })

	res, err := s.ApplyPayment(context.Background(), number, order.PaymentUpdate{
		PaymentID: "p1", Status: payment.StatusApproved,
		Amount: decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	require.Error(t, res.Refused)
	assert.False(t, res.Applied)
	assert.Equal(t, 3, s.Stock(1, "M", "Preto"))
	assert.Zero(t, notified)
}
