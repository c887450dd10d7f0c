//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("shop"),
		postgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, stock int) {
	t.Helper()
	require.NoError(t, NewProductRepository(pool).Upsert(context.Background(), product.Product{
		ID:          7,
		Name:        "Camiseta Oversized",
		Price:       decimal.RequireFromString("89.90"),
		Category:    "camisetas",
		PixDiscount: decimal.RequireFromString("5"),
		Variants: []product.Variant{
			{Size: "M", Color: "Preto", Stock: stock},
			{Size: "G", Color: "Preto", Stock: stock},
		},
	}))
}

func newOrder(number string, qty int) *order.Order {
	items := []order.LineItem{{
		Title: "Camiseta Oversized - Tamanho M - Cor Preto", Quantity: qty,
		UnitPrice: decimal.RequireFromString("89.90"), ProductID: 7, Size: "M", Color: "Preto",
	}}
	return &order.Order{
		Number:   number,
		Customer: order.Customer{Name: "Maria", Email: "maria@example.com", Phone: "11999990000", TaxID: "52998224725"},
		Address:  order.Address{Street: "Rua A", Number: "10", City: "Rio", State: "RJ", Zipcode: "20000000"},
		Items:    items,
		Subtotal: order.Sum(items),
		Total:    order.Sum(items),
	}
}

func stockOf(t *testing.T, pool *pgxpool.Pool, size string) int {
	t.Helper()
	p, err := NewProductRepository(pool).GetByID(context.Background(), 7)
	require.NoError(t, err)
	for _, v := range p.Variants {
		if v.Size == size {
			return v.Stock
		}
	}
	t.Fatalf("no variant %s", size)
	return 0
}

func TestProductRepository(t *testing.T) {
	pool := newPool(t)
	seedProduct(t, pool, 3)
	repo := NewProductRepository(pool)
	ctx := context.Background()

	p, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("89.90")))
	assert.Len(t, p.Variants, 2)
	assert.True(t, p.HasVariant("M", "Preto"))

	_, err = repo.GetByID(ctx, 404)
	require.ErrorIs(t, err, product.ErrNotFound)

	list, err := repo.GetByIDs(ctx, []int64{7, 404})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	pool := newPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	o := newOrder("LA1", 2)
	require.NoError(t, repo.Create(ctx, o))
	assert.NotZero(t, o.ID)
	assert.Equal(t, int64(1), o.Revision)

	require.ErrorIs(t, repo.Create(ctx, newOrder("LA1", 1)), order.ErrDuplicateNumber)

	got, err := repo.GetByNumber(ctx, "LA1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.PaymentStatus)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("89.90")))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("179.80")))

	require.NoError(t, repo.SetSession(ctx, "LA1", order.Session{ID: "pref-1", RedirectURL: "https://pay/1"}))
	got, err = repo.GetByNumber(ctx, "LA1")
	require.NoError(t, err)
	assert.Equal(t, "pref-1", got.Session.ID)
	assert.Equal(t, int64(2), got.Revision)

	require.ErrorIs(t, repo.SetSession(ctx, "LA404", order.Session{}), order.ErrNotFound)
	_, err = repo.GetByNumber(ctx, "LA404")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ApplyPaymentConcurrentDecrementsOnce(t *testing.T) {
	pool := newPool(t)
	seedProduct(t, pool, 10)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder("LA2", 3)))

	var (
		mu         sync.Mutex
		decrements int
	)
	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			res, err := repo.ApplyPayment(ctx, "LA2", order.PaymentUpdate{
				PaymentID: "555", Status: payment.StatusApproved, Method: "credit_card",
			})
			if err != nil {
				return err
			}
			if res.DecrementStock {
				mu.Lock()
				decrements++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, decrements)
	assert.Equal(t, 7, stockOf(t, pool, "M"))
	assert.Equal(t, 10, stockOf(t, pool, "G"))

	got, err := repo.GetByNumber(ctx, "LA2")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, got.PaymentStatus)
	assert.NotNil(t, got.PaidAt)
	assert.NotNil(t, got.StockAppliedAt)
}

func TestOrderRepository_ApplyPaymentClampsAndStoresArtifacts(t *testing.T) {
	pool := newPool(t)
	seedProduct(t, pool, 2)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder("LA3", 5)))

	res, err := repo.ApplyPayment(ctx, "LA3", order.PaymentUpdate{
		PaymentID: "9", Status: payment.StatusPending, Method: payment.MethodPix,
		Artifacts: payment.Artifacts{QRCode: "000201"},
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.DecrementStock)

	got, err := repo.GetByNumber(ctx, "LA3")
	require.NoError(t, err)
	assert.Equal(t, "000201", got.Artifacts.QRCode)

	_, err = repo.ApplyPayment(ctx, "LA3", order.PaymentUpdate{PaymentID: "9", Status: payment.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, pool, "M"))

	_, err = repo.ApplyPayment(ctx, "LA404", order.PaymentUpdate{PaymentID: "9", Status: payment.StatusApproved})
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_PixPriceListRefusesCard(t *testing.T) {
	pool := newPool(t)
	seedProduct(t, pool, 5)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	o := newOrder("LA5", 1)
	o.PriceList = payment.MethodPix
	o.Items[0].UnitPrice = decimal.RequireFromString("85.41")
	o.Subtotal = order.Sum(o.Items)
	o.Total = o.Subtotal
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.GetByNumber(ctx, "LA5")
	require.NoError(t, err)
	assert.Equal(t, payment.MethodPix, got.PriceList)

	res, err := repo.ApplyPayment(ctx, "LA5", order.PaymentUpdate{
		PaymentID: "1", Status: payment.StatusApproved, Method: "credit_card",
		Amount: decimal.RequireFromString("85.41"),
	})
	require.NoError(t, err)
	require.Error(t, res.Refused)
	assert.False(t, res.Applied)
	assert.Equal(t, 5, stockOf(t, pool, "M"))

	got, err = repo.GetByNumber(ctx, "LA5")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.PaymentStatus)
	assert.Equal(t, int64(1), got.Revision)
}

func TestOrderRepository_ListAndDeletePending(t *testing.T) {
	pool := newPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	for i, number := range []string{"LA10", "LA11", "LA12"} {
		o := newOrder(number, 1)
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, o))
	}
	_, err := repo.ApplyPayment(ctx, "LA10", order.PaymentUpdate{PaymentID: "1", Status: payment.StatusRejected})
	require.NoError(t, err)

	list, err := repo.ListByTaxID(ctx, "52998224725")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "LA12", list[0].Number)

	n, err := repo.DeletePending(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.GetByNumber(ctx, "LA11")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ArchivePending(t *testing.T) {
	pool := newPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	old := time.Now().Add(-100 * time.Hour)

	for _, number := range []string{"LA20", "LA21"} {
		o := newOrder(number, 1)
		o.CreatedAt = old
		require.NoError(t, repo.Create(ctx, o))
	}
	cutoff := time.Now().Add(-72 * time.Hour)

	_, err := repo.ArchivePending(ctx, cutoff, func([]order.Order) error {
		return errors.New("disk full")
	})
	require.Error(t, err)
	_, err = repo.GetByNumber(ctx, "LA20")
	require.NoError(t, err, "rolled back")

	var archived []string
	n, err := repo.ArchivePending(ctx, cutoff, func(orders []order.Order) error {
		for _, o := range orders {
			archived = append(archived, o.Number)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.ElementsMatch(t, []string{"LA20", "LA21"}, archived)
	_, err = repo.GetByNumber(ctx, "LA21")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestSettingAndAPIKeyRepositories(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()

	settings := NewSettingRepository(pool)
	_, err := settings.Get(ctx, setting.KeyWhatsAppMessage)
	require.ErrorIs(t, err, setting.ErrNotFound)
	require.NoError(t, settings.Put(ctx, setting.KeyWhatsAppMessage, "Pedido {order_number}"))
	v, err := settings.Get(ctx, setting.KeyWhatsAppMessage)
	require.NoError(t, err)
	assert.Equal(t, "Pedido {order_number}", v)

	keys := NewAPIKeyRepository(pool)
	hash := auth.Hash([]byte("pepper"), "secret")
	require.NoError(t, keys.Upsert(ctx, hash, "ops", []string{auth.ScopeOrdersAdmin}))
	info, err := keys.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeOrdersAdmin))

	_, err = keys.FindByHash(ctx, "unknown")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestListener_ForwardsOrderChanges(t *testing.T) {
	pool := newPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	l := NewListener(pool, func(_ context.Context, number string) { got <- number })
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, l.Ready, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, NewOrderRepository(pool).Create(ctx, newOrder("LA20", 1)))
	select {
	case number := <-got:
		assert.Equal(t, "LA20", number)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, l.Ready())
}
