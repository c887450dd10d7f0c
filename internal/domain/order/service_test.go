package order

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[int64]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	created    []*Order
	createErrs []error
	sessions   map[string]Session
	byNumber   map[string]*Order
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	o.ID = int64(len(m.created) + 1)
	m.created = append(m.created, o)
	if m.byNumber == nil {
		m.byNumber = make(map[string]*Order)
	}
	m.byNumber[o.Number] = o
	return nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	o, ok := m.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) ListByTaxID(_ context.Context, taxID string) ([]Order, error) {
	var out []Order
	for _, o := range m.created {
		if o.Customer.TaxID == taxID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) SetSession(_ context.Context, number string, s Session) error {
	if m.sessions == nil {
		m.sessions = make(map[string]Session)
	}
	m.sessions[number] = s
	return nil
}

func (m *mockOrderRepo) DeletePending(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockOrderRepo) ApplyPayment(_ context.Context, _ string, _ PaymentUpdate) (*PaymentResult, error) {
	return nil, errors.New("not implemented")
}

type mockGateway struct {
	calls []payment.SessionRequest
	err   error
}

func (m *mockGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Session{
		ID:          "pref-" + req.OrderNumber,
		RedirectURL: "https://gateway.test/checkout?pref=" + req.OrderNumber,
	}, nil
}

// --- Helpers ---

const validTaxID = "529.982.247-25"

func newTestProduct(id int64, name, price string, sizes ...string) product.Product {
	p := product.Product{
		ID:          id,
		Name:        name,
		Price:       decimal.RequireFromString(price),
		Category:    "camisetas",
		PixDiscount: decimal.NewFromInt(5),
	}
	for _, size := range sizes {
		p.Variants = append(p.Variants, product.Variant{ProductID: id, Size: size, Color: "Preto", Stock: 10})
	}
	return p
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[int64]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func newTestService(products *mockProductRepo, orders *mockOrderRepo, gw *mockGateway) *Service {
	svc := NewService(ServiceConfig{
		SiteURL:        "https://shop.test/",
		PriceTolerance: decimal.RequireFromString("0.01"),
	}, products, orders, gw)
	svc.now = func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validCustomer() CustomerRequest {
	return CustomerRequest{
		Name:  "Maria Silva",
		Email: "maria@example.com",
		Phone: "11987654321",
		TaxID: validTaxID,
		Address: AddressRequest{
			Street:       "Rua das Flores",
			Number:       "100",
			Neighborhood: "Centro",
			City:         "São Paulo",
			State:        "sp",
			Zipcode:      "01001-000",
		},
	}
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	orders := &mockOrderRepo{}
	svc := newTestService(newProductRepo(), orders, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{Customer: validCustomer()})
	require.ErrorIs(t, err, ErrEmptyItems)
	assert.Empty(t, orders.created)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	svc := newTestService(newProductRepo(p), &mockOrderRepo{}, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 0}},
		Customer: validCustomer(),
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, int64(1), iqErr.ProductID)
}

func TestPlaceOrder_QuantityAboveLimit(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{}
	svc := newTestService(newProductRepo(p), orders, &mockGateway{})

	for _, qty := range []int{MaxQuantity + 1, math.MaxInt32, math.MaxInt} {
		_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
			Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: qty}},
			Customer: validCustomer(),
		})
		var iqErr *InvalidQuantityError
		require.ErrorAs(t, err, &iqErr, qty)
	}
	assert.Empty(t, orders.created)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: MaxQuantity}},
		Customer: validCustomer(),
	})
	require.NoError(t, err)
}

func TestPlaceOrder_CustomerValidation(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")

	tests := []struct {
		name   string
		mutate func(c *CustomerRequest)
		field  string
	}{
		{"missing name", func(c *CustomerRequest) { c.Name = "" }, "customer.name"},
		{"bad email", func(c *CustomerRequest) { c.Email = "maria" }, "customer.email"},
		{"bad cpf check digit", func(c *CustomerRequest) { c.TaxID = "529.982.247-26" }, "customer.tax_id"},
		{"repeated cpf digits", func(c *CustomerRequest) { c.TaxID = "111.111.111-11" }, "customer.tax_id"},
		{"short zipcode", func(c *CustomerRequest) { c.Address.Zipcode = "0100" }, "customer.address.zipcode"},
		{"long state", func(c *CustomerRequest) { c.Address.State = "SPX" }, "customer.address.state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderRepo{}
			svc := newTestService(newProductRepo(p), orders, &mockGateway{})
			c := validCustomer()
			tt.mutate(&c)

			_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
				Customer: c,
			})

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Empty(t, orders.created)
		})
	}
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockOrderRepo{}, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 42, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, int64(42), pnfErr.ProductID)
}

func TestPlaceOrder_VariantNotFound(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	svc := newTestService(newProductRepo(p), &mockOrderRepo{}, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "GG", Quantity: 1}},
		Customer: validCustomer(),
	})

	var vnfErr *VariantNotFoundError
	require.ErrorAs(t, err, &vnfErr)
	assert.Equal(t, "GG", vnfErr.Size)
}

func TestPlaceOrder_PriceMismatch(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{}
	gw := &mockGateway{}
	svc := newTestService(newProductRepo(p), orders, gw)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{{
			ProductID: 1, Size: "M", Quantity: 1,
			UnitPrice: decimal.RequireFromString("1.00"),
		}},
		Customer: validCustomer(),
	})

	var pmErr *PriceMismatchError
	require.ErrorAs(t, err, &pmErr)
	assert.Equal(t, "89.90", pmErr.Want.StringFixed(2))
	assert.Empty(t, orders.created)
	assert.Empty(t, gw.calls)
}

func TestPlaceOrder_TwoLines(t *testing.T) {
	p1 := newTestProduct(1, "Camiseta Oversized", "89.90", "M", "G")
	orders := &mockOrderRepo{}
	gw := &mockGateway{}
	svc := newTestService(newProductRepo(p1), orders, gw)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{
			{ProductID: 1, Size: "M", Color: "Preto", Quantity: 1, UnitPrice: decimal.RequireFromString("89.90")},
			{ProductID: 1, Size: "G", Quantity: 1, UnitPrice: decimal.RequireFromString("89.90")},
		},
		Customer: validCustomer(),
	})
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, "179.80", o.Subtotal.StringFixed(2))
	assert.True(t, o.Total.Equal(o.Subtotal))
	assert.True(t, o.Discount.IsZero())
	assert.Equal(t, payment.StatusPending, o.PaymentStatus)
	assert.Regexp(t, numberPattern, o.Number)
	assert.Equal(t, "52998224725", o.Customer.TaxID)
	assert.Equal(t, "SP", o.Address.State)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "Camiseta Oversized - Tamanho M - Cor Preto", o.Items[0].Title)
	assert.Equal(t, "Camiseta Oversized - Tamanho G", o.Items[1].Title)

	require.Len(t, orders.created, 1)
	require.Len(t, gw.calls, 1)
	call := gw.calls[0]
	assert.Equal(t, o.Number, call.OrderNumber)
	assert.Equal(t, "https://shop.test/api/webhooks/payment", call.NotificationURL)
	assert.Equal(t, "52998224725", call.Payer.TaxID)
	assert.Len(t, call.Items, 2)

	require.NotNil(t, result.Session)
	assert.Equal(t, "pref-"+o.Number, result.Session.ID)
	assert.Equal(t, result.Session.ID, orders.sessions[o.Number].ID)
}

func TestPlaceOrder_DuplicateLinesKeptApart(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "50.00", "M")
	svc := newTestService(newProductRepo(p), &mockOrderRepo{}, &mockGateway{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []ItemRequest{
			{ProductID: 1, Size: "M", Quantity: 1},
			{ProductID: 1, Size: "M", Quantity: 2},
		},
		Customer: validCustomer(),
	})
	require.NoError(t, err)

	require.Len(t, result.Order.Items, 2)
	assert.Equal(t, 1, result.Order.Items[0].Quantity)
	assert.Equal(t, 2, result.Order.Items[1].Quantity)
	assert.Equal(t, "150.00", result.Order.Total.StringFixed(2))
}

func TestPlaceOrder_PixPricing(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	svc := newTestService(newProductRepo(p), &mockOrderRepo{}, &mockGateway{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:         []ItemRequest{{ProductID: 1, Size: "M", Quantity: 2}},
		Customer:      validCustomer(),
		PaymentMethod: payment.MethodPix,
	})
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, "85.41", o.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "170.82", o.Total.StringFixed(2))
	assert.Equal(t, "8.98", o.Discount.StringFixed(2))
	assert.Equal(t, payment.MethodPix, o.PriceList)
}

func TestPlaceOrder_PriceListRestrictsSession(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	gw := &mockGateway{}
	svc := newTestService(newProductRepo(p), &mockOrderRepo{}, gw)

	for _, method := range []string{payment.MethodPix, "credit_card", ""} {
		result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
			Items:         []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
			Customer:      validCustomer(),
			PaymentMethod: method,
		})
		require.NoError(t, err, method)
		req := gw.calls[len(gw.calls)-1]
		if method == payment.MethodPix {
			assert.Equal(t, payment.MethodPix, req.PaymentMethod)
			assert.Equal(t, payment.MethodPix, result.Order.PriceList)
			continue
		}
		// Every other method pays list price and may choose freely.
		assert.Empty(t, req.PaymentMethod, method)
		assert.Empty(t, result.Order.PriceList, method)
		assert.Equal(t, "89.90", result.Order.Total.StringFixed(2), method)
	}
}

func TestPlaceOrder_TotalMatchesLines(t *testing.T) {
	products := newProductRepo(
		newTestProduct(1, "Camiseta", "89.90", "P", "M", "G"),
		newTestProduct(2, "Moletom", "199.99", "M"),
		newTestProduct(3, "Boné", "0.05", "U"),
	)
	carts := [][]ItemRequest{
		{{ProductID: 1, Size: "P", Quantity: 3}},
		{{ProductID: 1, Size: "M", Quantity: 1}, {ProductID: 2, Size: "M", Quantity: 7}},
		{{ProductID: 3, Size: "U", Quantity: 13}, {ProductID: 2, Size: "M", Quantity: 1}, {ProductID: 1, Size: "G", Quantity: 2}},
	}
	for _, method := range []string{"", payment.MethodPix} {
		for _, cart := range carts {
			svc := newTestService(products, &mockOrderRepo{}, &mockGateway{})
			result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				Items:         cart,
				Customer:      validCustomer(),
				PaymentMethod: method,
			})
			require.NoError(t, err)

			want := decimal.Zero
			for _, li := range result.Order.Items {
				want = want.Add(li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))))
			}
			assert.True(t, want.Equal(result.Order.Total), "total %s, lines %s", result.Order.Total, want)
			assert.True(t, result.Order.Total.Equal(result.Order.Subtotal))
		}
	}
}

func TestPlaceOrder_PersistenceFailureSkipsGateway(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{createErrs: []error{errors.New("connection refused")}}
	gw := &mockGateway{}
	svc := newTestService(newProductRepo(p), orders, gw)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})
	require.Error(t, err)
	assert.Empty(t, gw.calls)
}

func TestPlaceOrder_RetriesNumberCollision(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{createErrs: []error{ErrDuplicateNumber, ErrDuplicateNumber}}
	svc := newTestService(newProductRepo(p), orders, &mockGateway{})

	var issued []string
	svc.newNumber = func(now time.Time) string {
		n := NewNumber(now)
		issued = append(issued, n)
		return n
	}

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})
	require.NoError(t, err)
	require.Len(t, issued, 3)
	assert.Equal(t, issued[2], result.Order.Number)
}

func TestPlaceOrder_NumberCollisionExhausted(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{createErrs: []error{ErrDuplicateNumber, ErrDuplicateNumber, ErrDuplicateNumber}}
	svc := newTestService(newProductRepo(p), orders, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestPlaceOrder_GatewayFailureLeavesPendingOrder(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{}
	gw := &mockGateway{err: errors.New("gateway timeout")}
	svc := newTestService(newProductRepo(p), orders, gw)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})

	var sErr *SessionError
	require.ErrorAs(t, err, &sErr)
	require.Len(t, orders.created, 1)
	assert.Equal(t, orders.created[0].Number, sErr.Number)
	assert.Equal(t, payment.StatusPending, orders.created[0].PaymentStatus)

	// The same order can be retried once the gateway recovers.
	gw.err = nil
	result, err := svc.RetrySession(context.Background(), sErr.Number)
	require.NoError(t, err)
	assert.Equal(t, sErr.Number, result.Order.Number)
	assert.Len(t, orders.created, 1)
	assert.Len(t, gw.calls, 2)
}

func TestRetrySession_NotPending(t *testing.T) {
	orders := &mockOrderRepo{byNumber: map[string]*Order{
		"LA1": {Number: "LA1", PaymentStatus: payment.StatusApproved},
	}}
	svc := newTestService(newProductRepo(), orders, &mockGateway{})

	_, err := svc.RetrySession(context.Background(), "LA1")
	require.ErrorIs(t, err, ErrNotPending)

	_, err = svc.RetrySession(context.Background(), "LA2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByTaxID(t *testing.T) {
	p := newTestProduct(1, "Camiseta", "89.90", "M")
	orders := &mockOrderRepo{}
	svc := newTestService(newProductRepo(p), orders, &mockGateway{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:    []ItemRequest{{ProductID: 1, Size: "M", Quantity: 1}},
		Customer: validCustomer(),
	})
	require.NoError(t, err)

	list, err := svc.ListByTaxID(context.Background(), validTaxID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ListByTaxID(context.Background(), "123")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestPurgePending_RejectsNonPositiveAge(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockOrderRepo{}, &mockGateway{})

	_, err := svc.PurgePending(context.Background(), 0)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}
