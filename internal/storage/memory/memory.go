// Package memory implements the storefront repositories in process memory.
// It backs local runs without PostgreSQL and the service-level tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

var (
	_ order.Repository   = (*Store)(nil)
	_ product.Repository = (*Store)(nil)
	_ setting.Store      = (*Store)(nil)
	_ auth.Repository    = (*Store)(nil)
)

// ChangeFunc is called with the order number after every committed order
// mutation, outside the store lock.
type ChangeFunc func(ctx context.Context, number string)

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	products map[int64]*product.Product
	settings map[string]string
	apiKeys  map[string]*auth.APIKeyInfo
	nextID   int64

	onChange ChangeFunc
	now      func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		orders:   make(map[string]*order.Order),
		products: make(map[int64]*product.Product),
		settings: make(map[string]string),
		apiKeys:  make(map[string]*auth.APIKeyInfo),
		now:      time.Now,
	}
}

// OnChange registers the order change callback.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) changed(ctx context.Context, number string) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(ctx, number)
	}
}

// PutProduct inserts or replaces a product with its variants. Variants are
// kept sorted by size and color, the order PostgreSQL returns them in.
func (s *Store) PutProduct(p product.Product) {
	p.Variants = slices.Clone(p.Variants)
	slices.SortFunc(p.Variants, func(a, b product.Variant) int {
		return cmp.Or(cmp.Compare(a.Size, b.Size), cmp.Compare(a.Color, b.Color))
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutSetting sets a setting value.
func (s *Store) PutSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

// PutAPIKey stores an API key record.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[info.KeyHash] = &info
}

// Stock returns the stock of a variant, or -1 if it does not exist.
func (s *Store) Stock(productID int64, size, color string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return -1
	}
	for _, v := range p.Variants {
		if v.Size == size && v.Color == color {
			return v.Stock
		}
	}
	return -1
}

// --- product.Repository ---

// List returns all products ordered by id.
func (s *Store) List(_ context.Context) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, cloneProduct(p))
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// GetByID returns a product with its variants.
func (s *Store) GetByID(_ context.Context, id int64) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	c := cloneProduct(p)
	return &c, nil
}

// GetByIDs returns the existing products among ids.
func (s *Store) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := s.products[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out, nil
}

// --- setting.Repository ---

// Get returns a setting value.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", setting.ErrNotFound
	}
	return v, nil
}

// Put sets a setting value.
func (s *Store) Put(_ context.Context, key, value string) error {
	s.PutSetting(key, value)
	return nil
}

// --- auth.Repository ---

// FindByHash looks up an API key by hash.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	c := *info
	c.Scopes = slices.Clone(info.Scopes)
	return &c, nil
}

// --- order.Repository ---

// Create stores a new order.
func (s *Store) Create(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	if _, ok := s.orders[o.Number]; ok {
		s.mu.Unlock()
		return order.ErrDuplicateNumber
	}
	s.nextID++
	o.ID = s.nextID
	o.Revision = 1
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	c := cloneOrder(o)
	s.orders[o.Number] = &c
	s.mu.Unlock()

	s.changed(ctx, o.Number)
	return nil
}

// GetByNumber returns a copy of the order.
func (s *Store) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

// ListByTaxID returns the orders of a customer, newest first.
func (s *Store) ListByTaxID(_ context.Context, taxID string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.Customer.TaxID == taxID {
			out = append(out, cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return out, nil
}

// SetSession records the gateway session of an order.
func (s *Store) SetSession(ctx context.Context, number string, sess order.Session) error {
	s.mu.Lock()
	o, ok := s.orders[number]
	if !ok {
		s.mu.Unlock()
		return order.ErrNotFound
	}
	o.Session = sess
	o.Revision++
	o.UpdatedAt = s.now()
	s.mu.Unlock()

	s.changed(ctx, number)
	return nil
}

// DeletePending removes pending orders created before the given time.
func (s *Store) DeletePending(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for number, o := range s.orders {
		if o.PaymentStatus == payment.StatusPending && o.CreatedAt.Before(before) {
			delete(s.orders, number)
			n++
		}
	}
	return n, nil
}

// ApplyPayment applies u under the store lock and decrements stock for the
// first approval.
func (s *Store) ApplyPayment(ctx context.Context, number string, u order.PaymentUpdate) (*order.PaymentResult, error) {
	s.mu.Lock()
	o, ok := s.orders[number]
	if !ok {
		s.mu.Unlock()
		return nil, order.ErrNotFound
	}
	change := o.ApplyPayment(u, s.now())
	if change.DecrementStock {
		for _, li := range o.Items {
			s.decrementLocked(li)
		}
	}
	res := &order.PaymentResult{Order: new(order.Order), PaymentChange: change}
	*res.Order = cloneOrder(o)
	s.mu.Unlock()

	if change.Applied {
		s.changed(ctx, number)
	}
	return res, nil
}

// decrementLocked subtracts a line quantity from the first matching variant.
// An empty line color matches the variant of that size with the smallest
// color, as variants are sorted.
func (s *Store) decrementLocked(li order.LineItem) {
	p, ok := s.products[li.ProductID]
	if !ok {
		return
	}
	for i := range p.Variants {
		v := &p.Variants[i]
		if v.Size == li.Size && (li.Color == "" || v.Color == li.Color) {
			v.Stock = product.DecrementStock(v.Stock, li.Quantity)
			return
		}
	}
}

func cloneProduct(p *product.Product) product.Product {
	c := *p
	c.Variants = slices.Clone(p.Variants)
	return c
}

func cloneOrder(o *order.Order) order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.StockAppliedAt != nil {
		t := *o.StockAppliedAt
		c.StockAppliedAt = &t
	}
	return c
}
