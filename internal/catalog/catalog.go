// Package catalog serves products and settings through the TTL cache.
package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/apparel-checkout/internal/cache"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

const (
	keyProducts       = "products:all"
	keyProductPrefix  = "product:"
	keySettingsPrefix = "settings:"
)

var (
	_ product.Repository = (*Cached)(nil)
	_ setting.Store      = (*Cached)(nil)
)

// TTLs configures how long each kind of entry lives.
type TTLs struct {
	Product  time.Duration
	Settings time.Duration
}

// Cached is a read-through cache over the product and settings stores.
// Products carry their variants, so stock changes must be followed by
// InvalidateProduct.
type Cached struct {
	products product.Repository
	settings setting.Store
	cache    *cache.Cache
	ttl      TTLs
}

// NewCached wraps the given repositories.
func NewCached(c *cache.Cache, products product.Repository, settings setting.Store, ttl TTLs) *Cached {
	return &Cached{products: products, settings: settings, cache: c, ttl: ttl}
}

// List returns all products.
func (c *Cached) List(ctx context.Context) ([]product.Product, error) {
	return cache.GetOrFetch(ctx, c.cache, keyProducts, c.ttl.Product, c.products.List)
}

// GetByID returns one product with its variants.
func (c *Cached) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	p, err := cache.GetOrFetch(ctx, c.cache, productKey(id), c.ttl.Product, func(ctx context.Context) (product.Product, error) {
		p, err := c.products.GetByID(ctx, id)
		if err != nil {
			return product.Product{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByIDs returns the existing products among ids.
func (c *Cached) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, err := c.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

type settingValue struct {
	value string
	found bool
}

// Get returns a setting. Missing settings are cached as well.
func (c *Cached) Get(ctx context.Context, key string) (string, error) {
	v, err := cache.GetOrFetch(ctx, c.cache, keySettingsPrefix+key, c.ttl.Settings, func(ctx context.Context) (settingValue, error) {
		s, err := c.settings.Get(ctx, key)
		switch {
		case errors.Is(err, setting.ErrNotFound):
			return settingValue{}, nil
		case err != nil:
			return settingValue{}, err
		}
		return settingValue{value: s, found: true}, nil
	})
	if err != nil {
		return "", err
	}
	if !v.found {
		return "", setting.ErrNotFound
	}
	return v.value, nil
}

// InvalidateProduct drops the cached product and the product list.
func (c *Cached) InvalidateProduct(id int64) {
	c.cache.Invalidate(productKey(id))
	c.cache.Invalidate(keyProducts)
}

// Put writes a setting and drops its cached value.
func (c *Cached) Put(ctx context.Context, key, value string) error {
	if err := c.settings.Put(ctx, key, value); err != nil {
		return err
	}
	c.cache.Invalidate(keySettingsPrefix + key)
	return nil
}

func productKey(id int64) string {
	return keyProductPrefix + strconv.FormatInt(id, 10)
}
