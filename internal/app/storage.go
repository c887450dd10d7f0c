package app

import (
	"context"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/catalog"
	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
	"github.com/xenking/apparel-checkout/internal/repository"
	"github.com/xenking/apparel-checkout/internal/storage/memory"
	"github.com/xenking/apparel-checkout/pkg/health"
)

// storage is the selected persistence backend.
type storage struct {
	products product.Repository
	settings setting.Store
	orders   order.Repository
	keys     auth.Repository

	// watch connects order change notifications to notify. The returned
	// function, if any, must run until shutdown.
	watch func(notify func(ctx context.Context, number string)) func(ctx context.Context) error

	pool  *pgxpool.Pool
	close func()
}

func openStorage(ctx context.Context, cfg *Config, h *health.Health) (*storage, error) {
	lg := zctx.From(ctx)
	if cfg.Storage == StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		store := memory.New()
		if err := seedMemory(store, cfg.SeedFile); err != nil {
			return nil, err
		}
		if cfg.AdminAPIKey != "" {
			store.PutAPIKey(auth.APIKeyInfo{
				ID:      "admin",
				KeyHash: auth.Hash([]byte(cfg.APIKeyPepper), cfg.AdminAPIKey),
				Name:    "Admin key from config",
				Scopes:  []string{auth.ScopeOrdersAdmin, auth.ScopeSettingsAdmin},
			})
		}
		return &storage{
			products: store,
			settings: store,
			orders:   store,
			keys:     store,
			watch: func(notify func(context.Context, string)) func(context.Context) error {
				store.OnChange(notify)
				return nil
			},
			close: func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	lg.Info("Database ready", zap.Int32("max_conns", pool.Config().MaxConns))

	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	return &storage{
		products: repository.NewProductRepository(pool),
		settings: repository.NewSettingRepository(pool),
		orders:   repository.NewOrderRepository(pool),
		keys:     repository.NewAPIKeyRepository(pool),
		watch: func(notify func(context.Context, string)) func(context.Context) error {
			l := repository.NewListener(pool, notify)
			h.AddReadinessCheck("order_listener", time.Second, l.Check)
			return l.Run
		},
		pool:  pool,
		close: pool.Close,
	}, nil
}

func seedMemory(store *memory.Store, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()

	products, err := catalog.LoadProducts(f)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	for _, p := range products {
		store.PutProduct(p)
	}
	return nil
}
