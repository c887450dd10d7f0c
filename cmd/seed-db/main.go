// Command seed-db loads the product catalog, shop settings and an admin API
// key into PostgreSQL. It is idempotent.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/apparel-checkout/internal/catalog"
	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
	"github.com/xenking/apparel-checkout/internal/repository"
)

const defaultMessage = "Olá! Acabei de finalizar o pedido {order_number} na loja e gostaria de combinar a entrega."

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
		message      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&message, "whatsapp-message", defaultMessage, "post-approval WhatsApp message template")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper, message); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper, message string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := repository.NewSettingRepository(pool).Put(ctx, setting.KeyWhatsAppMessage, message); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	slog.Info("stored setting", slog.String("key", setting.KeyWhatsAppMessage))

	if apiKey == "" {
		slog.Warn("no API key given, skipping admin key")
		return nil
	}
	keys := repository.NewAPIKeyRepository(pool)
	if err := keys.Upsert(ctx, auth.Hash([]byte(pepper), apiKey), "Default admin key",
		[]string{auth.ScopeOrdersAdmin, auth.ScopeSettingsAdmin}); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("scopes", auth.ScopeOrdersAdmin+","+auth.ScopeSettingsAdmin))
	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, path string) error {
	slog.Info("reading products file", slog.String("path", path))
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	products, err := catalog.LoadProducts(f)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		slog.Info("upserted product",
			slog.Int64("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("variants", len(p.Variants)),
		)
	}
	return nil
}
