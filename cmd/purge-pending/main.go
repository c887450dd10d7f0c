// Command purge-pending deletes orders that never got paid. Deleted orders
// can be archived as gzipped NDJSON first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/repository"
)

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
		archiveDir  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", 72*time.Hour, "delete pending orders created before now minus this duration")
	flag.StringVar(&archiveDir, "archive-dir", "", "write deleted orders to a gzipped NDJSON file in this directory")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if olderThan <= 0 {
		slog.Error("--older-than must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, olderThan, archiveDir); err != nil {
		slog.Error("purge failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, olderThan time.Duration, archiveDir string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	orders := repository.NewOrderRepository(pool)
	now := time.Now()
	before := now.Add(-olderThan)

	if archiveDir == "" {
		n, err := orders.DeletePending(ctx, before)
		if err != nil {
			return err
		}
		slog.Info("purged pending orders", slog.Int64("deleted", n), slog.Time("before", before))
		return nil
	}

	path := filepath.Join(archiveDir, fmt.Sprintf("pending-%s.ndjson.gz", now.UTC().Format("20060102T150405Z")))
	n, err := orders.ArchivePending(ctx, before, func(deleted []order.Order) error {
		return writeArchive(path, deleted)
	})
	if err != nil {
		return err
	}
	slog.Info("purged pending orders",
		slog.Int64("deleted", n),
		slog.Time("before", before),
		slog.String("archive", path),
	)
	return nil
}

// writeArchive writes one JSON object per order. The file is only kept when
// it was written completely.
func writeArchive(path string, orders []order.Order) (rerr error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}
	defer func() {
		if rerr != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	gz := pgzip.NewWriter(f)
	var e jx.Encoder
	for i := range orders {
		e.Reset()
		encodeArchived(&e, &orders[i])
		if _, err := gz.Write(append(e.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "write archive")
		}
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush archive")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "sync archive")
	}
	return errors.Wrap(f.Close(), "close archive")
}

func encodeArchived(e *jx.Encoder, o *order.Order) {
	str := func(name, v string) {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
	e.Obj(func(e *jx.Encoder) {
		str("order_number", o.Number)
		str("created_at", o.CreatedAt.UTC().Format(time.RFC3339))
		str("customer_name", o.Customer.Name)
		str("customer_email", o.Customer.Email)
		str("customer_tax_id", o.Customer.TaxID)
		str("total", o.Total.StringFixed(2))
		str("session_id", o.Session.ID)
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						str("size", it.Size)
						str("color", it.Color)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						str("unit_price", it.UnitPrice.StringFixed(2))
					})
				}
			})
		})
	})
}
