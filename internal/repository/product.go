package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/apparel-checkout/internal/domain/product"
)

// Variants are aggregated per product so one query returns complete products.
const productColumns = `p.id, p.name, p.price, p.category, p.pix_discount, p.image,
	COALESCE(
		(SELECT jsonb_agg(jsonb_build_object('size', v.size, 'color', v.color, 'stock', v.stock)
			ORDER BY v.size COLLATE "C", v.color COLLATE "C")
		FROM product_variants v WHERE v.product_id = p.id),
		'[]'::jsonb)`

const (
	listProductsSQL = `SELECT ` + productColumns + `
	FROM products p WHERE p.active ORDER BY p.id`

	getProductByIDSQL = `SELECT ` + productColumns + `
	FROM products p WHERE p.id = $1 AND p.active`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
	FROM products p WHERE p.id = ANY($1) AND p.active`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, pix_discount, image)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
		category = EXCLUDED.category, pix_discount = EXCLUDED.pix_discount, image = EXCLUDED.image`

	upsertVariantSQL = `INSERT INTO product_variants (product_id, size, color, stock)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (product_id, size, color) DO UPDATE SET stock = EXCLUDED.stock`

	syncProductSequenceSQL = `SELECT setval('products_id_seq', GREATEST((SELECT MAX(id) FROM products), 1))`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert stores p and its variants in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Category, p.PixDiscount, p.Image,
		); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		batch := &pgx.Batch{}
		for _, v := range p.Variants {
			batch.Queue(upsertVariantSQL, p.ID, v.Size, v.Color, v.Stock)
		}
		batch.Queue(syncProductSequenceSQL)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "upsert variants of %d", p.ID)
		}
		return nil
	})
}

type variantRow struct {
	Size  string `json:"size"`
	Color string `json:"color"`
	Stock int    `json:"stock"`
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		variants []variantRow
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Category, &p.PixDiscount, &p.Image, &variants,
	); err != nil {
		return p, err
	}
	p.Variants = make([]product.Variant, len(variants))
	for i, v := range variants {
		p.Variants[i] = product.Variant{ProductID: p.ID, Size: v.Size, Color: v.Color, Stock: v.Stock}
	}
	return p, nil
}
