package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

const orderColumns = `id, order_number,
	customer_name, customer_email, customer_phone, customer_tax_id,
	address_street, address_number, address_compl, address_neighb,
	address_city, address_state, address_zipcode,
	items, subtotal, discount, total, price_list,
	payment_status, payment_method, payment_id, paid_at,
	qr_code, qr_code_base64, ticket_url, session_id, session_url,
	stock_applied_at, revision, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (order_number,
		customer_name, customer_email, customer_phone, customer_tax_id,
		address_street, address_number, address_compl, address_neighb,
		address_city, address_state, address_zipcode,
		items, subtotal, discount, total, price_list, payment_status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
	RETURNING id, revision`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	lockOrderByNumberSQL = getOrderByNumberSQL + ` FOR UPDATE`

	listOrdersByTaxIDSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE customer_tax_id = $1 ORDER BY created_at DESC, id DESC`

	setSessionSQL = `UPDATE orders SET session_id = $2, session_url = $3,
		revision = revision + 1, updated_at = now()
	WHERE order_number = $1`

	deletePendingSQL = `DELETE FROM orders WHERE payment_status = 'pending' AND created_at < $1`

	deletePendingReturningSQL = deletePendingSQL + ` RETURNING ` + orderColumns

	updatePaymentSQL = `UPDATE orders SET payment_status = $2, payment_method = $3, payment_id = $4,
		paid_at = $5, qr_code = $6, qr_code_base64 = $7, ticket_url = $8,
		stock_applied_at = $9, revision = $10, updated_at = $11
	WHERE id = $1`

	// An order line without color takes the first variant of its size, in
	// byte order like the in-memory store.
	decrementStockSQL = `UPDATE product_variants SET stock = GREATEST(stock - $4, 0)
	WHERE (product_id, size, color) = (
		SELECT product_id, size, color FROM product_variants
		WHERE product_id = $1 AND size = $2 AND ($3 = '' OR color = $3)
		ORDER BY color COLLATE "C" LIMIT 1)`
)

const orderNumberConstraint = "orders_order_number_key"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists a new pending order. Line items are stored in a JSONB
// column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now()
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = payment.StatusPending
	}
	err := r.pool.QueryRow(ctx, createOrderSQL,
		o.Number,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.TaxID,
		o.Address.Street, o.Address.Number, o.Address.Complement, o.Address.Neighborhood,
		o.Address.City, o.Address.State, o.Address.Zipcode,
		o.Items, o.Subtotal, o.Discount, o.Total, o.PriceList, string(o.PaymentStatus), o.CreatedAt,
	).Scan(&o.ID, &o.Revision)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return order.ErrDuplicateNumber
		}
		return errors.Wrapf(err, "create order %q", o.Number)
	}
	o.UpdatedAt = o.CreatedAt
	return nil
}

// GetByNumber returns the order with the given number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByNumberSQL, number)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", number)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", number)
	}
	return &o, nil
}

// ListByTaxID returns the orders of a customer, newest first.
func (r *OrderRepository) ListByTaxID(ctx context.Context, taxID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByTaxIDSQL, taxID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders by tax id")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// SetSession records the gateway checkout session of an order.
func (r *OrderRepository) SetSession(ctx context.Context, number string, s order.Session) error {
	tag, err := r.pool.Exec(ctx, setSessionSQL, number, s.ID, s.RedirectURL)
	if err != nil {
		return errors.Wrapf(err, "set session of %q", number)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// DeletePending removes pending orders created before the given time.
func (r *OrderRepository) DeletePending(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deletePendingSQL, before)
	if err != nil {
		return 0, errors.Wrap(err, "delete pending orders")
	}
	return tag.RowsAffected(), nil
}

// ArchivePending deletes pending orders created before the given time and
// hands them to archive. The deletion is rolled back when archive fails.
func (r *OrderRepository) ArchivePending(ctx context.Context, before time.Time, archive func([]order.Order) error) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, deletePendingReturningSQL, before)
		if err != nil {
			return errors.Wrap(err, "delete pending orders")
		}
		deleted, err := pgx.CollectRows(rows, scanOrder)
		if err != nil {
			return errors.Wrap(err, "collect deleted orders")
		}
		if len(deleted) == 0 {
			return nil
		}
		if err := archive(deleted); err != nil {
			return errors.Wrap(err, "archive")
		}
		n = int64(len(deleted))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ApplyPayment locks the order row, applies the transition and, for the first
// approval, decrements the stock of every line in the same transaction.
// Serialization failures and deadlocks are reported as order.ErrConflict.
func (r *OrderRepository) ApplyPayment(ctx context.Context, number string, u order.PaymentUpdate) (*order.PaymentResult, error) {
	var res *order.PaymentResult
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockOrderByNumberSQL, number)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "lock order")
		}

		change := o.ApplyPayment(u, r.now())
		res = &order.PaymentResult{Order: &o, PaymentChange: change}
		if !change.Applied {
			return nil
		}

		batch := &pgx.Batch{}
		batch.Queue(updatePaymentSQL,
			o.ID, string(o.PaymentStatus), o.PaymentMethod, o.PaymentID, o.PaidAt,
			o.Artifacts.QRCode, o.Artifacts.QRCodeBase64, o.Artifacts.TicketURL,
			o.StockAppliedAt, o.Revision, o.UpdatedAt,
		)
		if change.DecrementStock {
			for _, li := range o.Items {
				batch.Queue(decrementStockSQL, li.ProductID, li.Size, li.Color, li.Quantity)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		if IsRetryable(err) {
			return nil, errors.Wrapf(order.ErrConflict, "apply payment to %q (%v)", number, err)
		}
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "apply payment to %q", number)
	}
	return res, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.TaxID,
		&o.Address.Street, &o.Address.Number, &o.Address.Complement, &o.Address.Neighborhood,
		&o.Address.City, &o.Address.State, &o.Address.Zipcode,
		&o.Items, &o.Subtotal, &o.Discount, &o.Total, &o.PriceList,
		&status, &o.PaymentMethod, &o.PaymentID, &o.PaidAt,
		&o.Artifacts.QRCode, &o.Artifacts.QRCodeBase64, &o.Artifacts.TicketURL,
		&o.Session.ID, &o.Session.RedirectURL,
		&o.StockAppliedAt, &o.Revision, &o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentStatus = payment.Status(status)
	return o, err
}
