package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/apparel-checkout/internal/domain/payment"
)

// Sentinel errors for catalog lookups.
var (
	ErrNotFound        = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
)

var hundred = decimal.NewFromInt(100)

// Product represents a catalog item available for purchase.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Category string
	// PixDiscount is a percentage taken off Price when paying with PIX.
	PixDiscount decimal.Decimal
	Image       string
	Variants    []Variant
}

// Variant is the inventory unit: one (product, size, color) combination.
type Variant struct {
	ProductID int64
	Size      string
	Color     string
	Stock     int
}

// UnitPrice returns the authoritative price of one unit when paid with method,
// rounded to cents.
func (p Product) UnitPrice(method string) decimal.Decimal {
	price := p.Price
	if method == payment.MethodPix && p.PixDiscount.IsPositive() {
		factor := hundred.Sub(p.PixDiscount).Div(hundred)
		price = price.Mul(factor)
	}
	return price.Round(2)
}

// Title is the line-item title shown to the customer and the gateway.
func (p Product) Title(size, color string) string {
	title := fmt.Sprintf("%s - Tamanho %s", p.Name, size)
	if color != "" {
		title += " - Cor " + color
	}
	return title
}

// HasVariant reports whether the product is sold in the given size and color.
// An empty color matches any color of that size.
func (p Product) HasVariant(size, color string) bool {
	for _, v := range p.Variants {
		if v.Size == size && (color == "" || v.Color == color) {
			return true
		}
	}
	return false
}

// DecrementStock subtracts qty from stock, clamped at zero.
func DecrementStock(stock, qty int) int {
	if qty >= stock {
		return 0
	}
	return stock - qty
}

// Repository defines read operations for the product catalog. Products
// returned by GetByID and GetByIDs carry their variants.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}
