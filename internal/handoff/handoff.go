// Package handoff builds the post-approval WhatsApp redirect that hands the
// customer over to the shop for delivery arrangements.
package handoff

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

// DefaultCountdown is the delay before the client follows the handoff link.
const DefaultCountdown = 5 * time.Second

// Template placeholders.
const (
	placeholderNumber   = "{order_number}"
	placeholderCustomer = "{customer_name}"
	placeholderItems    = "(Lista de itens será inserida aqui)"
	placeholderTotal    = "(Valor total)"
	placeholderAddress  = "(Endereço será inserido aqui)"
)

// Handoff is the redirect offered once an order is approved.
type Handoff struct {
	URL       string
	Message   string
	Countdown time.Duration
}

// Config configures a Builder.
type Config struct {
	// Number is the shop WhatsApp number in international format, digits only.
	Number    string
	Countdown time.Duration
}

// Builder renders handoff messages from the shop's message template.
type Builder struct {
	settings setting.Repository
	cfg      Config
}

// NewBuilder creates a Builder.
func NewBuilder(settings setting.Repository, cfg Config) *Builder {
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	return &Builder{settings: settings, cfg: cfg}
}

// Build returns the handoff for an approved order. A missing or unreadable
// template falls back to the default message.
func (b *Builder) Build(ctx context.Context, o *order.Order) Handoff {
	tmpl, err := b.settings.Get(ctx, setting.KeyWhatsAppMessage)
	if err != nil && !errors.Is(err, setting.ErrNotFound) {
		zctx.From(ctx).Warn("Load WhatsApp template", zap.Error(err))
	}

	msg := Render(tmpl, o)
	return Handoff{
		URL:       "https://wa.me/" + b.cfg.Number + "?text=" + url.QueryEscape(msg),
		Message:   msg,
		Countdown: b.cfg.Countdown,
	}
}

// Render fills tmpl with the order details. An empty template, or one that
// already contains the U+FFFD replacement character, is replaced by the
// default message.
func Render(tmpl string, o *order.Order) string {
	items := itemList(o)
	total := money(o.Total.StringFixed(2))
	address := addressBlock(o.Address)

	var msg string
	if strings.TrimSpace(tmpl) == "" || strings.ContainsRune(tmpl, '\uFFFD') {
		msg = fmt.Sprintf("*PEDIDO CONFIRMADO!*\n\n*Pedido:* #%s\n*Cliente:* %s\n\n*ITENS DO PEDIDO:*\n%s\n\n*Total:* %s\n*Pagamento:* Aprovado\n\n*Entrega:*\n%s",
			o.Number, o.Customer.Name, items, total, address)
	} else {
		msg = strings.NewReplacer(
			placeholderNumber, o.Number,
			placeholderCustomer, o.Customer.Name,
			placeholderItems, items,
			placeholderTotal, total,
			placeholderAddress, address,
		).Replace(tmpl)
	}
	return strings.ReplaceAll(msg, "\uFFFD", "")
}

func itemList(o *order.Order) string {
	lines := make([]string, len(o.Items))
	for i, li := range o.Items {
		lines[i] = fmt.Sprintf("• %dx %s - %s", li.Quantity, li.Title, money(li.Amount().StringFixed(2)))
	}
	return strings.Join(lines, "\n")
}

func addressBlock(a order.Address) string {
	var b strings.Builder
	b.WriteString(a.Street + ", " + a.Number)
	if a.Complement != "" {
		b.WriteString(" - " + a.Complement)
	}
	fmt.Fprintf(&b, "\n%s - %s/%s\nCEP: %s", a.Neighborhood, a.City, a.State, a.Zipcode)
	return b.String()
}

func money(v string) string { return "R$ " + v }
