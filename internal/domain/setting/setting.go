// Package setting holds storefront settings editable by the shop owner.
package setting

import (
	"context"

	"github.com/go-faster/errors"
)

// Known setting keys.
const (
	// KeyWhatsAppMessage is the template of the post-approval WhatsApp message.
	KeyWhatsAppMessage = "whatsapp_client_message"
)

var ErrNotFound = errors.New("setting not found")

// Known reports whether key is a setting the shop owner may edit.
func Known(key string) bool {
	return key == KeyWhatsAppMessage
}

// Repository reads settings by key.
type Repository interface {
	// Get returns ErrNotFound when key is not set.
	Get(ctx context.Context, key string) (string, error)
}

// Store reads and writes settings.
type Store interface {
	Repository
	Put(ctx context.Context, key, value string) error
}
