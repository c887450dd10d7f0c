package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/apparel-checkout/internal/domain/setting"
)

const (
	getSettingSQL = `SELECT value FROM global_settings WHERE key = $1`

	putSettingSQL = `INSERT INTO global_settings (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

var _ setting.Store = (*SettingRepository)(nil)

// SettingRepository reads storefront settings from PostgreSQL.
type SettingRepository struct {
	pool *pgxpool.Pool
}

// NewSettingRepository returns a SettingRepository that uses the given pool.
func NewSettingRepository(pool *pgxpool.Pool) *SettingRepository {
	return &SettingRepository{pool: pool}
}

// Get returns the value of key.
func (r *SettingRepository) Get(ctx context.Context, key string) (string, error) {
	var v string
	if err := r.pool.QueryRow(ctx, getSettingSQL, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", setting.ErrNotFound
		}
		return "", errors.Wrapf(err, "get setting %q", key)
	}
	return v, nil
}

// Put sets key to value.
func (r *SettingRepository) Put(ctx context.Context, key, value string) error {
	if _, err := r.pool.Exec(ctx, putSettingSQL, key, value); err != nil {
		return errors.Wrapf(err, "put setting %q", key)
	}
	return nil
}
