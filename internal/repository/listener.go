package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/db"
)

// NotifyFunc receives the order number of a changed order.
type NotifyFunc func(ctx context.Context, number string)

// Listener forwards order change notifications from PostgreSQL. It holds one
// pool connection for LISTEN and reconnects with backoff when it is lost.
type Listener struct {
	pool   *pgxpool.Pool
	notify NotifyFunc
	ready  atomic.Bool
}

// NewListener creates a Listener calling notify for every changed order.
func NewListener(pool *pgxpool.Pool, notify NotifyFunc) *Listener {
	return &Listener{pool: pool, notify: notify}
}

// Ready reports whether the listener currently holds a LISTEN connection.
func (l *Listener) Ready() bool { return l.ready.Load() }

// Check implements a readiness probe.
func (l *Listener) Check(context.Context) error {
	if !l.Ready() {
		return errors.New("order change listener is not connected")
	}
	return nil
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("listener")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := l.listen(ctx, b.Reset)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Order change listener disconnected",
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire")
	}
	// The session is left in LISTEN state, so the connection is not reused.
	defer func() {
		l.ready.Store(false)
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{db.OrderChangesChannel}.Sanitize()); err != nil {
		return errors.Wrap(err, "listen")
	}
	l.ready.Store(true)
	connected()
	zctx.From(ctx).Info("Listening for order changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		if n.Payload != "" {
			l.notify(ctx, n.Payload)
		}
	}
}
