package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/dbpool"
	"github.com/persistorai/tenantwatch/internal/models"
)

// TenantChangesChannel is the NOTIFY channel fed by the tenants table trigger.
const TenantChangesChannel = "tenant_changes"

// InvalidateFunc drops in-process state derived from a tenant record.
type InvalidateFunc func(tenantID string)

// TenantChangeBridge listens for tenant record changes and invalidates
// cached credentials, token sources and aggregates for that tenant.
type TenantChangeBridge struct {
	log        *logrus.Logger
	pool       *dbpool.Pool
	invalidate []InvalidateFunc
	newBackoff func() backoff.BackOff
}

// NewTenantChangeBridge creates a bridge that calls every fn for each change.
func NewTenantChangeBridge(log *logrus.Logger, pool *dbpool.Pool, fns ...InvalidateFunc) *TenantChangeBridge {
	return &TenantChangeBridge{
		log:        log,
		pool:       pool,
		invalidate: fns,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.RandomizationFactor = 0.25
			b.MaxElapsedTime = 0

			return b
		},
	}
}

// Start checks the database is reachable and then listens in the background
// until ctx is cancelled, reconnecting with jittered exponential backoff.
func (b *TenantChangeBridge) Start(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("tenant change bridge: database not reachable: %w", err)
	}

	go b.listen(ctx)

	return nil
}

func (b *TenantChangeBridge) listen(ctx context.Context) {
	bo := backoff.WithContext(b.newBackoff(), ctx)

	for {
		err := b.subscribe(ctx, bo.Reset)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}

		b.log.WithError(err).WithField("retry_in", wait).Warn("tenant change listener lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// subscribe holds one connection in LISTEN until it fails or ctx ends.
// connected is called once LISTEN succeeds.
func (b *TenantChangeBridge) subscribe(ctx context.Context, connected func()) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{TenantChangesChannel}.Sanitize()); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	connected()
	b.log.WithField("channel", TenantChangesChannel).Info("tenant change listener started")

	for {
		// Wake up periodically so a dead socket is noticed.
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(2 * time.Minute)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return fmt.Errorf("waiting for notification: %w", err)
		}

		b.Handle(n)
	}
}

// Handle applies one notification. Payloads without a valid tenant id are dropped.
func (b *TenantChangeBridge) Handle(n *pgconn.Notification) {
	var payload struct {
		TenantID string `json:"tenant_id"`
		Op       string `json:"op"`
	}

	if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil || models.ValidateTenantID(payload.TenantID) != nil {
		b.log.WithField("channel", n.Channel).Warn("dropping tenant change without a valid tenant_id")
		return
	}

	for _, fn := range b.invalidate {
		fn(payload.TenantID)
	}

	b.log.WithFields(logrus.Fields{
		"tenant_id": payload.TenantID,
		"op":        payload.Op,
	}).Info("tenant changed, cached state invalidated")
}
