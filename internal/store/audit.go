package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	auditColumns = "id, COALESCE(tenant_id::text, ''), action, entity_type, entity_id, COALESCE(actor, ''), detail, created_at"

	// Rows removed per DELETE statement.
	auditPurgeBatch = 5000
)

// AuditStore reads and writes the audit_log table.
type AuditStore struct {
	Base
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(base Base) *AuditStore {
	return &AuditStore{Base: base}
}

// RecordAudit appends one entry. An empty tenantID stores a fleet-wide entry.
func (s *AuditStore) RecordAudit(
	ctx context.Context,
	tenantID, action, entityType, entityID, actor string,
	detail map[string]any,
) error {
	var payload []byte
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encoding detail for %s: %w", action, err)
		}
		payload = b
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.Pool.Exec(ctx, `
		INSERT INTO audit_log (tenant_id, action, entity_type, entity_id, actor, detail)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, NULLIF($5, ''), $6)`,
		tenantID, action, entityType, entityID, actor, payload,
	); err != nil {
		return fmt.Errorf("recording %s: %w", action, err)
	}

	return nil
}

// QueryAudit pages through entries visible to scope, newest first. Fleet-wide
// entries only match an all-tenants scope.
func (s *AuditStore) QueryAudit(ctx context.Context, scope TenantScope, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error) {
	var w whereBuilder
	if !w.scope("tenant_id", scope) {
		return nil, false, nil
	}

	for _, f := range [...]struct{ col, val string }{
		{"action", opts.Action},
		{"actor", opts.Actor},
		{"entity_type", opts.EntityType},
		{"entity_id", opts.EntityID},
	} {
		if f.val != "" {
			w.add(f.col+" = ?", f.val)
		}
	}

	if opts.Since != nil {
		w.add("created_at >= ?", *opts.Since)
	}

	if opts.Until != nil {
		w.add("created_at < ?", *opts.Until)
	}

	limit := clampLimit(opts.Limit, 50)
	sql := fmt.Sprintf("SELECT %s FROM audit_log %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		auditColumns, w.clause(), w.next(limit+1), w.next(max(opts.Offset, 0)))

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, s.scanAuditEntry)
	if err != nil {
		return nil, false, fmt.Errorf("reading audit log: %w", err)
	}

	if len(entries) > limit {
		return entries[:limit], true, nil
	}

	return entries, false, nil
}

// scanAuditEntry decodes one row. A corrupt detail payload is logged and
// dropped rather than failing the page.
func (s *AuditStore) scanAuditEntry(row pgx.CollectableRow) (models.AuditEntry, error) {
	var (
		e       models.AuditEntry
		payload []byte
	)

	if err := row.Scan(&e.ID, &e.TenantID, &e.Action, &e.EntityType, &e.EntityID, &e.Actor, &payload, &e.CreatedAt); err != nil {
		return e, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Detail); err != nil {
			s.Log.WithError(err).WithField("audit_id", e.ID).Warn("discarding unreadable audit detail")
		}
	}

	return e, nil
}

// PurgeOldEntries removes entries older than retentionDays and returns how
// many went.
func (s *AuditStore) PurgeOldEntries(ctx context.Context, retentionDays int) (int, error) {
	total := 0

	for {
		n, err := s.purgeBatch(ctx, retentionDays)
		total += n

		if err != nil {
			return total, err
		}

		if n < auditPurgeBatch {
			return total, nil
		}
	}
}

func (s *AuditStore) purgeBatch(ctx context.Context, retentionDays int) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM audit_log WHERE id IN (
			SELECT id FROM audit_log
			WHERE created_at < NOW() - make_interval(days => $1)
			LIMIT $2
		)`,
		retentionDays, auditPurgeBatch,
	)
	if err != nil {
		return 0, fmt.Errorf("purging audit log: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
