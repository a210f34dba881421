package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
)

const (
	auditWriteTimeout = 5 * time.Second
	defaultAuditQueue = 1000
)

// AuditEnqueuer accepts audit entries without blocking the caller.
type AuditEnqueuer interface {
	Enqueue(entry models.AuditEntry)
}

// AuditWorker moves audit entries off the request path. A single goroutine
// writes them in arrival order; when the queue is full new entries are
// dropped and counted.
type AuditWorker struct {
	auditor Auditor
	log     *logrus.Logger
	queue   chan models.AuditEntry
	dropped atomic.Uint64
}

// NewAuditWorker creates an AuditWorker buffering up to queueSize entries.
func NewAuditWorker(auditor Auditor, log *logrus.Logger, queueSize int) *AuditWorker {
	if queueSize <= 0 {
		queueSize = defaultAuditQueue
	}

	return &AuditWorker{
		auditor: auditor,
		log:     log,
		queue:   make(chan models.AuditEntry, queueSize),
	}
}

// Enqueue implements AuditEnqueuer.
func (w *AuditWorker) Enqueue(entry models.AuditEntry) {
	select {
	case w.queue <- entry:
		metrics.AuditQueueDepth.Set(float64(len(w.queue)))
	default:
		w.dropped.Add(1)
		metrics.ErrorsTotal.WithLabelValues("audit_dropped").Inc()
		w.log.WithFields(logrus.Fields{
			"action":    entry.Action,
			"tenant_id": entry.TenantID,
			"entity_id": entry.EntityID,
		}).Warn("audit queue full, entry dropped")
	}
}

// Dropped returns how many entries were discarded on a full queue.
func (w *AuditWorker) Dropped() uint64 { return w.dropped.Load() }

// Pending returns the number of queued entries not yet written.
func (w *AuditWorker) Pending() int { return len(w.queue) }

// Run writes entries until ctx is done, then flushes whatever is still queued
// so shutdown does not lose accepted entries.
func (w *AuditWorker) Run(ctx context.Context) {
	for {
		select {
		case entry := <-w.queue:
			w.write(entry)
		case <-ctx.Done():
			n := w.flush()
			if n > 0 {
				w.log.WithField("entries", n).Info("audit queue flushed on shutdown")
			}

			return
		}
	}
}

func (w *AuditWorker) flush() int {
	n := 0

	for {
		select {
		case entry := <-w.queue:
			w.write(entry)
			n++
		default:
			return n
		}
	}
}

// write uses its own deadline since the run context may already be cancelled.
func (w *AuditWorker) write(e models.AuditEntry) {
	metrics.AuditQueueDepth.Set(float64(len(w.queue)))

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	err := w.auditor.RecordAudit(ctx, e.TenantID, e.Action, e.EntityType, e.EntityID, e.Actor, e.Detail)
	if err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"action":    e.Action,
			"tenant_id": e.TenantID,
		}).Warn("audit write failed")
	}
}

// recordAudit hands an entry to w. A nil w disables auditing.
func recordAudit(w AuditEnqueuer, entry models.AuditEntry) {
	if w == nil {
		return
	}

	w.Enqueue(entry)
}
