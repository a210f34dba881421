package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/persistorai/tenantwatch/internal/models"
)

// runWorker starts w and returns a stop func that cancels it and waits for
// Run to return.
func runWorker(t *testing.T, w *AuditWorker) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		w.Run(ctx)
		close(done)
	}()

	return func() {
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestAuditWorker_WritesEntry(t *testing.T) {
	auditor := &mockAuditor{}
	w := NewAuditWorker(auditor, testLogger(), 10)
	stop := runWorker(t, w)

	w.Enqueue(models.AuditEntry{
		TenantID:   tenantA,
		Action:     models.AuditAnomalyAcknowledge,
		EntityType: models.AuditEntityAnomaly,
		EntityID:   "anom-1",
		Actor:      "ops",
	})

	deadline := time.Now().Add(time.Second)
	for len(auditor.getCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	calls := auditor.getCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d writes, want 1", len(calls))
	}

	got := calls[0]
	if got.TenantID != tenantA || got.Action != models.AuditAnomalyAcknowledge || got.EntityID != "anom-1" || got.Actor != "ops" {
		t.Errorf("unexpected write: %+v", got)
	}
}

func TestAuditWorker_FullQueueDropsWithoutBlocking(t *testing.T) {
	// Not running, so nothing drains the queue.
	w := NewAuditWorker(&mockAuditor{}, testLogger(), 2)

	done := make(chan struct{})
	go func() {
		for _, id := range []string{"a", "b", "c", "d"} {
			w.Enqueue(models.AuditEntry{Action: models.AuditSyncTrigger, EntityID: id})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	if w.Pending() != 2 {
		t.Errorf("pending = %d, want 2", w.Pending())
	}

	if w.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", w.Dropped())
	}
}

func TestAuditWorker_FlushesOnShutdown(t *testing.T) {
	auditor := &mockAuditor{}
	w := NewAuditWorker(auditor, testLogger(), 16)

	for i := range 6 {
		w.Enqueue(models.AuditEntry{Action: models.AuditAlertResolve, EntityID: fmt.Sprintf("alert-%d", i)})
	}

	stop := runWorker(t, w)
	stop()

	calls := auditor.getCalls()
	if len(calls) != 6 {
		t.Fatalf("got %d writes after shutdown, want 6", len(calls))
	}

	for i, c := range calls {
		if want := fmt.Sprintf("alert-%d", i); c.EntityID != want {
			t.Errorf("write %d = %s, want %s (arrival order)", i, c.EntityID, want)
		}
	}

	if w.Pending() != 0 {
		t.Errorf("pending = %d after shutdown", w.Pending())
	}
}

func TestAuditWorker_WriteErrorDoesNotStopWorker(t *testing.T) {
	auditor := &mockAuditor{err: errors.New("db down")}
	w := NewAuditWorker(auditor, testLogger(), 4)

	w.Enqueue(models.AuditEntry{Action: models.AuditSyncTrigger, EntityID: "cost"})
	w.Enqueue(models.AuditEntry{Action: models.AuditSyncTrigger, EntityID: "identity"})

	stop := runWorker(t, w)
	stop()

	if n := len(auditor.getCalls()); n != 2 {
		t.Errorf("got %d write attempts, want 2", n)
	}
}

func TestRecordAudit_NilEnqueuer(t *testing.T) {
	// Must not panic.
	recordAudit(nil, models.AuditEntry{Action: models.AuditSyncTrigger})

	m := &mockEnqueuer{}
	recordAudit(m, models.AuditEntry{Action: models.AuditSyncTrigger})

	if got := m.actions(); len(got) != 1 || got[0] != models.AuditSyncTrigger {
		t.Errorf("actions = %v", got)
	}
}
