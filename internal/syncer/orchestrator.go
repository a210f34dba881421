package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/ws"
)

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// finishTimeout bounds the bookkeeping writes made after a run ends, which
// still happen when the run itself was cancelled.
const finishTimeout = 10 * time.Second

// RunStore persists SyncJobRun lifecycle transitions.
type RunStore interface {
	CreateRun(ctx context.Context, jobType models.JobType, tenantID string, trigger models.Trigger) (*models.SyncJobRun, error)
	MarkRunning(ctx context.Context, id string) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, records int, summary string) error
	FailOrphanedRuns(ctx context.Context) (int64, error)
	KeyHealth(ctx context.Context) ([]KeyHealth, error)
}

// KeyHealth is the recorded history of one (job type, tenant) key.
type KeyHealth struct {
	JobType             models.JobType
	TenantID            string
	LastSuccess         *time.Time
	ConsecutiveFailures int
}

// TenantLister reads the tenant registry.
type TenantLister interface {
	ListActiveTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

// Invalidator drops cached aggregates for a tenant and domain.
type Invalidator interface {
	Invalidate(tenantID, domain string)
}

// Alerter records operator alerts.
type Alerter interface {
	RaiseAlert(ctx context.Context, a *models.Alert) error
}

// EventPublisher receives finished runs for live subscribers. Publish must
// not block.
type EventPublisher interface {
	Publish(eventType, tenantID string, data any)
}

// PostSyncHook runs after a successful sync and before the run is marked
// completed. Its errors are logged and do not fail the run.
type PostSyncHook func(ctx context.Context, tenantID string) error

// Options configure an Orchestrator.
type Options struct {
	MaxConcurrent    int
	Stagger          time.Duration
	Intervals        map[models.JobType]time.Duration
	FailureThreshold int
	// DisableSchedule leaves only manual triggers.
	DisableSchedule bool
	RunOnStart      bool
}

type runKey struct {
	job    models.JobType
	tenant string
}

type keyState int

const (
	keyScheduled keyState = iota + 1
	keyRunning
)

// Orchestrator owns per-(job type, tenant) run state. At most one run per key
// is scheduled or running; further triggers for that key are coalesced.
type Orchestrator struct {
	adapters map[models.JobType]Adapter
	runs     RunStore
	tenants  TenantLister
	cache    Invalidator
	alerts   Alerter
	hooks    map[models.JobType]PostSyncHook
	events   EventPublisher
	opts     Options
	log      *logrus.Logger
	sem      *semaphore.Weighted
	cron     *cron.Cron
	entries  map[models.JobType]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	stopped     bool
	states      map[runKey]keyState
	failures    map[runKey]int
	lastSuccess map[models.JobType]time.Time
}

// NewOrchestrator creates an Orchestrator. Nothing runs until Start or Trigger.
func NewOrchestrator(
	adapters []Adapter,
	runs RunStore,
	tenants TenantLister,
	cache Invalidator,
	alerts Alerter,
	opts Options,
	log *logrus.Logger,
) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}

	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		adapters:    make(map[models.JobType]Adapter, len(adapters)),
		runs:        runs,
		tenants:     tenants,
		cache:       cache,
		alerts:      alerts,
		hooks:       make(map[models.JobType]PostSyncHook),
		opts:        opts,
		log:         log,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		entries:     make(map[models.JobType]cron.EntryID),
		ctx:         ctx,
		cancel:      cancel,
		states:      make(map[runKey]keyState),
		failures:    make(map[runKey]int),
		lastSuccess: make(map[models.JobType]time.Time),
	}

	for _, a := range adapters {
		o.adapters[a.JobType()] = a
	}

	return o
}

// OnSuccess registers a hook for a job type. Call before Start.
func (o *Orchestrator) OnSuccess(job models.JobType, hook PostSyncHook) {
	o.hooks[job] = hook
}

// SetPublisher sends every finished run to p. Call before Start.
func (o *Orchestrator) SetPublisher(p EventPublisher) {
	o.events = p
}

// Start fails runs left in pending or running by a previous process, seeds
// health from history, and starts the recurring schedule.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.runs.FailOrphanedRuns(ctx)
	if err != nil {
		return fmt.Errorf("failing orphaned runs: %w", err)
	}

	if n > 0 {
		o.log.WithField("count", n).Warn("marked interrupted sync runs as failed")
	}

	history, err := o.runs.KeyHealth(ctx)
	if err != nil {
		return fmt.Errorf("loading sync health: %w", err)
	}

	o.mu.Lock()
	for _, h := range history {
		o.failures[runKey{job: h.JobType, tenant: h.TenantID}] = h.ConsecutiveFailures
		if h.LastSuccess != nil && h.LastSuccess.After(o.lastSuccess[h.JobType]) {
			o.lastSuccess[h.JobType] = *h.LastSuccess
		}
	}
	o.mu.Unlock()

	if !o.opts.DisableSchedule {
		o.startSchedule()
	}

	if o.opts.RunOnStart {
		for _, job := range models.AllJobTypes {
			if _, ok := o.adapters[job]; ok {
				o.runScheduled(job)
			}
		}
	}

	return nil
}

// Stop halts the schedule, cancels in-flight runs and waits for them to
// record their outcome. Rows already written stay.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	if o.cron != nil {
		<-o.cron.Stop().Done()
	}

	o.cancel()
	o.wg.Wait()
}

// Trigger starts job for one tenant, or for every active tenant when tenantID
// is empty. Keys already scheduled or running are reported as already running.
func (o *Orchestrator) Trigger(ctx context.Context, job models.JobType, tenantID string, trigger models.Trigger) (models.TriggerResult, error) {
	result := models.TriggerResult{JobType: job, Tenants: make(map[string]models.TriggerOutcome)}

	if _, ok := o.adapters[job]; !ok {
		return result, fmt.Errorf("%w: %q", models.ErrUnknownJobType, job)
	}

	var ids []string

	if tenantID != "" {
		t, err := o.tenants.GetTenant(ctx, tenantID)
		if err != nil {
			return result, err
		}

		if !t.IsActive {
			return result, models.ErrTenantInactive
		}

		ids = []string{t.ID}
	} else {
		list, err := o.tenants.ListActiveTenants(ctx)
		if err != nil {
			return result, fmt.Errorf("listing tenants: %w", err)
		}

		for _, t := range list {
			ids = append(ids, t.ID)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return result, ErrStopped
	}

	accepted := 0

	for _, id := range ids {
		key := runKey{job: job, tenant: id}
		if _, busy := o.states[key]; busy {
			result.Tenants[id] = models.TriggerAlreadyRunning
			metrics.SyncCoalescedTotal.WithLabelValues(string(job)).Inc()
			continue
		}

		o.states[key] = keyScheduled
		result.Tenants[id] = models.TriggerAccepted

		delay := time.Duration(accepted) * o.opts.Stagger
		accepted++

		o.wg.Add(1)
		go o.execute(key, trigger, delay)
	}

	return result, nil
}

func (o *Orchestrator) runScheduled(job models.JobType) {
	res, err := o.Trigger(o.ctx, job, "", models.TriggerScheduled)
	if err != nil {
		if !errors.Is(err, ErrStopped) {
			o.log.WithError(err).WithField("job_type", job).Error("scheduled sync failed to start")
		}
		return
	}

	o.log.WithFields(logrus.Fields{
		"job_type": job,
		"tenants":  len(res.Tenants),
	}).Debug("scheduled sync triggered")
}

// execute drives one run through pending, running and a final status.
func (o *Orchestrator) execute(key runKey, trigger models.Trigger, delay time.Duration) {
	defer o.wg.Done()
	defer o.release(key)

	log := o.log.WithFields(logrus.Fields{"job_type": key.job, "tenant_id": key.tenant})

	run, err := o.runs.CreateRun(o.ctx, key.job, key.tenant, trigger)
	if err != nil {
		log.WithError(err).Error("creating sync run")
		return
	}

	log = log.WithField("run_id", run.ID)

	if err := o.waitTurn(delay); err != nil {
		o.finish(run, models.RunFailed, 0, "cancelled before start", log)
		return
	}
	defer o.sem.Release(1)

	o.mu.Lock()
	o.states[key] = keyRunning
	o.mu.Unlock()

	if err := o.runs.MarkRunning(o.ctx, run.ID); err != nil {
		log.WithError(err).Error("marking sync run running")
	}

	metrics.SyncRunning.WithLabelValues(string(key.job)).Inc()
	defer metrics.SyncRunning.WithLabelValues(string(key.job)).Dec()

	ctx, span := otel.Tracer("tenantwatch.syncer").Start(o.ctx, "sync."+string(key.job))
	span.SetAttributes(
		attribute.String("tenant.id", key.tenant),
		attribute.String("sync.run_id", run.ID),
		attribute.String("sync.trigger", string(trigger)),
	)
	defer span.End()

	start := time.Now()
	res := o.adapters[key.job].Run(ctx, key.tenant)

	metrics.SyncRunDuration.WithLabelValues(string(key.job)).Observe(time.Since(start).Seconds())
	metrics.SyncRecordsProcessed.WithLabelValues(string(key.job)).Add(float64(res.RecordsProcessed))
	span.SetAttributes(attribute.Int("sync.records", res.RecordsProcessed))

	summary := ""
	if err := res.Err(); err != nil {
		summary = err.Error()
	}

	if res.Failed() {
		span.SetStatus(codes.Error, summary)
		o.finish(run, models.RunFailed, res.RecordsProcessed, summary, log)

		if o.ctx.Err() != nil {
			log.Warn("sync cancelled by shutdown")
			return
		}

		o.recordFailure(key, summary, log)

		return
	}

	// Readers must not see pre-sync aggregates once the run reports completed.
	o.cache.Invalidate(key.tenant, string(key.job))

	if hook := o.hooks[key.job]; hook != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		if err := hook(hctx, key.tenant); err != nil {
			log.WithError(err).Warn("post-sync step failed")
		}
		cancel()
	}

	o.finish(run, models.RunCompleted, res.RecordsProcessed, summary, log)
	o.recordSuccess(key)

	if summary != "" {
		log.WithField("records", res.RecordsProcessed).Warn("sync completed with page errors: " + summary)
	} else {
		log.WithField("records", res.RecordsProcessed).Info("sync completed")
	}
}

// waitTurn sleeps for the stagger delay and then takes a concurrency slot.
func (o *Orchestrator) waitTurn(delay time.Duration) error {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-o.ctx.Done():
			t.Stop()
			return o.ctx.Err()
		case <-t.C:
		}
	}

	return o.sem.Acquire(o.ctx, 1)
}

func (o *Orchestrator) finish(run *models.SyncJobRun, status models.RunStatus, records int, summary string, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), finishTimeout)
	defer cancel()

	if err := o.runs.FinishRun(ctx, run.ID, status, records, summary); err != nil {
		log.WithError(err).Error("recording sync run outcome")
	}

	metrics.SyncRunsTotal.WithLabelValues(string(run.JobType), string(status)).Inc()

	if o.events == nil {
		return
	}

	done := *run
	now := time.Now().UTC()
	done.Status = status
	done.RecordsProcessed = records
	done.ErrorSummary = summary
	done.FinishedAt = &now

	eventType := ws.EventSyncCompleted
	if status == models.RunFailed {
		eventType = ws.EventSyncFailed
	}

	o.events.Publish(eventType, run.TenantID, done)
}

func (o *Orchestrator) release(key runKey) {
	o.mu.Lock()
	delete(o.states, key)
	o.mu.Unlock()
}

func (o *Orchestrator) recordSuccess(key runKey) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.failures[key] = 0
	o.lastSuccess[key.job] = time.Now().UTC()
}

// recordFailure counts a consecutive failure and raises one alert when the
// count reaches the threshold.
func (o *Orchestrator) recordFailure(key runKey, summary string, log *logrus.Entry) {
	o.mu.Lock()
	o.failures[key]++
	n := o.failures[key]
	o.mu.Unlock()

	log.WithField("consecutive_failures", n).Error("sync failed: " + summary)

	if n != o.opts.FailureThreshold || o.alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), finishTimeout)
	defer cancel()

	alert := &models.Alert{
		TenantID: key.tenant,
		Source:   models.AlertSyncFailure,
		JobType:  key.job,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("%s sync failed %d times in a row: %s", key.job, n, summary),
	}

	if err := o.alerts.RaiseAlert(ctx, alert); err != nil {
		log.WithError(err).Error("raising sync failure alert")
		return
	}

	metrics.AlertsRaisedTotal.WithLabelValues(string(models.AlertSyncFailure)).Inc()
}

// Health reports sync health per job type and overall. Failing means some
// key reached the alert threshold; degraded means some key is failing below it.
func (o *Orchestrator) Health() models.SyncHealth {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := models.SyncHealth{Jobs: make(map[models.JobType]models.JobHealth, len(o.adapters))}

	for _, job := range models.AllJobTypes {
		if _, ok := o.adapters[job]; !ok {
			continue
		}

		jh := models.JobHealth{}

		for key, n := range o.failures {
			if key.job == job && n > jh.ConsecutiveFailures {
				jh.ConsecutiveFailures = n
			}
		}

		for key, st := range o.states {
			if key.job == job && st == keyRunning {
				jh.Running++
			}
		}

		if t, ok := o.lastSuccess[job]; ok {
			jh.LastSuccess = &t
		}

		jh.Status = healthStatus(jh.LastSuccess, jh.ConsecutiveFailures, o.opts.FailureThreshold)
		out.Jobs[job] = jh

		if jh.ConsecutiveFailures > out.ConsecutiveFailures {
			out.ConsecutiveFailures = jh.ConsecutiveFailures
		}

		if jh.LastSuccess != nil && (out.LastSuccess == nil || jh.LastSuccess.After(*out.LastSuccess)) {
			out.LastSuccess = jh.LastSuccess
		}
	}

	out.Status = healthStatus(out.LastSuccess, out.ConsecutiveFailures, o.opts.FailureThreshold)

	return out
}

func healthStatus(lastSuccess *time.Time, failures, threshold int) models.HealthStatus {
	switch {
	case failures >= threshold:
		return models.HealthFailing
	case failures > 0:
		return models.HealthDegraded
	case lastSuccess == nil:
		return models.HealthUnknown
	default:
		return models.HealthHealthy
	}
}
