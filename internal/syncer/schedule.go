package syncer

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/persistorai/tenantwatch/internal/models"
)

// DefaultIntervals are the recurring sync intervals per job type. Resource
// inventory changes most often, cost and identity least.
var DefaultIntervals = map[models.JobType]time.Duration{
	models.JobCost:       24 * time.Hour,
	models.JobCompliance: 4 * time.Hour,
	models.JobResource:   time.Hour,
	models.JobIdentity:   24 * time.Hour,
}

// interval returns the configured interval for job, falling back to the default.
func (o *Orchestrator) interval(job models.JobType) time.Duration {
	if d, ok := o.opts.Intervals[job]; ok && d > 0 {
		return d
	}

	return DefaultIntervals[job]
}

// startSchedule registers one constant-delay entry per adapter. A panic in a
// scheduled trigger is recovered and logged by the cron chain.
func (o *Orchestrator) startSchedule() {
	logger := cron.PrintfLogger(o.log)

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	for _, job := range models.AllJobTypes {
		if _, ok := o.adapters[job]; !ok {
			continue
		}

		every := o.interval(job)
		o.entries[job] = c.Schedule(cron.Every(every), cron.FuncJob(func() { o.runScheduled(job) }))

		o.log.WithField("job_type", job).WithField("interval", every.String()).Info("sync scheduled")
	}

	o.cron = c
	c.Start()
}

// NextRuns reports when each scheduled job type fires next.
func (o *Orchestrator) NextRuns() map[models.JobType]time.Time {
	out := make(map[models.JobType]time.Time, len(o.entries))
	if o.cron == nil {
		return out
	}

	for job, id := range o.entries {
		out[job] = o.cron.Entry(id).Next
	}

	return out
}
