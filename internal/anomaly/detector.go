// Package anomaly flags cost spikes against a same-weekday baseline and
// classifies policy findings into severity tiers.
package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/persistorai/tenantwatch/internal/models"
)

// Config tunes the cost detector.
type Config struct {
	// ThresholdPercent is the deviation above which a day is flagged.
	// A deviation exactly equal to the threshold is not flagged.
	ThresholdPercent float64
	// BaselineWeeks is how many prior same-weekday values form the baseline.
	BaselineWeeks int
	// MinBaseline is the minimum number of baseline values required.
	MinBaseline int
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{ThresholdPercent: 20, BaselineWeeks: 4, MinBaseline: 1}
}

// Finding is one flagged day.
type Finding struct {
	SnapshotID      int64
	ServiceName     string
	UsageDate       time.Time
	Expected        float64
	Actual          float64
	VariancePercent float64
}

// Detector evaluates daily cost series.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector, filling zero fields from DefaultConfig.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = def.ThresholdPercent
	}

	if cfg.BaselineWeeks <= 0 {
		cfg.BaselineWeeks = def.BaselineWeeks
	}

	if cfg.MinBaseline <= 0 {
		cfg.MinBaseline = def.MinBaseline
	}

	return &Detector{cfg: cfg}
}

// HistoryStart returns the earliest usage day Detect needs to evaluate days
// on or after since.
func (d *Detector) HistoryStart(since time.Time) time.Time {
	return truncateDay(since).AddDate(0, 0, -7*d.cfg.BaselineWeeks)
}

// Variance returns (actual-expected)/expected*100.
func Variance(expected, actual float64) float64 {
	return (actual - expected) / expected * 100
}

// IsAnomalous reports whether actual deviates from expected by more than the
// threshold. expected must be positive.
func (d *Detector) IsAnomalous(expected, actual float64) bool {
	if expected <= 0 {
		return false
	}

	return math.Abs(Variance(expected, actual)) > d.cfg.ThresholdPercent
}

// Baseline returns the mean of up to BaselineWeeks values found at 7-day
// steps before day, and how many were found.
func (d *Detector) Baseline(byDay map[time.Time]float64, day time.Time) (float64, int) {
	var sum float64
	n := 0

	for w := 1; w <= d.cfg.BaselineWeeks; w++ {
		if v, ok := byDay[day.AddDate(0, 0, -7*w)]; ok {
			sum += v
			n++
		}
	}

	if n == 0 {
		return 0, 0
	}

	return sum / float64(n), n
}

// Detect evaluates every day on or after since in a history of daily totals.
// History may hold several services; each is evaluated on its own series.
// Days missing from the series are absent, not zero.
func (d *Detector) Detect(history []models.DailyCost, since time.Time) []Finding {
	series := make(map[string]map[time.Time]models.DailyCost)

	for _, h := range history {
		day := truncateDay(h.UsageDate)
		if series[h.ServiceName] == nil {
			series[h.ServiceName] = make(map[time.Time]models.DailyCost)
		}
		h.UsageDate = day
		series[h.ServiceName][day] = h
	}

	since = truncateDay(since)

	var out []Finding

	for service, days := range series {
		values := make(map[time.Time]float64, len(days))
		for day, h := range days {
			values[day] = h.Cost
		}

		for day, h := range days {
			if day.Before(since) {
				continue
			}

			expected, n := d.Baseline(values, day)
			if n < d.cfg.MinBaseline || !d.IsAnomalous(expected, h.Cost) {
				continue
			}

			out = append(out, Finding{
				SnapshotID:      h.SnapshotID,
				ServiceName:     service,
				UsageDate:       day,
				Expected:        expected,
				Actual:          h.Cost,
				VariancePercent: Variance(expected, h.Cost),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UsageDate.Equal(out[j].UsageDate) {
			return out[i].UsageDate.Before(out[j].UsageDate)
		}
		return out[i].ServiceName < out[j].ServiceName
	})

	return out
}

// AlertSeverity maps a variance to an alert severity.
func AlertSeverity(variancePercent float64) models.Severity {
	switch v := math.Abs(variancePercent); {
	case v >= 100:
		return models.SeverityHigh
	case v >= 50:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
