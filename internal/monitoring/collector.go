// Package monitoring summarizes the execution log and raises webhook
// alerts when failure or drift rates cross configured thresholds.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/store"
)

// maxCollected caps how many log rows one snapshot reads.
const maxCollected = 10000

// DomainStats aggregates executions for one domain.
type DomainStats struct {
	Domain      string  `json:"domain"`
	Total       int     `json:"total"`
	Failed      int     `json:"failed"`
	Drifted     int     `json:"drifted"`
	Migrated    int     `json:"migrated"`
	Passthrough int     `json:"passthrough"`
	FailRate    float64 `json:"fail_rate"`
	DriftRate   float64 `json:"drift_rate"`
}

// MetricsSnapshot holds a point-in-time view of execution health.
type MetricsSnapshot struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Drifted     int     `json:"drifted"`
	Migrated    int     `json:"migrated"`
	Passthrough int     `json:"passthrough"`
	FailRate    float64 `json:"fail_rate"`
	DriftRate   float64 `json:"drift_rate"`

	AvgDurationMs float64 `json:"avg_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`

	// ErrorKinds counts failures by error kind.
	ErrorKinds map[string]int `json:"error_kinds,omitempty"`
	Domains    []DomainStats  `json:"domains,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ExecutionLister is the slice of store.Store the collector reads.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]model.ExecutionRecord, error)
}

// Collector gathers metrics from the execution log.
type Collector struct {
	store ExecutionLister

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st ExecutionLister) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A window of
// zero or less covers the whole log.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	filter := store.ExecutionFilter{Limit: maxCollected}
	if lookbackHours > 0 {
		filter.Since = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	recs, err := c.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list executions")
	}

	snap := Summarize(recs)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// Summarize aggregates execution records.
func Summarize(recs []model.ExecutionRecord) *MetricsSnapshot {
	snap := &MetricsSnapshot{Total: len(recs), ErrorKinds: map[string]int{}}
	domains := map[string]*DomainStats{}
	durations := make([]float64, 0, len(recs))
	var totalMs float64

	for _, r := range recs {
		ds, ok := domains[r.Domain]
		if !ok {
			ds = &DomainStats{Domain: r.Domain}
			domains[r.Domain] = ds
		}
		ds.Total++

		switch r.Status {
		case model.ExecutionSucceeded:
			snap.Succeeded++
		case model.ExecutionFailed:
			snap.Failed++
			ds.Failed++
			if r.ErrorKind != "" {
				snap.ErrorKinds[r.ErrorKind]++
			}
		}
		if r.DriftDetected {
			snap.Drifted++
			ds.Drifted++
		}
		if r.Migrated {
			snap.Migrated++
			ds.Migrated++
		}
		if r.MigrationStatus == model.MigrationPassthrough {
			snap.Passthrough++
			ds.Passthrough++
		}
		totalMs += r.DurationMs
		durations = append(durations, r.DurationMs)
	}

	if snap.Total > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Total)
		snap.DriftRate = float64(snap.Drifted) / float64(snap.Total)
		snap.AvgDurationMs = totalMs / float64(snap.Total)
		sort.Float64s(durations)
		snap.P95DurationMs = Percentile(durations, 95)
	}

	for _, ds := range domains {
		ds.FailRate = float64(ds.Failed) / float64(ds.Total)
		ds.DriftRate = float64(ds.Drifted) / float64(ds.Total)
		snap.Domains = append(snap.Domains, *ds)
	}
	sort.Slice(snap.Domains, func(i, j int) bool { return snap.Domains[i].Domain < snap.Domains[j].Domain })
	return snap
}

// Percentile returns the nearest-rank percentile of sorted values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
