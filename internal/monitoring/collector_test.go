package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/store"
)

// fakeLog implements ExecutionLister over an in-memory slice.
type fakeLog struct {
	recs    []model.ExecutionRecord
	listErr error
	filters []store.ExecutionFilter
}

func (f *fakeLog) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]model.ExecutionRecord, error) {
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.ExecutionRecord
	for _, r := range f.recs {
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func sampleLog() []model.ExecutionRecord {
	return []model.ExecutionRecord{
		{Domain: "telemetry", Status: model.ExecutionSucceeded, DriftDetected: true, Migrated: true, MigrationStatus: model.MigrationDirect, DurationMs: 2, CreatedAt: now.Add(-time.Hour)},
		{Domain: "telemetry", Status: model.ExecutionFailed, ErrorKind: model.KindValidation, MigrationStatus: model.MigrationPassthrough, DurationMs: 4, CreatedAt: now.Add(-2 * time.Hour)},
		{Domain: "billing", Status: model.ExecutionSucceeded, DurationMs: 6, CreatedAt: now.Add(-3 * time.Hour)},
		{Domain: "billing", Status: model.ExecutionFailed, ErrorKind: model.KindModel, DurationMs: 8, CreatedAt: now.Add(-48 * time.Hour)},
	}
}

func TestCollector_Collect(t *testing.T) {
	log := &fakeLog{recs: sampleLog()}
	c := NewCollector(log)
	c.nowFunc = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Drifted)
	assert.Equal(t, 1, snap.Migrated)
	assert.Equal(t, 1, snap.Passthrough)
	assert.InDelta(t, 1.0/3, snap.FailRate, 1e-9)
	assert.InDelta(t, 4.0, snap.AvgDurationMs, 1e-9)
	assert.Equal(t, map[string]int{model.KindValidation: 1}, snap.ErrorKinds)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)

	require.Len(t, snap.Domains, 2)
	assert.Equal(t, "billing", snap.Domains[0].Domain)
	assert.Equal(t, "telemetry", snap.Domains[1].Domain)
	assert.InDelta(t, 0.5, snap.Domains[1].FailRate, 1e-9)

	require.Len(t, log.filters, 1)
	assert.Equal(t, now.Add(-24*time.Hour), log.filters[0].Since)
	assert.Equal(t, maxCollected, log.filters[0].Limit)
}

func TestCollector_WholeLog(t *testing.T) {
	log := &fakeLog{recs: sampleLog()}
	snap, err := NewCollector(log).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Total)
	assert.True(t, log.filters[0].Since.IsZero())
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&fakeLog{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list executions")
}

func TestSummarize_Empty(t *testing.T) {
	snap := Summarize(nil)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.Domains)
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 10.0, Percentile(vals, 95))
	assert.Equal(t, 5.0, Percentile(vals, 50))
	assert.Equal(t, 1.0, Percentile(vals, 0))
	assert.Equal(t, 10.0, Percentile(vals, 100))
}
