package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contractml/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_RecordAndGet(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := &model.ExecutionRecord{
		Domain:          "telemetry",
		SourceVersion:   "v1",
		TargetVersion:   "v2",
		Migrated:        true,
		MigrationStatus: model.MigrationDirect,
		DriftDetected:   true,
		Status:          model.ExecutionSucceeded,
		DurationMs:      1.5,
	}
	require.NoError(t, s.RecordExecution(ctx, rec))
	require.NotEmpty(t, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "telemetry", got.Domain)
	assert.Equal(t, "v2", got.TargetVersion)
	assert.True(t, got.Migrated)
	assert.True(t, got.DriftDetected)
	assert.Equal(t, model.MigrationDirect, got.MigrationStatus)
	assert.Equal(t, model.ExecutionSucceeded, got.Status)
	assert.InDelta(t, 1.5, got.DurationMs, 1e-9)
}

func TestSQLite_GetMissing(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)

	_, err := s.GetExecution(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution not found")
}

func TestSQLite_ListExecutions(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.ExecutionRecord{
		{ID: "a", Domain: "telemetry", SourceVersion: "v1", TargetVersion: "v2", Status: model.ExecutionSucceeded, CreatedAt: base},
		{ID: "b", Domain: "telemetry", SourceVersion: "v2", TargetVersion: "v2", Status: model.ExecutionFailed, ErrorKind: model.KindValidation, Error: "bad", CreatedAt: base.Add(time.Minute)},
		{ID: "c", Domain: "billing", SourceVersion: "v1", TargetVersion: "v1", Status: model.ExecutionSucceeded, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range recs {
		require.NoError(t, s.RecordExecution(ctx, &recs[i]))
	}

	all, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	tel, err := s.ListExecutions(ctx, ExecutionFilter{Domain: "telemetry"})
	require.NoError(t, err)
	assert.Len(t, tel, 2)

	failed, err := s.ListExecutions(ctx, ExecutionFilter{Status: model.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, model.KindValidation, failed[0].ErrorKind)

	recent, err := s.ListExecutions(ctx, ExecutionFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestSQLite_DuplicateID(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := &model.ExecutionRecord{ID: "dup", Domain: "d", SourceVersion: "v1", TargetVersion: "v1", Status: model.ExecutionSucceeded}
	require.NoError(t, s.RecordExecution(ctx, rec))
	err := s.RecordExecution(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert execution dup")
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := Open(ctx, DriverNone, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, "mongo", "")
	require.Error(t, err)

	s, err = Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	_, err = s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
}
