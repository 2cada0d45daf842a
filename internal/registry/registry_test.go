package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contractml/internal/contract"
	"github.com/sells-group/contractml/internal/metrics"
	"github.com/sells-group/contractml/internal/migration"
	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/schema"
)

const telemetryV1 = `
description: Legacy telemetry
fields:
  temperature:
    type: float
`

const telemetryV2 = `
description: Telemetry sensor readings
fields:
  temp_c:
    type: float
    min: -40
    max: 60
    repair: clamp
    validation: range
    drift:
      type: mean_shift
      expected_mean: 22.0
      threshold: 5.0
  humidity:
    type: float
    min: 0
    max: 100
    default: 50.0
    repair: clamp
`

const migrateV1ToV2 = `
function migrate(data)
  local out = {}
  out.temp_c = data.temperature
  out.humidity = 50.0
  return out
end
`

// countingSource counts schema loads.
type countingSource struct {
	*schema.Loader
	loads atomic.Int32
}

func (c *countingSource) Load(domain, version string) (*model.SchemaConfig, error) {
	c.loads.Add(1)
	time.Sleep(5 * time.Millisecond)
	return c.Loader.Load(domain, version)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type fixture struct {
	reg     *Registry
	source  *countingSource
	metrics *metrics.Metrics
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	base := t.TempDir()
	schemas := filepath.Join(base, "schemas")
	migrations := filepath.Join(base, "migrations")

	writeFile(t, filepath.Join(schemas, "telemetry", "v1.yaml"), telemetryV1)
	writeFile(t, filepath.Join(schemas, "telemetry", "v2.yaml"), telemetryV2)
	writeFile(t, filepath.Join(schemas, "sensor", "v1.yaml"), telemetryV1)
	writeFile(t, filepath.Join(schemas, "sensor", "v2.yaml"), telemetryV1)
	writeFile(t, filepath.Join(migrations, "telemetry_v1_to_v2.lua"), migrateV1ToV2)

	scripts, err := migration.LoadDir(migrations)
	require.NoError(t, err)

	src := &countingSource{Loader: schema.NewLoader(schemas)}
	m := metrics.New(prometheus.NewRegistry())
	if opts.Metrics == nil {
		opts.Metrics = m
	}
	reg := New(src, migration.NewEngine(scripts, src), opts)
	return &fixture{reg: reg, source: src, metrics: opts.Metrics}
}

func TestLoad_SingleFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{CacheSize: 10})

	const n = 32
	got := make([]*contract.Contract, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.reg.Load(context.Background(), "telemetry", "v2")
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.source.loads.Load())
	for _, c := range got {
		assert.Same(t, got[0], c)
	}
	assert.Equal(t, 1, f.reg.CacheStats().Entries)

	f.reg.ClearCache()
	again, err := f.reg.Load(context.Background(), "telemetry", "v2")
	require.NoError(t, err)
	assert.NotSame(t, got[0], again)
	assert.Equal(t, int32(2), f.source.loads.Load())
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	_, err := f.reg.Load(context.Background(), "telemetry", "v9")
	assert.True(t, model.IsNotFound(err))

	// failures are not cached
	_, err = f.reg.Load(context.Background(), "telemetry", "v9")
	assert.True(t, model.IsNotFound(err))
	assert.Equal(t, int32(2), f.source.loads.Load())
}

func TestExecute_Repair(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	res, err := f.reg.Execute(context.Background(), "telemetry", "v2", model.Payload{"temp_c": -50.0, "humidity": 110.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temp_c": -40.0, "humidity": 100.0}, res.Data)
	assert.NotEmpty(t, res.ID)
	_, hasMigration := res.Metadata[model.MetaMigrated]
	assert.False(t, hasMigration)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Executions.WithLabelValues("telemetry", "v2", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DriftTrips.WithLabelValues("telemetry", "v2", "temp_c")))
}

func TestExecute_StrictOption(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Strict: true})

	_, err := f.reg.Execute(context.Background(), "telemetry", "v2", model.Payload{"temp_c": -50.0})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "temp_c", ve.Field)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Executions.WithLabelValues("telemetry", "v2", model.KindValidation)))
}

func TestExecuteWithMigration_AutoTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	res, err := f.reg.ExecuteWithMigration(context.Background(), ExecuteRequest{
		Domain:  "telemetry",
		Version: "v1",
		Payload: model.Payload{"temperature": 30.0},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"temp_c": 30.0, "humidity": 50.0}, res.Data)
	assert.Equal(t, "v1", res.Metadata[model.MetaSourceVersion])
	assert.Equal(t, "v2", res.Metadata[model.MetaTargetVersion])
	assert.Equal(t, "v2", res.Metadata[model.MetaVersion])
	assert.Equal(t, true, res.Metadata[model.MetaMigrated])
	assert.Equal(t, "direct", res.Metadata[model.MetaMigrationStatus])
	assert.Equal(t, true, res.Metadata[model.MetaMigrationPathFound])
	assert.Equal(t, []string{}, res.Metadata[model.MetaMigrationErrors])
	assert.Equal(t, []string{"v1", "v2"}, res.Metadata[model.MetaMigrationPath])
	assert.True(t, res.DriftDetected())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Migrations.WithLabelValues("telemetry", "direct")))
}

func TestExecuteWithMigration_SameVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	res, err := f.reg.ExecuteWithMigration(context.Background(), ExecuteRequest{
		Domain:        "telemetry",
		Version:       "v2",
		TargetVersion: "v2",
		Payload:       model.Payload{"temp_c": 22.0},
	})
	require.NoError(t, err)
	assert.Equal(t, false, res.Metadata[model.MetaMigrated])
	assert.Equal(t, "noop", res.Metadata[model.MetaMigrationStatus])
	assert.Equal(t, "v2", res.Metadata[model.MetaSourceVersion])
}

func TestExecuteWithMigration_Passthrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	// sensor has no scripts; v1 and v2 share a shape so the payload still validates
	res, err := f.reg.ExecuteWithMigration(context.Background(), ExecuteRequest{
		Domain:  "sensor",
		Version: "v1",
		Payload: model.Payload{"temperature": 1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, false, res.Metadata[model.MetaMigrated])
	assert.Equal(t, false, res.Metadata[model.MetaMigrationPathFound])
	assert.Equal(t, "passthrough", res.Metadata[model.MetaMigrationStatus])

	// required migration fails instead
	_, err = f.reg.ExecuteWithMigration(context.Background(), ExecuteRequest{
		Domain:           "sensor",
		Version:          "v1",
		Payload:          model.Payload{"temperature": 1.0},
		RequireMigration: true,
	})
	var me *model.MigrationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "sensor", me.Domain)
	assert.Equal(t, "v2", me.To)
}

func TestExecuteWithMigration_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.reg.ExecuteWithMigration(ctx, ExecuteRequest{Domain: "ghost", Version: "v1"})
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Domain)
	assert.Empty(t, nf.Version)

	_, err = f.reg.ExecuteWithMigration(ctx, ExecuteRequest{Domain: "telemetry", Version: "v0", TargetVersion: "v2"})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "v0", nf.Version)

	_, err = f.reg.ExecuteWithMigration(ctx, ExecuteRequest{Domain: "telemetry", Version: "v1", TargetVersion: "v7"})
	assert.True(t, model.IsNotFound(err))
}

func TestExecute_RecordsExecutions(t *testing.T) {
	t.Parallel()
	rec := &mockRecorder{}
	rec.On("RecordExecution", mock.Anything, mock.MatchedBy(func(r *model.ExecutionRecord) bool {
		return r.Status == model.ExecutionSucceeded && r.Migrated && r.MigrationStatus == model.MigrationDirect &&
			r.SourceVersion == "v1" && r.TargetVersion == "v2" && r.ID != ""
	})).Return(nil).Once()
	rec.On("RecordExecution", mock.Anything, mock.MatchedBy(func(r *model.ExecutionRecord) bool {
		return r.Status == model.ExecutionFailed && r.ErrorKind == model.KindValidation
	})).Return(errors.New("disk full")).Once()

	f := newFixture(t, Options{Recorder: rec})

	res, err := f.reg.ExecuteWithMigration(context.Background(), ExecuteRequest{
		Domain: "telemetry", Version: "v1", Payload: model.Payload{"temperature": 20.0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)

	// a failing recorder does not change the execution error
	_, err = f.reg.Execute(context.Background(), "telemetry", "v2", model.Payload{"bogus": 1})
	assert.True(t, model.IsValidation(err))

	rec.AssertExpectations(t)
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	in := model.Payload{"temperature": 12.5}
	out, outcome, err := f.reg.Migrate(context.Background(), MigrateRequest{Domain: "telemetry", From: "v1", To: "v2", Payload: in})
	require.NoError(t, err)
	assert.Equal(t, model.MigrationDirect, outcome.Status)
	assert.Equal(t, model.Payload{"temp_c": 12.5, "humidity": 50.0}, out)
	assert.Equal(t, model.Payload{"temperature": 12.5}, in)

	out, outcome, err = f.reg.Migrate(context.Background(), MigrateRequest{Domain: "telemetry", From: "v2", To: "v1", Payload: in})
	require.NoError(t, err)
	assert.Equal(t, model.MigrationDowngrade, outcome.Status)
	assert.Equal(t, in, out)

	_, _, err = f.reg.Migrate(context.Background(), MigrateRequest{Domain: "telemetry", From: "v2", To: "v1", Payload: in, Require: true})
	assert.Equal(t, model.KindMigration, model.ErrorKind(err))
}

func TestVersions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	versions, err := f.reg.AvailableVersions("telemetry")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, versions)

	latest, err := f.reg.LatestVersion("telemetry")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest)

	_, err = f.reg.LatestVersion("ghost")
	assert.True(t, model.IsNotFound(err))

	domains, err := f.reg.Domains()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"sensor": {"v1", "v2"}, "telemetry": {"v1", "v2"}}, domains)
	assert.Len(t, f.reg.ListContracts(), 4)
}

func TestWarm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{CacheSize: 10})
	writeFile(t, filepath.Join(f.source.BasePath(), "broken", "v1.yaml"), "fields:\n  x:\n    type: tensor\n")

	report, err := f.reg.Warm(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Loaded)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed, "broken/v1")
	assert.Equal(t, 4, f.reg.CacheStats().Entries)

	// warm contracts are served from cache
	loads := f.source.loads.Load()
	_, err = f.reg.Load(context.Background(), "telemetry", "v1")
	require.NoError(t, err)
	assert.Equal(t, loads, f.source.loads.Load())
}

func TestWarm_Cancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.reg.Warm(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSweeper(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{CacheTTL: 10 * time.Millisecond})
	_, err := f.reg.Load(context.Background(), "telemetry", "v2")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reg.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.reg.CacheStats().Entries == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
