// Package registry is the process-scoped entry point for contract
// execution. It caches compiled contracts per (domain, version), resolves
// target versions, migrates payloads and records every execution.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/cache"
	"github.com/sells-group/contractml/internal/contract"
	"github.com/sells-group/contractml/internal/metrics"
	"github.com/sells-group/contractml/internal/migration"
	"github.com/sells-group/contractml/internal/model"
)

// SchemaSource loads declarative schemas.
type SchemaSource interface {
	Load(domain, version string) (*model.SchemaConfig, error)
	ListAvailable() []model.ContractRef
}

// Recorder persists execution records.
type Recorder interface {
	RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error
}

// Options configures a Registry.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	// Strict disables clamp repair in every contract.
	Strict bool
	// Backends binds inference backends for schemas that reference a model.
	Backends contract.BackendLoader
	Metrics  *metrics.Metrics
	// Recorder is optional; nil disables the execution log.
	Recorder Recorder
}

// Registry is safe for concurrent use.
type Registry struct {
	schemas   SchemaSource
	engine    *migration.Engine
	contracts *cache.Cache[*contract.Contract]
	opts      Options
}

// New returns a Registry with an empty contract cache.
func New(schemas SchemaSource, engine *migration.Engine, opts Options) *Registry {
	return &Registry{
		schemas: schemas,
		engine:  engine,
		contracts: cache.New[*contract.Contract](cache.Config{
			Name:     "contracts",
			Size:     opts.CacheSize,
			TTL:      opts.CacheTTL,
			Observer: opts.Metrics.CacheObserver("contracts"),
		}),
		opts: opts,
	}
}

// Engine returns the migration engine.
func (r *Registry) Engine() *migration.Engine {
	return r.engine
}

// Load returns the contract for (domain, version), building it on first
// use. Concurrent callers for the same missing key share one build.
func (r *Registry) Load(ctx context.Context, domain, version string) (*contract.Contract, error) {
	ref := model.ContractRef{Domain: domain, Version: version}
	return r.contracts.GetOrLoad(ctx, ref.Key(), func(ctx context.Context) (*contract.Contract, error) {
		defer r.opts.Metrics.Time("contract_build")()

		schema, err := r.schemas.Load(domain, version)
		if err != nil {
			return nil, err
		}
		c, err := contract.Build(ctx, schema, r.opts.Backends, contract.WithStrict(r.opts.Strict))
		if err != nil {
			return nil, err
		}
		zap.L().Info("registry: contract loaded",
			zap.String("domain", domain),
			zap.String("version", version),
			zap.Bool("model", c.HasModel()),
		)
		return c, nil
	})
}

// Execute runs the (domain, version) contract over payload without any
// migration.
func (r *Registry) Execute(ctx context.Context, domain, version string, payload model.Payload) (*model.ExecutionResult, error) {
	start := time.Now()
	rec := &model.ExecutionRecord{
		Domain:          domain,
		SourceVersion:   version,
		TargetVersion:   version,
		MigrationStatus: model.MigrationNoop,
	}

	res, err := r.execute(ctx, domain, version, payload)
	r.finish(ctx, rec, res, err, start)
	return res, err
}

func (r *Registry) execute(ctx context.Context, domain, version string, payload model.Payload) (*model.ExecutionResult, error) {
	c, err := r.Load(ctx, domain, version)
	if err != nil {
		return nil, err
	}
	res, err := c.Execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	for _, f := range c.FieldNames() {
		if tripped, _ := res.Metadata[model.DriftKey(f)].(bool); tripped {
			r.opts.Metrics.IncrementDrift(domain, version, f)
		}
	}
	return res, nil
}

// finish stamps the execution id, emits metrics and writes the log row.
// A failed log write is only logged.
func (r *Registry) finish(ctx context.Context, rec *model.ExecutionRecord, res *model.ExecutionResult, err error, start time.Time) {
	elapsed := time.Since(start)
	rec.ID = uuid.New().String()
	rec.DurationMs = float64(elapsed.Microseconds()) / 1000
	rec.CreatedAt = start.UTC()

	outcome := string(model.ExecutionSucceeded)
	if err != nil {
		rec.Status = model.ExecutionFailed
		rec.ErrorKind = model.ErrorKind(err)
		rec.Error = err.Error()
		outcome = rec.ErrorKind
	} else {
		rec.Status = model.ExecutionSucceeded
		rec.DriftDetected = res.DriftDetected()
		res.ID = rec.ID
	}
	r.opts.Metrics.ObserveExecution(rec.Domain, rec.TargetVersion, outcome, elapsed)

	if r.opts.Recorder == nil {
		return
	}
	if werr := r.opts.Recorder.RecordExecution(context.WithoutCancel(ctx), rec); werr != nil {
		zap.L().Warn("registry: failed to record execution",
			zap.String("id", rec.ID),
			zap.String("domain", rec.Domain),
			zap.Error(werr),
		)
	}
}
