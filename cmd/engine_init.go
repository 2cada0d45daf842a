package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/config"
	"github.com/sells-group/contractml/internal/inference"
	"github.com/sells-group/contractml/internal/metrics"
	"github.com/sells-group/contractml/internal/migration"
	"github.com/sells-group/contractml/internal/registry"
	"github.com/sells-group/contractml/internal/resilience"
	"github.com/sells-group/contractml/internal/schema"
	"github.com/sells-group/contractml/internal/store"
)

// engineEnv holds the store, runtime and registry shared by the serve,
// execute, migrate, contracts and bench commands.
type engineEnv struct {
	Store    store.Store // nil when store.driver is none
	Schemas  *schema.Loader
	Runtime  *inference.Runtime
	Metrics  *metrics.Metrics
	Registry *registry.Registry
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine validates cfg for mode and wires the registry. Metrics are
// registered with reg; pass a fresh registry outside of serve.
func initEngine(ctx context.Context, c *config.Config, mode string, reg prometheus.Registerer) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	m := metrics.New(reg)

	guard := resilience.NewGuard(
		resilience.PolicyFromConfig(
			c.Models.Retry.MaxAttempts,
			c.Models.Retry.InitialBackoffMs,
			c.Models.Retry.MaxBackoffMs,
			c.Models.Retry.Multiplier,
			c.Models.Retry.JitterFraction,
		),
		resilience.BreakerFromConfig(c.Models.Circuit.FailureThreshold, c.Models.Circuit.ResetTimeoutSecs),
	)
	runtime := inference.NewRuntime(inference.RuntimeOptions{
		BasePath:  c.Models.Path,
		CacheSize: c.Models.CacheSize,
		CacheTTL:  c.Models.CacheTTL(),
		Observer:  m.CacheObserver("models"),
		Factories: inference.RemoteFactories(c.Models.Endpoints,
			inference.WithGuard(guard),
			inference.WithTimeout(c.Models.Timeout()),
		),
	})

	scripts, err := migration.LoadDir(c.Contracts.MigrationsPath)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, eris.Wrap(err, "load migrations")
	}

	schemas := schema.NewLoader(c.Contracts.SchemasPath)
	opts := registry.Options{
		CacheSize: c.Contracts.CacheSize,
		CacheTTL:  c.Contracts.CacheTTL(),
		Strict:    c.Contracts.Strict,
		Backends:  runtime,
		Metrics:   m,
	}
	if st != nil {
		opts.Recorder = st
	}

	zap.L().Debug("engine initialized",
		zap.String("schemas", c.Contracts.SchemasPath),
		zap.String("migrations", c.Contracts.MigrationsPath),
		zap.Int("scripts", scripts.Len()),
		zap.Strings("model_kinds", runtime.Kinds()),
		zap.String("store", c.Store.Driver),
	)

	return &engineEnv{
		Store:    st,
		Schemas:  schemas,
		Runtime:  runtime,
		Metrics:  m,
		Registry: registry.New(schemas, migration.NewEngine(scripts, schemas), opts),
	}, nil
}
