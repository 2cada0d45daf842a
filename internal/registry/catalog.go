package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contractml/internal/cache"
	"github.com/sells-group/contractml/internal/model"
)

// ListContracts returns every discoverable (domain, version) pair.
func (r *Registry) ListContracts() []model.ContractRef {
	return r.schemas.ListAvailable()
}

// Domains groups the discoverable contracts by domain, with versions in
// semantic order.
func (r *Registry) Domains() (map[string][]string, error) {
	out := map[string][]string{}
	for _, ref := range r.schemas.ListAvailable() {
		if _, seen := out[ref.Domain]; seen {
			continue
		}
		versions, err := r.AvailableVersions(ref.Domain)
		if err != nil {
			return nil, err
		}
		out[ref.Domain] = versions
	}
	return out, nil
}

// AvailableVersions returns domain's versions in semantic order.
func (r *Registry) AvailableVersions(domain string) ([]string, error) {
	return r.engine.AvailableVersions(domain)
}

// LatestVersion returns the newest version of domain, or a
// *model.NotFoundError when the domain has none.
func (r *Registry) LatestVersion(domain string) (string, error) {
	v, ok, err := r.engine.LatestVersion(domain)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &model.NotFoundError{Domain: domain}
	}
	return v, nil
}

// ClearCache drops every cached contract. Executions holding a contract
// are unaffected.
func (r *Registry) ClearCache() {
	r.contracts.Clear()
	zap.L().Info("registry: contract cache cleared")
}

// CacheStats reports contract cache counters.
func (r *Registry) CacheStats() cache.Stats {
	return r.contracts.Stats()
}

// RunSweeper evicts expired contracts every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	r.contracts.Run(ctx, interval)
}

// WarmReport summarizes a cache warm-up.
type WarmReport struct {
	Loaded int               `json:"loaded"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Warm builds every discoverable contract with at most concurrency builds
// in flight. Individual failures are reported, not returned; the error is
// non-nil only when ctx ends first.
func (r *Registry) Warm(ctx context.Context, concurrency int) (WarmReport, error) {
	defer r.opts.Metrics.Time("warm")()
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu     sync.Mutex
		report = WarmReport{Failed: map[string]string{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, ref := range r.schemas.ListAvailable() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := r.Load(gctx, ref.Domain, ref.Version)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[ref.Key()] = err.Error()
				zap.L().Warn("registry: warm-up failed",
					zap.String("domain", ref.Domain),
					zap.String("version", ref.Version),
					zap.Error(err),
				)
				return nil
			}
			report.Loaded++
			return nil
		})
	}
	err := g.Wait()

	zap.L().Info("registry: cache warmed",
		zap.Int("loaded", report.Loaded),
		zap.Int("failed", len(report.Failed)),
	)
	return report, err
}
