package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Guard combines a retry policy with per-endpoint breakers. Each attempt
// passes through the endpoint's breaker, so an open breaker ends the
// retries immediately.
type Guard struct {
	policy   Policy
	breakers *Breakers
}

// NewGuard returns a Guard. OnChange on the breaker config is replaced by
// a logger when unset.
func NewGuard(policy Policy, breaker BreakerConfig) *Guard {
	if breaker.OnChange == nil {
		breaker.OnChange = func(from, to State) {
			zap.L().Warn("resilience: circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	if breaker.Counts == nil {
		// Caller-side cancellation says nothing about endpoint health.
		breaker.Counts = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return &Guard{policy: policy, breakers: NewBreakers(breaker)}
}

// Breakers exposes the per-endpoint breakers.
func (g *Guard) Breakers() *Breakers {
	return g.breakers
}

// Do runs fn against endpoint under the guard.
func Do[T any](ctx context.Context, g *Guard, endpoint, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p := g.policy
	if p.OnRetry == nil {
		p.OnRetry = LogRetries(endpoint, op)
	}
	b := g.breakers.For(endpoint)
	return Retry(ctx, p, func(ctx context.Context) (T, error) {
		return Call(ctx, b, fn)
	})
}

// PolicyFromConfig builds a Policy from flat config values, keeping
// defaults for unset ones.
func PolicyFromConfig(attempts, baseMs, maxMs int, factor, jitter float64) Policy {
	p := DefaultPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if baseMs > 0 {
		p.BaseDelay = time.Duration(baseMs) * time.Millisecond
	}
	if maxMs > 0 {
		p.MaxDelay = time.Duration(maxMs) * time.Millisecond
	}
	if factor > 0 {
		p.Factor = factor
	}
	if jitter >= 0 {
		p.Jitter = jitter
	}
	return p
}

// BreakerFromConfig builds a BreakerConfig from flat config values. Unset
// values fall back to the breaker defaults.
func BreakerFromConfig(threshold, cooldownSecs int) BreakerConfig {
	cfg := BreakerConfig{Threshold: threshold}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
