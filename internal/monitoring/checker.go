package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/config"
)

// Checker polls the execution log on an interval and forwards alerts to
// the webhook. An alert that keeps firing is sent once, then again only
// after the renotify interval. It is forgotten once it stops firing.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	renotify  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	firing map[AlertType]time.Time // last time each active alert was sent
}

// NewChecker wires a collector and alerter into a checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	renotify := time.Duration(cfg.RenotifyMins) * time.Minute
	if renotify <= 0 {
		renotify = time.Hour
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		renotify:  renotify,
		now:       time.Now,
		firing:    make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if ctx.Err() != nil {
		return
	}

	zap.L().Info("monitoring: alert checker started",
		zap.Duration("interval", interval),
		zap.Duration("renotify", c.renotify),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("monitoring: check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check evaluates the current lookback window and returns the alerts
// that were due for delivery. Suppressed repeats are not returned.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, due)
	if sent < len(due) {
		// A partial delivery leaves the whole batch eligible next tick.
		c.forget(due)
	}
	zap.L().Info("monitoring: alerts dispatched",
		zap.Int("executions", snap.Total),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("drift_rate", snap.DriftRate),
		zap.Int("due", len(due)),
		zap.Int("sent", sent),
	)
	return due, nil
}

// due filters alerts down to those not sent within the renotify
// interval and marks them as sent. Types absent from alerts are cleared.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	active := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		active[a.Type] = true
		last, ok := c.firing[a.Type]
		if ok && now.Sub(last) < c.renotify {
			continue
		}
		c.firing[a.Type] = now
		out = append(out, a)
	}
	for t := range c.firing {
		if !active[t] {
			zap.L().Info("monitoring: alert resolved", zap.String("type", string(t)))
			delete(c.firing, t)
		}
	}
	return out
}

func (c *Checker) forget(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range alerts {
		delete(c.firing, a.Type)
	}
}
