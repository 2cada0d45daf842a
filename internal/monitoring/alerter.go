package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/config"
	"github.com/sells-group/contractml/internal/resilience"
)

// AlertType names the condition an alert reports.
type AlertType string

const (
	AlertFailureRate AlertType = "execution_failure_rate"
	AlertDriftRate   AlertType = "drift_rate"
	AlertPassthrough AlertType = "migration_passthrough"
)

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns execution log snapshots into alerts and posts them to
// the configured webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	guard  *resilience.Guard
}

const webhookEndpoint = "alert-webhook"

// NewAlerter builds an Alerter. Webhook posts retry on 408, 429 and 5xx.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		guard: resilience.NewGuard(
			resilience.PolicyFromConfig(3, 100, 2000, 2, 0.1),
			resilience.BreakerFromConfig(5, 60),
		),
	}
}

// Evaluate returns one alert per breached threshold.
// Rate alerts need at least MinExecutions rows in the window.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	enough := snap.Total > 0 && snap.Total >= a.cfg.MinExecutions

	if enough && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Execution failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"total":        snap.Total,
				"error_kinds":  snap.ErrorKinds,
			},
			Timestamp: now,
		})
	}

	if enough && a.cfg.DriftRateThreshold > 0 && snap.DriftRate > a.cfg.DriftRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDriftRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Drift detected in %.1f%% of executions, threshold %.1f%% (%d / %d in last %dh)",
				snap.DriftRate*100, a.cfg.DriftRateThreshold*100,
				snap.Drifted, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"drift_rate": snap.DriftRate,
				"threshold":  a.cfg.DriftRateThreshold,
				"drifted":    snap.Drifted,
				"domains":    driftedDomains(snap),
			},
			Timestamp: now,
		})
	}

	if snap.Passthrough > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertPassthrough,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d execution(s) ran unmigrated payloads because no migration path was found in last %dh",
				snap.Passthrough, snap.LookbackHours,
			),
			Details: map[string]any{
				"passthrough": snap.Passthrough,
				"total":       snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func driftedDomains(snap *MetricsSnapshot) []string {
	var out []string
	for _, d := range snap.Domains {
		if d.Drifted > 0 {
			out = append(out, d.Domain)
		}
	}
	return out
}

// SendAlerts posts each alert to the configured webhook and returns how
// many were delivered. Transient webhook failures are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		_, err := resilience.Do(ctx, a.guard, webhookEndpoint, string(alert.Type), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.RetryableStatus(resp.StatusCode) {
			return resilience.Transient(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
