package monitoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/config"
	"github.com/sells-group/trigger-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "trigger_run_failure_rate"
	AlertStuckRuns      AlertType = "trigger_runs_stuck"
)

// minFinishedRuns is the sample size below which the failure rate is not
// evaluated.
const minFinishedRuns = 5

// maxListedRuns bounds the run ids spelled out in a stuck-runs alert.
const maxListedRuns = 10

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Text renders the alert as a notification message.
func (a Alert) Text() string {
	return fmt.Sprintf(":rotating_light: [%s] %s", strings.ToUpper(a.Severity), a.Message)
}

// Notifier delivers a message to destinations. notify.Dispatcher satisfies it.
type Notifier interface {
	Notify(ctx context.Context, message string, blocks []model.RichBlock, destinations []string) bool
}

// Alerter evaluates snapshots against thresholds and delivers the resulting
// alerts through a Notifier. An alert type that was delivered within the
// cooldown is not delivered again.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter returns an Alerter delivering to cfg.Destinations.
func NewAlerter(cfg config.MonitoringConfig, notifier Notifier) *Alerter {
	return &Alerter{
		cfg:      cfg,
		notifier: notifier,
		cooldown: time.Duration(cfg.CooldownMins) * time.Minute,
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate returns the alerts raised by snap.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.RunsCompleted + snap.RunsFailed
	if finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Trigger run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if n := len(snap.StuckRuns); n > 0 {
		ids := make([]string, 0, min(n, maxListedRuns))
		for _, r := range snap.StuckRuns[:min(n, maxListedRuns)] {
			ids = append(ids, fmt.Sprintf("%s (trigger %s, %s)", r.RunID, r.TriggerID, snap.CollectedAt.Sub(r.RunAt).Round(time.Minute)))
		}
		msg := fmt.Sprintf("%d trigger run(s) have not finished: %s", n, strings.Join(ids, ", "))
		if n > maxListedRuns {
			msg += fmt.Sprintf(" and %d more", n-maxListedRuns)
		}
		alerts = append(alerts, Alert{
			Type:      AlertStuckRuns,
			Severity:  "medium",
			Message:   msg,
			Details:   map[string]any{"count": n},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts that are not cooling down and returns how many
// were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.notifier == nil || len(a.cfg.Destinations) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if a.coolingDown(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed by cooldown", zap.String("type", string(alert.Type)))
			continue
		}
		if !a.notifier.Notify(ctx, alert.Text(), nil, a.cfg.Destinations) {
			zap.L().Error("monitoring: failed to deliver alert", zap.String("type", string(alert.Type)))
			continue
		}
		a.markSent(alert.Type)
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) coolingDown(t AlertType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < a.cooldown
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	a.lastSent[t] = a.now()
	a.mu.Unlock()
}
