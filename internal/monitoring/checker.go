package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker collects run health on an interval and raises alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	enabled   bool
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker returns a Checker configured by cfg.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		enabled:   cfg.Enabled,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately and then on every tick until ctx is done. It
// returns at once when monitoring is disabled.
func (c *Checker) Run(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.log.Info("alert checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and delivers the alerts it raises, returning
// how many were raised.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("collect run metrics", zap.Error(err))
		}
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("no alerts",
			zap.Int("runs_total", snap.RunsTotal),
			zap.Int("candidates_uploaded", snap.CandidatesUploaded),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("alert check complete",
		zap.Int("alerts_raised", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
