package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker watches receipt outcomes and raises alerts when loads start
// failing. Each pass snapshots the receipt log over the lookback window,
// evaluates it and posts any alerts to the webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker creates a receipt checker. A non-positive check interval falls
// back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

// Run checks receipts once, then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("monitoring: watching receipts",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx) //nolint:errcheck
		}
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: stopped watching receipts")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one pass over the receipt log and returns the alerts raised.
// Alerts are not sent once ctx is done.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: read receipt outcomes", zap.Error(err))
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: receipts healthy",
			zap.Int("loads", snap.LoadsTotal),
			zap.Int("failed", snap.LoadsFailed),
			zap.Int("in_flight", snap.InFlight),
		)
		return nil, nil
	}
	if ctx.Err() != nil {
		return alerts, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("monitoring: receipt failures over threshold",
		zap.Int("failed", snap.LoadsFailed),
		zap.Float64("fail_rate", snap.LoadsFailRate),
		zap.Int("failing_datasources", len(snap.FailedDatasources)),
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
	)
	return alerts, nil
}
