package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// RollupStore persists daily rollups.
type RollupStore interface {
	SaveRollup(ctx context.Context, r model.Rollup) error
}

// Archiver stores a rollup document outside the database.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) error
}

// Checker runs periodic alert checks and the daily rollup in the
// background. Checks read buffer snapshots only, so a delayed or skipped
// tick never leaves partial state behind.
type Checker struct {
	agg      *Aggregator
	alerts   *AlertManager
	store    RollupStore
	archiver Archiver
	interval time.Duration
	rollupHr int
	lastDay  string
	now      func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithRollupStore persists daily rollups to st.
func WithRollupStore(st RollupStore) CheckerOption {
	return func(c *Checker) { c.store = st }
}

// WithArchiver archives daily rollups through a.
func WithArchiver(a Archiver) CheckerOption {
	return func(c *Checker) { c.archiver = a }
}

// NewChecker creates a background checker. rollupHourUTC is the hour of day
// at which the daily rollup runs.
func NewChecker(agg *Aggregator, alerts *AlertManager, interval time.Duration, rollupHourUTC int, opts ...CheckerOption) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c := &Checker{
		agg:      agg,
		alerts:   alerts,
		interval: interval,
		rollupHr: rollupHourUTC,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
// Ticks missed while a check is running are coalesced by the ticker.
func (c *Checker) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("rollup_hour_utc", c.rollupHr),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one periodic check and, once per day at or after the rollup
// hour, the daily rollup.
func (c *Checker) Tick(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	alerts := c.alerts.CheckWindow(Window1h)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
	} else {
		log.Info("monitoring: alert check complete", zap.Int("alerts_triggered", len(alerts)))
	}

	now := c.now().UTC()
	day := now.Format("2006-01-02")
	if now.Hour() >= c.rollupHr && day != c.lastDay {
		if err := c.Rollup(ctx); err != nil {
			log.Error("monitoring: daily rollup failed", zap.Error(err))
			return
		}
		c.lastDay = day
	}
}

// Rollup computes the 24h dashboard, logs it, persists it, and archives
// it when an archiver is configured.
func (c *Checker) Rollup(ctx context.Context) error {
	dash := c.agg.Dashboard(Window24h)
	payload, err := json.Marshal(dash)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal rollup")
	}

	now := c.now().UTC()
	r := model.Rollup{
		ID:        uuid.NewString(),
		Day:       now.Format("2006-01-02"),
		Payload:   payload,
		CreatedAt: now,
	}
	zap.L().Info("monitoring: daily rollup",
		zap.String("day", r.Day),
		zap.Int("total_processed", dash.Success.TotalProcessed),
		zap.Float64("success_rate", dash.Success.SuccessRate),
		zap.Float64("average_confidence", dash.Confidence.Average),
		zap.Float64("p95_ms", dash.Performance.Overall.P95),
		zap.Float64("error_rate", dash.Errors.ErrorRate),
	)

	if c.store != nil {
		if err := c.store.SaveRollup(ctx, r); err != nil {
			return eris.Wrap(err, "monitoring: save rollup")
		}
	}
	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, "rollups/"+r.Day+".json", payload); err != nil {
			return eris.Wrap(err, "monitoring: archive rollup")
		}
	}
	return nil
}
