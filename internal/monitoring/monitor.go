// Package monitoring keeps per-request outcome records in a bounded
// in-memory buffer, mirrors them to durable storage in the background,
// computes windowed statistics, and raises alerts when thresholds are
// breached.
package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Store is the durable side of monitoring.
type Store interface {
	InsertMetrics(ctx context.Context, recs []model.ProcessingMetricsRecord) error
	InsertAlerts(ctx context.Context, alerts []model.Alert) error
	AlertStore
	RollupStore
}

// Options wires optional collaborators into a Monitor. Nil fields disable
// the corresponding feature.
type Options struct {
	Store      Store
	Notifier   Notifier
	Archiver   Archiver
	Registerer prometheus.Registerer
	Retry      resilience.RetryConfig
}

// Monitor is the monitoring facade constructed at startup and injected into
// the pipeline and server.
type Monitor struct {
	buf        *Buffer
	agg        *Aggregator
	alerts     *AlertManager
	checker    *Checker
	metrics    *PipelineMetrics
	records    *Queue[model.ProcessingMetricsRecord]
	alertQueue *Queue[model.Alert]
	dispatcher *Dispatcher
}

// New builds a Monitor from cfg.
func New(cfg config.MonitoringConfig, opts Options) *Monitor {
	m := &Monitor{buf: NewBuffer(cfg.BufferCapacity)}
	m.agg = NewAggregator(m.buf)
	if opts.Registerer != nil {
		m.metrics = NewPipelineMetrics(opts.Registerer)
	}

	alertOpts := []AlertOption{WithAlertMetrics(m.metrics)}
	var checkerOpts []CheckerOption
	if st := opts.Store; st != nil {
		m.records = NewQueue("metrics", cfg.MirrorQueueSize, cfg.MirrorBatchSize,
			Sink[model.ProcessingMetricsRecord](st.InsertMetrics),
			WithRetry[model.ProcessingMetricsRecord](opts.Retry),
			WithDropHook[model.ProcessingMetricsRecord](m.metrics.dropped("metrics")))
		m.alertQueue = NewQueue("alerts", cfg.MirrorQueueSize, cfg.MirrorBatchSize,
			Sink[model.Alert](st.InsertAlerts),
			WithRetry[model.Alert](opts.Retry),
			WithDropHook[model.Alert](m.metrics.dropped("alerts")))
		alertOpts = append(alertOpts, WithAlertMirror(m.alertQueue, st))
		checkerOpts = append(checkerOpts, WithRollupStore(st))
	}
	if opts.Notifier != nil {
		m.dispatcher = NewDispatcher(opts.Notifier, cfg.DeliveriesPerMinute)
		alertOpts = append(alertOpts, WithDispatcher(m.dispatcher))
	}
	if opts.Archiver != nil {
		checkerOpts = append(checkerOpts, WithArchiver(opts.Archiver))
	}

	m.alerts = NewAlertManager(m.agg, ThresholdsFromConfig(cfg.Thresholds), cfg.AlertHistory, alertOpts...)
	m.checker = NewChecker(m.agg, m.alerts,
		time.Duration(cfg.CheckIntervalSecs)*time.Second, cfg.RollupHourUTC, checkerOpts...)
	return m
}

// Record appends rec to the buffer, queues it for the durable mirror,
// exports it to Prometheus, and runs the inline alert check. It never
// blocks on I/O.
func (m *Monitor) Record(rec model.ProcessingMetricsRecord) {
	m.buf.Record(rec)
	if m.records != nil {
		m.records.Enqueue(rec)
	}
	m.metrics.Observe(rec)
	m.alerts.CheckRecord(rec)
}

// Run starts the mirror queues, alert delivery, and the periodic checker.
// It blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if m.records != nil {
		g.Go(func() error { return m.records.Run(ctx) })
		g.Go(func() error { return m.alertQueue.Run(ctx) })
	}
	if m.dispatcher != nil {
		g.Go(func() error { return m.dispatcher.Run(ctx) })
	}
	g.Go(func() error { return m.checker.Run(ctx) })
	return g.Wait()
}

// Flush writes pending mirror items. Call it at shutdown with a fresh
// context after Run returns.
func (m *Monitor) Flush(ctx context.Context) {
	if m.records != nil {
		m.records.Flush(ctx)
		m.alertQueue.Flush(ctx)
	}
}

// Buffer returns the in-memory record buffer.
func (m *Monitor) Buffer() *Buffer { return m.buf }

// Aggregator returns the windowed statistics view.
func (m *Monitor) Aggregator() *Aggregator { return m.agg }

// Alerts returns the alert manager.
func (m *Monitor) Alerts() *AlertManager { return m.alerts }

// Checker returns the periodic checker.
func (m *Monitor) Checker() *Checker { return m.checker }

// MirrorDropped returns how many metrics records the mirror queue dropped.
func (m *Monitor) MirrorDropped() int64 {
	if m.records == nil {
		return 0
	}
	return m.records.Dropped()
}
