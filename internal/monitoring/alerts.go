package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
)

// Thresholds are the alerting limits. Rates and confidence are percentages.
type Thresholds struct {
	MinSuccessRate      float64
	MinAvgConfidence    float64
	MaxProcessingTimeMs int64
	MaxErrorRate        float64
	MinSamples          int
}

// DefaultThresholds returns the default alerting limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:      85,
		MinAvgConfidence:    60,
		MaxProcessingTimeMs: 10000,
		MaxErrorRate:        15,
		MinSamples:          10,
	}
}

// ThresholdsFromConfig converts config values. Zero values keep defaults.
func ThresholdsFromConfig(c config.ThresholdsConfig) Thresholds {
	t := DefaultThresholds()
	if c.MinSuccessRate > 0 {
		t.MinSuccessRate = c.MinSuccessRate
	}
	if c.MinAvgConfidence > 0 {
		t.MinAvgConfidence = c.MinAvgConfidence
	}
	if c.MaxProcessingTimeMs > 0 {
		t.MaxProcessingTimeMs = c.MaxProcessingTimeMs
	}
	if c.MaxErrorRate > 0 {
		t.MaxErrorRate = c.MaxErrorRate
	}
	if c.MinSamples > 0 {
		t.MinSamples = c.MinSamples
	}
	return t
}

// AlertStore persists acknowledgments.
type AlertStore interface {
	AcknowledgeAlerts(ctx context.Context, ids []string, by string, at time.Time) (int, error)
}

// AlertManager evaluates metrics against thresholds. Every breach creates a
// new Alert; repeated checks that still see a breach emit again.
type AlertManager struct {
	agg        *Aggregator
	thresholds Thresholds
	max        int

	mirror   *Queue[model.Alert]
	store    AlertStore
	dispatch *Dispatcher
	metrics  *PipelineMetrics
	now      func() time.Time

	mu      sync.RWMutex
	history []model.Alert
}

// AlertOption configures an AlertManager.
type AlertOption func(*AlertManager)

// WithAlertMirror persists new alerts through q and acknowledgments
// through st.
func WithAlertMirror(q *Queue[model.Alert], st AlertStore) AlertOption {
	return func(m *AlertManager) {
		m.mirror = q
		m.store = st
	}
}

// WithDispatcher delivers new alerts through d.
func WithDispatcher(d *Dispatcher) AlertOption {
	return func(m *AlertManager) { m.dispatch = d }
}

// WithAlertMetrics counts alerts in Prometheus.
func WithAlertMetrics(pm *PipelineMetrics) AlertOption {
	return func(m *AlertManager) { m.metrics = pm }
}

// NewAlertManager creates an AlertManager keeping at most history alerts
// in memory.
func NewAlertManager(agg *Aggregator, t Thresholds, history int, opts ...AlertOption) *AlertManager {
	if history <= 0 {
		history = 500
	}
	m := &AlertManager{agg: agg, thresholds: t, max: history, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Thresholds returns the active limits.
func (m *AlertManager) Thresholds() Thresholds { return m.thresholds }

// CheckRecord runs the inline checks after rec was recorded: the 1h
// aggregate checks plus per-record checks on processing time and error
// class.
func (m *AlertManager) CheckRecord(rec model.ProcessingMetricsRecord) []model.Alert {
	recs := m.agg.Records(Window1h)
	alerts := m.aggregateChecks(Window1h, recs)

	if rec.ProcessingTimeMs > m.thresholds.MaxProcessingTimeMs {
		alerts = append(alerts, m.newAlert(model.AlertSlowProcessing, model.SeverityMedium,
			fmt.Sprintf("Processing took %dms, above the %dms limit", rec.ProcessingTimeMs, m.thresholds.MaxProcessingTimeMs),
			map[string]any{
				"processing_id":      rec.ProcessingID,
				"processing_time_ms": rec.ProcessingTimeMs,
				"threshold_ms":       m.thresholds.MaxProcessingTimeMs,
				"method":             string(rec.Method),
			}))
	}

	switch rec.ErrorType.Class() {
	case model.ClassService:
		alerts = append(alerts, m.newAlert(model.AlertServiceError, model.SeverityHigh,
			fmt.Sprintf("External service error while processing %s", rec.ProcessingID),
			recordData(rec)))
	case model.ClassCritical:
		alerts = append(alerts, m.newAlert(model.AlertCriticalError, model.SeverityCritical,
			fmt.Sprintf("Critical %s while processing %s", rec.ErrorType, rec.ProcessingID),
			recordData(rec)))
	}

	m.emit(alerts)
	return alerts
}

// CheckWindow runs the aggregate checks over w, plus the slowest record in
// the window against the processing-time limit.
func (m *AlertManager) CheckWindow(w Window) []model.Alert {
	recs := m.agg.Records(w)
	alerts := m.aggregateChecks(w, recs)

	perf := Performance(recs)
	if perf.Overall.Max > m.thresholds.MaxProcessingTimeMs {
		alerts = append(alerts, m.newAlert(model.AlertSlowProcessing, model.SeverityMedium,
			fmt.Sprintf("Slowest request in the last %s took %dms, above the %dms limit", w, perf.Overall.Max, m.thresholds.MaxProcessingTimeMs),
			map[string]any{
				"window":       string(w),
				"max_ms":       perf.Overall.Max,
				"p95_ms":       perf.Overall.P95,
				"threshold_ms": m.thresholds.MaxProcessingTimeMs,
			}))
	}

	m.emit(alerts)
	return alerts
}

func (m *AlertManager) aggregateChecks(w Window, recs []model.ProcessingMetricsRecord) []model.Alert {
	var alerts []model.Alert
	t := m.thresholds

	succ := Success(recs)
	if succ.TotalProcessed >= t.MinSamples && succ.SuccessRate < t.MinSuccessRate {
		alerts = append(alerts, m.newAlert(model.AlertLowSuccessRate, model.SeverityHigh,
			fmt.Sprintf("Success rate %.1f%% is below %.1f%% (%d of %d in the last %s)",
				succ.SuccessRate, t.MinSuccessRate, succ.Successful, succ.TotalProcessed, w),
			map[string]any{
				"window":       string(w),
				"success_rate": succ.SuccessRate,
				"threshold":    t.MinSuccessRate,
				"samples":      succ.TotalProcessed,
			}))
	}

	conf := Confidence(recs)
	if conf.Samples > 0 && conf.Average < t.MinAvgConfidence {
		alerts = append(alerts, m.newAlert(model.AlertLowConfidence, model.SeverityMedium,
			fmt.Sprintf("Average confidence %.1f%% is below %.1f%% in the last %s", conf.Average, t.MinAvgConfidence, w),
			map[string]any{
				"window":             string(w),
				"average_confidence": conf.Average,
				"threshold":          t.MinAvgConfidence,
				"samples":            conf.Samples,
			}))
	}

	errs := Errors(recs)
	if len(recs) >= t.MinSamples && errs.ErrorRate > t.MaxErrorRate {
		alerts = append(alerts, m.newAlert(model.AlertHighErrorRate, model.SeverityHigh,
			fmt.Sprintf("Error rate %.1f%% exceeds %.1f%% (%d of %d in the last %s)",
				errs.ErrorRate, t.MaxErrorRate, errs.TotalErrors, len(recs), w),
			map[string]any{
				"window":     string(w),
				"error_rate": errs.ErrorRate,
				"threshold":  t.MaxErrorRate,
				"errors":     errs.TotalErrors,
				"samples":    len(recs),
			}))
	}
	return alerts
}

func recordData(rec model.ProcessingMetricsRecord) map[string]any {
	return map[string]any{
		"processing_id": rec.ProcessingID,
		"error_type":    string(rec.ErrorType),
		"method":        string(rec.Method),
		"success":       rec.Success,
	}
}

func (m *AlertManager) newAlert(t model.AlertType, sev model.Severity, msg string, data map[string]any) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Message:   msg,
		Data:      data,
		Timestamp: m.now().UTC(),
	}
}

// emit appends alerts to history, then mirrors and delivers them.
func (m *AlertManager) emit(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	m.mu.Lock()
	m.history = append(m.history, alerts...)
	if over := len(m.history) - m.max; over > 0 {
		m.history = append([]model.Alert(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	for _, a := range alerts {
		zap.L().Warn("monitoring: alert raised",
			zap.String("alert_id", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message),
		)
		m.metrics.alert(a.Type)
		if m.mirror != nil {
			m.mirror.Enqueue(a)
		}
		if m.dispatch != nil {
			m.dispatch.Submit(a)
		}
	}
}

// Recent returns up to limit alerts, newest first. A non-positive limit
// returns all of them.
func (m *AlertManager) Recent(unacknowledgedOnly bool, limit int) []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Alert{}
	for i := len(m.history) - 1; i >= 0; i-- {
		a := m.history[i]
		if unacknowledgedOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Acknowledge marks alerts as acknowledged by `by`. Only the
// acknowledgment fields change. Pending mirror writes are flushed first so
// the durable update sees every alert. It returns the number of alerts
// updated.
func (m *AlertManager) Acknowledge(ctx context.Context, ids []string, by string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at := m.now().UTC()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	m.mu.Lock()
	updated := 0
	for i := range m.history {
		a := &m.history[i]
		if !want[a.ID] || a.Acknowledged {
			continue
		}
		a.Acknowledged = true
		a.AcknowledgedBy = by
		a.AcknowledgedAt = &at
		updated++
	}
	m.mu.Unlock()

	if m.store == nil {
		return updated, nil
	}
	if m.mirror != nil {
		m.mirror.Flush(ctx)
	}
	n, err := m.store.AcknowledgeAlerts(ctx, ids, by, at)
	if err != nil {
		return updated, eris.Wrap(err, "monitoring: acknowledge alerts")
	}
	return max(updated, n), nil
}
