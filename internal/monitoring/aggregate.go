package monitoring

import (
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Window is a trailing time range for aggregation.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if w.Duration() == 0 {
		return "", resilience.Validation(eris.Errorf("monitoring: unknown window %q (want 1h, 24h, 7d or 30d)", s))
	}
	return w, nil
}

// Kind selects which aggregate Query computes.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindConfidence  Kind = "confidence"
	KindPerformance Kind = "performance"
	KindErrors      Kind = "errors"
	KindDashboard   Kind = "dashboard"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSuccess, KindConfidence, KindPerformance, KindErrors, KindDashboard:
		return k, nil
	default:
		return "", resilience.Validation(eris.Errorf("monitoring: unknown metric kind %q", s))
	}
}

// MethodSuccess is the per-method success breakdown.
type MethodSuccess struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessStats summarizes request outcomes. Rates are percentages.
type SuccessStats struct {
	TotalProcessed int                            `json:"total_processed"`
	Successful     int                            `json:"successful"`
	Failed         int                            `json:"failed"`
	SuccessRate    float64                        `json:"success_rate"`
	ByMethod       map[model.Method]MethodSuccess `json:"by_method"`
}

// ConfidenceDistribution buckets successful records by confidence.
type ConfidenceDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// ConfidenceStats summarizes confidence over successful records.
type ConfidenceStats struct {
	Average      float64                  `json:"average"`
	Samples      int                      `json:"samples"`
	Distribution ConfidenceDistribution   `json:"distribution"`
	ByMethod     map[model.Method]float64 `json:"by_method"`
}

// Latency summarizes processing times in milliseconds.
type Latency struct {
	Average float64 `json:"average_ms"`
	Median  float64 `json:"median_ms"`
	P95     float64 `json:"p95_ms"`
	Min     int64   `json:"min_ms"`
	Max     int64   `json:"max_ms"`
}

// PerformanceStats holds latency overall and per method.
type PerformanceStats struct {
	Overall  Latency                  `json:"overall"`
	ByMethod map[model.Method]Latency `json:"by_method"`
}

// ErrorStats summarizes failures.
type ErrorStats struct {
	TotalErrors       int                     `json:"total_errors"`
	ErrorRate         float64                 `json:"error_rate"`
	ByType            map[model.ErrorType]int `json:"by_type"`
	CriticalOrService int                     `json:"critical_or_service"`
}

// Dashboard bundles every aggregate for one window.
type Dashboard struct {
	Window      Window           `json:"window"`
	GeneratedAt time.Time        `json:"generated_at"`
	Success     SuccessStats     `json:"success"`
	Confidence  ConfidenceStats  `json:"confidence"`
	Performance PerformanceStats `json:"performance"`
	Errors      ErrorStats       `json:"errors"`
}

// Aggregator computes windowed statistics from the buffer. Every query
// recomputes from a fresh snapshot.
type Aggregator struct {
	buf *Buffer
	now func() time.Time
}

// NewAggregator creates an Aggregator over buf.
func NewAggregator(buf *Buffer) *Aggregator {
	return &Aggregator{buf: buf, now: time.Now}
}

// Records returns the records inside window.
func (a *Aggregator) Records(w Window) []model.ProcessingMetricsRecord {
	return a.buf.Since(a.now().Add(-w.Duration()))
}

// Query returns the aggregate of kind over window. Empty windows yield
// zeroed results, not errors.
func (a *Aggregator) Query(w Window, k Kind) (any, error) {
	if w.Duration() == 0 {
		return nil, resilience.Validation(eris.Errorf("monitoring: unknown window %q", w))
	}
	recs := a.Records(w)
	switch k {
	case KindSuccess:
		return Success(recs), nil
	case KindConfidence:
		return Confidence(recs), nil
	case KindPerformance:
		return Performance(recs), nil
	case KindErrors:
		return Errors(recs), nil
	case KindDashboard:
		return a.dashboard(w, recs), nil
	default:
		return nil, resilience.Validation(eris.Errorf("monitoring: unknown metric kind %q", k))
	}
}

// Dashboard returns every aggregate over window.
func (a *Aggregator) Dashboard(w Window) Dashboard {
	return a.dashboard(w, a.Records(w))
}

func (a *Aggregator) dashboard(w Window, recs []model.ProcessingMetricsRecord) Dashboard {
	return Dashboard{
		Window:      w,
		GeneratedAt: a.now().UTC(),
		Success:     Success(recs),
		Confidence:  Confidence(recs),
		Performance: Performance(recs),
		Errors:      Errors(recs),
	}
}

// Success computes outcome totals. Records that never reached extraction
// count toward totals but not toward any method.
func Success(recs []model.ProcessingMetricsRecord) SuccessStats {
	s := SuccessStats{ByMethod: map[model.Method]MethodSuccess{}}
	for _, r := range recs {
		s.TotalProcessed++
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		if !r.Method.Valid() {
			continue
		}
		m := s.ByMethod[r.Method]
		m.Total++
		if r.Success {
			m.Successful++
		}
		s.ByMethod[r.Method] = m
	}
	s.SuccessRate = pct(s.Successful, s.TotalProcessed)
	for method, m := range s.ByMethod {
		m.SuccessRate = pct(m.Successful, m.Total)
		s.ByMethod[method] = m
	}
	return s
}

// Confidence computes the average and distribution over successful records.
func Confidence(recs []model.ProcessingMetricsRecord) ConfidenceStats {
	c := ConfidenceStats{ByMethod: map[model.Method]float64{}}
	var sum float64
	sums := map[model.Method]float64{}
	counts := map[model.Method]int{}
	for _, r := range recs {
		if !r.Success {
			continue
		}
		c.Samples++
		sum += r.Confidence
		switch {
		case r.Confidence >= 80:
			c.Distribution.High++
		case r.Confidence >= 50:
			c.Distribution.Medium++
		default:
			c.Distribution.Low++
		}
		if r.Method.Valid() {
			sums[r.Method] += r.Confidence
			counts[r.Method]++
		}
	}
	if c.Samples > 0 {
		c.Average = round2(sum / float64(c.Samples))
	}
	for m, n := range counts {
		c.ByMethod[m] = round2(sums[m] / float64(n))
	}
	return c
}

// Performance computes processing-time statistics over every record.
func Performance(recs []model.ProcessingMetricsRecord) PerformanceStats {
	p := PerformanceStats{ByMethod: map[model.Method]Latency{}}
	all := make([]int64, 0, len(recs))
	per := map[model.Method][]int64{}
	for _, r := range recs {
		all = append(all, r.ProcessingTimeMs)
		if r.Method.Valid() {
			per[r.Method] = append(per[r.Method], r.ProcessingTimeMs)
		}
	}
	p.Overall = latency(all)
	for m, times := range per {
		p.ByMethod[m] = latency(times)
	}
	return p
}

// Errors computes failure counts and the error-type histogram. The
// histogram covers every record that carries an error type, including
// degraded successes.
func Errors(recs []model.ProcessingMetricsRecord) ErrorStats {
	e := ErrorStats{ByType: map[model.ErrorType]int{}}
	for _, r := range recs {
		if !r.Success {
			e.TotalErrors++
		}
		if r.ErrorType == model.ErrorNone {
			continue
		}
		e.ByType[r.ErrorType]++
		switch r.ErrorType.Class() {
		case model.ClassService, model.ClassCritical:
			e.CriticalOrService++
		}
	}
	e.ErrorRate = pct(e.TotalErrors, len(recs))
	return e
}

func latency(times []int64) Latency {
	if len(times) == 0 {
		return Latency{}
	}
	sorted := slices.Clone(times)
	slices.Sort(sorted)
	var sum int64
	for _, t := range sorted {
		sum += t
	}
	return Latency{
		Average: round2(float64(sum) / float64(len(sorted))),
		Median:  median(sorted),
		P95:     float64(nearestRank(sorted, 95)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
	}
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// nearestRank returns the p-th percentile of sorted using the nearest-rank
// method.
func nearestRank(sorted []int64, p float64) int64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
