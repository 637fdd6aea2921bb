package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func rec(id string, method model.Method, success bool, conf float64, ms int64) model.ProcessingMetricsRecord {
	r := model.ProcessingMetricsRecord{
		ProcessingID:     id,
		Method:           method,
		Success:          success,
		Confidence:       conf,
		ProcessingTimeMs: ms,
		Timestamp:        time.Now(),
	}
	if !success {
		r.ErrorType = model.ErrorValidation
	}
	return r
}

// fill returns n records of which the first failed ones failed.
func fill(n, failed int) []model.ProcessingMetricsRecord {
	out := make([]model.ProcessingMetricsRecord, n)
	for i := range out {
		out[i] = rec("r"+itoa(i), model.MethodOCR, i >= failed, 85, 1000)
	}
	return out
}

func newTestAlerts(opts ...AlertOption) (*Buffer, *AlertManager) {
	buf := NewBuffer(100)
	return buf, NewAlertManager(NewAggregator(buf), DefaultThresholds(), 100, opts...)
}

type fakeStore struct {
	mu      sync.Mutex
	metrics []model.ProcessingMetricsRecord
	alerts  []model.Alert
	acked   map[string]bool
	rollups []model.Rollup
	err     error
}

func (s *fakeStore) InsertMetrics(_ context.Context, recs []model.ProcessingMetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.metrics = append(s.metrics, recs...)
	return nil
}

func (s *fakeStore) InsertAlerts(_ context.Context, alerts []model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, alerts...)
	return nil
}

func (s *fakeStore) AcknowledgeAlerts(_ context.Context, ids []string, _ string, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acked == nil {
		s.acked = map[string]bool{}
	}
	n := 0
	for _, id := range ids {
		for _, a := range s.alerts {
			if a.ID == id && !s.acked[id] {
				s.acked[id] = true
				n++
			}
		}
	}
	return n, nil
}

func (s *fakeStore) SaveRollup(_ context.Context, r model.Rollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups = append(s.rollups, r)
	return nil
}

func (s *fakeStore) counts() (metrics, alerts, rollups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics), len(s.alerts), len(s.rollups)
}

type fakeArchiver struct {
	mu    sync.Mutex
	names []string
}

func (a *fakeArchiver) Archive(_ context.Context, name string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	return nil
}

type countingNotifier struct {
	mu   sync.Mutex
	got  []model.Alert
	fail error
}

func (n *countingNotifier) Name() string { return "counting" }

func (n *countingNotifier) Notify(_ context.Context, a model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, a)
	return n.fail
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}
