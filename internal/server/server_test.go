package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/monitoring"
	"github.com/sells-group/credit-pipeline/internal/pipeline"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

type processFunc func(ctx context.Context, req model.ProcessingRequest, data []byte) (*pipeline.Result, error)

func (f processFunc) Process(ctx context.Context, req model.ProcessingRequest, data []byte) (*pipeline.Result, error) {
	return f(ctx, req, data)
}

func (f processFunc) Reject(model.ProcessingRequest, error) {}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, AllowedOrigins: []string{"https://app.example.com"}},
		Upload:   config.UploadConfig{MaxBytes: 1 << 20},
		Pipeline: config.PipelineConfig{MaxConcurrent: 2},
	}
}

func newTestServer(t *testing.T, proc Processor, opts Options) (*Server, *monitoring.Monitor) {
	t.Helper()
	reg := prometheus.NewRegistry()
	mon := monitoring.New(config.MonitoringConfig{CheckIntervalSecs: 3600}, monitoring.Options{Registerer: reg})
	if opts.Gatherer == nil {
		opts.Gatherer = reg
	}
	if proc == nil {
		proc = processFunc(func(context.Context, model.ProcessingRequest, []byte) (*pipeline.Result, error) {
			return nil, eris.New("unexpected call")
		})
	}
	return New(testConfig(), proc, mon, opts), mon
}

func multipartBody(t *testing.T, name, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if name != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	breakers.Get("documentai")

	s, _ := newTestServer(t, nil, Options{Store: pinger{}, Breakers: breakers})
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Store)
	assert.Equal(t, "closed", body.Breakers["documentai"])
}

func TestHealth_StoreDown(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{Store: pinger{err: eris.New("connection refused")}})
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[HealthResponse](t, rec).Status)
}

func TestHealth_NoStore(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", decode[HealthResponse](t, rec).Store)
}

func TestProcess_OK(t *testing.T) {
	var got model.ProcessingRequest
	var gotData []byte
	proc := processFunc(func(_ context.Context, req model.ProcessingRequest, data []byte) (*pipeline.Result, error) {
		got, gotData = req, data
		return &pipeline.Result{ProcessingID: "p-1", Method: model.MethodOCR, Confidence: 78.5, Stage: model.StageCompleted}, nil
	})
	s, _ := newTestServer(t, proc, Options{})

	body, ct := multipartBody(t, "report.pdf", "application/pdf", []byte("%PDF-1.4"), map[string]string{"user_id": "u-9"})
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, "p-1", res["processing_id"])
	assert.Equal(t, "ocr", res["method"])
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, "application/pdf", got.MimeType)
	assert.Equal(t, "u-9", got.UserID)
	assert.Equal(t, []byte("%PDF-1.4"), gotData)
}

func TestProcess_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "validation", err: resilience.Validation(eris.New("pipeline: file is empty")), status: http.StatusBadRequest, kind: "validation"},
		{name: "infrastructure", err: resilience.Infrastructure(eris.New("pipeline: internal error")), status: http.StatusInternalServerError, kind: "infrastructure"},
		{name: "timeout", err: eris.Wrap(context.DeadlineExceeded, "pipeline: aborted"), status: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := processFunc(func(context.Context, model.ProcessingRequest, []byte) (*pipeline.Result, error) {
				return nil, tt.err
			})
			s, _ := newTestServer(t, proc, Options{})
			body, ct := multipartBody(t, "report.pdf", "application/pdf", []byte("x"), nil)
			req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
			req.Header.Set("Content-Type", ct)
			rec := do(t, s, req)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			if tt.status >= http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "pipeline:")
			}
		})
	}
}

func TestProcess_MissingFile(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})
	body, ct := multipartBody(t, "", "", nil, map[string]string{"user_id": "u"})
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcess_NotMultipart(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)
}

func TestProcess_RejectedUploadsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := monitoring.New(config.MonitoringConfig{CheckIntervalSecs: 3600}, monitoring.Options{Registerer: reg})
	cfg := testConfig()
	s := New(cfg, pipeline.New(cfg, nil, nil, nil, mon), mon, Options{Gatherer: reg})

	// Larger than the file limit plus multipart slack, so the form parse fails.
	big := bytes.Repeat([]byte("a"), int(cfg.Upload.MaxBytes)+2*multipartOverhead)
	body, ct := multipartBody(t, "huge.pdf", "application/pdf", big, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	out, err := mon.Aggregator().Query(monitoring.Window1h, monitoring.KindErrors)
	require.NoError(t, err)
	stats := out.(monitoring.ErrorStats)
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 2, stats.ByType[model.ErrorValidation])

	recs := mon.Buffer().Snapshot()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Success)
	assert.NotEmpty(t, recs[0].ProcessingID)
}

func recordN(mon *monitoring.Monitor, n, failed int) {
	for i := range n {
		r := model.ProcessingMetricsRecord{
			ProcessingID:     "r",
			Method:           model.MethodOCR,
			Confidence:       80,
			Success:          i >= failed,
			ProcessingTimeMs: 100,
			Timestamp:        time.Now(),
		}
		if !r.Success {
			r.ErrorType = model.ErrorValidation
		}
		mon.Record(r)
	}
}

func TestMonitoringMetrics(t *testing.T) {
	s, mon := newTestServer(t, nil, Options{})
	recordN(mon, 4, 1)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/metrics?window=1h&kind=success", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[monitoring.SuccessStats](t, rec)
	assert.Equal(t, 4, stats.TotalProcessed)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 75.0, stats.SuccessRate)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[monitoring.Dashboard](t, rec)
	assert.Equal(t, monitoring.Window24h, dash.Window)
	assert.Equal(t, 4, dash.Success.TotalProcessed)
}

func TestMonitoringMetrics_BadQuery(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})
	for _, q := range []string{"window=2h", "kind=latency", "window=1h&kind="} {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/metrics?"+q, nil))
		if q == "window=1h&kind=" {
			assert.Equal(t, http.StatusOK, rec.Code, q)
			continue
		}
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "validation", decode[errorResponse](t, rec).Kind)
	}
}

func TestAlerts_ListAndAcknowledge(t *testing.T) {
	s, mon := newTestServer(t, nil, Options{})
	mon.Record(model.ProcessingMetricsRecord{
		ProcessingID:     "slow-1",
		Method:           model.MethodOCR,
		Success:          true,
		ProcessingTimeMs: 60000,
		Timestamp:        time.Now(),
	})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, model.AlertSlowProcessing, list.Alerts[0].Type)

	ack, _ := json.Marshal(AcknowledgeRequest{AlertIDs: []string{list.Alerts[0].ID}, AcknowledgedBy: "ops@example.com"})
	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/v1/monitoring/alerts/acknowledge", bytes.NewReader(ack)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"updated": 1}, decode[map[string]int](t, rec))

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/alerts?unacknowledged=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/alerts?unacknowledged=false&limit=1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.True(t, list.Alerts[0].Acknowledged)
	assert.Equal(t, "ops@example.com", list.Alerts[0].AcknowledgedBy)
}

func TestAlerts_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/alerts?unacknowledged=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/alerts?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/v1/monitoring/alerts/acknowledge", strings.NewReader(`{"alert_ids":["a"]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/v1/monitoring/alerts/acknowledge", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/v1/monitoring/alerts/acknowledge", strings.NewReader(`{"alert_ids":[],"acknowledged_by":"ops"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"updated": 0}, decode[map[string]int](t, rec))
}

func TestPrometheusEndpoint(t *testing.T) {
	s, mon := newTestServer(t, nil, Options{})
	recordN(mon, 2, 0)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credit_pipeline_")
}

func TestExport(t *testing.T) {
	s, mon := newTestServer(t, nil, Options{})
	recordN(mon, 2, 0)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/export?window=7d", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "metrics-7d.xlsx")
	assert.Equal(t, []byte("PK"), rec.Body.Bytes()[:2])

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/v1/monitoring/export?window=1y", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil, Options{})
	req := httptest.NewRequest(http.MethodOptions, "/v1/reports", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := do(t, s, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(resilience.Validation(eris.New("x"))))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(eris.Wrap(context.Canceled, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(eris.New("x")))
}
