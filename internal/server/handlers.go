package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/monitoring"
	"github.com/sells-group/credit-pipeline/internal/pipeline"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// multipartOverhead is the slack allowed on top of the file limit for
// multipart boundaries and form fields.
const multipartOverhead = 1 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Store         string            `json:"store"`
	Breakers      map[string]string `json:"breakers"`
	MirrorDropped int64             `json:"mirror_dropped"`
}

// AcknowledgeRequest is the body of POST /v1/monitoring/alerts/acknowledge.
type AcknowledgeRequest struct {
	AlertIDs       []string `json:"alert_ids"`
	AcknowledgedBy string   `json:"acknowledged_by"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "disabled", Breakers: map[string]string{}}
	if s.opts.Breakers != nil {
		resp.Breakers = s.opts.Breakers.States()
	}
	resp.MirrorDropped = s.mon.MirrorDropped()

	status := http.StatusOK
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(r.Context()); err != nil {
			zap.L().Warn("server: store ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Store = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.upload.MaxBytes
	if maxBytes <= 0 {
		maxBytes = pipeline.DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.reject(w, r, model.ProcessingRequest{FileSize: r.ContentLength}, eris.Wrap(err, "server: parse multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.reject(w, r, model.ProcessingRequest{UserID: r.FormValue("user_id")}, eris.Wrap(err, "server: form field \"file\" is required"))
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		s.reject(w, r, model.ProcessingRequest{
			FileName: header.Filename,
			FileSize: header.Size,
			UserID:   r.FormValue("user_id"),
		}, eris.Wrap(err, "server: read upload"))
		return
	}

	req := model.ProcessingRequest{
		FileName: header.Filename,
		FileSize: header.Size,
		MimeType: header.Header.Get("Content-Type"),
		UserID:   r.FormValue("user_id"),
	}
	res, err := s.proc.Process(r.Context(), req, data)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reject records an upload refused before it reached the pipeline and
// answers 400.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, req model.ProcessingRequest, err error) {
	verr := resilience.Validation(err)
	s.proc.Reject(req, verr)
	writeError(w, r, http.StatusBadRequest, verr)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := monitoring.ParseWindow(valueOr(q.Get("window"), string(monitoring.Window24h)))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	kind, err := monitoring.ParseKind(valueOr(q.Get("kind"), string(monitoring.KindDashboard)))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	out, err := s.mon.Aggregator().Query(window, kind)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	window, err := monitoring.ParseWindow(valueOr(r.URL.Query().Get("window"), string(monitoring.Window24h)))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="metrics-`+string(window)+`.xlsx"`)
	if err := monitoring.ExportXLSX(w, s.mon.Aggregator().Dashboard(window)); err != nil {
		zap.L().Error("server: export metrics", zap.Error(err))
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unacked := false
	if v := q.Get("unacknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, resilience.Validation(eris.Errorf("server: unacknowledged must be a boolean, got %q", v)))
			return
		}
		unacked = b
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, resilience.Validation(eris.Errorf("server: limit must be a non-negative integer, got %q", v)))
			return
		}
		limit = n
	}
	alerts := s.mon.Alerts().Recent(unacked, limit)
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var body AcknowledgeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, resilience.Validation(eris.Wrap(err, "server: invalid request body")))
		return
	}
	if body.AcknowledgedBy == "" {
		writeError(w, r, http.StatusBadRequest, resilience.Validation(eris.New("server: acknowledged_by is required")))
		return
	}
	n, err := s.mon.Alerts().Acknowledge(r.Context(), body.AlertIDs, body.AcknowledgedBy)
	if err != nil {
		zap.L().Error("server: acknowledge alerts", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case resilience.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// writeError sends err as JSON. Internal errors hide their message.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Kind:      string(resilience.KindOf(err)),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Int("status", status), zap.Error(err))
		resp.Error = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
