// Package pipeline runs one uploaded credit report through validation,
// tiered extraction, structured parsing, scoring and analysis, and records
// the outcome with monitoring.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/analysis"
	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/extract"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/parser"
	"github.com/sells-group/credit-pipeline/internal/pii"
	"github.com/sells-group/credit-pipeline/internal/resilience"
	"github.com/sells-group/credit-pipeline/internal/scorer"
)

// Extractor turns document bytes into text. *extract.Engine implements it.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) extract.Report
}

// StructuredExtractor turns text into structured credit data. *parser.Extractor
// implements it.
type StructuredExtractor interface {
	Extract(ctx context.Context, text string, extractionConfidence float64) parser.Outcome
}

// Analyzer produces the credit analysis. *analysis.Engine implements it.
type Analyzer interface {
	Analyze(ctx context.Context, text string, data model.StructuredCreditData) analysis.Outcome
}

// Recorder receives one metrics record per request. *monitoring.Monitor
// implements it.
type Recorder interface {
	Record(rec model.ProcessingMetricsRecord)
}

// Result is what a completed request returns to the caller.
type Result struct {
	ProcessingID     string                     `json:"processing_id"`
	Text             string                     `json:"text"`
	Confidence       float64                    `json:"confidence"`
	StructuredData   model.StructuredCreditData `json:"structured_data"`
	Analysis         model.AnalysisResult       `json:"analysis"`
	Method           model.Method               `json:"method"`
	ProcessingTimeMs int64                      `json:"processing_time_ms"`
	PageCount        int                        `json:"page_count"`
	Stage            model.Stage                `json:"stage"`
	PII              pii.Report                 `json:"pii"`
	Attempts         []extract.Attempt          `json:"extraction_attempts"`
	ParserPath       parser.Path                `json:"parser_path"`
	AnalysisPath     analysis.Path              `json:"analysis_path"`
}

// Pipeline orchestrates a single request end to end.
type Pipeline struct {
	cfg      config.PipelineConfig
	upload   config.UploadConfig
	engine   Extractor
	parser   StructuredExtractor
	analyzer Analyzer
	recorder Recorder
	now      func() time.Time
}

// New creates a Pipeline. recorder may be nil.
func New(cfg *config.Config, engine Extractor, p StructuredExtractor, a Analyzer, recorder Recorder) *Pipeline {
	return &Pipeline{
		cfg:      cfg.Pipeline,
		upload:   cfg.Upload,
		engine:   engine,
		parser:   p,
		analyzer: a,
		recorder: recorder,
		now:      time.Now,
	}
}

// Reject records a validation failure for an upload that never reached
// Process, such as a body the transport refused to read.
func (p *Pipeline) Reject(req model.ProcessingRequest, reason error) {
	if req.FileID == "" {
		req.FileID = uuid.NewString()
	}
	zap.L().Info("pipeline: rejected upload",
		zap.String("component", "pipeline"),
		zap.String("processing_id", req.FileID),
		zap.String("file", req.FileName),
		zap.Error(reason),
	)
	if p.recorder == nil {
		return
	}
	p.recorder.Record(model.ProcessingMetricsRecord{
		ProcessingID: req.FileID,
		UserID:       req.UserID,
		File:         req.Meta(),
		ErrorType:    model.ErrorValidation,
		Timestamp:    p.now().UTC(),
	})
}

// run carries per-request state between stages.
type run struct {
	log       *zap.Logger
	res       *Result
	rec       model.ProcessingMetricsRecord
	errorType model.ErrorType
}

// Process runs req through every stage. Validation failures return a
// validation error before extraction starts. Extraction, parsing and
// analysis never fail the request; their service problems are reflected in
// the recorded error type. A canceled or expired context stops the run
// after the current stage. Exactly one metrics record is emitted per call.
func (p *Pipeline) Process(ctx context.Context, req model.ProcessingRequest, data []byte) (res *Result, err error) {
	start := p.now()
	if req.FileID == "" {
		req.FileID = uuid.NewString()
	}
	req.FileSize = int64(len(data))
	req.MimeType = resolveMime(req)

	r := &run{
		log: zap.L().With(
			zap.String("component", "pipeline"),
			zap.String("processing_id", req.FileID),
			zap.String("file", req.FileName),
		),
		res: &Result{ProcessingID: req.FileID, Stage: model.StageReceived},
		rec: model.ProcessingMetricsRecord{
			ProcessingID: req.FileID,
			UserID:       req.UserID,
			File:         req.Meta(),
			Success:      true,
		},
	}

	defer func() {
		if v := recover(); v != nil {
			r.log.Error("pipeline: panic recovered",
				zap.String("stage", string(r.res.Stage)),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
			r.fail(model.ErrorInternal)
			res = nil
			err = resilience.Infrastructure(eris.Errorf("pipeline: internal error during %s: %v", r.res.Stage, v))
		}
		elapsed := p.now().Sub(start).Milliseconds()
		if res != nil {
			res.ProcessingTimeMs = elapsed
		}
		r.rec.ProcessingTimeMs = elapsed
		if r.rec.ErrorType == model.ErrorNone {
			r.rec.ErrorType = r.errorType
		}
		r.rec.Timestamp = p.now().UTC()
		if p.recorder != nil {
			p.recorder.Record(r.rec)
		}
	}()

	if verr := Validate(req, req.FileSize, p.upload); verr != nil {
		r.log.Info("pipeline: rejected upload", zap.Error(verr))
		r.fail(model.ErrorValidation)
		return nil, verr
	}

	if secs := p.cfg.RequestTimeoutSecs; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	r.log.Info("pipeline: processing started", zap.Int64("file_size", req.FileSize), zap.String("mime_type", req.MimeType))

	// Extraction
	r.res.Stage = model.StageExtracting
	var ext extract.Report
	r.phase("extract", func() {
		ext = p.engine.Extract(ctx, data, req.MimeType)
	})
	r.res.Text = ext.Result.Text
	r.res.Method = ext.Result.Method
	r.res.PageCount = ext.Result.PageCount
	r.res.Attempts = ext.Attempts
	r.rec.Method = ext.Result.Method
	if ext.ServiceFailures() > 0 {
		r.observe(model.ErrorService)
	}
	r.res.Stage = model.StageExtracted
	if aerr := r.aborted(ctx); aerr != nil {
		return nil, aerr
	}

	// Structured extraction and scoring
	r.res.Stage = model.StageStructuredExtraction
	var parsed parser.Outcome
	r.phase("parse", func() {
		parsed = p.parser.Extract(ctx, ext.Result.Text, ext.Result.Confidence)
	})
	if parsed.Err != nil {
		r.observe(errorTypeFor(parsed.Err))
	}
	r.res.StructuredData = parsed.Data
	r.res.ParserPath = parsed.Path
	r.res.Confidence = scorer.Score(ext.Result.Confidence, parsed.Data)
	r.rec.Confidence = r.res.Confidence
	r.rec.DataQuality = parsed.Data.Quality()
	if aerr := r.aborted(ctx); aerr != nil {
		return nil, aerr
	}

	// Analysis
	var analyzed analysis.Outcome
	r.phase("analyze", func() {
		analyzed = p.analyzer.Analyze(ctx, ext.Result.Text, parsed.Data)
	})
	if analyzed.Err != nil {
		r.observe(errorTypeFor(analyzed.Err))
	}
	r.res.Analysis = analyzed.Result
	r.res.AnalysisPath = analyzed.Path
	r.res.Stage = model.StageAnalyzed
	if aerr := r.aborted(ctx); aerr != nil {
		return nil, aerr
	}

	r.res.PII = pii.Detect(ext.Result.Text, parsed.Data)
	r.rec.PIIDetected = r.res.PII.Detected
	if r.res.PII.Detected {
		r.log.Debug("pipeline: sensitive data present", zap.Strings("patterns", r.res.PII.Patterns))
	}

	r.res.Stage = model.StageCompleted
	r.log.Info("pipeline: processing complete",
		zap.String("method", string(r.res.Method)),
		zap.Float64("confidence", r.res.Confidence),
		zap.String("error_type", string(r.errorType)),
		zap.Int64("duration_ms", p.now().Sub(start).Milliseconds()),
	)
	return r.res, nil
}

// phase runs fn and logs its duration under name.
func (r *run) phase(name string, fn func()) {
	start := time.Now()
	fn()
	r.log.Info("pipeline: phase complete",
		zap.String("phase", name),
		zap.String("stage", string(r.res.Stage)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

// observe keeps the most severe error type seen so far.
func (r *run) observe(t model.ErrorType) {
	r.errorType = model.MoreSevere(r.errorType, t)
}

func (r *run) fail(t model.ErrorType) {
	r.rec.Success = false
	r.rec.ErrorType = t
}

// aborted returns a wrapped context error once ctx is done, marking the
// record as aborted.
func (r *run) aborted(ctx context.Context) error {
	cerr := ctx.Err()
	if cerr == nil {
		return nil
	}
	r.log.Warn("pipeline: request aborted",
		zap.String("stage", string(r.res.Stage)),
		zap.Error(cerr),
	)
	r.fail(model.ErrorAborted)
	return eris.Wrapf(cerr, "pipeline: aborted after %s", r.res.Stage)
}

// errorTypeFor maps a degraded-path reason onto the recorded error type.
func errorTypeFor(err error) model.ErrorType {
	switch resilience.KindOf(err) {
	case resilience.KindParse, resilience.KindValidation:
		return model.ErrorParse
	case resilience.KindInfrastructure:
		return model.ErrorInfrastructure
	default:
		return model.ErrorService
	}
}
