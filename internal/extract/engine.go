// Package extract converts uploaded documents to text by trying extraction
// tiers in priority order until one produces text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

func init() {
	api.DisableConfigDir()
}

// Outcome describes what happened when a tier was considered.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeUnsupported   Outcome = "unsupported"
	OutcomeEmpty         Outcome = "empty"
	OutcomeFailed        Outcome = "failed"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeCircuitOpen   Outcome = "circuit_open"
	OutcomeCanceled      Outcome = "canceled"
)

// Attempt records one tier's participation in an extraction.
type Attempt struct {
	Tier      string               `json:"tier"`
	Method    model.Method         `json:"method"`
	Outcome   Outcome              `json:"outcome"`
	ErrorKind resilience.ErrorKind `json:"error_kind,omitempty"`
	Duration  time.Duration        `json:"duration"`
}

// Report is the extraction result plus the per-tier trail.
type Report struct {
	Result   model.ExtractionResult
	Attempts []Attempt
}

// ServiceFailures counts tiers whose external call failed, timed out, or
// was rejected by an open circuit.
func (r Report) ServiceFailures() int {
	var n int
	for _, a := range r.Attempts {
		switch a.Outcome {
		case OutcomeFailed, OutcomeTimeout, OutcomeCircuitOpen:
			n++
		}
	}
	return n
}

// Option configures an Engine.
type Option func(*Engine)

// WithTierTimeout bounds each tier call.
func WithTierTimeout(d time.Duration) Option {
	return func(e *Engine) { e.tierTimeout = d }
}

// WithBreakers guards each tier with a circuit breaker keyed by tier name.
func WithBreakers(b *resilience.Breakers) Option {
	return func(e *Engine) { e.breakers = b }
}

// Engine runs tiers sequentially. It always returns a result: the fallback
// tier runs when no earlier tier produced text.
type Engine struct {
	tiers       []Tier
	fallback    Tier
	tierTimeout time.Duration
	breakers    *resilience.Breakers
}

// NewEngine orders tiers by method priority. If no fallback tier is given,
// one with confidence 60 is appended.
func NewEngine(tiers []Tier, opts ...Option) *Engine {
	e := &Engine{tierTimeout: 30 * time.Second}
	for _, t := range tiers {
		if t == nil {
			continue
		}
		if t.Method() == model.MethodFallback {
			e.fallback = t
			continue
		}
		e.tiers = append(e.tiers, t)
	}
	sort.SliceStable(e.tiers, func(i, j int) bool {
		return e.tiers[i].Method().Priority() < e.tiers[j].Method().Priority()
	})
	if e.fallback == nil {
		e.fallback = NewFallbackTier(60)
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Tiers returns the tier names in attempt order, fallback last.
func (e *Engine) Tiers() []string {
	names := make([]string, 0, len(e.tiers)+1)
	for _, t := range e.tiers {
		names = append(names, t.Name())
	}
	return append(names, e.fallback.Name())
}

// Extract returns text for data. It never fails. When ctx is canceled the
// in-flight tier is aborted, later external tiers are skipped, and the
// fallback result is returned.
func (e *Engine) Extract(ctx context.Context, data []byte, mimeType string) Report {
	log := zap.L().With(zap.String("component", "extract.engine"), zap.String("mime_type", mimeType))
	var rep Report

	for _, t := range e.tiers {
		att := Attempt{Tier: t.Name(), Method: t.Method()}
		switch {
		case ctx.Err() != nil:
			att.Outcome = OutcomeCanceled
		case !t.Configured():
			att.Outcome = OutcomeNotConfigured
			att.ErrorKind = resilience.KindConfiguration
		case !t.Supports(mimeType):
			att.Outcome = OutcomeUnsupported
		default:
			out := e.run(ctx, t, data, mimeType, &att)
			if out != nil {
				rep.Attempts = append(rep.Attempts, att)
				rep.Result = e.finish(out, t.Method(), data, mimeType)
				log.Info("extract: tier succeeded",
					zap.String("tier", t.Name()),
					zap.Int("text_len", len(rep.Result.Text)),
					zap.Float64("confidence", rep.Result.Confidence),
				)
				return rep
			}
			log.Warn("extract: tier skipped",
				zap.String("tier", t.Name()),
				zap.String("outcome", string(att.Outcome)),
				zap.String("error_kind", string(att.ErrorKind)),
			)
		}
		rep.Attempts = append(rep.Attempts, att)
	}

	start := time.Now()
	out, _ := e.fallback.Extract(context.WithoutCancel(ctx), data, mimeType)
	rep.Attempts = append(rep.Attempts, Attempt{
		Tier:     e.fallback.Name(),
		Method:   model.MethodFallback,
		Outcome:  OutcomeSucceeded,
		Duration: time.Since(start),
	})
	rep.Result = e.finish(out, model.MethodFallback, data, mimeType)
	log.Warn("extract: using fallback tier", zap.Int("tiers_tried", len(e.tiers)))
	return rep
}

// run calls one tier under its timeout and breaker. It returns nil when the
// tier should be skipped, filling att with the reason.
func (e *Engine) run(ctx context.Context, t Tier, data []byte, mimeType string, att *Attempt) *Output {
	tctx, cancel := context.WithTimeout(ctx, e.tierTimeout)
	defer cancel()

	call := func(ctx context.Context) (*Output, error) {
		out, err := t.Extract(ctx, data, mimeType)
		if err == nil && (out == nil || strings.TrimSpace(out.Text) == "") {
			return nil, nil
		}
		return out, err
	}

	start := time.Now()
	var out *Output
	var err error
	if e.breakers != nil {
		out, err = resilience.ExecuteVal(tctx, e.breakers.Get(t.Name()), call)
	} else {
		out, err = call(tctx)
	}
	att.Duration = time.Since(start)

	switch {
	case err == nil && out != nil:
		att.Outcome = OutcomeSucceeded
		return out
	case err == nil:
		att.Outcome = OutcomeEmpty
	case errors.Is(err, resilience.ErrCircuitOpen):
		att.Outcome = OutcomeCircuitOpen
		att.ErrorKind = resilience.KindTransient
	case ctx.Err() != nil:
		att.Outcome = OutcomeCanceled
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		att.Outcome = OutcomeTimeout
		att.ErrorKind = resilience.KindTransient
	default:
		att.Outcome = OutcomeFailed
		att.ErrorKind = resilience.KindOf(err)
		if att.ErrorKind == resilience.KindUnknown {
			att.ErrorKind = resilience.KindTransient
		}
	}
	return nil
}

func (e *Engine) finish(out *Output, method model.Method, data []byte, mimeType string) model.ExtractionResult {
	pages := out.PageCount
	if pages <= 0 && mimeType == "application/pdf" {
		pages = pdfPageCount(data)
	}
	if pages <= 0 {
		pages = 1
	}
	return model.ExtractionResult{
		Text:       norm.NFKC.String(out.Text),
		Confidence: clamp(out.Confidence),
		PageCount:  pages,
		Method:     method,
	}
}

func pdfPageCount(data []byte) int {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0
	}
	return n
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
