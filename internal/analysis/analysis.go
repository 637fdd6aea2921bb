// Package analysis derives the narrative summary, risk factors,
// recommendations, dispute opportunities and FCRA violations for a parsed
// credit report.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/llm"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Path records which analyzer produced the result.
type Path string

const (
	PathModel Path = "model"
	PathRules Path = "rules"
)

// Outcome is the result of analysis. Result is always populated. Err is the
// reason the model path was abandoned, if any.
type Outcome struct {
	Result model.AnalysisResult
	Path   Path
	Err    error
}

const analysisSchema = `{
  "type": "object",
  "required": ["summary", "risk_factors", "recommendations", "dispute_opportunities"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "risk_factors": {"type": "array", "items": {"type": "string"}},
    "recommendations": {"type": "array", "items": {"type": "string"}},
    "dispute_opportunities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item", "reason", "likelihood"],
        "properties": {
          "item": {"type": "string"},
          "reason": {"type": "string"},
          "likelihood": {"enum": ["high", "medium", "low", "High", "Medium", "Low", "HIGH", "MEDIUM", "LOW"]},
          "potential_impact": {"type": "string"}
        }
      }
    }
  }
}`

var schema = llm.CompileSchema("credit_analysis.json", analysisSchema)

// maxPromptExcerpt caps the raw text included alongside the structured data.
const maxPromptExcerpt = 8000

// Engine analyzes structured credit data.
type Engine struct {
	gen     llm.Generator
	timeout time.Duration
	now     func() time.Time
}

// New creates an Engine. gen may be nil, in which case every call uses
// the rule-based path.
func New(gen llm.Generator, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Engine{gen: gen, timeout: timeout, now: time.Now}
}

// Analyze never fails. Violations come from DetectViolations on both paths.
func (e *Engine) Analyze(ctx context.Context, text string, data model.StructuredCreditData) Outcome {
	log := zap.L().With(zap.String("component", "analysis"))
	violations := DetectViolations(data, e.now())

	if e.gen != nil {
		res, err := e.fromModel(ctx, text, data)
		if err == nil {
			res.Violations = violations
			res.Normalize()
			return Outcome{Result: res, Path: PathModel}
		}
		log.Warn("analysis: model analysis failed, using rules",
			zap.String("generator", e.gen.Name()),
			zap.String("error_kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		res = Fallback(data)
		res.Violations = violations
		return Outcome{Result: res, Path: PathRules, Err: err}
	}

	res := Fallback(data)
	res.Violations = violations
	return Outcome{Result: res, Path: PathRules}
}

type rawAnalysis struct {
	Summary              string   `json:"summary"`
	RiskFactors          []string `json:"risk_factors"`
	Recommendations      []string `json:"recommendations"`
	DisputeOpportunities []struct {
		Item            string `json:"item"`
		Reason          string `json:"reason"`
		Likelihood      string `json:"likelihood"`
		PotentialImpact string `json:"potential_impact"`
	} `json:"dispute_opportunities"`
}

func (e *Engine) fromModel(ctx context.Context, text string, data model.StructuredCreditData) (model.AnalysisResult, error) {
	prompt, err := buildPrompt(text, data)
	if err != nil {
		return model.AnalysisResult{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.gen.Generate(cctx, prompt)
	if err != nil {
		if resilience.KindOf(err) == resilience.KindUnknown {
			err = resilience.Transient(err)
		}
		return model.AnalysisResult{}, eris.Wrap(err, "analysis: generate")
	}

	raw, err := llm.DecodeResponse(resp, schema)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	var ra rawAnalysis
	if err := json.Unmarshal(raw, &ra); err != nil {
		return model.AnalysisResult{}, resilience.Parse(eris.Wrap(err, "analysis: decode model object"))
	}

	res := model.AnalysisResult{
		Summary:         strings.TrimSpace(ra.Summary),
		RiskFactors:     ra.RiskFactors,
		Recommendations: ra.Recommendations,
	}
	for _, d := range ra.DisputeOpportunities {
		l, ok := model.ParseLikelihood(d.Likelihood)
		if !ok {
			return model.AnalysisResult{}, resilience.Parse(eris.Errorf("analysis: invalid likelihood %q", d.Likelihood))
		}
		res.DisputeOpportunities = append(res.DisputeOpportunities, model.DisputeOpportunity{
			Item:            d.Item,
			Reason:          d.Reason,
			Likelihood:      l,
			PotentialImpact: d.PotentialImpact,
		})
	}
	return res, nil
}

func buildPrompt(text string, data model.StructuredCreditData) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return "", eris.Wrap(err, "analysis: encode structured data")
	}
	text = llm.ClipText(text, maxPromptExcerpt)

	var sb strings.Builder
	sb.WriteString(`Analyze this consumer credit report.
Return ONLY one JSON object with these keys:
  "summary": a short plain-language overview
  "risk_factors": array of strings
  "recommendations": array of concrete next steps
  "dispute_opportunities": array of {"item", "reason", "likelihood", "potential_impact"}
likelihood is one of high, medium, low. Only list dispute opportunities for collections or items that appear unverified, inaccurate, or obsolete.

Structured data:
`)
	sb.Write(buf.Bytes())
	sb.WriteString("\nReport excerpt:\n")
	sb.WriteString(text)
	return sb.String(), nil
}
