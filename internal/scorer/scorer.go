// Package scorer blends extraction-tier reliability with structural
// completeness into the single confidence score callers trust.
package scorer

import (
	"math"

	"github.com/sells-group/credit-pipeline/internal/model"
)

const (
	extractionWeight   = 0.5
	completenessWeight = 0.5

	// Each completeness component is worth 25 points.
	componentPoints = 25.0
)

// Components is the completeness breakdown, keyed by component name.
type Components map[string]float64

// Breakdown scores each completeness component: name present, credit score
// present, at least one account, and a negative-items section observed.
func Breakdown(data model.StructuredCreditData) Components {
	c := Components{
		"name":           0,
		"credit_score":   0,
		"accounts":       0,
		"negative_items": 0,
	}
	if data.PersonalInfo.Name != "" {
		c["name"] = componentPoints
	}
	if data.CreditScore != nil {
		c["credit_score"] = componentPoints
	}
	if len(data.Accounts) > 0 {
		c["accounts"] = componentPoints
	}
	if data.NegativeItems != nil {
		c["negative_items"] = componentPoints
	}
	return c
}

// Completeness returns the 0-100 structural completeness of data.
func Completeness(data model.StructuredCreditData) float64 {
	var total float64
	for _, v := range Breakdown(data) {
		total += v
	}
	return total
}

// Score returns 0.5*extraction + 0.5*completeness, clamped to [0,100] and
// rounded to two decimals.
func Score(extractionConfidence float64, data model.StructuredCreditData) float64 {
	s := extractionWeight*clamp(extractionConfidence) + completenessWeight*Completeness(data)
	return round2(clamp(s))
}

// MethodReliability returns the default extraction confidence for a tier.
// Unknown methods score zero.
func MethodReliability(m model.Method) float64 {
	switch m {
	case model.MethodStructuredProcessor:
		return 95
	case model.MethodOCR:
		return 85
	case model.MethodFallback:
		return 60
	case model.MethodNone:
		return 0
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
