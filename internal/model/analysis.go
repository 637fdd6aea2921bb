package model

import "strings"

// Likelihood is the estimated chance a dispute succeeds.
type Likelihood string

const (
	LikelihoodHigh   Likelihood = "high"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodLow    Likelihood = "low"
)

// ParseLikelihood normalizes a likelihood string. ok is false for unknown values.
func ParseLikelihood(s string) (Likelihood, bool) {
	switch l := Likelihood(strings.ToLower(strings.TrimSpace(s))); l {
	case LikelihoodHigh, LikelihoodMedium, LikelihoodLow:
		return l, true
	default:
		return "", false
	}
}

// DisputeOpportunity is an item worth disputing with a bureau.
type DisputeOpportunity struct {
	Item            string     `json:"item"`
	Reason          string     `json:"reason"`
	Likelihood      Likelihood `json:"likelihood"`
	PotentialImpact string     `json:"potential_impact"`
}

// ViolationType identifies an FCRA or Metro 2 reporting problem.
type ViolationType string

const (
	ViolationObsolete   ViolationType = "fcra_obsolete_info"
	ViolationAccuracy   ViolationType = "fcra_accuracy"
	ViolationIncomplete ViolationType = "fcra_incomplete_info"
	ViolationDuplicate  ViolationType = "duplicate_account"
)

// Severity is shared by violations and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is a reporting problem detected in the structured data.
type Violation struct {
	Type            ViolationType `json:"type"`
	Severity        Severity      `json:"severity"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	AffectedAccount string        `json:"affected_account,omitempty"`
	LegalBasis      string        `json:"legal_basis"`
	DisputeReason   string        `json:"dispute_reason"`
}

// AnalysisResult is the narrative analysis of a credit report.
type AnalysisResult struct {
	Summary              string               `json:"summary"`
	RiskFactors          []string             `json:"risk_factors"`
	Recommendations      []string             `json:"recommendations"`
	DisputeOpportunities []DisputeOpportunity `json:"dispute_opportunities"`
	Violations           []Violation          `json:"violations"`
}

// Normalize replaces nil slices with empty ones.
func (a *AnalysisResult) Normalize() {
	if a.RiskFactors == nil {
		a.RiskFactors = []string{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	if a.DisputeOpportunities == nil {
		a.DisputeOpportunities = []DisputeOpportunity{}
	}
	if a.Violations == nil {
		a.Violations = []Violation{}
	}
}
