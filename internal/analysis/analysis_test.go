package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-pipeline/internal/llm"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func troubledData() model.StructuredCreditData {
	d := model.EmptyCreditData()
	d.PersonalInfo = model.PersonalInfo{Name: "John Doe", Address: "1 Main St"}
	d.CreditScore = &model.CreditScore{Value: 580, Bureau: "Experian"}
	d.Accounts = []model.Account{
		{Creditor: "Chase", AccountNumber: "1234", AccountType: "Revolving", Status: "Current", Balance: 900, CreditLimit: ptr(1000), DateOpened: "2015-01-01", LastReported: "2024-05-01"},
		{Creditor: "Capital One", AccountNumber: "9876", AccountType: "Revolving", Status: "30 Days Late", Balance: 0, CreditLimit: ptr(1000), DateOpened: "2018-06-01", LastReported: "2024-05-01"},
	}
	d.NegativeItems = []model.NegativeItem{
		{Type: model.NegativeCollection, Creditor: "ABC Collections", Amount: 450, Date: "2021-04-10"},
		{Type: model.NegativeLatePayment, Creditor: "Sears", Date: "2015-02-01", Unverified: true},
	}
	d.Inquiries = []model.Inquiry{{Creditor: "A"}, {Creditor: "B"}, {Creditor: "C"}, {Creditor: "D"}}
	return d
}

func newTestEngine(gen llm.Generator) *Engine {
	e := New(gen, time.Second)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestFallback_RiskFactorsAndRecommendations(t *testing.T) {
	res := Fallback(troubledData())

	assert.Equal(t, []string{
		"1 account in collections",
		"1 account reported late",
		"Revolving utilization of 45% is above 30%",
		"4 credit inquiries on file",
		"Credit score of 580 is below 620",
		"1 item reported without verification",
	}, res.RiskFactors)
	assert.Contains(t, res.Recommendations, "Request debt validation from each collection agency before paying.")
	assert.Contains(t, res.Recommendations, "Limit new credit applications for the next 6 to 12 months.")
	assert.Contains(t, res.Summary, "Credit score 580 (Experian)")
	assert.Contains(t, res.Summary, "6 risk factors identified.")

	require.Len(t, res.DisputeOpportunities, 2)
	assert.Equal(t, model.LikelihoodMedium, res.DisputeOpportunities[0].Likelihood)
	assert.Equal(t, "ABC Collections collection ($450.00)", res.DisputeOpportunities[0].Item)
	assert.Equal(t, model.LikelihoodHigh, res.DisputeOpportunities[1].Likelihood)
	assert.NotEmpty(t, res.DisputeOpportunities[1].PotentialImpact)
}

func TestFallback_HealthyProfile(t *testing.T) {
	d := model.EmptyCreditData()
	d.PersonalInfo.Name = "Jane Roe"
	d.CreditScore = &model.CreditScore{Value: 790}
	d.Accounts = []model.Account{{Creditor: "Amex", Balance: 100, CreditLimit: ptr(5000)}}
	d.NegativeItems = []model.NegativeItem{}

	res := Fallback(d)

	assert.Contains(t, res.Summary, "appears healthy")
	assert.NotEmpty(t, res.Recommendations)
	assert.NotNil(t, res.RiskFactors)
	assert.Empty(t, res.RiskFactors)
	assert.Empty(t, res.DisputeOpportunities)
}

func TestFallback_EmptyDataIsNotSilent(t *testing.T) {
	res := Fallback(model.EmptyCreditData())
	assert.NotEmpty(t, res.Summary)
	assert.NotEmpty(t, res.Recommendations)
}

func TestUtilization(t *testing.T) {
	_, ok := Utilization(nil)
	assert.False(t, ok)

	pct, ok := Utilization([]model.Account{
		{Balance: 250, CreditLimit: ptr(1000)},
		{Balance: 5000},
		{Balance: 250, CreditLimit: ptr(0)},
	})
	assert.True(t, ok)
	assert.Equal(t, 25.0, pct)
}

func TestDetectViolations(t *testing.T) {
	d := troubledData()
	d.Accounts = append(d.Accounts, model.Account{Creditor: "chase", AccountNumber: "1234", AccountType: "Revolving", DateOpened: "2015-01-01", LastReported: "2024-05-01", Balance: 10})
	d.Accounts = append(d.Accounts, model.Account{Creditor: "Store Card", Balance: 10})
	d.NegativeItems = append(d.NegativeItems, model.NegativeItem{Type: model.NegativeBankruptcy, Date: "2016-01-01"})
	d.PublicRecords = []model.PublicRecord{{Type: "Chapter 7 Bankruptcy", Court: "US Court", Date: "2012-03-10"}}

	vs := DetectViolations(d, fixedNow)

	byType := map[model.ViolationType]int{}
	for _, v := range vs {
		byType[v.Type]++
	}
	// Sears late payment (2015) and the 2012 bankruptcy record are obsolete;
	// the 2016 bankruptcy is within ten years.
	assert.Equal(t, 2, byType[model.ViolationObsolete])
	assert.Equal(t, 1, byType[model.ViolationAccuracy])
	assert.Equal(t, 1, byType[model.ViolationIncomplete])
	assert.Equal(t, 1, byType[model.ViolationDuplicate])

	assert.Equal(t, "FCRA §605(a)", vs[0].LegalBasis)
	assert.Equal(t, "Sears", vs[0].AffectedAccount)
	for _, v := range vs {
		assert.NotEmpty(t, v.DisputeReason)
	}
}

func TestDetectViolations_Clean(t *testing.T) {
	assert.Empty(t, DetectViolations(model.EmptyCreditData(), fixedNow))
}

func TestAnalyze_ModelPath(t *testing.T) {
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, `"personal_info"`)
		return `Sure! {"summary": "Fair profile.", "risk_factors": ["collections"], "recommendations": ["pay down"],
			"dispute_opportunities": [{"item": "ABC", "reason": "unvalidated", "likelihood": "High", "potential_impact": "+30"}]}`, nil
	})

	out := newTestEngine(gen).Analyze(context.Background(), "text", troubledData())

	require.NoError(t, out.Err)
	assert.Equal(t, PathModel, out.Path)
	assert.Equal(t, "Fair profile.", out.Result.Summary)
	require.Len(t, out.Result.DisputeOpportunities, 1)
	assert.Equal(t, model.LikelihoodHigh, out.Result.DisputeOpportunities[0].Likelihood)
	assert.NotEmpty(t, out.Result.Violations)
}

func TestAnalyze_BadLikelihoodFallsBack(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return `{"summary": "x", "risk_factors": [], "recommendations": [],
			"dispute_opportunities": [{"item": "a", "reason": "b", "likelihood": "certain"}]}`, nil
	})

	out := newTestEngine(gen).Analyze(context.Background(), "text", troubledData())

	assert.Equal(t, PathRules, out.Path)
	assert.Equal(t, resilience.KindParse, resilience.KindOf(out.Err))
	assert.Equal(t, Fallback(troubledData()).RiskFactors, out.Result.RiskFactors)
	assert.NotEmpty(t, out.Result.Violations)
}

func TestAnalyze_GeneratorError(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	})

	out := newTestEngine(gen).Analyze(context.Background(), "text", troubledData())

	assert.Equal(t, PathRules, out.Path)
	assert.Equal(t, resilience.KindTransient, resilience.KindOf(out.Err))
}

func TestAnalyze_NoGenerator(t *testing.T) {
	out := newTestEngine(nil).Analyze(context.Background(), "", model.EmptyCreditData())
	assert.Equal(t, PathRules, out.Path)
	assert.NoError(t, out.Err)
	assert.NotNil(t, out.Result.Violations)
}

func TestLoadCatalog(t *testing.T) {
	_, err := LoadCatalog([]byte("catalog: {}"))
	assert.Error(t, err)

	c, err := LoadCatalog(catalogYAML)
	require.NoError(t, err)
	for _, id := range []string{"collections", "late_payments", "high_utilization", "many_inquiries", "unverified_items"} {
		assert.NotEmpty(t, c.recommendations(id), id)
	}
}

func TestBuildPrompt_ClipsExcerptOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("a", maxPromptExcerpt-1) + "ñ tail"
	prompt, err := buildPrompt(text, model.EmptyCreditData())
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(prompt))
	assert.NotContains(t, prompt, "tail")
}
