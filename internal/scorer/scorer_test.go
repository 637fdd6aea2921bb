package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func fullData() model.StructuredCreditData {
	d := model.EmptyCreditData()
	d.PersonalInfo.Name = "Jane Roe"
	d.CreditScore = &model.CreditScore{Value: 700}
	d.Accounts = []model.Account{{Creditor: "Chase"}}
	d.NegativeItems = []model.NegativeItem{}
	return d
}

func TestCompleteness(t *testing.T) {
	assert.Equal(t, 0.0, Completeness(model.EmptyCreditData()))
	assert.Equal(t, 100.0, Completeness(fullData()))

	d := fullData()
	d.NegativeItems = nil
	assert.Equal(t, 75.0, Completeness(d))

	d.Accounts = []model.Account{}
	assert.Equal(t, 50.0, Completeness(d))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		extraction float64
		data       model.StructuredCreditData
		want       float64
	}{
		{"full structured", 95, fullData(), 97.5},
		{"empty fallback", 60, model.EmptyCreditData(), 30},
		{"clamps high", 250, fullData(), 100},
		{"clamps low", -40, model.EmptyCreditData(), 0},
		{"nan", math.NaN(), fullData(), 50},
		{"rounds", 82.333, model.EmptyCreditData(), 41.17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.extraction, tt.data))
		})
	}
}

func TestScore_OCRScenario(t *testing.T) {
	d := model.EmptyCreditData()
	d.PersonalInfo.Name = "John Doe"
	d.CreditScore = &model.CreditScore{Value: 640}
	d.NegativeItems = []model.NegativeItem{{Type: model.NegativeCollection}}

	got := Score(82, d)
	assert.Equal(t, 78.5, got)
	assert.GreaterOrEqual(t, got, 70.0)
	assert.LessOrEqual(t, got, 85.0)
}

func TestScore_Deterministic(t *testing.T) {
	d := fullData()
	first := Score(85, d)
	for range 100 {
		assert.Equal(t, first, Score(85, d))
	}
}

func TestMethodReliability_Ordering(t *testing.T) {
	d := fullData()
	structured := Score(MethodReliability(model.MethodStructuredProcessor), d)
	ocr := Score(MethodReliability(model.MethodOCR), d)
	fallback := Score(MethodReliability(model.MethodFallback), d)

	assert.GreaterOrEqual(t, structured, ocr)
	assert.GreaterOrEqual(t, ocr, fallback)
	assert.Equal(t, 0.0, MethodReliability(model.Method("bogus")))
	for _, m := range model.AllMethods() {
		assert.Greater(t, MethodReliability(m), 0.0, m)
	}
}
