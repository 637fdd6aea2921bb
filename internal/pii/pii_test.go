package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func TestDetect_Fields(t *testing.T) {
	d := model.EmptyCreditData()
	d.PersonalInfo.Name = "Jane Roe"
	d.Accounts = []model.Account{{Creditor: "Chase", AccountNumber: "****1234"}}

	r := Detect("", d)

	assert.True(t, r.Detected)
	assert.Equal(t, Restricted, r.Highest)
	assert.Equal(t, "confidential", r.Fields[FieldName])
	assert.Equal(t, "restricted", r.Fields[FieldAccountNumber])
	assert.Equal(t, "internal", r.Fields[FieldCreditor])
	assert.Empty(t, r.Patterns)
}

func TestDetect_InternalOnlyIsNotPII(t *testing.T) {
	d := model.EmptyCreditData()
	d.CreditScore = &model.CreditScore{Value: 700}
	d.Inquiries = []model.Inquiry{{Creditor: "Best Buy"}}

	r := Detect("Credit Score: 700", d)

	assert.False(t, r.Detected)
	assert.Equal(t, Internal, r.Highest)
}

func TestDetect_TextPatterns(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"SSN 123-45-6789", []string{"ssn"}},
		{"Date of Birth: 01/02/1980", []string{"dob"}},
		{"Acct 4111111111111111", []string{"account_number"}},
		{"mail jane@example.com about 123-45-6789", []string{"email", "ssn"}},
	}
	for _, tt := range tests {
		r := Detect(tt.text, model.EmptyCreditData())
		assert.True(t, r.Detected, tt.text)
		assert.Equal(t, tt.want, r.Patterns, tt.text)
	}
}

func TestDetect_Empty(t *testing.T) {
	r := Detect("", model.EmptyCreditData())
	assert.False(t, r.Detected)
	assert.Equal(t, Public, r.Highest)
	assert.NotNil(t, r.Fields)
	assert.NotNil(t, r.Patterns)
}

func TestClassificationCoversEveryField(t *testing.T) {
	for _, f := range []Field{FieldName, FieldAddress, FieldSSNLast4, FieldDOB, FieldPhone, FieldScore,
		FieldAccountNumber, FieldBalance, FieldCreditor, FieldInquiry, FieldPublicRecord} {
		_, ok := Classification[f]
		assert.True(t, ok, f)
	}
}
