package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func TestFallback_SampleReport(t *testing.T) {
	d := Fallback(sampleReport)

	assert.Equal(t, "John A Doe", d.PersonalInfo.Name)
	assert.Equal(t, "123 Main St, Springfield, IL 62701", d.PersonalInfo.Address)
	assert.Equal(t, "1234", d.PersonalInfo.SSNLast4)
	assert.Equal(t, "1980-01-15", d.PersonalInfo.DOB)
	assert.Equal(t, "(555) 123-4567", d.PersonalInfo.Phone)

	require.NotNil(t, d.CreditScore)
	assert.Equal(t, 720, d.CreditScore.Value)
	assert.Equal(t, "Experian", d.CreditScore.Bureau)
	assert.Equal(t, "300-850", d.CreditScore.Range)
	assert.Equal(t, "2024-03-01", d.CreditScore.Date)

	require.Len(t, d.Accounts, 2)
	chase := d.Accounts[0]
	assert.Equal(t, "Chase Bank", chase.Creditor)
	assert.Equal(t, "****1234", chase.AccountNumber)
	assert.Equal(t, 2500.0, chase.Balance)
	require.NotNil(t, chase.CreditLimit)
	assert.Equal(t, 5000.0, *chase.CreditLimit)
	assert.Equal(t, "2015-01-15", chase.DateOpened)
	assert.Equal(t, "2024-02-01", chase.LastReported)

	require.Len(t, d.NegativeItems, 2)
	assert.Equal(t, model.NegativeCollection, d.NegativeItems[0].Type)
	assert.Equal(t, "ABC Collections", d.NegativeItems[0].Creditor)
	assert.Equal(t, 450.0, d.NegativeItems[0].Amount)
	assert.True(t, d.NegativeItems[0].Unverified)
	assert.Equal(t, model.NegativeLatePayment, d.NegativeItems[1].Type)
	assert.Equal(t, "Capital One", d.NegativeItems[1].Creditor)

	require.Len(t, d.Inquiries, 2)
	assert.Equal(t, model.Inquiry{Creditor: "Best Buy", Date: "2023-12-01", Type: "hard"}, d.Inquiries[0])
	assert.Equal(t, model.Inquiry{Creditor: "Auto Lender", Date: "2023-11-15"}, d.Inquiries[1])

	assert.NotNil(t, d.PublicRecords)
	assert.Empty(t, d.PublicRecords)
}

func TestFallback_Deterministic(t *testing.T) {
	a, err := json.Marshal(Fallback(sampleReport))
	require.NoError(t, err)
	b, err := json.Marshal(Fallback(sampleReport))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestFallback_AlwaysFullyShaped(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"lorem ipsum dolor sit amet",
		"CREDIT REPORT DOCUMENT\nAutomated text extraction was unavailable for this document.\n",
		"Accounts\n\nInquiries\n",
		"{\"not\": \"a report\"}",
	}
	for _, in := range inputs {
		raw, err := json.Marshal(Fallback(in))
		require.NoError(t, err)

		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &m))
		for _, key := range model.RequiredKeys {
			assert.Contains(t, m, key, "input %q", in)
		}
		assert.Equal(t, "[]", string(m["accounts"]))
		assert.Equal(t, "[]", string(m["inquiries"]))
		assert.Equal(t, "[]", string(m["public_records"]))
	}
}

func TestFallback_NegativeSectionNone(t *testing.T) {
	d := Fallback("Name: Jane Roe\nNegative Items\nNone reported\n")
	assert.NotNil(t, d.NegativeItems)
	assert.Empty(t, d.NegativeItems)

	d = Fallback("Name: Jane Roe\n")
	assert.Nil(t, d.NegativeItems)
}

func TestFallback_PublicRecords(t *testing.T) {
	text := "Public Records\nType: Chapter 7 Bankruptcy\nCourt: US Bankruptcy Court\nDate Filed: 03/10/2012\nAmount: $12,000\nStatus: Discharged\n"
	d := Fallback(text)
	require.Len(t, d.PublicRecords, 1)
	assert.Equal(t, model.PublicRecord{
		Type:   "Chapter 7 Bankruptcy",
		Court:  "US Bankruptcy Court",
		Date:   "2012-03-10",
		Amount: 12000,
		Status: "Discharged",
	}, d.PublicRecords[0])
}

func TestFallback_ScoreOutOfRangeIgnored(t *testing.T) {
	d := Fallback("Score: 123\n")
	assert.Nil(t, d.CreditScore)
}
