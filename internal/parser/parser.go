// Package parser turns extracted report text into StructuredCreditData,
// using a generative model when one is configured and a deterministic
// regex extractor otherwise.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/llm"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Path records which extractor produced the data.
type Path string

const (
	PathModel    Path = "model"
	PathFallback Path = "fallback"
)

// Outcome is the result of structured extraction. Data is always fully
// shaped. Err is the reason the model path was abandoned, if any.
type Outcome struct {
	Data model.StructuredCreditData
	Path Path
	Err  error
}

// maxPromptText caps the report text sent to the model.
const maxPromptText = 60000

const structuredSchema = `{
  "type": "object",
  "required": ["personal_info", "credit_score", "accounts", "negative_items", "inquiries", "public_records"],
  "properties": {
    "personal_info": {"type": "object"},
    "credit_score": {"type": ["object", "null"]},
    "accounts": {"type": "array", "items": {"type": "object"}},
    "negative_items": {"type": ["array", "null"], "items": {"type": "object"}},
    "inquiries": {"type": "array", "items": {"type": "object"}},
    "public_records": {"type": "array", "items": {"type": "object"}}
  }
}`

var schema = llm.CompileSchema("structured_credit_data.json", structuredSchema)

// Extractor produces StructuredCreditData from text.
type Extractor struct {
	gen     llm.Generator
	timeout time.Duration
}

// New creates an Extractor. gen may be nil, in which case every call uses
// the fallback path.
func New(gen llm.Generator, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Extractor{gen: gen, timeout: timeout}
}

// Extract never fails. Model errors, timeouts, and malformed responses all
// fall back to Fallback(text).
func (e *Extractor) Extract(ctx context.Context, text string, extractionConfidence float64) Outcome {
	log := zap.L().With(zap.String("component", "parser"))

	if e.gen == nil {
		return Outcome{Data: Fallback(text), Path: PathFallback}
	}
	if strings.TrimSpace(text) == "" {
		return Outcome{Data: Fallback(text), Path: PathFallback}
	}

	data, err := e.fromModel(ctx, text, extractionConfidence)
	if err != nil {
		log.Warn("parser: model extraction failed, using fallback",
			zap.String("generator", e.gen.Name()),
			zap.String("error_kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		return Outcome{Data: Fallback(text), Path: PathFallback, Err: err}
	}
	log.Debug("parser: model extraction succeeded",
		zap.Int("accounts", len(data.Accounts)),
		zap.Int("inquiries", len(data.Inquiries)),
	)
	return Outcome{Data: data, Path: PathModel}
}

func (e *Extractor) fromModel(ctx context.Context, text string, extractionConfidence float64) (model.StructuredCreditData, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.gen.Generate(cctx, buildPrompt(text, extractionConfidence))
	if err != nil {
		if resilience.KindOf(err) == resilience.KindUnknown {
			err = resilience.Transient(err)
		}
		return model.StructuredCreditData{}, eris.Wrap(err, "parser: generate")
	}

	raw, err := llm.DecodeResponse(resp, schema)
	if err != nil {
		return model.StructuredCreditData{}, err
	}
	return decode(raw)
}

func buildPrompt(text string, extractionConfidence float64) string {
	text = llm.ClipText(text, maxPromptText)
	var sb strings.Builder
	sb.WriteString(`Extract structured data from the credit report text below.
Return ONLY one JSON object with exactly these top-level keys:
  "personal_info": {"name", "address", "ssn_last4", "dob", "phone"}
  "credit_score": {"value", "bureau", "date", "range"} or null if no score appears
  "accounts": [{"creditor", "account_number", "account_type", "status", "balance", "credit_limit", "date_opened", "last_reported"}]
  "negative_items": [{"type", "creditor", "amount", "date", "status", "unverified"}] or null if the report has no negative items section
  "inquiries": [{"creditor", "date", "type"}]
  "public_records": [{"type", "court", "date", "amount", "status"}]
Use numbers for amounts, YYYY-MM-DD for dates, and empty strings or empty arrays when a value is absent.
negative_items.type is one of collection, late_payment, charge_off, bankruptcy, repossession, foreclosure, other.
Never include a full Social Security number.
`)
	fmt.Fprintf(&sb, "The text was extracted with %.0f%% confidence; do not guess at unreadable values.\n\n", extractionConfidence)
	sb.WriteString("Credit report text:\n")
	sb.WriteString(text)
	return sb.String()
}

type rawCredit struct {
	PersonalInfo  map[string]any   `json:"personal_info"`
	CreditScore   map[string]any   `json:"credit_score"`
	Accounts      []map[string]any `json:"accounts"`
	NegativeItems []map[string]any `json:"negative_items"`
	Inquiries     []map[string]any `json:"inquiries"`
	PublicRecords []map[string]any `json:"public_records"`
}

// decode coerces a schema-valid model object into canonical types.
func decode(raw json.RawMessage) (model.StructuredCreditData, error) {
	var rc rawCredit
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rc); err != nil {
		return model.StructuredCreditData{}, resilience.Parse(eris.Wrap(err, "parser: decode model object"))
	}

	out := model.EmptyCreditData()
	out.PersonalInfo = personalInfo(rc.PersonalInfo)
	out.CreditScore = creditScore(rc.CreditScore)
	for _, m := range rc.Accounts {
		out.Accounts = append(out.Accounts, account(m))
	}
	if rc.NegativeItems != nil {
		out.NegativeItems = make([]model.NegativeItem, 0, len(rc.NegativeItems))
		for _, m := range rc.NegativeItems {
			out.NegativeItems = append(out.NegativeItems, negativeItem(m))
		}
	}
	for _, m := range rc.Inquiries {
		out.Inquiries = append(out.Inquiries, model.Inquiry{
			Creditor: Str(field(m, "creditor", "company", "name")),
			Date:     Date(field(m, "date", "inquiry_date")),
			Type:     strings.ToLower(Str(field(m, "type"))),
		})
	}
	for _, m := range rc.PublicRecords {
		out.PublicRecords = append(out.PublicRecords, model.PublicRecord{
			Type:   Str(field(m, "type")),
			Court:  Str(field(m, "court")),
			Date:   Date(field(m, "date", "date_filed")),
			Amount: Money(field(m, "amount")),
			Status: Str(field(m, "status")),
		})
	}
	out.Normalize()
	return out, nil
}

func personalInfo(m map[string]any) model.PersonalInfo {
	return model.PersonalInfo{
		Name:     titleName(Str(field(m, "name", "full_name"))),
		Address:  Str(field(m, "address", "current_address")),
		SSNLast4: Last4(Str(field(m, "ssn_last4", "ssn"))),
		DOB:      Date(field(m, "dob", "date_of_birth")),
		Phone:    Str(field(m, "phone", "phone_number")),
	}
}

func creditScore(m map[string]any) *model.CreditScore {
	if m == nil {
		return nil
	}
	v, ok := Int(field(m, "value", "score"))
	if !ok || v <= 0 {
		return nil
	}
	return &model.CreditScore{
		Value:  v,
		Bureau: Str(field(m, "bureau")),
		Date:   Date(field(m, "date")),
		Range:  Str(field(m, "range")),
	}
}

func account(m map[string]any) model.Account {
	return model.Account{
		Creditor:      Str(field(m, "creditor", "creditor_name")),
		AccountNumber: Str(field(m, "account_number")),
		AccountType:   Str(field(m, "account_type", "type")),
		Status:        Str(field(m, "status")),
		Balance:       Money(field(m, "balance")),
		CreditLimit:   OptionalMoney(field(m, "credit_limit", "limit")),
		DateOpened:    Date(field(m, "date_opened")),
		LastReported:  Date(field(m, "last_reported", "last_activity")),
	}
}

func negativeItem(m map[string]any) model.NegativeItem {
	typ := Str(field(m, "type"))
	status := Str(field(m, "status"))
	unverified, _ := field(m, "unverified").(bool)
	return model.NegativeItem{
		Type:       NegativeType(typ + " " + status),
		Creditor:   Str(field(m, "creditor", "creditor_name")),
		Amount:     Money(field(m, "amount", "balance")),
		Date:       Date(field(m, "date")),
		Status:     status,
		Unverified: unverified || isUnverified(status),
	}
}

// field returns the first present value among keys.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
