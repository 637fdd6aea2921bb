// Package pii classifies which sensitive fields and text patterns a
// processed report contains.
package pii

import (
	"regexp"
	"sort"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// Sensitivity is the handling class of a field.
type Sensitivity int

const (
	Public Sensitivity = iota
	Internal
	Confidential
	Restricted
)

func (s Sensitivity) String() string {
	switch s {
	case Public:
		return "public"
	case Internal:
		return "internal"
	case Confidential:
		return "confidential"
	case Restricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// Field names a location in StructuredCreditData.
type Field string

const (
	FieldName          Field = "personal_info.name"
	FieldAddress       Field = "personal_info.address"
	FieldSSNLast4      Field = "personal_info.ssn_last4"
	FieldDOB           Field = "personal_info.dob"
	FieldPhone         Field = "personal_info.phone"
	FieldScore         Field = "credit_score.value"
	FieldAccountNumber Field = "accounts.account_number"
	FieldBalance       Field = "accounts.balance"
	FieldCreditor      Field = "accounts.creditor"
	FieldInquiry       Field = "inquiries.creditor"
	FieldPublicRecord  Field = "public_records.court"
)

// Classification is the closed field table. Fields absent from it are public.
var Classification = map[Field]Sensitivity{
	FieldName:          Confidential,
	FieldAddress:       Confidential,
	FieldPhone:         Confidential,
	FieldSSNLast4:      Restricted,
	FieldDOB:           Restricted,
	FieldAccountNumber: Restricted,
	FieldScore:         Internal,
	FieldBalance:       Internal,
	FieldCreditor:      Internal,
	FieldInquiry:       Internal,
	FieldPublicRecord:  Public,
}

// Pattern is a sensitive shape searched for in raw text.
type Pattern struct {
	Name        string
	Sensitivity Sensitivity
	re          *regexp.Regexp
}

// Patterns are evaluated against extracted text.
var Patterns = []Pattern{
	{Name: "ssn", Sensitivity: Restricted, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{Name: "dob", Sensitivity: Restricted, re: regexp.MustCompile(`(?i)\b(date\s+of\s+birth|birth\s*date|dob)\b`)},
	{Name: "account_number", Sensitivity: Restricted, re: regexp.MustCompile(`\b\d{12,19}\b`)},
	{Name: "email", Sensitivity: Confidential, re: regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)},
}

// Report lists what was found. Detected is true when any confidential or
// restricted field or pattern is present.
type Report struct {
	Detected bool             `json:"detected"`
	Highest  Sensitivity      `json:"-"`
	Fields   map[Field]string `json:"fields"`
	Patterns []string         `json:"patterns"`
}

// Detect evaluates the field table against data and the patterns against
// text.
func Detect(text string, data model.StructuredCreditData) Report {
	r := Report{Fields: map[Field]string{}, Patterns: []string{}}
	mark := func(f Field, present bool) {
		if !present {
			return
		}
		s := Classification[f]
		r.Fields[f] = s.String()
		r.raise(s)
	}

	p := data.PersonalInfo
	mark(FieldName, p.Name != "")
	mark(FieldAddress, p.Address != "")
	mark(FieldSSNLast4, p.SSNLast4 != "")
	mark(FieldDOB, p.DOB != "")
	mark(FieldPhone, p.Phone != "")
	mark(FieldScore, data.CreditScore != nil)
	for _, a := range data.Accounts {
		mark(FieldAccountNumber, a.AccountNumber != "")
		mark(FieldBalance, true)
		mark(FieldCreditor, a.Creditor != "")
	}
	mark(FieldInquiry, len(data.Inquiries) > 0)
	mark(FieldPublicRecord, len(data.PublicRecords) > 0)

	for _, pat := range Patterns {
		if pat.re.MatchString(text) {
			r.Patterns = append(r.Patterns, pat.Name)
			r.raise(pat.Sensitivity)
		}
	}
	sort.Strings(r.Patterns)
	r.Detected = r.Highest >= Confidential
	return r
}

func (r *Report) raise(s Sensitivity) {
	if s > r.Highest {
		r.Highest = s
	}
}
