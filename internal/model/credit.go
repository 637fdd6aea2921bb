package model

// PersonalInfo holds the consumer identity block of a credit report.
type PersonalInfo struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	SSNLast4 string `json:"ssn_last4,omitempty"`
	DOB      string `json:"dob,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Complete reports whether the identity block has a name and an address.
func (p PersonalInfo) Complete() bool {
	return p.Name != "" && p.Address != ""
}

// CreditScore is a single bureau score.
type CreditScore struct {
	Value  int    `json:"value"`
	Bureau string `json:"bureau"`
	Date   string `json:"date"`
	Range  string `json:"range"`
}

// Account is a tradeline reported on the credit file.
type Account struct {
	Creditor      string   `json:"creditor"`
	AccountNumber string   `json:"account_number"`
	AccountType   string   `json:"account_type"`
	Status        string   `json:"status"`
	Balance       float64  `json:"balance"`
	CreditLimit   *float64 `json:"credit_limit"`
	DateOpened    string   `json:"date_opened"`
	LastReported  string   `json:"last_reported"`
}

// NegativeItemType classifies derogatory entries.
type NegativeItemType string

const (
	NegativeCollection   NegativeItemType = "collection"
	NegativeLatePayment  NegativeItemType = "late_payment"
	NegativeChargeOff    NegativeItemType = "charge_off"
	NegativeBankruptcy   NegativeItemType = "bankruptcy"
	NegativeRepossession NegativeItemType = "repossession"
	NegativeForeclosure  NegativeItemType = "foreclosure"
	NegativeOther        NegativeItemType = "other"
)

// NegativeItem is a derogatory entry (collection, late payment, charge-off...).
type NegativeItem struct {
	Type       NegativeItemType `json:"type"`
	Creditor   string           `json:"creditor"`
	Amount     float64          `json:"amount"`
	Date       string           `json:"date"`
	Status     string           `json:"status"`
	Unverified bool             `json:"unverified"`
}

// Inquiry is a credit pull.
type Inquiry struct {
	Creditor string `json:"creditor"`
	Date     string `json:"date"`
	Type     string `json:"type"`
}

// PublicRecord is a court or government record (bankruptcy, judgment, lien).
type PublicRecord struct {
	Type   string  `json:"type"`
	Court  string  `json:"court"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

// StructuredCreditData is the canonical schema extracted from a report.
// Every top-level key is always present when marshaled. NegativeItems and
// CreditScore marshal as null when nothing was observed; the other
// collections marshal as empty arrays.
type StructuredCreditData struct {
	PersonalInfo  PersonalInfo   `json:"personal_info"`
	CreditScore   *CreditScore   `json:"credit_score"`
	Accounts      []Account      `json:"accounts"`
	NegativeItems []NegativeItem `json:"negative_items"`
	Inquiries     []Inquiry      `json:"inquiries"`
	PublicRecords []PublicRecord `json:"public_records"`
}

// RequiredKeys lists the top-level JSON keys of StructuredCreditData.
var RequiredKeys = []string{
	"personal_info",
	"credit_score",
	"accounts",
	"negative_items",
	"inquiries",
	"public_records",
}

// EmptyCreditData returns the canonical empty shape.
func EmptyCreditData() StructuredCreditData {
	return StructuredCreditData{
		Accounts:      []Account{},
		Inquiries:     []Inquiry{},
		PublicRecords: []PublicRecord{},
	}
}

// Normalize fills nil collections so that the marshaled shape is stable.
// NegativeItems is left as-is: nil means no negative-items section was seen.
func (d *StructuredCreditData) Normalize() {
	if d.Accounts == nil {
		d.Accounts = []Account{}
	}
	if d.Inquiries == nil {
		d.Inquiries = []Inquiry{}
	}
	if d.PublicRecords == nil {
		d.PublicRecords = []PublicRecord{}
	}
}

// DataQuality summarizes what structured extraction found.
type DataQuality struct {
	AccountsFound        int  `json:"accounts_found"`
	NegativeItemsFound   int  `json:"negative_items_found"`
	InquiriesFound       int  `json:"inquiries_found"`
	ScoresFound          int  `json:"scores_found"`
	PersonalInfoComplete bool `json:"personal_info_complete"`
}

// Quality derives the DataQuality summary for monitoring.
func (d StructuredCreditData) Quality() DataQuality {
	q := DataQuality{
		AccountsFound:        len(d.Accounts),
		NegativeItemsFound:   len(d.NegativeItems),
		InquiriesFound:       len(d.Inquiries),
		PersonalInfoComplete: d.PersonalInfo.Complete(),
	}
	if d.CreditScore != nil {
		q.ScoresFound = 1
	}
	return q
}
