package parser

import (
	"regexp"
	"strings"

	"github.com/sells-group/credit-pipeline/internal/model"
)

type section int

const (
	sectionNone section = iota
	sectionPersonal
	sectionAccounts
	sectionNegative
	sectionInquiries
	sectionPublic
)

var headings = []struct {
	re *regexp.Regexp
	s  section
}{
	{regexp.MustCompile(`(?i)^(personal|consumer|identification)\s+(information|info|data)$`), sectionPersonal},
	{regexp.MustCompile(`(?i)^(negative|adverse|derogatory)\s+(items|accounts|information)$|^collections?(\s+accounts)?$`), sectionNegative},
	{regexp.MustCompile(`(?i)^((credit|trade)\s*)?(accounts|lines|tradelines)$|^account\s+(history|summary|information)$`), sectionAccounts},
	{regexp.MustCompile(`(?i)^((hard|credit|soft)\s+)?inquir(y|ies)$`), sectionInquiries},
	{regexp.MustCompile(`(?i)^public\s+records?$`), sectionPublic},
}

var (
	reKeyValue = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 #/.'()-]{0,40}?)\s*:\s*(.*?)\s*$`)
	reSSN      = regexp.MustCompile(`(?i)\b(?:ssn|social\s+security(?:\s+(?:number|no\.?))?)\s*[:#]?\s*[X*\d]{3}-?[X*\d]{2}-?(\d{4})\b`)
	reDOB      = regexp.MustCompile(`(?i)\b(?:date\s+of\s+birth|birth\s*date|dob)\s*[:\-]?\s*(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}|[A-Za-z]+\.? \d{1,2}, \d{4})`)
	rePhone    = regexp.MustCompile(`(?i)\bphone(?:\s+number)?\s*[:\-]?\s*(\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4})`)
	reScore    = regexp.MustCompile(`(?i)\b(?:fico|vantage\s*score|credit)?\s*score\s*[:\-]?\s*(\d{3})\b`)
	reRange    = regexp.MustCompile(`(?i)\b(?:score\s+)?range\s*[:\-]?\s*(\d{3})\s*(?:-|to)\s*(\d{3})`)
	reBureau   = regexp.MustCompile(`(?i)\b(equifax|experian|transunion|trans union)\b`)
	reAsOf     = regexp.MustCompile(`(?i)\b(?:as of|report date|date of report|score date)\s*[:\-]?\s*(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2}|[A-Za-z]+\.? \d{1,2}, \d{4})`)
	reInquiry  = regexp.MustCompile(`^\s*(.+?)\s{2,}(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})(?:\s+(hard|soft))?\s*$`)
	reNone     = regexp.MustCompile(`(?i)^(none|none reported|no records? (found|reported)|n/a)\.?$`)
)

// block is one group of "Key: value" lines.
type block map[string]string

// Fallback extracts StructuredCreditData from report text with fixed
// patterns. It is pure: identical text yields identical output.
func Fallback(text string) model.StructuredCreditData {
	out := model.EmptyCreditData()
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	sections := map[section][]string{}
	seen := map[section]bool{}
	cur := sectionNone
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ":"))
		if s, ok := heading(trimmed); ok {
			cur = s
			seen[s] = true
			continue
		}
		sections[cur] = append(sections[cur], line)
	}

	header := append(append([]string{}, sections[sectionNone]...), sections[sectionPersonal]...)
	out.PersonalInfo = fallbackPersonal(header, text)
	out.CreditScore = fallbackScore(text)

	for _, b := range blocks(sections[sectionAccounts]) {
		if a, ok := blockAccount(b); ok {
			out.Accounts = append(out.Accounts, a)
		}
	}

	if seen[sectionNegative] {
		out.NegativeItems = []model.NegativeItem{}
		for _, b := range blocks(sections[sectionNegative]) {
			if n, ok := blockNegative(b); ok {
				out.NegativeItems = append(out.NegativeItems, n)
			}
		}
	}
	for _, a := range out.Accounts {
		if !isDerogatory(a.Status) || hasNegative(out.NegativeItems, a.Creditor) {
			continue
		}
		if out.NegativeItems == nil {
			out.NegativeItems = []model.NegativeItem{}
		}
		out.NegativeItems = append(out.NegativeItems, model.NegativeItem{
			Type:     NegativeType(a.Status),
			Creditor: a.Creditor,
			Amount:   a.Balance,
			Date:     a.LastReported,
			Status:   a.Status,
		})
	}

	out.Inquiries = fallbackInquiries(sections[sectionInquiries])

	for _, b := range blocks(sections[sectionPublic]) {
		typ := b.get("type", "record type")
		if typ == "" {
			continue
		}
		out.PublicRecords = append(out.PublicRecords, model.PublicRecord{
			Type:   typ,
			Court:  b.get("court", "filed in"),
			Date:   Date(b.get("date", "date filed", "filed")),
			Amount: Money(b.get("amount", "liability")),
			Status: b.get("status"),
		})
	}

	out.Normalize()
	return out
}

func heading(line string) (section, bool) {
	if line == "" || len(line) > 40 {
		return sectionNone, false
	}
	for _, h := range headings {
		if h.re.MatchString(line) {
			return h.s, true
		}
	}
	return sectionNone, false
}

// blocks groups key/value lines. A blank line or a repeated key starts a
// new block.
func blocks(lines []string) []block {
	var out []block
	cur := block{}
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = block{}
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		m := reKeyValue.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := normalizeKey(m[1])
		if _, dup := cur[key]; dup {
			flush()
		}
		cur[key] = m[2]
	}
	flush()
	return out
}

func normalizeKey(k string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(k))), " ")
}

func (b block) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(b[k]); v != "" {
			return v
		}
	}
	return ""
}

func blockAccount(b block) (model.Account, bool) {
	creditor := b.get("creditor", "creditor name", "account name", "company", "lender")
	if creditor == "" {
		return model.Account{}, false
	}
	return model.Account{
		Creditor:      creditor,
		AccountNumber: b.get("account number", "account #", "acct #", "account no.", "account no"),
		AccountType:   b.get("account type", "type"),
		Status:        b.get("status", "payment status", "account status"),
		Balance:       Money(b.get("balance", "current balance")),
		CreditLimit:   OptionalMoney(b.get("credit limit", "limit", "high credit")),
		DateOpened:    Date(b.get("date opened", "opened", "open date")),
		LastReported:  Date(b.get("last reported", "date reported", "last activity", "reported")),
	}, true
}

func blockNegative(b block) (model.NegativeItem, bool) {
	creditor := b.get("creditor", "creditor name", "account name", "company", "collection agency", "agency")
	typ := b.get("type", "item type")
	if creditor == "" && typ == "" {
		return model.NegativeItem{}, false
	}
	status := b.get("status")
	verified := strings.ToLower(b.get("verified"))
	return model.NegativeItem{
		Type:       NegativeType(typ + " " + status),
		Creditor:   creditor,
		Amount:     Money(b.get("amount", "balance", "original amount")),
		Date:       Date(b.get("date", "date reported", "date of delinquency", "date opened")),
		Status:     status,
		Unverified: isUnverified(status) || verified == "no" || verified == "false",
	}, true
}

func hasNegative(items []model.NegativeItem, creditor string) bool {
	for _, n := range items {
		if strings.EqualFold(n.Creditor, creditor) {
			return true
		}
	}
	return false
}

func fallbackPersonal(lines []string, text string) model.PersonalInfo {
	var p model.PersonalInfo
	for _, line := range lines {
		m := reKeyValue.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch normalizeKey(m[1]) {
		case "name", "consumer name", "full name", "consumer":
			if p.Name == "" {
				p.Name = titleName(m[2])
			}
		case "address", "current address", "mailing address":
			if p.Address == "" {
				p.Address = strings.Join(strings.Fields(m[2]), " ")
			}
		}
	}
	if m := reSSN.FindStringSubmatch(text); m != nil {
		p.SSNLast4 = m[1]
	}
	if m := reDOB.FindStringSubmatch(text); m != nil {
		p.DOB = Date(m[1])
	}
	if m := rePhone.FindStringSubmatch(text); m != nil {
		p.Phone = m[1]
	}
	return p
}

func fallbackScore(text string) *model.CreditScore {
	var value int
	for _, m := range reScore.FindAllStringSubmatch(text, -1) {
		if v, ok := Int(m[1]); ok && v >= 300 && v <= 900 {
			value = v
			break
		}
	}
	if value == 0 {
		return nil
	}
	s := &model.CreditScore{Value: value, Range: "300-850"}
	if m := reBureau.FindStringSubmatch(text); m != nil {
		s.Bureau = bureauName(m[1])
	}
	if m := reRange.FindStringSubmatch(text); m != nil {
		s.Range = m[1] + "-" + m[2]
	}
	if m := reAsOf.FindStringSubmatch(text); m != nil {
		s.Date = Date(m[1])
	}
	return s
}

func bureauName(s string) string {
	switch strings.ToLower(strings.ReplaceAll(s, " ", "")) {
	case "equifax":
		return "Equifax"
	case "experian":
		return "Experian"
	default:
		return "TransUnion"
	}
}

func fallbackInquiries(lines []string) []model.Inquiry {
	out := []model.Inquiry{}
	for _, b := range blocks(lines) {
		creditor := b.get("creditor", "company", "inquirer", "creditor name")
		if creditor == "" {
			continue
		}
		out = append(out, model.Inquiry{
			Creditor: creditor,
			Date:     Date(b.get("date", "inquiry date")),
			Type:     strings.ToLower(b.get("type")),
		})
	}
	if len(out) > 0 {
		return out
	}
	for _, line := range lines {
		if reNone.MatchString(strings.TrimSpace(line)) {
			continue
		}
		m := reInquiry.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, model.Inquiry{
			Creditor: m[1],
			Date:     Date(m[2]),
			Type:     strings.ToLower(m[3]),
		})
	}
	return out
}
