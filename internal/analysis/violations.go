package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/parser"
)

const (
	obsoleteYears           = 7
	obsoleteBankruptcyYears = 10
)

// DetectViolations flags FCRA reporting problems in data as of now:
// obsolete negative items and public records, zero-balance accounts
// reported delinquent, accounts missing required fields, and accounts
// reported more than once.
func DetectViolations(data model.StructuredCreditData, now time.Time) []model.Violation {
	out := []model.Violation{}

	for _, n := range data.NegativeItems {
		limit := obsoleteYears
		if n.Type == model.NegativeBankruptcy {
			limit = obsoleteBankruptcyYears
		}
		if age, ok := yearsSince(n.Date, now); ok && age > float64(limit) {
			out = append(out, obsolete(string(n.Type), n.Creditor, n.Date, limit))
		}
	}
	for _, r := range data.PublicRecords {
		limit := obsoleteYears
		if parser.NegativeType(r.Type) == model.NegativeBankruptcy {
			limit = obsoleteBankruptcyYears
		}
		if age, ok := yearsSince(r.Date, now); ok && age > float64(limit) {
			out = append(out, obsolete(r.Type, r.Court, r.Date, limit))
		}
	}

	seen := map[string]int{}
	for i, a := range data.Accounts {
		label := accountLabel(a)

		if a.Balance == 0 && parser.NegativeType(a.Status) != model.NegativeOther {
			out = append(out, model.Violation{
				Type:            model.ViolationAccuracy,
				Severity:        model.SeverityHigh,
				Title:           "Zero balance reported as delinquent",
				Description:     fmt.Sprintf("%s reports a $0 balance with status %q. A paid or closed account should not carry a delinquent status.", label, a.Status),
				AffectedAccount: label,
				LegalBasis:      "FCRA §623(a)(2)",
				DisputeReason:   "Inaccurate information",
			})
		}

		var missing []string
		if a.DateOpened == "" {
			missing = append(missing, "date opened")
		}
		if a.AccountType == "" {
			missing = append(missing, "account type")
		}
		if a.LastReported == "" {
			missing = append(missing, "last activity date")
		}
		if len(missing) > 0 {
			out = append(out, model.Violation{
				Type:            model.ViolationIncomplete,
				Severity:        model.SeverityLow,
				Title:           "Incomplete account information",
				Description:     fmt.Sprintf("%s is missing: %s.", label, strings.Join(missing, ", ")),
				AffectedAccount: label,
				LegalBasis:      "FCRA §611; Metro 2 required fields",
				DisputeReason:   "Incomplete information",
			})
		}

		if a.AccountNumber == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(a.Creditor)) + "|" + strings.ToLower(strings.TrimSpace(a.AccountNumber))
		if first, dup := seen[key]; dup {
			out = append(out, model.Violation{
				Type:            model.ViolationDuplicate,
				Severity:        model.SeverityMedium,
				Title:           "Duplicate account",
				Description:     fmt.Sprintf("%s appears as entries %d and %d on the report.", label, first+1, i+1),
				AffectedAccount: label,
				LegalBasis:      "FCRA §607(b)",
				DisputeReason:   "Account is reported more than once",
			})
			continue
		}
		seen[key] = i
	}
	return out
}

func obsolete(kind, who, date string, limit int) model.Violation {
	title := "Obsolete " + strings.ReplaceAll(kind, "_", " ")
	return model.Violation{
		Type:            model.ViolationObsolete,
		Severity:        model.SeverityHigh,
		Title:           title,
		Description:     fmt.Sprintf("%s dated %s is older than the %d-year reporting period.", strings.TrimSpace(who+" "+kind), date, limit),
		AffectedAccount: who,
		LegalBasis:      "FCRA §605(a)",
		DisputeReason:   "Information is obsolete",
	}
}

// yearsSince parses a YYYY-MM-DD date. ok is false for empty or malformed dates.
func yearsSince(date string, now time.Time) (float64, bool) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, false
	}
	return now.Sub(t).Hours() / (24 * 365.25), true
}

func accountLabel(a model.Account) string {
	if a.AccountNumber == "" {
		return a.Creditor
	}
	return a.Creditor + " " + a.AccountNumber
}
