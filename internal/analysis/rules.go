package analysis

import (
	"fmt"
	"strings"

	"github.com/sells-group/credit-pipeline/internal/model"
)

const (
	highUtilizationPct = 30.0
	manyInquiries      = 4
	lowScore           = 620
)

// riskFactor is one rule-derived finding.
type riskFactor struct {
	id   string
	text string
}

// Utilization returns revolving utilization as a percentage over accounts
// that report a credit limit. ok is false when no account has a limit.
func Utilization(accounts []model.Account) (pct float64, ok bool) {
	var balance, limit float64
	for _, a := range accounts {
		if a.CreditLimit == nil || *a.CreditLimit <= 0 {
			continue
		}
		balance += a.Balance
		limit += *a.CreditLimit
	}
	if limit == 0 {
		return 0, false
	}
	return balance / limit * 100, true
}

func riskFactors(data model.StructuredCreditData) []riskFactor {
	counts := map[model.NegativeItemType]int{}
	unverified := 0
	for _, n := range data.NegativeItems {
		counts[n.Type]++
		if n.Unverified {
			unverified++
		}
	}

	var out []riskFactor
	add := func(id, format string, args ...any) {
		out = append(out, riskFactor{id: id, text: fmt.Sprintf(format, args...)})
	}

	if n := counts[model.NegativeCollection]; n > 0 {
		add("collections", "%s in collections", plural(n, "account"))
	}
	if n := counts[model.NegativeLatePayment]; n > 0 {
		add("late_payments", "%s reported late", plural(n, "account"))
	}
	if n := counts[model.NegativeChargeOff]; n > 0 {
		add("charge_offs", "%s charged off", plural(n, "account"))
	}
	if n := counts[model.NegativeBankruptcy]; n > 0 {
		add("bankruptcy", "Bankruptcy on file")
	}
	if n := counts[model.NegativeRepossession] + counts[model.NegativeForeclosure]; n > 0 {
		add("repossession_foreclosure", "%s", plural(n, "repossession or foreclosure"))
	}
	if n := len(data.PublicRecords); n > 0 {
		add("public_records", "%s", plural(n, "public record"))
	}
	if pct, ok := Utilization(data.Accounts); ok && pct > highUtilizationPct {
		add("high_utilization", "Revolving utilization of %.0f%% is above %.0f%%", pct, highUtilizationPct)
	}
	if n := len(data.Inquiries); n >= manyInquiries {
		add("many_inquiries", "%s on file", plural(n, "credit inquiry"))
	}
	if data.CreditScore != nil && data.CreditScore.Value < lowScore {
		add("low_score", "Credit score of %d is below %d", data.CreditScore.Value, lowScore)
	}
	if len(data.Accounts) == 0 && data.CreditScore != nil {
		add("thin_file", "No open tradelines were found")
	}
	if unverified > 0 {
		add("unverified_items", "%s reported without verification", plural(unverified, "item"))
	}
	return out
}

// Fallback derives an analysis from structured data with fixed rules and
// the recommendation catalog. Violations are attached by the caller.
func Fallback(data model.StructuredCreditData) model.AnalysisResult {
	return fallbackWith(defaultCatalog, data)
}

func fallbackWith(cat *Catalog, data model.StructuredCreditData) model.AnalysisResult {
	factors := riskFactors(data)
	res := model.AnalysisResult{
		DisputeOpportunities: disputeOpportunities(cat, data.NegativeItems),
	}

	if len(factors) == 0 {
		res.Summary = cat.Healthy.Summary
		res.Recommendations = append([]string{}, cat.Healthy.Recommendations...)
		res.Normalize()
		return res
	}

	seen := map[string]bool{}
	for _, f := range factors {
		res.RiskFactors = append(res.RiskFactors, f.text)
		for _, r := range cat.recommendations(f.id) {
			if !seen[r] {
				seen[r] = true
				res.Recommendations = append(res.Recommendations, r)
			}
		}
	}
	res.Summary = summarize(data, len(factors))
	res.Normalize()
	return res
}

func disputeOpportunities(cat *Catalog, items []model.NegativeItem) []model.DisputeOpportunity {
	var out []model.DisputeOpportunity
	for _, n := range items {
		switch {
		case n.Unverified:
			out = append(out, model.DisputeOpportunity{
				Item:            itemLabel(n),
				Reason:          "Item is reported without verification; the bureau must verify it or remove it.",
				Likelihood:      model.LikelihoodHigh,
				PotentialImpact: cat.Impacts["unverified"],
			})
		case n.Type == model.NegativeCollection:
			out = append(out, model.DisputeOpportunity{
				Item:            itemLabel(n),
				Reason:          "Collection accounts can be challenged with a debt validation request.",
				Likelihood:      model.LikelihoodMedium,
				PotentialImpact: cat.Impacts["collection"],
			})
		}
	}
	return out
}

func itemLabel(n model.NegativeItem) string {
	label := strings.ReplaceAll(string(n.Type), "_", " ")
	if n.Creditor != "" {
		label = n.Creditor + " " + label
	}
	if n.Amount > 0 {
		label += fmt.Sprintf(" ($%.2f)", n.Amount)
	}
	return label
}

func summarize(data model.StructuredCreditData, factors int) string {
	var sb strings.Builder
	if s := data.CreditScore; s != nil {
		fmt.Fprintf(&sb, "Credit score %d", s.Value)
		if s.Bureau != "" {
			fmt.Fprintf(&sb, " (%s)", s.Bureau)
		}
		sb.WriteString(" with ")
	} else {
		sb.WriteString("Report with ")
	}
	fmt.Fprintf(&sb, "%s, %s and %s. ",
		plural(len(data.Accounts), "account"),
		plural(len(data.NegativeItems), "negative item"),
		plural(len(data.Inquiries), "inquiry"))
	fmt.Fprintf(&sb, "%s identified.", plural(factors, "risk factor"))
	return sb.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		noun = strings.TrimSuffix(noun, "y") + "ies"
	} else {
		noun += "s"
	}
	return fmt.Sprintf("%d %s", n, noun)
}
