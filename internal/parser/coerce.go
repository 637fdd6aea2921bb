package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// Str converts scalar JSON values to a trimmed string.
func Str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

var moneyStrip = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "", "usd", "")

// parseMoney parses amounts like "$1,234.50" and "(12.00)". ok is false when
// v holds no number.
func parseMoney(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case string:
		s := moneyStrip.Replace(strings.TrimSpace(t))
		neg := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			neg = true
			s = s[1 : len(s)-1]
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		if neg {
			f = -f
		}
		return f, true
	default:
		return 0, false
	}
}

// Money returns the amount in v, or 0 when v is not a number.
func Money(v any) float64 {
	f, _ := parseMoney(v)
	return f
}

// OptionalMoney returns nil when v is absent or unparseable.
func OptionalMoney(v any) *float64 {
	f, ok := parseMoney(v)
	if !ok {
		return nil
	}
	return &f
}

// Int parses integers, including ones quoted as strings.
func Int(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	case float64:
		return int(math.Round(t)), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"01/02/06",
	"1/2/06",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01",
	"01/2006",
	"1/2006",
	"January 2006",
	"Jan 2006",
}

// Date normalizes a date to YYYY-MM-DD. Month-only dates use the first of
// the month. Unparseable input yields "".
func Date(v any) string {
	s := Str(v)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

var digits = regexp.MustCompile(`\d`)

// Last4 returns the last four digits of an identifier, or "" if it has
// fewer than four.
func Last4(s string) string {
	d := strings.Join(digits.FindAllString(s, -1), "")
	if len(d) < 4 {
		return ""
	}
	return d[len(d)-4:]
}

var titler = cases.Title(language.English)

func titleName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return titler.String(strings.ToLower(s))
}

// NegativeType maps free text to a NegativeItemType.
func NegativeType(s string) model.NegativeItemType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "bankrupt"):
		return model.NegativeBankruptcy
	case strings.Contains(s, "foreclos"):
		return model.NegativeForeclosure
	case strings.Contains(s, "repossess"):
		return model.NegativeRepossession
	case strings.Contains(s, "charge") && strings.Contains(s, "off"), strings.Contains(s, "charged"):
		return model.NegativeChargeOff
	case strings.Contains(s, "collection"):
		return model.NegativeCollection
	case strings.Contains(s, "late"), strings.Contains(s, "past due"), strings.Contains(s, "delinquen"):
		return model.NegativeLatePayment
	default:
		return model.NegativeOther
	}
}

// isDerogatory reports whether an account status describes a negative item.
func isDerogatory(status string) bool {
	return NegativeType(status) != model.NegativeOther
}

func isUnverified(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "unverified") || strings.Contains(s, "not verified")
}
