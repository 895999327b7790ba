// Package extractor pulls the billing fields out of the text of a payment guide.
// Every rule is a best-effort pass over the same normalized text: a field that cannot be
// found is reported as absent, never as an error.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const taxIDLength = 14

// Fields is the structured record extracted from one document. Empty strings and an invalid
// Amount mean "not found".
type Fields struct {
	EntityName string              `json:"empresa,omitempty"`
	TaxID      string              `json:"cnpj,omitempty"`
	Period     string              `json:"competencia,omitempty"`
	Amount     decimal.NullDecimal `json:"valor"`
	DueDate    string              `json:"vencimento,omitempty"`
}

// Classifiable reports whether the record carries enough to route the document.
func (f Fields) Classifiable() bool {
	return f.EntityName != "" && f.Period != ""
}

var (
	taxIDRe   = regexp.MustCompile(`(?:^|\D)(\d{1,2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2})(?:\D|$)`)
	periodRe  = regexp.MustCompile(`(?:periodo(?:\s+de\s+apuracao)?|comp(?:et\S{1,2}ncia)?)[:\s-]*([01]?\d)[/-]([12]\d{3})`)
	amountRe  = regexp.MustCompile(`(?:valor\s+a\s+pagar|valor(?:\s+total)?(?:\s+da\s+guia)?|total)[:\s]*(?:r\$)?\s*([\d.,]+)`)
	dueDateRe = regexp.MustCompile(`venc(?:imento)?[:\s-]*([0-3]?\d)/([01]?\d)/(\d{4}|\d{2})\b`)
	lineSplit = regexp.MustCompile(`\r\n|\r|\n`)
	spaceRun  = regexp.MustCompile(`\s+`)
)

// Extract runs every rule over raw and assembles the record.
func Extract(raw string) Fields {
	lines := NormalizeLines(raw)
	folded := Fold(strings.Join(lines, "\n"))

	f := Fields{}
	taxID, taxLine := ExtractTaxID(lines)
	f.TaxID = taxID
	f.EntityName = ExtractEntityName(lines, taxLine)
	f.Period = ExtractPeriod(folded)
	f.Amount = ExtractAmount(folded)
	f.DueDate = ExtractDueDate(folded)
	return f
}

// NormalizeLines splits text into lines and drops the blank ones.
func NormalizeLines(raw string) []string {
	var out []string
	for _, l := range lineSplit.Split(raw, -1) {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics so labels match with or without accents.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ExtractTaxID returns the sanitized tax id and the index of the line it was found on,
// or ("", -1).
func ExtractTaxID(lines []string) (string, int) {
	for i, l := range lines {
		if m := taxIDRe.FindStringSubmatch(l); m != nil {
			return SanitizeTaxID(m[1]), i
		}
	}
	return "", -1
}

// SanitizeTaxID keeps digits only and left-pads to 14 digits.
func SanitizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) >= taxIDLength {
		return digits
	}
	return strings.Repeat("0", taxIDLength-len(digits)) + digits
}

// ExtractEntityName prefers the line right above the tax id; otherwise the first line
// longer than three characters.
func ExtractEntityName(lines []string, taxLine int) string {
	if taxLine > 0 {
		candidate := cleanName(lines[taxLine-1])
		if len([]rune(candidate)) >= 3 {
			return candidate
		}
	}
	for _, l := range lines {
		if c := cleanName(l); len([]rune(c)) > 3 {
			return c
		}
	}
	return ""
}

func cleanName(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// ExtractPeriod expects folded text.
func ExtractPeriod(folded string) string {
	m := periodRe.FindStringSubmatch(folded)
	if m == nil {
		return ""
	}
	name, ok := ToPeriodFolderName(m[1], m[2])
	if !ok {
		return ""
	}
	return name
}

// ToPeriodFolderName formats a month and year as "MM-YYYY". Non-numeric input, a month
// outside 1..12 or a year outside 1000..9999 yields false.
func ToPeriodFolderName(month, year string) (string, bool) {
	mm, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || mm < 1 || mm > 12 {
		return "", false
	}
	yyyy, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || yyyy < 1000 || yyyy > 9999 {
		return "", false
	}
	return PeriodName(mm, yyyy), true
}

// PeriodName formats an already validated month and year.
func PeriodName(month, year int) string {
	return strconv.Itoa(100+month)[1:] + "-" + strconv.Itoa(year)
}

// ExtractAmount expects folded text.
func ExtractAmount(folded string) decimal.NullDecimal {
	m := amountRe.FindStringSubmatch(folded)
	if m == nil {
		return decimal.NullDecimal{}
	}
	return NormalizeMoney(m[1])
}

var moneyJunk = regexp.MustCompile(`[^0-9,.\-]`)

// NormalizeMoney parses Brazilian currency notation: "." groups thousands, "," separates
// decimals. Anything unparsable is reported as invalid rather than zero.
func NormalizeMoney(s string) decimal.NullDecimal {
	only := moneyJunk.ReplaceAllString(spaceRun.ReplaceAllString(s, ""), "")
	only = strings.ReplaceAll(only, ".", "")
	only = strings.Replace(only, ",", ".", 1)
	if only == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(only)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ExtractDueDate expects folded text and returns "DD/MM/YYYY".
func ExtractDueDate(folded string) string {
	m := dueDateRe.FindStringSubmatch(folded)
	if m == nil {
		return ""
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return pad2(m[1]) + "/" + pad2(m[2]) + "/" + year
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
