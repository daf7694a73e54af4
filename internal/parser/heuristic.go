package parser

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	heuristicScanLimit = 6000
	baseConfidence     = 0.5

	totalConfidenceBoost   = 0.15
	orderIDConfidenceBoost = 0.10
	windowConfidenceBoost  = 0.20

	defaultCurrency = "USD"
)

// Each group is tried in order; the first pattern that matches wins and the
// rest of its group is skipped.
var (
	datePatterns = compileAll(
		`(?i)(?:order(?:ed)?|placed|date)[:\s]+([A-Z][a-z]+ \d{1,2},?\s*\d{4})`,
		`(?i)(?:order(?:ed)?|placed|date)[:\s]+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`,
		`(?i)(\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s*\d{4}\b)`,
	)

	totalPatterns = compileAll(
		`(?i)(?:order total|total charged|total)[:\s]+\$?([\d,]+\.\d{2})`,
		`(?i)\$\s*([\d,]+\.\d{2})\s*(?:USD)?`,
	)

	orderIDPatterns = compileAll(
		`(?i)(?:order(?:\s+number|\s+#|#|\s*id)[:\s#]+)([A-Z0-9\-]{5,30})`,
		`(?i)(?:#)([A-Z0-9\-]{6,30})`,
	)

	returnWindowPatterns = compileAll(
		`(?i)(\d+)[\-\s]day(?:s)?\s+(?:return|refund|exchange)`,
		`(?i)return(?:s)?\s+(?:within|up to|for)\s+(\d+)\s+days?`,
		`(?i)(\d+)\s+days?\s+(?:to\s+)?return`,
	)
)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// firstMatch returns the first capture group of the first matching pattern.
func firstMatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// ExtractHeuristic runs the deterministic regex pass over the first 6000
// characters of bodyText. Merchant identity comes from the sender domain.
func ExtractHeuristic(subject, bodyText, fromAddress string) Result {
	result := Result{
		Currency:   ptr(defaultCurrency),
		Confidence: baseConfidence,
	}

	if domain := SenderDomain(fromAddress); domain != "" {
		result.MerchantDomain = ptr(domain)
		result.MerchantName = ptr(merchantNameFromDomain(domain))
	}

	text := TruncateRunes(bodyText, heuristicScanLimit)

	if date, ok := firstMatch(datePatterns, text); ok {
		result.OrderDate = ptr(date)
	}

	for _, re := range totalPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			result.TotalAmount = ptr(amount)
			result.addConfidence(totalConfidenceBoost)
			break
		}
	}

	if orderID, ok := firstMatch(orderIDPatterns, text); ok {
		result.OrderID = ptr(orderID)
		result.addConfidence(orderIDConfidenceBoost)
	}

	for _, re := range returnWindowPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if days, err := strconv.Atoi(m[1]); err == nil {
			result.ReturnWindowDays = ptr(days)
			result.PolicySource = PolicyEmail
			result.addConfidence(windowConfidenceBoost)
			break
		}
	}

	if code := detectCurrency(text); code != "" {
		result.Currency = ptr(code)
	}

	return result
}

// SenderDomain returns the lower-cased domain of a From address, accepting
// both bare addresses and "Name <addr>" forms.
func SenderDomain(from string) string {
	addr := strings.TrimSpace(from)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "<> "))
}

func merchantNameFromDomain(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	r, size := utf8.DecodeRuneInString(label)
	if r == utf8.RuneError {
		return label
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(label[size:])
}

// detectCurrency returns the code of the earliest currency symbol in text.
func detectCurrency(text string) string {
	best, code := -1, ""
	for symbol, c := range currencySymbols {
		if i := strings.Index(text, symbol); i >= 0 && (best < 0 || i < best) {
			best, code = i, c
		}
	}
	return code
}
