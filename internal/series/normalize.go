package series

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Card network and payment aggregator prefixes, possibly stacked.
	noisePrefix = regexp.MustCompile(`^(?:SQ\s*\*|TST\s*\*|PAYPAL\s*\*|PP\s*\*|SP\s*\*|GOOGLE\s*\*|APPLE\.COM/BILL\s*|POS\s+|DEBIT\s+|PURCHASE\s+|RECURRING\s+|ACH\s+|CHECKCARD\s+|CARD\s+\d*\s*)`)
	storeNumber = regexp.MustCompile(`#\s*\d+|\bSTORE\s*\d+|\bNO\.?\s*\d+`)
	dotCom      = regexp.MustCompile(`\.(?:COM|NET|ORG|IO|TV)\b`)
	separators  = regexp.MustCompile(`[*/_]+`)
)

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true,
	"DE": true, "DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true,
	"IN": true, "IA": true, "KS": true, "KY": true, "LA": true, "ME": true, "MD": true,
	"MA": true, "MI": true, "MN": true, "MS": true, "MO": true, "MT": true, "NE": true,
	"NV": true, "NH": true, "NJ": true, "NM": true, "NY": true, "NC": true, "ND": true,
	"OH": true, "OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true,
}

// Normalize reduces a raw statement descriptor to a stable merchant name.
// It strips aggregator prefixes, store numbers, reference codes and trailing
// location tokens. If nothing survives, the trimmed raw value is returned.
func Normalize(raw string) string {
	name := strings.ToUpper(strings.TrimSpace(raw))

	for {
		stripped := noisePrefix.ReplaceAllString(name, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == name {
			break
		}
		name = stripped
	}

	name = storeNumber.ReplaceAllString(name, " ")
	name = dotCom.ReplaceAllString(name, " ")
	name = separators.ReplaceAllString(name, " ")

	fields := trimTrailing(strings.Fields(name))
	name = strings.Trim(strings.Join(fields, " "), " -.,'")
	if name == "" {
		return strings.TrimSpace(raw)
	}
	return name
}

// Key returns the grouping key for a merchant descriptor.
func Key(raw string) string {
	return strings.ToLower(Normalize(raw))
}

// trimTrailing drops reference codes and state abbreviations from the end,
// always keeping the first token.
func trimTrailing(fields []string) []string {
	for len(fields) > 1 {
		last := fields[len(fields)-1]
		if !hasDigit(last) && !(usStates[last] && len(fields) > 2) {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return fields
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
