package content

import (
	"errors"
	"strings"
)

// DefaultCountryCode is prepended to ten-digit national numbers.
const DefaultCountryCode = "91"

var ErrInvalidPhone = errors.New("invalid phone number")

// CanonicalPhone reduces the formats a recipient may be addressed with to
// digits in international form without a leading plus. "919765071249",
// "+91 97650 71249", "0091-9765071249" and "9765071249" are all the same
// recipient.
func CanonicalPhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case len(digits) == 11 && digits[0] == '0':
		// trunk prefix on a national number
		digits = digits[1:]
	}
	if len(digits) == 10 {
		digits = countryCode + digits
	}

	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

// Canonicalizer binds a country code for callers that take a
// func(string) (string, error).
func Canonicalizer(countryCode string) func(string) (string, error) {
	return func(raw string) (string, error) {
		return CanonicalPhone(raw, countryCode)
	}
}
