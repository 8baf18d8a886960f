package models

import "strings"

// NormalizePhone converts a user supplied number to international digits.
// Local numbers with a leading zero get the default country code.
func NormalizePhone(raw, defaultCountryCode string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = defaultCountryCode + digits[1:]
	}

	if len(digits) < 9 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}

// MaskPhone hides all but the last four digits of a phone number
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
