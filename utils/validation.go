// utils/validation.go
package utils

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultCountryCode is prefixed to local numbers.
const DefaultCountryCode = "91"

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
)

func cleanPhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}

// ValidatePhone checks if a phone number is a plausible local or international number
func ValidatePhone(phone string) bool {
	cleaned := cleanPhone(phone)
	if strings.HasPrefix(cleaned, "0") {
		cleaned = strings.TrimLeft(cleaned, "0")
	}
	return phonePattern.MatchString(cleaned)
}

// FormatE164 turns a shop-entered number into +<country><number>.
// A ten digit local number (optionally with a leading 0) gets the country code.
func FormatE164(phone, countryCode string) (string, error) {
	cleaned := cleanPhone(phone)
	if cleaned == "" {
		return "", errors.New("phone number is empty")
	}
	if strings.HasPrefix(cleaned, "+") {
		if !phonePattern.MatchString(cleaned) {
			return "", errors.New("invalid phone number")
		}
		return cleaned, nil
	}
	if !digitsOnly.MatchString(cleaned) {
		return "", errors.New("invalid phone number")
	}

	cleaned = strings.TrimLeft(cleaned, "0")
	if len(cleaned) == 10 {
		cleaned = countryCode + cleaned
	}
	out := "+" + cleaned
	if !phonePattern.MatchString(out) {
		return "", errors.New("invalid phone number")
	}
	return out, nil
}
