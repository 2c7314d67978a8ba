// Package phone normalizes phone numbers to E.164.
package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 parses raw into E.164 format. Numbers without a
// country prefix are interpreted in the default region.
func NormalizeE164(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty phone number")
	}

	num, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number: %s", trimmed)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// IsValid reports whether raw parses to a valid number
func IsValid(raw string) bool {
	_, err := NormalizeE164(raw)
	return err == nil
}
