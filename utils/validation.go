// utils/validation.go
package utils

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// NormalizePhone strips common formatting characters from a phone number.
func NormalizePhone(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(phone)
}

// ValidatePhone checks if a phone number is in a valid international format:
// an optional + prefix followed by up to 15 digits.
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}

// IsSingleRecipient rejects anything that smells like a multi-recipient or
// group target. The messaging gateway only ever delivers 1:1.
func IsSingleRecipient(recipient string) bool {
	if strings.ContainsAny(recipient, ",;") {
		return false
	}
	return ValidatePhone(recipient)
}
