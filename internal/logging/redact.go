package logging

import (
	"log/slog"
	"strings"
)

const RedactedValue = "[REDACTED]"

// MaskPhone keeps the last three digits of a phone number, e.g. "*********890".
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return phone
	}
	if len(phone) <= 3 {
		return RedactedValue
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}

func PhoneAttr(phone string) slog.Attr {
	return slog.String("phone", MaskPhone(phone))
}
