package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactHash shortens a hashed identifier to a 6 character prefix.
// Hashed emails and phones are still linkable across systems, so they are
// never logged whole.
func RedactHash(h string) string {
	if len(h) <= 6 {
		return "***"
	}
	return h[:6] + "***"
}
