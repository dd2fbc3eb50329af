package log

import (
	"strings"
)

// sensitiveKeywords mark keys whose values are credentials.
var sensitiveKeywords = []string{
	"password", "passwd",
	"api_key", "apikey", "api-key",
	"token", "secret", "authorization",
	"credential", "private_key",
	"proxy_url", "dsn",
}

// piiKeywords mark keys whose values identify a traveller.
var piiKeywords = []string{
	"passenger", "traveler", "traveller", "full_name",
}

// SanitizeField checks if the key contains sensitive keywords and sanitizes the value
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "email") {
		return sanitizeEmail(value)
	}
	if containsAny(lowerKey, piiKeywords) {
		return sanitizeName(value)
	}
	if containsAny(lowerKey, sensitiveKeywords) {
		return sanitizeToken(value)
	}

	return value
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// sanitizeToken masks token/password values showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeName keeps the initial of every word: "Ada Lovelace" -> "A*** L***"
func sanitizeName(value string) string {
	words := strings.Fields(value)
	for i, w := range words {
		r := []rune(w)
		words[i] = string(r[0]) + "***"
	}
	return strings.Join(words, " ")
}

// sanitizeEmail masks email showing first 3 characters + @domain
func sanitizeEmail(value string) string {
	parts := strings.Split(value, "@")
	if len(parts) != 2 {
		return strings.Repeat("*", len(value))
	}

	localPart, domain := parts[0], parts[1]
	if len(localPart) <= 3 {
		if len(localPart) == 0 {
			return "@" + domain
		}
		return string(localPart[0]) + strings.Repeat("*", len(localPart)-1) + "@" + domain
	}

	return localPart[:3] + "***@" + domain
}
