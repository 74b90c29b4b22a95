package observability

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	defaultStringLimit = 256
	errorStringLimit   = 512
)

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// MaskEmail keeps the first rune of the local part and the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}

func sanitizeField(key string, value any) zap.Field {
	switch v := value.(type) {
	case string:
		if strings.Contains(strings.ToLower(key), "email") {
			return zap.String(key, MaskEmail(v))
		}
		return zap.String(key, sanitizeString(v, defaultStringLimit))
	case error:
		return zap.String(key, sanitizeString(v.Error(), errorStringLimit))
	default:
		return zap.Any(key, v)
	}
}
