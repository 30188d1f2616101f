// Package masking redacts secrets before metadata reaches the audit table.
package masking

import "strings"

const maskToken = "****"

// MaskSecret keeps any underscore prefix and the last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// IsSensitiveKey matches metadata keys that name credentials.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.HasSuffix(key, "_secret") ||
		strings.HasSuffix(key, "_token") ||
		strings.Contains(key, "password") ||
		strings.Contains(key, "credentials")
}

// MaskMetadata copies metadata, masking string values under sensitive keys
// at any depth. Empty keys are dropped.
func MaskMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = maskEntry(key, value)
	}
	return out
}

func maskEntry(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if IsSensitiveKey(key) {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskEntry(key, item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	i := strings.LastIndex(value, "_")
	if i == -1 || i == len(value)-1 {
		return "", value
	}
	return value[:i+1], value[i+1:]
}
