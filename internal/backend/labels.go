package backend

import "strings"

// SanitizeLabel maps an arbitrary string onto the backends' allowed label
// alphabet: lowercase letters, digits, underscore and dash. Dots become
// underscores; anything else outside the alphabet is stripped.
func SanitizeLabel(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, ".", "_"))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MergeLabels sanitizes and merges auto-derived and user-supplied labels.
// Collisions after sanitization resolve in favor of the user value.
func MergeLabels(auto, user map[string]string) map[string]string {
	merged := make(map[string]string, len(auto)+len(user))
	for k, v := range auto {
		merged[SanitizeLabel(k)] = SanitizeLabel(v)
	}
	for k, v := range user {
		merged[SanitizeLabel(k)] = SanitizeLabel(v)
	}
	return merged
}
