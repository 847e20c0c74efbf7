package validation

// IsValidIdentifierChar reports whether ch is a letter, digit, hyphen or
// underscore.
func IsValidIdentifierChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '_'
}

// ValidIdentifier reports whether s is non-empty and made only of identifier
// characters.
func ValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !IsValidIdentifierChar(ch) {
			return false
		}
	}
	return true
}
