package workflow

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// sensitiveKeyPatterns are substrings of a param key that suggest a credential.
var sensitiveKeyPatterns = []string{
	"KEY",
	"SECRET",
	"TOKEN",
	"PASSWORD",
	"PASSPHRASE",
	"CREDENTIAL",
	"AUTH",
	"BEARER",
	"PRIVATE",
}

// credentialPatterns detect well-known secret formats inside values.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)sk_(live|test)_[a-zA-Z0-9]{24,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{82}`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_=]+\.[A-Za-z0-9\-_=]+\.?[A-Za-z0-9\-_.+/=]*`),
	regexp.MustCompile(`(?i)-----BEGIN\s+(RSA|DSA|EC|OPENSSH)\s+PRIVATE\s+KEY-----`),
	regexp.MustCompile(`(?i)(postgres|mysql|mongodb)://[^:]+:[^@]+@`),
	regexp.MustCompile(`(?i)password\s*[:=]\s*['"]?[^\s'"]{8,}`),
}

// Severity ranks a credential warning.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// CredentialWarning reports a param that may leak a secret when exported.
type CredentialWarning struct {
	Location string
	Pattern  string
	Severity Severity
	Message  string
}

func (w CredentialWarning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Severity, w.Location, w.Message)
}

// ScanForCredentials inspects every node's params. Template references such as
// {{ input_0.api_key }} are not secrets and are skipped.
func ScanForCredentials(w *Workflow) []CredentialWarning {
	if w == nil {
		return nil
	}
	var warnings []CredentialWarning
	for _, n := range w.Nodes {
		warnings = append(warnings, scanMap(n.Data.Params, fmt.Sprintf("nodes.%s.params", n.ID))...)
	}
	return warnings
}

func scanMap(m map[string]any, location string) []CredentialWarning {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var warnings []CredentialWarning
	for _, key := range keys {
		keyLocation := location + "." + key
		value := m[key]

		if s, ok := value.(string); ok && isSensitiveKey(key) && s != "" && !isTemplateOnly(s) && s != RedactedValue {
			warnings = append(warnings, CredentialWarning{
				Location: keyLocation,
				Pattern:  "sensitive key name",
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("param %q suggests it holds a credential; store it with 'flowgraph credential set' instead", key),
			})
			continue
		}

		switch v := value.(type) {
		case string:
			warnings = append(warnings, scanString(v, keyLocation)...)
		case map[string]any:
			warnings = append(warnings, scanMap(v, keyLocation)...)
		case []any:
			for i, item := range v {
				itemLocation := fmt.Sprintf("%s[%d]", keyLocation, i)
				switch iv := item.(type) {
				case string:
					warnings = append(warnings, scanString(iv, itemLocation)...)
				case map[string]any:
					warnings = append(warnings, scanMap(iv, itemLocation)...)
				}
			}
		}
	}
	return warnings
}

func scanString(value, location string) []CredentialWarning {
	if value == "" || isTemplateOnly(value) {
		return nil
	}
	for _, pattern := range credentialPatterns {
		if pattern.MatchString(value) {
			return []CredentialWarning{{
				Location: location,
				Pattern:  pattern.String(),
				Severity: SeverityHigh,
				Message:  "value matches a known credential format",
			}}
		}
	}
	if !strings.ContainsAny(value, " \n\t") && isHighEntropy(value) {
		return []CredentialWarning{{
			Location: location,
			Pattern:  "high entropy string",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("value has high entropy (%d chars) and may be a credential", len(value)),
		}}
	}
	return nil
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return strings.Contains(upper, "DSN") ||
		(strings.Contains(upper, "CONN") && strings.Contains(upper, "STRING"))
}

// isTemplateOnly reports whether s is a single {{ ... }} reference.
func isTemplateOnly(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{{") && strings.HasSuffix(t, "}}") && strings.Count(t, "{{") == 1
}

// isHighEntropy computes normalized Shannon entropy over the characters of s.
func isHighEntropy(s string) bool {
	if len(s) < 24 {
		return false
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	if len(freq) < 2 {
		return false
	}
	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	// Bits per char; random base64 sits near 5-6, English text below 4.2.
	return entropy > 4.2
}
