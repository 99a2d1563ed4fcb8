package sshutil

import "strings"

// RedactionMarker replaces inline occurrences of a secret in command output.
const RedactionMarker = "[redacted]"

// Redact removes a secret from command output. Lines that consist of
// nothing but the secret (sudo echoing the password back through the
// PTY) are dropped entirely; inline occurrences elsewhere are replaced
// with the redaction marker. A trailing newline in the input is
// preserved.
func Redact(text, secret string) string {
	if text == "" || secret == "" {
		return text
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == secret {
			continue
		}
		filtered = append(filtered, strings.ReplaceAll(line, secret, RedactionMarker))
	}
	result := strings.Join(filtered, "\n")
	if strings.HasSuffix(text, "\n") {
		result += "\n"
	}
	return result
}
