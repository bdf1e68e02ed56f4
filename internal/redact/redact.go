// Package redact scrubs sensitive values from strings before they reach
// logs or error responses. The gateway handles pooled provider credentials
// and database connection strings; neither may ever appear in output.
package redact

import (
	"regexp"
)

// RedactedCredentialPlaceholder replaces credential-like material.
const RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"

var (
	// Database connection strings with inline credentials.
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|mysql)://[^@\s]+@`)

	// Bearer tokens in header dumps or error text.
	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/]{8,}`)

	// Key/credential assignments: credential=..., api_key: ..., token "..."
	credentialRegex = regexp.MustCompile(
		`(?i)(credential|api[_-]?key|token|secret|password|sessionid)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	patterns = []*regexp.Regexp{dbConnRegex, bearerRegex, credentialRegex}
)

// String redacts sensitive material from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pattern := range patterns {
		result = pattern.ReplaceAllString(result, RedactedCredentialPlaceholder)
	}
	return result
}

// Error redacts sensitive material from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
