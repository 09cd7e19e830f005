package assistant

import (
	"fmt"
	"strings"
)

// FailureMarker prefixes every reply that stands in for a failed call.
const FailureMarker = "❌"

func HTTPFailure(status int, body string) string {
	return fmt.Sprintf("%s HTTP %d: %s", FailureMarker, status, body)
}

func APIFailure(message string) string {
	return fmt.Sprintf("%s API error: %s", FailureMarker, message)
}

func ExceptionFailure(err error) string {
	return fmt.Sprintf("%s Исключение: %v", FailureMarker, err)
}

// IsFailure reports whether a reply is a mapped failure. Callers only need
// this for metrics; replies are displayed the same way either way.
func IsFailure(reply string) bool {
	return strings.HasPrefix(reply, FailureMarker)
}
