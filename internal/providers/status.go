package providers

import (
	"fmt"
	"strings"
)

// StatusError reports a non-2xx response from a vendor HTTP API.
type StatusError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s api returned status %d", e.Vendor, e.StatusCode)
	}
	return fmt.Sprintf("%s api returned status %d: %s", e.Vendor, e.StatusCode, body)
}

// WebSocketURL rewrites an http(s) base URL to its ws(s) form.
func WebSocketURL(base string) string {
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/")
}
