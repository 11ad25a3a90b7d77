package brain

import (
	"fmt"
	"strings"
)

// NewProvider selects the triage backend. "auto" uses HTTP when a URL is
// configured and falls back to the mock provider otherwise.
func NewProvider(mode, httpURL string) (Provider, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(httpURL) != "" {
			return NewHTTPProvider(httpURL)
		}
		return NewMockProvider(), nil
	case "http":
		return NewHTTPProvider(httpURL)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("invalid triage provider %q (expected auto|http|mock)", mode)
	}
}
