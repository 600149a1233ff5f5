package agent

import (
	"fmt"
	"strings"
)

// NewInvoker selects the collaborator backend. Modes: "openai", "http",
// "local", or "auto" (openai when a key is set, http when a URL is set,
// else local).
func NewInvoker(mode, apiKey, model, httpURL string, rps float64) (Invoker, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "openai":
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("AGENT_MODE=openai but OPENAI_API_KEY is not set")
		}
		return NewOpenAIInvoker(apiKey, model, rps), nil
	case "http":
		if strings.TrimSpace(httpURL) == "" {
			return nil, fmt.Errorf("AGENT_MODE=http but AGENT_HTTP_URL is not set")
		}
		return NewHTTPInvoker(httpURL, rps), nil
	case "local":
		return NewLocalInvoker(), nil
	case "", "auto":
		if strings.TrimSpace(apiKey) != "" {
			return NewOpenAIInvoker(apiKey, model, rps), nil
		}
		if strings.TrimSpace(httpURL) != "" {
			return NewHTTPInvoker(httpURL, rps), nil
		}
		return NewLocalInvoker(), nil
	default:
		return nil, fmt.Errorf("invalid AGENT_MODE: %q (expected auto|openai|http|local)", mode)
	}
}
