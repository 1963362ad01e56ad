package providers

import "strings"

// streamingProviders is the fixed set of providers known to support
// SSE-style incremental deltas.
var streamingProviders = map[string]bool{
	"openai":     true,
	"copilot":    true,
	"openrouter": true,
	"groq":       true,
	"mistral":    true,
	"deepseek":   true,
	"fireworks":  true,
	"moonshot":   true,
	"together":   true,
	"xai":        true,
	"perplexity": true,
}

// ShouldUseStreaming decides whether this invocation streams: only when
// explicitly requested, not producing JSON, tools are off for the request,
// and the provider is known to stream.
func ShouldUseStreaming(streamRequested, jsonOutput, toolsEnabled bool, provider string) bool {
	return streamRequested && !jsonOutput && !toolsEnabled && streamingProviders[provider]
}

// ModelLikelySupportsVision is a per-provider heuristic over model names.
// Providers return unstructured errors for image input, so we gate
// optimistically and fall back on the error classifier.
func ModelLikelySupportsVision(provider, model string) bool {
	m := strings.ToLower(model)
	switch provider {
	case "perplexity", "groq", "deepseek":
		return false
	case "openai", "copilot":
		return containsAny(m, "gpt-4o", "gpt-4.1", "gpt-5")
	case "openrouter":
		return containsAny(m, "gpt-4o", "gpt-4.1", "gpt-5", "vision", "gemini", "vl")
	}
	return false
}

// Error classifiers. Providers return unstructured error text; these are
// deliberately substring-based and centralized here so the patterns can
// evolve without touching the turn loop.

// IsToolUnsupportedError reports whether an error message means the model
// or endpoint rejects tool calling.
func IsToolUnsupportedError(msg string) bool {
	m := strings.ToLower(msg)
	return containsAny(m,
		"tool calling is not supported",
		"tools are not supported",
		"tool_choice",
		"function calling is not supported",
	)
}

// IsVisionUnsupportedError requires both a vision keyword and a rejection
// keyword, so a message merely mentioning "vision" never triggers.
func IsVisionUnsupportedError(msg string) bool {
	m := strings.ToLower(msg)
	vision := containsAny(m, "vision", "image") ||
		(strings.Contains(m, "content type") && strings.Contains(m, "image"))
	rejection := containsAny(m, "not supported", "not support", "not accepted")
	return vision && rejection
}

// IsStreamUnsupportedError reports whether the endpoint rejected the
// stream parameter.
func IsStreamUnsupportedError(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "unknown parameter: stream") {
		return true
	}
	return strings.Contains(m, "stream") &&
		containsAny(m, "not support", "unsupported", "invalid")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
