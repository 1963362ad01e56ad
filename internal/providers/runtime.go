package providers

import (
	"net"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Selection is the resolved {provider, model} pair for one invocation.
type Selection struct {
	Provider string
	Model    string
}

// Runtime is the prepared HTTP context for a single invocation: resolved
// credential, validated base URL, default headers, selected model.
type Runtime struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Headers  map[string]string

	// Copilot carries the token adapter when the provider entry is the
	// hosted-editor kind; the API key is then obtained per-invocation via
	// EnsureRuntimeToken.
	Copilot *CopilotAdapter
}

// ResolveSelection combines --model, credential-store hints and runtime
// defaults into a concrete provider/model pair.
func ResolveSelection(modelFlag string, rt *config.Runtime, creds *config.CredentialStore) (Selection, error) {
	var known []string
	if creds != nil {
		for name := range creds.Providers {
			known = append(known, name)
		}
	}

	provider, model := splitModelSpec(modelFlag, known)
	if provider == "" {
		if creds != nil && creds.DefaultProvider != "" {
			provider = creds.DefaultProvider
		} else {
			provider = rt.DefaultProvider
		}
	}
	if model == "" {
		if creds != nil && creds.DefaultModel != "" {
			model = creds.DefaultModel
		} else {
			model = rt.DefaultModel
		}
	}
	if provider == "" || model == "" {
		return Selection{}, errs.New(errs.CodeProviderNotConfigured,
			"no provider/model selected; pass --model provider/model or configure defaults")
	}
	return Selection{Provider: provider, Model: model}, nil
}

func splitModelSpec(spec string, known []string) (string, string) {
	if spec == "" {
		return "", ""
	}
	idx := strings.Index(spec, "/")
	if idx <= 0 {
		return "", spec
	}
	head := spec[:idx]
	for _, p := range known {
		if head == p {
			return head, spec[idx+1:]
		}
	}
	// Recognized provider identifiers even without a credential entry, so
	// the error names the right provider instead of a bogus model.
	if streamingProviders[head] || head == "ollama" || head == "local" {
		return head, spec[idx+1:]
	}
	return "", spec
}

// BuildRuntime resolves the credential entry for the selection into a
// ready HTTP context. envKey (from AGENT_API_KEY) overrides the stored key.
// authPath is where Copilot token refreshes persist.
func BuildRuntime(sel Selection, creds *config.CredentialStore, authPath, envKey string, allowInsecure bool) (*Runtime, error) {
	if creds == nil {
		return nil, errs.Newf(errs.CodeProviderNotConfigured,
			"provider %q is not configured; run setup to create the credentials file", sel.Provider)
	}
	entry, ok := creds.Providers[sel.Provider]
	if !ok {
		return nil, errs.Newf(errs.CodeProviderNotConfigured,
			"provider %q is not configured", sel.Provider)
	}

	switch entry.Kind {
	case config.KindGitHubCopilot:
		adapter := NewCopilotAdapter(sel.Provider, entry, creds, authPath)
		return &Runtime{
			Provider: sel.Provider,
			Model:    sel.Model,
			BaseURL:  adapter.APIBase(),
			Headers:  adapter.ExtraHeaders(),
			Copilot:  adapter,
		}, nil

	case config.KindOpenAICompatible, "":
		baseURL, insecureLocal, err := ValidateBaseURL(entry.BaseURL, allowInsecure)
		if err != nil {
			return nil, err
		}
		key := entry.APIKey
		if envKey != "" {
			key = envKey
		}
		if key == "" && !insecureLocal {
			return nil, errs.Newf(errs.CodeProviderNotConfigured,
				"provider %q has no API key (empty keys are only allowed for local http endpoints)", sel.Provider)
		}
		return &Runtime{
			Provider: sel.Provider,
			Model:    sel.Model,
			BaseURL:  baseURL,
			APIKey:   key,
			Headers:  entry.Headers,
		}, nil

	default:
		return nil, errs.Newf(errs.CodeProviderNotConfigured,
			"provider %q has unknown kind %q", sel.Provider, entry.Kind)
	}
}

// ValidateBaseURL parses and vets a provider base URL. http URLs are only
// accepted for local/private hosts unless allowInsecure is set. The second
// return reports whether the URL is a local http endpoint (which permits
// an empty API key).
func ValidateBaseURL(raw string, allowInsecure bool) (string, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return "", false, errs.New(errs.CodeInvalidBaseURL, "provider base URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, errs.Newf(errs.CodeInvalidBaseURL, "invalid base URL %q", raw)
	}
	switch u.Scheme {
	case "https":
		return strings.TrimRight(raw, "/"), false, nil
	case "http":
		local := IsLocalOrPrivateHost(u.Hostname())
		if !local && !allowInsecure {
			return "", false, errs.Newf(errs.CodeInsecureBaseURL,
				"refusing plain http base URL %q for a non-local host (use --allow-insecure-http to override)", raw)
		}
		return strings.TrimRight(raw, "/"), local, nil
	default:
		return "", false, errs.Newf(errs.CodeInvalidBaseURL, "unsupported URL scheme %q", u.Scheme)
	}
}

// IsLocalOrPrivateHost classifies a hostname or IP literal as local or
// RFC 1918/4193 private.
func IsLocalOrPrivateHost(host string) bool {
	h := strings.ToLower(strings.Trim(host, "[]"))
	if h == "localhost" || h == "::1" || h == "127.0.0.1" {
		return true
	}
	if strings.HasSuffix(h, ".localhost") || strings.HasSuffix(h, ".local") {
		return true
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 127:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		}
		return false
	}
	// IPv6: unique-local fc00::/7, link-local fe80::/10.
	if ip[0] == 0xfc || ip[0] == 0xfd {
		return true
	}
	if ip[0] == 0xfe && ip[1] >= 0x80 && ip[1] <= 0xbf {
		return true
	}
	return ip.IsLoopback()
}
