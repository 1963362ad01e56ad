package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Provider entry kinds.
const (
	KindOpenAICompatible = "openai_compatible"
	KindGitHubCopilot    = "github_copilot"
)

// CredentialStore is the agent.auth.json document.
type CredentialStore struct {
	Version         int                      `json:"version"`
	DefaultProvider string                   `json:"defaultProvider,omitempty"`
	DefaultModel    string                   `json:"defaultModel,omitempty"`
	Providers       map[string]ProviderEntry `json:"providers"`
}

// ProviderEntry is a tagged variant over Kind. openai_compatible entries use
// BaseURL/APIKey; github_copilot entries carry the OAuth + runtime token
// state and optional endpoint/header overrides.
type ProviderEntry struct {
	Kind string `json:"kind"`

	// openai_compatible
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"` // may be empty for local endpoints

	// github_copilot
	AccessToken           string            `json:"accessToken,omitempty"`
	RefreshToken          string            `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt  string            `json:"accessTokenExpiresAt,omitempty"` // RFC 3339
	RuntimeToken          string            `json:"runtimeToken,omitempty"`
	RuntimeTokenExpiresAt string            `json:"runtimeTokenExpiresAt,omitempty"` // RFC 3339
	Endpoints             *CopilotEndpoints `json:"endpoints,omitempty"`
	Headers               map[string]string `json:"headers,omitempty"`
}

// CopilotEndpoints overrides the hosted-editor provider's built-in URLs.
type CopilotEndpoints struct {
	OAuthTokenURL   string `json:"oauthTokenUrl,omitempty"`
	RuntimeTokenURL string `json:"runtimeTokenUrl,omitempty"`
	APIBase         string `json:"apiBase,omitempty"`
}

// LoadCredentials reads agent.auth.json. A missing file returns (nil, nil).
// Invalid JSON is AUTH_CONFIG_INVALID; an unusable path AUTH_CONFIG_ERROR.
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := readConfigFile(path, errs.CodeAuthConfigError)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var store CredentialStore
	if err := json5.Unmarshal(data, &store); err != nil {
		return nil, errs.Wrap(errs.CodeAuthConfigInvalid,
			fmt.Sprintf("invalid credentials file %s: %v", path, err), err)
	}
	if store.Providers == nil {
		store.Providers = map[string]ProviderEntry{}
	}
	return &store, nil
}

// SaveCredentials writes the store atomically: sibling temp file with a
// pid+time+random suffix, pretty JSON with trailing newline, fsync, rename
// over the target, chmod 0600. On any failure the temp file is removed
// best-effort.
func SaveCredentials(path string, store *CredentialStore) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeAuthConfigError, "encode credentials", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d-%s",
		filepath.Base(path), os.Getpid(), time.Now().UnixNano(), uuid.NewString()[:8]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errs.Wrap(errs.CodeAuthConfigError,
			fmt.Sprintf("create temp credentials file in %s: %v", dir, err), err)
	}

	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return errs.Wrap(errs.CodeAuthConfigError, "write credentials", err)
	}
	// fsync where supported; failure here is not fatal for the contract but
	// losing it silently would defeat the atomic-write guarantee.
	if err := f.Sync(); err != nil {
		slog.Debug("credentials fsync unsupported", "error", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return errs.Wrap(errs.CodeAuthConfigError, "close credentials temp file", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return errs.Wrap(errs.CodeAuthConfigError,
			fmt.Sprintf("replace %s: %v", path, err), err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return errs.Wrap(errs.CodeAuthConfigError, "chmod credentials file", err)
	}
	return nil
}
