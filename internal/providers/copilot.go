package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Built-in hosted-editor endpoints and identity; the credential entry may
// override any of them.
const (
	copilotClientID        = "Iv1.b507a08c87e9c80c"
	copilotOAuthTokenURL   = "https://github.com/login/oauth/access_token"
	copilotRuntimeTokenURL = "https://api.github.com/copilot_internal/v2/token"
	copilotAPIBase         = "https://api.githubcopilot.com"

	// Runtime tokens are refreshed this long before their expiry.
	runtimeTokenSkew = 60 * time.Second
	// Fallback lifetime when the token endpoint omits expires_at.
	runtimeTokenFallbackTTL = 25 * time.Minute
)

var copilotDefaultHeaders = map[string]string{
	"Editor-Version":        "vscode/1.96.0",
	"Editor-Plugin-Version": "copilot-chat/0.23.0",
	"User-Agent":            "GitHubCopilotChat/0.23.0",
}

// CopilotAdapter maintains the hosted-editor token chain: a long-lived
// OAuth access token (refreshable) is traded for a short-lived runtime
// token used as the Bearer credential. Token state persists atomically
// through the credential store.
type CopilotAdapter struct {
	provider string
	entry    config.ProviderEntry
	store    *config.CredentialStore
	authPath string

	clientID        string
	oauthTokenURL   string
	runtimeTokenURL string
	apiBase         string
	headers         map[string]string

	client *http.Client
}

// NewCopilotAdapter builds an adapter from a github_copilot entry,
// filling endpoint and header gaps with the built-in defaults.
func NewCopilotAdapter(provider string, entry config.ProviderEntry, store *config.CredentialStore, authPath string) *CopilotAdapter {
	a := &CopilotAdapter{
		provider:        provider,
		entry:           entry,
		store:           store,
		authPath:        authPath,
		clientID:        copilotClientID,
		oauthTokenURL:   copilotOAuthTokenURL,
		runtimeTokenURL: copilotRuntimeTokenURL,
		apiBase:         copilotAPIBase,
		headers:         map[string]string{},
		client:          &http.Client{Timeout: 30 * time.Second},
	}
	for k, v := range copilotDefaultHeaders {
		a.headers[k] = v
	}
	for k, v := range entry.Headers {
		a.headers[k] = v
	}
	if ep := entry.Endpoints; ep != nil {
		if ep.OAuthTokenURL != "" {
			a.oauthTokenURL = ep.OAuthTokenURL
		}
		if ep.RuntimeTokenURL != "" {
			a.runtimeTokenURL = ep.RuntimeTokenURL
		}
		if ep.APIBase != "" {
			a.apiBase = strings.TrimRight(ep.APIBase, "/")
		}
	}
	return a
}

// APIBase returns the chat completions base URL.
func (a *CopilotAdapter) APIBase() string { return a.apiBase }

// ExtraHeaders returns the editor identification headers.
func (a *CopilotAdapter) ExtraHeaders() map[string]string { return a.headers }

// EnsureRuntimeToken returns a runtime token valid for at least the skew
// window, minting and persisting a fresh one when needed. On a 401 from
// the token endpoint it refreshes the OAuth access token once and retries.
func (a *CopilotAdapter) EnsureRuntimeToken(ctx context.Context) (string, error) {
	if tok := a.cachedRuntimeToken(); tok != "" {
		return tok, nil
	}

	tok, status, err := a.mintRuntimeToken(ctx)
	if err == nil {
		return tok, nil
	}
	if status == http.StatusUnauthorized && a.entry.RefreshToken != "" {
		slog.Debug("runtime token rejected, refreshing oauth access token", "provider", a.provider)
		if rerr := a.refreshAccessToken(ctx); rerr != nil {
			return "", rerr
		}
		tok, _, err = a.mintRuntimeToken(ctx)
		if err == nil {
			return tok, nil
		}
	}
	return "", errs.Wrap(errs.CodeAuthConfigError,
		fmt.Sprintf("could not obtain a %s runtime token; re-run authentication setup", a.provider), err)
}

func (a *CopilotAdapter) cachedRuntimeToken() string {
	if a.entry.RuntimeToken == "" || a.entry.RuntimeTokenExpiresAt == "" {
		return ""
	}
	expiry, err := time.Parse(time.RFC3339, a.entry.RuntimeTokenExpiresAt)
	if err != nil {
		return ""
	}
	if time.Now().Add(runtimeTokenSkew).Before(expiry) {
		return a.entry.RuntimeToken
	}
	return ""
}

// mintRuntimeToken trades the OAuth access token for a runtime token and
// persists it. The HTTP status is returned so the caller can detect 401.
func (a *CopilotAdapter) mintRuntimeToken(ctx context.Context) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.runtimeTokenURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "token "+a.entry.AccessToken)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, timeoutErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return "", resp.StatusCode, &HTTPError{Status: resp.StatusCode,
			Body: fmt.Sprintf("%s token endpoint: %s", a.provider, string(body))}
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode runtime token: %w", err)
	}
	if payload.Token == "" {
		return "", resp.StatusCode, fmt.Errorf("token endpoint returned no token")
	}

	expiry := time.Now().Add(runtimeTokenFallbackTTL)
	if payload.ExpiresAt > 0 {
		expiry = time.Unix(payload.ExpiresAt, 0)
	}
	a.entry.RuntimeToken = payload.Token
	a.entry.RuntimeTokenExpiresAt = expiry.UTC().Format(time.RFC3339)
	if err := a.persist(); err != nil {
		return "", resp.StatusCode, err
	}
	return payload.Token, resp.StatusCode, nil
}

// refreshAccessToken performs the OAuth refresh_token grant and persists
// the rotated tokens.
func (a *CopilotAdapter) refreshAccessToken(ctx context.Context) error {
	form := url.Values{
		"client_id":     {a.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {a.entry.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", a.oauthTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return timeoutErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return errs.Newf(errs.CodeAuthConfigError,
			"oauth refresh failed with HTTP %d: %s; re-run authentication setup",
			resp.StatusCode, errs.Redact(string(body)))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode oauth refresh: %w", err)
	}
	if payload.Error != "" || payload.AccessToken == "" {
		return errs.Newf(errs.CodeAuthConfigError,
			"oauth refresh rejected (%s); re-run authentication setup", payload.Error)
	}

	a.entry.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		a.entry.RefreshToken = payload.RefreshToken
	}
	if payload.ExpiresIn > 0 {
		a.entry.AccessTokenExpiresAt = time.Now().
			Add(time.Duration(payload.ExpiresIn) * time.Second).UTC().Format(time.RFC3339)
	}
	return a.persist()
}

// persist writes the mutated entry back through the atomic store write.
func (a *CopilotAdapter) persist() error {
	a.store.Providers[a.provider] = a.entry
	return config.SaveCredentials(a.authPath, a.store)
}
