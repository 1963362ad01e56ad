package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// LoadRuntime reads agent.json and merges it over the built-in defaults.
// A missing file yields pure defaults. Invalid JSON is AGENT_CONFIG_INVALID;
// an unusable path (directory, missing parent) is AGENT_CONFIG_ERROR.
func LoadRuntime(path string) (*File, error) {
	cfg := Default()

	data, err := readConfigFile(path, errs.CodeAgentConfigError)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return cfg, nil
	}

	// Shadow decode so we can tell "absent" from "present but empty":
	// rule lists and the modes map replace wholesale, scalars merge per-field.
	var shadow struct {
		Version  *int    `json:"version"`
		Runtime  Runtime `json:"runtime"`
		Security struct {
			DenyCritical []string             `json:"denyCritical"`
			Modes        map[string]ModeRules `json:"modes"`
		} `json:"security"`
	}
	if err := json5.Unmarshal(data, &shadow); err != nil {
		return nil, errs.Wrap(errs.CodeAgentConfigInvalid,
			fmt.Sprintf("invalid config file %s: %v", path, err), err)
	}

	if shadow.Version != nil {
		cfg.Version = *shadow.Version
	}
	mergeRuntime(&cfg.Runtime, shadow.Runtime)
	if shadow.Security.DenyCritical != nil {
		cfg.Security.DenyCritical = shadow.Security.DenyCritical
	}
	if shadow.Security.Modes != nil {
		cfg.Security.Modes = shadow.Security.Modes
	}

	cfg.Runtime.CommandTimeoutMs = ClampCommandTimeout(cfg.Runtime.CommandTimeoutMs)
	cfg.Runtime.MaxToolTurns = ClampMaxToolTurns(cfg.Runtime.MaxToolTurns)

	slog.Debug("runtime config loaded", "path", path,
		"profile", cfg.Runtime.Profile, "provider", cfg.Runtime.DefaultProvider)
	return cfg, nil
}

func mergeRuntime(dst *Runtime, src Runtime) {
	if src.DefaultProvider != "" {
		dst.DefaultProvider = src.DefaultProvider
	}
	if src.DefaultModel != "" {
		dst.DefaultModel = src.DefaultModel
	}
	if src.Profile != "" {
		dst.Profile = src.Profile
	}
	if src.DefaultApprovalMode != "" {
		dst.DefaultApprovalMode = src.DefaultApprovalMode
	}
	if src.DefaultToolsMode != "" {
		dst.DefaultToolsMode = src.DefaultToolsMode
	}
	if src.MaxToolTurns != 0 {
		dst.MaxToolTurns = src.MaxToolTurns
	}
	if src.CommandTimeoutMs != 0 {
		dst.CommandTimeoutMs = src.CommandTimeoutMs
	}
	if src.ApprovalTimeoutMs != 0 {
		dst.ApprovalTimeoutMs = src.ApprovalTimeoutMs
	}
	if src.AllowInsecureHTTP {
		dst.AllowInsecureHTTP = true
	}
	if src.SystemPrompt != nil {
		dst.SystemPrompt = src.SystemPrompt
	}
	if src.Attachments != nil {
		dst.Attachments = src.Attachments
	}
	if src.UsageStats != nil {
		dst.UsageStats = src.UsageStats
	}
}

// readConfigFile reads path, distinguishing the error classes the contract
// cares about. Returns (nil, nil) when the file does not exist.
func readConfigFile(path, errCode string) ([]byte, error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return nil, errs.Newf(errCode, "config path %s is a directory", path)
	}
	if os.IsNotExist(err) {
		// Missing file is fine, but a missing parent directory means the
		// caller pointed us somewhere that cannot exist.
		parent := filepath.Dir(path)
		if pinfo, perr := os.Stat(parent); perr != nil || !pinfo.IsDir() {
			return nil, errs.Newf(errCode, "config directory %s does not exist", parent)
		}
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errCode, fmt.Sprintf("stat %s: %v", path, err), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errCode, fmt.Sprintf("read %s: %v", path, err), err)
	}
	return data, nil
}
