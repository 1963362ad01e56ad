// Package options holds the resolved invocation options and the
// CLI → environment → config-file → defaults precedence rules.
// Flag binding lives in cmd; this package is flag-library agnostic and
// the environment overlay is a pure function so it can be tested without
// touching the process environment.
package options

import (
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Unset is the sentinel for numeric options that were not given.
// Zero is a meaningful value for attachment limits (unlimited).
const Unset = -1

// Options are the per-invocation settings after CLI parsing, before the
// environment overlay.
type Options struct {
	Message        string
	Model          string // "provider/model" or bare model
	ConfigPath     string
	AuthConfigPath string
	Profile        string // safe|dev|framework
	Approval       string // ask|auto|never
	Tools          string // auto|on|off

	Files  []string
	Images []string

	SystemPrompt    string
	SystemPromptSet bool // explicitly-set empty string disables the system role

	MaxFileBytes  int64
	MaxImageBytes int64
	MaxFiles      int
	MaxImages     int

	CommandTimeoutMs  int
	AllowInsecureHTTP bool

	APIKey string // env only, never a flag

	JSON       bool
	JSONSchema bool
	Stream     bool
	Verbose    bool
	Debug      bool
	Log        bool
	LogFile    string
	Stats      bool
	StatsTop   int
}

// New returns Options with numeric fields marked unset.
func New() Options {
	return Options{
		MaxFileBytes:     Unset,
		MaxImageBytes:    Unset,
		MaxFiles:         Unset,
		MaxImages:        Unset,
		CommandTimeoutMs: Unset,
		StatsTop:         Unset,
	}
}

// Getenv is the environment lookup the overlay uses; injectable for tests.
type Getenv func(string) string

// ApplyEnvOverrides overlays AGENT_* environment variables onto opts.
// Pure: opts is taken by value and a new copy returned; a variable applies
// only when the corresponding CLI field is unset. An explicitly empty
// --system-prompt wins over AGENT_SYSTEM_PROMPT.
func ApplyEnvOverrides(opts Options, getenv Getenv) (Options, error) {
	envStr := func(key string, dst *string) {
		if *dst == "" {
			if v := getenv(key); v != "" {
				*dst = v
			}
		}
	}
	envStr("AGENT_MODEL", &opts.Model)
	envStr("AGENT_PROFILE", &opts.Profile)
	envStr("AGENT_APPROVAL", &opts.Approval)
	envStr("AGENT_API_KEY", &opts.APIKey)

	if !opts.SystemPromptSet {
		if v := getenv("AGENT_SYSTEM_PROMPT"); v != "" {
			opts.SystemPrompt = v
			opts.SystemPromptSet = true
		}
	}

	var err error
	envInt64 := func(key string, dst *int64) {
		if err != nil || *dst != Unset {
			return
		}
		if v := getenv(key); v != "" {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil || n < 0 {
				err = errs.Newf(errs.CodeAttachmentLimitInvalid, "%s must be a non-negative integer, got %q", key, v)
				return
			}
			*dst = n
		}
	}
	envInt := func(key string, dst *int) {
		if err != nil || *dst != Unset {
			return
		}
		if v := getenv(key); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil || n < 0 {
				err = errs.Newf(errs.CodeAttachmentLimitInvalid, "%s must be a non-negative integer, got %q", key, v)
				return
			}
			*dst = n
		}
	}
	envInt64("AGENT_MAX_FILE_BYTES", &opts.MaxFileBytes)
	envInt64("AGENT_MAX_IMAGE_BYTES", &opts.MaxImageBytes)
	envInt("AGENT_MAX_FILES", &opts.MaxFiles)
	envInt("AGENT_MAX_IMAGES", &opts.MaxImages)
	if err != nil {
		return opts, err
	}

	if opts.CommandTimeoutMs == Unset {
		if v := getenv("AGENT_COMMAND_TIMEOUT"); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				return opts, errs.Newf(errs.CodeInvalidOption, "AGENT_COMMAND_TIMEOUT must be an integer, got %q", v)
			}
			opts.CommandTimeoutMs = n
		}
	}

	if !opts.AllowInsecureHTTP {
		opts.AllowInsecureHTTP = isTruthy(getenv("AGENT_ALLOW_INSECURE_HTTP"))
	}

	return opts, nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Validate checks enum-valued options. Unset values pass; the config-file
// layer supplies them later.
func Validate(opts Options) error {
	if err := checkEnum("profile", opts.Profile, "safe", "dev", "framework"); err != nil {
		return err
	}
	if err := checkEnum("approval", opts.Approval, "ask", "auto", "never"); err != nil {
		return err
	}
	if err := checkEnum("tools", opts.Tools, "auto", "on", "off"); err != nil {
		return err
	}
	return nil
}

func checkEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errs.Newf(errs.CodeInvalidOption, "invalid --%s value %q (expected one of %s)",
		name, value, strings.Join(allowed, "|"))
}
