// Package config owns the two JSON documents the runtime reads:
// agent.json (runtime defaults + command security policy) and
// agent.auth.json (provider credentials). Loading is tolerant (json5),
// saving is atomic and pretty-printed.
package config

const (
	// DefaultRuntimePath is the runtime/policy config file.
	DefaultRuntimePath = "agent.json"
	// DefaultCredentialsPath is the credentials file (mode 0600).
	DefaultCredentialsPath = "agent.auth.json"

	DefaultMaxToolTurns     = 10
	DefaultCommandTimeoutMs = 10000

	minCommandTimeoutMs = 100
	maxCommandTimeoutMs = 600000
	minToolTurns        = 1
	maxToolTurnsCap     = 200
)

// Runtime is the process-wide defaults section of agent.json.
type Runtime struct {
	DefaultProvider     string            `json:"defaultProvider,omitempty"`
	DefaultModel        string            `json:"defaultModel,omitempty"`
	Profile             string            `json:"profile,omitempty"`             // safe|dev|framework
	DefaultApprovalMode string            `json:"defaultApprovalMode,omitempty"` // ask|auto|never
	DefaultToolsMode    string            `json:"defaultToolsMode,omitempty"`    // auto|on|off
	MaxToolTurns        int               `json:"maxToolTurns,omitempty"`
	CommandTimeoutMs    int               `json:"commandTimeoutMs,omitempty"`
	ApprovalTimeoutMs   int               `json:"approvalTimeoutMs,omitempty"`
	AllowInsecureHTTP   bool              `json:"allowInsecureHttp,omitempty"`
	SystemPrompt        *string           `json:"systemPrompt,omitempty"` // nil = unset
	Attachments         *AttachmentLimits `json:"attachments,omitempty"`
	UsageStats          *UsageStats       `json:"usageStats,omitempty"`
}

// AttachmentLimits bounds --file/--image attachments. Nil or zero fields
// mean unlimited.
type AttachmentLimits struct {
	MaxFiles      *int   `json:"maxFiles,omitempty"`
	MaxImages     *int   `json:"maxImages,omitempty"`
	MaxFileBytes  *int64 `json:"maxFileBytes,omitempty"`
	MaxImageBytes *int64 `json:"maxImageBytes,omitempty"`
}

// UsageStats configures the append-only NDJSON usage log.
type UsageStats struct {
	Enabled       bool   `json:"enabled"`
	File          string `json:"file,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
	MaxBytes      int64  `json:"maxBytes,omitempty"`
}

// Security is the command policy: denyCritical always applies, then the
// selected profile's deny, then its allow list.
type Security struct {
	DenyCritical []string             `json:"denyCritical"`
	Modes        map[string]ModeRules `json:"modes"`
}

// ModeRules are the per-profile allow/deny rule lists. A rule is "*",
// "re:<pattern>", or plain text matched exact-or-prefix-plus-space.
type ModeRules struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// File is the on-disk shape of agent.json.
type File struct {
	Version  int      `json:"version,omitempty"`
	Runtime  Runtime  `json:"runtime"`
	Security Security `json:"security"`
}

// Default returns the built-in configuration. User files are merged on top
// per-field; rule lists and the modes map replace wholesale when present.
func Default() *File {
	return &File{
		Version: 1,
		Runtime: Runtime{
			DefaultProvider:     "openai",
			DefaultModel:        "gpt-4o-mini",
			Profile:             "safe",
			DefaultApprovalMode: "ask",
			DefaultToolsMode:    "auto",
			MaxToolTurns:        DefaultMaxToolTurns,
			CommandTimeoutMs:    DefaultCommandTimeoutMs,
		},
		Security: Security{
			DenyCritical: []string{
				"rm -rf /",
				"rm -rf /*",
				`re:\brm\s+(-[a-z]*[rf][a-z]*\s+)+/(\s|$)`,
				`re:\bdd\s+if=.*of=/dev/`,
				`re:\bmkfs(\.[a-z0-9]+)?\b`,
				`re:curl\s+.*\|\s*(sh|bash)`,
				`re:wget\s+.*\|\s*(sh|bash)`,
				`re::\(\)\s*\{.*\};\s*:`,
				`re:>\s*/dev/sd[a-z]`,
			},
			Modes: map[string]ModeRules{
				"safe": {
					Allow: []string{
						"ls", "pwd", "echo", "cat", "head", "tail", "wc",
						"grep", "find", "which", "date", "uname",
						"git status", "git log", "git diff", "git show",
					},
					Deny: []string{},
				},
				"dev": {
					Allow: []string{"*"},
					Deny: []string{
						"sudo", "su", "shutdown", "reboot", "poweroff",
						"mkfs", "crontab",
					},
				},
				"framework": {
					Allow: []string{"*"},
					Deny:  []string{},
				},
			},
		},
	}
}

// ClampCommandTimeout normalizes a command timeout in milliseconds.
// Unset (<=0) falls back to the default; otherwise clamped to [100, 600000].
func ClampCommandTimeout(ms int) int {
	if ms <= 0 {
		return DefaultCommandTimeoutMs
	}
	if ms < minCommandTimeoutMs {
		return minCommandTimeoutMs
	}
	if ms > maxCommandTimeoutMs {
		return maxCommandTimeoutMs
	}
	return ms
}

// ClampMaxToolTurns normalizes the turn budget to [1, 200].
func ClampMaxToolTurns(n int) int {
	if n <= 0 {
		return DefaultMaxToolTurns
	}
	if n < minToolTurns {
		return minToolTurns
	}
	if n > maxToolTurnsCap {
		return maxToolTurnsCap
	}
	return n
}
