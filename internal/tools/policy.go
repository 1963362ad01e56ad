package tools

import (
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/termagent/internal/config"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Source  string `json:"source"` // denyCritical | deny | allow
	Rule    string `json:"rule"`
	Profile string `json:"profile"`
	Mode    string `json:"mode"`
}

// regex rules compile once per pattern and live for the process.
var (
	ruleRegexMu    sync.Mutex
	ruleRegexCache = map[string]*regexp.Regexp{}
)

// EvaluateCommand decides whether a command may run under the given
// profile. Ordering is fixed: denyCritical rules first, then the
// profile's deny rules, then its allow rules; a command no allow rule
// matches is denied.
func EvaluateCommand(command, profile string, policy config.Security) Decision {
	normalized := strings.ToLower(strings.TrimSpace(command))

	mode := profile
	rules, ok := policy.Modes[mode]
	if !ok {
		mode = "safe"
		rules = policy.Modes[mode]
	}

	for _, rule := range policy.DenyCritical {
		if ruleMatches(rule, command, normalized) {
			return Decision{Source: "denyCritical", Rule: rule, Profile: profile, Mode: mode}
		}
	}
	for _, rule := range rules.Deny {
		if ruleMatches(rule, command, normalized) {
			return Decision{Source: "deny", Rule: rule, Profile: profile, Mode: mode}
		}
	}
	for _, rule := range rules.Allow {
		if ruleMatches(rule, command, normalized) {
			return Decision{Allowed: true, Source: "allow", Rule: rule, Profile: profile, Mode: mode}
		}
	}
	return Decision{Source: "allow", Rule: "no allow rule matched", Profile: profile, Mode: mode}
}

// ruleMatches applies one rule. "*" matches anything; "re:<pattern>"
// matches the raw command case-insensitively; a plain rule matches the
// normalized command exactly or as a prefix followed by a space, never
// as a bare substring (so "ls" does not match "lsblk").
func ruleMatches(rule, raw, normalized string) bool {
	if rule == "*" {
		return true
	}
	if pattern, ok := strings.CutPrefix(rule, "re:"); ok {
		re := compileRule(pattern)
		return re != nil && re.MatchString(raw)
	}
	r := strings.ToLower(strings.TrimSpace(rule))
	if r == "" {
		return false
	}
	return normalized == r || strings.HasPrefix(normalized, r+" ")
}

func compileRule(pattern string) *regexp.Regexp {
	ruleRegexMu.Lock()
	defer ruleRegexMu.Unlock()
	if re, ok := ruleRegexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		// A malformed rule never matches; it cannot accidentally allow.
		ruleRegexCache[pattern] = nil
		return nil
	}
	ruleRegexCache[pattern] = re
	return re
}
