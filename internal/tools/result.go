// Package tools implements the local executors the model can invoke:
// filesystem operations, content search, batched patches and the
// policy-gated shell runner. Every executor returns the same envelope.
package tools

import (
	"encoding/json"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Result is the unified return type from tool execution. Success sets OK
// and carries payload fields; failure sets OK=false with a stable code
// and a human-readable error. Payload fields serialize flattened into
// the envelope so tool messages stay a single JSON object.
type Result struct {
	OK      bool
	Code    string
	Error   string
	Payload map[string]interface{}
}

func OKResult(payload map[string]interface{}) *Result {
	return &Result{OK: true, Payload: payload}
}

func FailResult(code, message string) *Result {
	if code == "" {
		code = errs.CodeToolExecutionError
	}
	return &Result{Code: code, Error: errs.Redact(message)}
}

// WithPayload attaches extra fields to a failure result (e.g. per-op
// outcomes from apply_patch, policy details from run_command).
func (r *Result) WithPayload(payload map[string]interface{}) *Result {
	r.Payload = payload
	return r
}

func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Payload)+3)
	for k, v := range r.Payload {
		out[k] = v
	}
	out["ok"] = r.OK
	if !r.OK {
		out["code"] = r.Code
		out["error"] = r.Error
	}
	return json.Marshal(out)
}
