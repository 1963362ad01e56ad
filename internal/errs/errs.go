// Package errs defines the stable error codes shared by every subsystem
// and the redaction rules applied to human-readable messages before they
// reach a log line or the JSON output.
package errs

import (
	"errors"
	"fmt"
)

// Stable error codes. These are part of the machine-readable contract:
// automation keys off the code, never the message text.
const (
	// Config
	CodeAgentConfigInvalid = "AGENT_CONFIG_INVALID"
	CodeAgentConfigError   = "AGENT_CONFIG_ERROR"
	CodeAuthConfigInvalid  = "AUTH_CONFIG_INVALID"
	CodeAuthConfigError    = "AUTH_CONFIG_ERROR"

	// Provider selection / URL
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeInvalidBaseURL        = "INVALID_BASE_URL"
	CodeInsecureBaseURL       = "INSECURE_BASE_URL"

	// Option validation
	CodeInvalidOption          = "INVALID_OPTION"
	CodeAttachmentLimitInvalid = "ATTACHMENT_LIMIT_INVALID"

	// Attachments
	CodeAttachmentNotFound        = "ATTACHMENT_NOT_FOUND"
	CodeAttachmentUnreadable      = "ATTACHMENT_UNREADABLE"
	CodeAttachmentTooLarge        = "ATTACHMENT_TOO_LARGE"
	CodeAttachmentTooManyFiles    = "ATTACHMENT_TOO_MANY_FILES"
	CodeAttachmentTooManyImages   = "ATTACHMENT_TOO_MANY_IMAGES"
	CodeAttachmentTypeUnsupported = "ATTACHMENT_TYPE_UNSUPPORTED"

	// Approval
	CodeInteractiveApprovalJSON = "INTERACTIVE_APPROVAL_JSON"
	CodeInteractiveApprovalTTY  = "INTERACTIVE_APPROVAL_TTY"

	// Capability
	CodeToolsNotSupported  = "TOOLS_NOT_SUPPORTED"
	CodeVisionNotSupported = "VISION_NOT_SUPPORTED"

	// Transport
	CodeFetchTimeout   = "FETCH_TIMEOUT"
	CodeRetryExhausted = "RETRY_EXHAUSTED"

	// Tools
	CodeToolInvalidArgs         = "TOOL_INVALID_ARGS"
	CodeToolNotFound            = "TOOL_NOT_FOUND"
	CodeToolInvalidPattern      = "TOOL_INVALID_PATTERN"
	CodeToolUnsupportedFileType = "TOOL_UNSUPPORTED_FILE_TYPE"
	CodeToolConflict            = "TOOL_CONFLICT"
	CodeToolUnknown             = "TOOL_UNKNOWN"
	CodeToolExecutionError      = "TOOL_EXECUTION_ERROR"

	// Terminal state
	CodeMaxToolTurnsNoFinal = "MAX_TOOL_TURNS_NO_FINAL"

	// Fallback
	CodeRuntimeError = "RUNTIME_ERROR"
)

// Error is an error carrying a stable code. Message is for humans and is
// redacted at the emission boundary, not here.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to a cause.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the stable code from err, walking the wrap chain.
// Errors without a code map to RUNTIME_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeRuntimeError
}

// Is lets errors.Is match two coded errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}
