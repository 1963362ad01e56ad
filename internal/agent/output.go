package agent

import (
	"encoding/json"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Health summarizes loop resilience for automation.
type Health struct {
	RetriesUsed         int     `json:"retriesUsed"`
	ToolCallsTotal      int     `json:"toolCallsTotal"`
	ToolCallsFailed     int     `json:"toolCallsFailed"`
	ToolCallFailureRate float64 `json:"toolCallFailureRate"`
}

// AttachmentPaths lists the resolved attachment paths in the output.
type AttachmentPaths struct {
	Files  []string `json:"files"`
	Images []string `json:"images"`
}

// Output is the machine-readable result contract.
type Output struct {
	OK                bool            `json:"ok"`
	Status            string          `json:"status"`
	Provider          string          `json:"provider"`
	Model             string          `json:"model"`
	Profile           string          `json:"profile"`
	Mode              string          `json:"mode"`
	ApprovalMode      string          `json:"approvalMode"`
	ToolsMode         string          `json:"toolsMode"`
	ToolsEnabled      bool            `json:"toolsEnabled"`
	ToolsFallbackUsed bool            `json:"toolsFallbackUsed"`
	Health            Health          `json:"health"`
	Attachments       AttachmentPaths `json:"attachments"`
	Usage             *UsageAggregate `json:"usage,omitempty"`
	Message           string          `json:"message"`
	ToolCalls         []ToolCallRecord `json:"toolCalls"`
	TimingMs          int64           `json:"timingMs"`

	// Failure fields; guaranteed non-empty when OK is false.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	Termination *Termination `json:"termination,omitempty"`
}

// Termination explains a non-completed loop ending.
type Termination struct {
	Reason string `json:"reason"`
}

// OutputMeta carries the invocation context the loop itself does not
// know about.
type OutputMeta struct {
	Provider     string
	Model        string
	Profile      string
	Mode         string
	ApprovalMode string
	ToolsMode    string
	RetriesUsed  int
	Attachments  *Attachments
	TimingMs     int64
}

// BuildOutput shapes a finished loop outcome into the output contract.
func BuildOutput(outcome *Outcome, meta OutputMeta) *Output {
	out := newOutput(meta)
	out.Status = outcome.Status
	out.OK = outcome.Status == "completed"
	out.ToolsEnabled = outcome.ToolsEnabled
	out.ToolsFallbackUsed = outcome.ToolsFallbackUsed
	out.Message = outcome.FinalText
	out.ToolCalls = outcome.ToolCalls
	if out.ToolCalls == nil {
		out.ToolCalls = []ToolCallRecord{}
	}
	if outcome.Usage.Turns > 0 {
		u := outcome.Usage
		out.Usage = &u
	}

	out.Health.ToolCallsTotal = len(outcome.ToolCalls)
	for _, tc := range outcome.ToolCalls {
		if !tc.OK {
			out.Health.ToolCallsFailed++
		}
	}
	if out.Health.ToolCallsTotal > 0 {
		out.Health.ToolCallFailureRate =
			float64(out.Health.ToolCallsFailed) / float64(out.Health.ToolCallsTotal)
	}

	if !out.OK {
		out.Code = outcome.Code
		out.Error = "loop ended without a final assistant message"
		if outcome.TerminationReason != "" {
			out.Termination = &Termination{Reason: outcome.TerminationReason}
		}
	}
	return out
}

// BuildErrorOutput shapes an aborting error into the output contract.
func BuildErrorOutput(err error, meta OutputMeta) *Output {
	out := newOutput(meta)
	out.Status = "failed"
	out.Code = errs.CodeOf(err)
	out.Error = errs.Redact(err.Error())
	out.ToolCalls = []ToolCallRecord{}
	return out
}

func newOutput(meta OutputMeta) *Output {
	out := &Output{
		Provider:     meta.Provider,
		Model:        meta.Model,
		Profile:      meta.Profile,
		Mode:         meta.Mode,
		ApprovalMode: meta.ApprovalMode,
		ToolsMode:    meta.ToolsMode,
		TimingMs:     meta.TimingMs,
		Health:       Health{RetriesUsed: meta.RetriesUsed},
		Attachments:  AttachmentPaths{Files: []string{}, Images: []string{}},
	}
	if meta.Attachments != nil {
		for _, f := range meta.Attachments.Files {
			out.Attachments.Files = append(out.Attachments.Files, f.Path)
		}
		for _, img := range meta.Attachments.Images {
			out.Attachments.Images = append(out.Attachments.Images, img.Path)
		}
	}
	return out
}

// Marshal renders the output as indented JSON with a trailing newline.
func (o *Output) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ExitCodeFor maps a stable error code to the process exit code.
func ExitCodeFor(code string) int {
	switch code {
	case "":
		return 0
	case errs.CodeAgentConfigInvalid, errs.CodeAgentConfigError:
		return 2
	case errs.CodeAuthConfigInvalid, errs.CodeAuthConfigError:
		return 3
	case errs.CodeProviderNotConfigured, errs.CodeInvalidBaseURL, errs.CodeInsecureBaseURL:
		return 4
	case errs.CodeInteractiveApprovalJSON, errs.CodeInteractiveApprovalTTY:
		return 5
	case errs.CodeToolsNotSupported, errs.CodeVisionNotSupported:
		return 6
	case errs.CodeFetchTimeout:
		return 7
	case errs.CodeRetryExhausted:
		return 8
	case errs.CodeAttachmentLimitInvalid, errs.CodeAttachmentNotFound,
		errs.CodeAttachmentUnreadable, errs.CodeAttachmentTooLarge,
		errs.CodeAttachmentTooManyFiles, errs.CodeAttachmentTooManyImages,
		errs.CodeAttachmentTypeUnsupported:
		return 9
	default:
		return 1
	}
}
