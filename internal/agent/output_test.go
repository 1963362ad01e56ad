package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

func sampleMeta() OutputMeta {
	return OutputMeta{
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		Profile:      "dev",
		Mode:         "dev",
		ApprovalMode: "auto",
		ToolsMode:    "auto",
		RetriesUsed:  1,
		TimingMs:     1234,
	}
}

func TestBuildOutput_HealthInvariants(t *testing.T) {
	outcome := &Outcome{
		Status:       "completed",
		FinalText:    "done",
		ToolsEnabled: true,
		ToolCalls: []ToolCallRecord{
			{Tool: "read_file", OK: true},
			{Tool: "run_command", OK: false, Error: &ToolCallError{Message: "denied", Code: errs.CodeToolExecutionError}},
			{Tool: "write_file", OK: true},
			{Tool: "mkdir", OK: false, Error: &ToolCallError{Message: "boom", Code: errs.CodeToolExecutionError}},
		},
	}
	out := BuildOutput(outcome, sampleMeta())

	if !out.OK || out.Status != "completed" {
		t.Errorf("out = %+v", out)
	}
	if out.Health.ToolCallsTotal != len(out.ToolCalls) {
		t.Errorf("toolCallsTotal = %d, toolCalls = %d", out.Health.ToolCallsTotal, len(out.ToolCalls))
	}
	if out.Health.ToolCallsFailed != 2 {
		t.Errorf("toolCallsFailed = %d", out.Health.ToolCallsFailed)
	}
	if out.Health.ToolCallFailureRate != 0.5 {
		t.Errorf("failureRate = %v", out.Health.ToolCallFailureRate)
	}
	if out.Health.RetriesUsed != 1 {
		t.Errorf("retriesUsed = %d", out.Health.RetriesUsed)
	}
}

func TestBuildOutput_ZeroToolCalls(t *testing.T) {
	out := BuildOutput(&Outcome{Status: "completed", FinalText: "hi"}, sampleMeta())
	if out.Health.ToolCallFailureRate != 0 {
		t.Errorf("failureRate = %v, want 0 when total is 0", out.Health.ToolCallFailureRate)
	}

	data, err := out.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["toolCalls"].([]interface{}); !ok {
		t.Error("toolCalls must serialize as an array, not null")
	}
}

func TestBuildOutput_MaxTurnsFailure(t *testing.T) {
	outcome := &Outcome{
		Status:            "failed",
		Code:              errs.CodeMaxToolTurnsNoFinal,
		TerminationReason: "max_tool_turns_no_final",
		ToolCalls:         []ToolCallRecord{{Tool: "run_command", OK: true}, {Tool: "run_command", OK: true}},
	}
	out := BuildOutput(outcome, sampleMeta())

	if out.OK || out.Code != errs.CodeMaxToolTurnsNoFinal || out.Error == "" {
		t.Errorf("out = %+v", out)
	}
	if out.Termination == nil || out.Termination.Reason != "max_tool_turns_no_final" {
		t.Errorf("termination = %+v", out.Termination)
	}
	if len(out.ToolCalls) != 2 {
		t.Errorf("toolCalls = %d", len(out.ToolCalls))
	}
}

func TestBuildErrorOutput_RedactsAndCodes(t *testing.T) {
	err := errs.New(errs.CodeAuthConfigError,
		"oauth refresh failed: access_token=gho_verysecretvalue123")
	out := BuildErrorOutput(err, sampleMeta())

	if out.OK || out.Code != errs.CodeAuthConfigError {
		t.Errorf("out = %+v", out)
	}
	if out.Error == "" {
		t.Fatal("error message must be non-empty")
	}
	if strings.Contains(out.Error, "gho_verysecretvalue123") {
		t.Errorf("credential leaked: %q", out.Error)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", 0},
		{errs.CodeRuntimeError, 1},
		{errs.CodeMaxToolTurnsNoFinal, 1},
		{errs.CodeAgentConfigInvalid, 2},
		{errs.CodeAgentConfigError, 2},
		{errs.CodeAuthConfigInvalid, 3},
		{errs.CodeProviderNotConfigured, 4},
		{errs.CodeInvalidBaseURL, 4},
		{errs.CodeInsecureBaseURL, 4},
		{errs.CodeInteractiveApprovalTTY, 5},
		{errs.CodeInteractiveApprovalJSON, 5},
		{errs.CodeToolsNotSupported, 6},
		{errs.CodeVisionNotSupported, 6},
		{errs.CodeFetchTimeout, 7},
		{errs.CodeRetryExhausted, 8},
		{errs.CodeAttachmentNotFound, 9},
		{errs.CodeAttachmentTooLarge, 9},
	}
	for _, tt := range tests {
		if got := ExitCodeFor(tt.code); got != tt.want {
			t.Errorf("ExitCodeFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
