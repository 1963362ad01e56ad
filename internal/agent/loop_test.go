package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/errs"
	"github.com/nextlevelbuilder/termagent/internal/providers"
	"github.com/nextlevelbuilder/termagent/internal/tools"
)

// scriptedProvider replays canned responses (or errors) per call and
// records the requests it saw.
type scriptedProvider struct {
	name     string
	steps    []scriptStep
	requests []providers.ChatRequest

	// streamErr, when set, fails every ChatStream call without consuming
	// the script; Chat then serves the non-streaming retry.
	streamErr   error
	streamCalls int
}

type scriptStep struct {
	resp *providers.ChatResponse
	err  error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.resp, step.err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, sink func(string)) (*providers.ChatResponse, error) {
	if p.streamErr != nil {
		p.streamCalls++
		p.requests = append(p.requests, req)
		return nil, p.streamErr
	}
	resp, err := p.Chat(ctx, req)
	if err == nil && sink != nil && resp.Content != "" {
		sink(resp.Content)
	}
	return resp, err
}

func textResponse(text string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: text, FinishReason: "stop"}
}

func toolCallResponse(calls ...providers.ToolCall) *providers.ChatResponse {
	return &providers.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}

func testParams(p providers.Provider) Params {
	return Params{
		Provider: p,
		Registry: tools.DefaultRegistry(&tools.ShellTool{
			Profile:      "dev",
			Policy:       config.Default().Security,
			ApprovalMode: "auto",
			TimeoutMs:    5000,
		}),
		ProviderName: "openai",
		Model:        "gpt-4o-mini",
		Message:      "hello",
		ToolsMode:    "auto",
		MaxToolTurns: 10,
	}
}

func TestRun_PlainCompletion(t *testing.T) {
	provider := &scriptedProvider{name: "openai",
		steps: []scriptStep{{resp: textResponse("hi there")}}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "completed" || out.FinalText != "hi there" {
		t.Errorf("outcome = %+v", out)
	}
	if out.TurnsUsed != 1 || len(out.ToolCalls) != 0 {
		t.Errorf("outcome = %+v", out)
	}

	req := provider.requests[0]
	if req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", req.Temperature)
	}
	if len(req.Tools) == 0 {
		t.Error("tools mode auto should advertise tool schemas")
	}
	if req.Messages[0].Role != "user" {
		t.Errorf("no system prompt configured, first message = %+v", req.Messages[0])
	}
}

func TestRun_SystemPromptLeadsMessages(t *testing.T) {
	provider := &scriptedProvider{name: "openai",
		steps: []scriptStep{{resp: textResponse("ok")}}}
	params := testParams(provider)
	params.SystemPrompt = "be terse"

	if _, err := Run(context.Background(), params); err != nil {
		t.Fatal(err)
	}
	msgs := provider.requests[0].Messages
	if msgs[0].Role != "system" || msgs[0].Content != "be terse" {
		t.Errorf("messages[0] = %+v", msgs[0])
	}
}

func TestRun_ToolDispatchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: toolCallResponse(providers.ToolCall{
			ID:        "call_1",
			Name:      "write_file",
			Arguments: `{"path":"` + strings.ReplaceAll(target, `\`, `\\`) + `","content":"done"}`,
		})},
		{resp: textResponse("file written")},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "completed" || out.FinalText != "file written" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.ToolCalls) != 1 || !out.ToolCalls[0].OK {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if out.ToolCalls[0].Tool != "write_file" {
		t.Errorf("tool = %q", out.ToolCalls[0].Tool)
	}

	// The second request must carry assistant + tool messages in order.
	msgs := provider.requests[1].Messages
	last, prev := msgs[len(msgs)-1], msgs[len(msgs)-2]
	if prev.Role != "assistant" || len(prev.ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", prev)
	}
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", last)
	}
	if !strings.Contains(last.Content, `"ok":true`) {
		t.Errorf("tool message content = %q", last.Content)
	}
}

func TestRun_MalformedArgumentsDegradeToEmptyObject(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: toolCallResponse(providers.ToolCall{
			ID: "call_1", Name: "read_file", Arguments: `{not json`,
		})},
		{resp: textResponse("done")},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	record := out.ToolCalls[0]
	if record.OK {
		t.Fatal("read_file without a path must fail")
	}
	if len(record.Input) != 0 {
		t.Errorf("input = %+v, want empty object", record.Input)
	}
	if record.Error == nil || record.Error.Code != errs.CodeToolInvalidArgs {
		t.Errorf("error = %+v", record.Error)
	}
}

func TestRun_UnknownToolRecorded(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: toolCallResponse(providers.ToolCall{ID: "c1", Name: "teleport", Arguments: "{}"})},
		{resp: textResponse("done")},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	record := out.ToolCalls[0]
	if record.OK || record.Error == nil || record.Error.Code != errs.CodeToolUnknown {
		t.Errorf("record = %+v", record)
	}
}

func TestRun_ToolUnsupportedAutoFallback(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{err: errors.New("Tool calling is not supported for this model")},
		{resp: textResponse("plain answer")},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	if !out.ToolsFallbackUsed || out.ToolsEnabled {
		t.Errorf("outcome = %+v, want fallback with tools disabled", out)
	}
	if out.FinalText != "plain answer" || out.TurnsUsed != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if len(provider.requests[1].Tools) != 0 {
		t.Error("retry still advertised tools")
	}
}

func TestRun_ToolUnsupportedModeOnFails(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{err: errors.New("tools are not supported")},
	}}
	params := testParams(provider)
	params.ToolsMode = "on"

	_, err := Run(context.Background(), params)
	if errs.CodeOf(err) != errs.CodeToolsNotSupported {
		t.Errorf("code = %s, want TOOLS_NOT_SUPPORTED", errs.CodeOf(err))
	}
}

func TestRun_VisionRejectionAborts(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "pic.png")
	writeBytes(t, img, []byte{0x89, 'P', 'N', 'G'})

	provider := &scriptedProvider{name: "openrouter", steps: []scriptStep{
		{err: errors.New("model does not support image input")},
	}}
	params := testParams(provider)
	params.ProviderName = "openrouter"
	params.Model = "google/gemini-pro"
	atts, err := ResolveAttachments(nil, []string{img}, AttachmentLimits{})
	if err != nil {
		t.Fatal(err)
	}
	params.Attachments = atts

	_, err = Run(context.Background(), params)
	if errs.CodeOf(err) != errs.CodeVisionNotSupported {
		t.Errorf("code = %s, want VISION_NOT_SUPPORTED", errs.CodeOf(err))
	}
	if got := ExitCodeFor(errs.CodeOf(err)); got != 6 {
		t.Errorf("exit code = %d, want 6", got)
	}
}

func TestRun_StreamRejectedRetriesWithoutStreaming(t *testing.T) {
	provider := &scriptedProvider{name: "openai",
		streamErr: errors.New("Unknown parameter: stream"),
		steps:     []scriptStep{{resp: textResponse("plain answer")}}}
	params := testParams(provider)
	params.ToolsMode = "off"
	params.Stream = true
	var deltas []string
	params.StreamSink = func(s string) { deltas = append(deltas, s) }

	out, err := Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "completed" || out.FinalText != "plain answer" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.StreamedOutput {
		t.Error("fallback response must not be reported as streamed")
	}
	// Same turn, retried without streaming: one stream attempt, one plain
	// request, a single counted turn.
	if provider.streamCalls != 1 || len(provider.requests) != 2 {
		t.Errorf("streamCalls = %d, requests = %d", provider.streamCalls, len(provider.requests))
	}
	if out.TurnsUsed != 1 {
		t.Errorf("turnsUsed = %d, want 1", out.TurnsUsed)
	}
	if len(deltas) != 0 {
		t.Errorf("deltas = %q, want none on the non-streaming retry", deltas)
	}
}

func TestRun_MaxTurnsExhausted(t *testing.T) {
	call := providers.ToolCall{ID: "c", Name: "run_command", Arguments: `{"cmd":"echo loop"}`}
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: toolCallResponse(call)},
		{resp: toolCallResponse(call)},
		{resp: toolCallResponse(call)}, // never reached
	}}
	params := testParams(provider)
	params.MaxToolTurns = 2

	out, err := Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "failed" || out.Code != errs.CodeMaxToolTurnsNoFinal {
		t.Errorf("outcome = %+v", out)
	}
	if out.TerminationReason != "max_tool_turns_no_final" {
		t.Errorf("reason = %q", out.TerminationReason)
	}
	if len(out.ToolCalls) != 2 {
		t.Errorf("tool calls = %d, want 2", len(out.ToolCalls))
	}
}

func TestRun_UsageAggregation(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: &providers.ChatResponse{
			ToolCalls:    []providers.ToolCall{{ID: "c", Name: "run_command", Arguments: `{"cmd":"echo hi"}`}},
			FinishReason: "tool_calls",
			Usage:        &providers.Usage{PromptTokens: 10, CompletionTokens: 5},
		}},
		{resp: &providers.ChatResponse{
			Content: "done", FinishReason: "stop",
			Usage: &providers.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
		}},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	u := out.Usage
	if u.Turns != 2 || u.TurnsWithUsage != 2 || !u.HasUsage {
		t.Errorf("usage = %+v", u)
	}
	if u.InputTokens != 30 || u.OutputTokens != 13 || u.TotalTokens != 43 {
		t.Errorf("usage = %+v", u)
	}
}

func TestRun_MultipleToolCallsExecuteInOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{resp: toolCallResponse(
			providers.ToolCall{ID: "c1", Name: "write_file",
				Arguments: `{"path":"` + strings.ReplaceAll(a, `\`, `\\`) + `","content":"one"}`},
			providers.ToolCall{ID: "c2", Name: "read_file",
				Arguments: `{"path":"` + strings.ReplaceAll(a, `\`, `\\`) + `"}`},
		)},
		{resp: textResponse("done")},
	}}

	out, err := Run(context.Background(), testParams(provider))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.ToolCalls) != 2 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	// Sequential execution: the read sees the write's effect.
	if !out.ToolCalls[0].OK || !out.ToolCalls[1].OK {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
	msgs := provider.requests[1].Messages
	if msgs[len(msgs)-2].ToolCallID != "c1" || msgs[len(msgs)-1].ToolCallID != "c2" {
		t.Error("tool messages out of order")
	}
}

func TestRun_TransportErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		{err: errs.New(errs.CodeRetryExhausted, "request failed after 4 attempts")},
	}}

	_, err := Run(context.Background(), testParams(provider))
	if errs.CodeOf(err) != errs.CodeRetryExhausted {
		t.Errorf("code = %s", errs.CodeOf(err))
	}
}
