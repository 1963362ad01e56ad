package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/errs"
	"github.com/nextlevelbuilder/termagent/internal/providers"
	"github.com/nextlevelbuilder/termagent/internal/stats"
	"github.com/nextlevelbuilder/termagent/internal/tools"
)

// Params configure one turn-loop run.
type Params struct {
	Provider providers.Provider
	Registry *tools.Registry
	Recorder *stats.Recorder

	ProviderName string
	Model        string
	SystemPrompt string
	Message      string
	Attachments  *Attachments

	ToolsMode    string // auto|on|off
	MaxToolTurns int
	Stream       bool
	JSONOutput   bool

	// StreamSink receives text deltas when streaming is active; nil
	// disables delta emission.
	StreamSink func(string)
}

// ToolCallError is the normalized failure info inside a record.
type ToolCallError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ToolCallMeta carries per-call timing.
type ToolCallMeta struct {
	DurationMs int64  `json:"duration_ms"`
	TS         string `json:"ts"`
}

// ToolCallRecord is the externally observable outcome of one tool call.
type ToolCallRecord struct {
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input"`
	OK     bool                   `json:"ok"`
	Result json.RawMessage        `json:"result"`
	Error  *ToolCallError         `json:"error"`
	Meta   ToolCallMeta           `json:"meta"`
}

// UsageAggregate sums token usage across the loop's requests.
type UsageAggregate struct {
	Turns          int  `json:"turns"`
	TurnsWithUsage int  `json:"turns_with_usage"`
	InputTokens    int  `json:"input_tokens"`
	OutputTokens   int  `json:"output_tokens"`
	TotalTokens    int  `json:"total_tokens"`
	HasUsage       bool `json:"has_usage"`
}

// Outcome is the terminal state of one run.
type Outcome struct {
	Status            string // completed | failed
	Code              string // set when Status == failed
	TerminationReason string
	FinalText         string
	ToolCalls         []ToolCallRecord
	Usage             UsageAggregate
	ToolsEnabled      bool
	ToolsFallbackUsed bool
	TurnsUsed         int
	StreamedOutput    bool
}

// Run drives chat → tool dispatch → chat until the model produces final
// text or the turn budget runs out. Capability errors mid-loop degrade
// (tools fallback, streaming fallback) or abort (vision) per the mode.
func Run(ctx context.Context, p Params) (*Outcome, error) {
	maxTurns := p.MaxToolTurns
	if maxTurns < 1 {
		maxTurns = 10
	}

	out := &Outcome{ToolsEnabled: p.ToolsMode != "off"}
	hasImages := p.Attachments != nil && len(p.Attachments.Images) > 0

	if hasImages && !providers.ModelLikelySupportsVision(p.ProviderName, p.Model) {
		slog.Warn("model may not accept image input", "provider", p.ProviderName, "model", p.Model)
	}

	var messages []providers.Message
	if p.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: p.SystemPrompt})
	}
	messages = append(messages, buildUserMessage(p.Message, p.Attachments))

	streamDisabled := false

	for turn := 0; turn < maxTurns; turn++ {
		req := providers.ChatRequest{
			Model:       p.Model,
			Messages:    messages,
			Temperature: 0,
		}
		if out.ToolsEnabled {
			req.Tools = p.Registry.Definitions()
		}

		useStreaming := !streamDisabled &&
			providers.ShouldUseStreaming(p.Stream, p.JSONOutput, out.ToolsEnabled, p.ProviderName)

		var resp *providers.ChatResponse
		var err error
		if useStreaming {
			resp, err = p.Provider.ChatStream(ctx, req, p.StreamSink)
			if err == nil {
				out.StreamedOutput = true
			}
		} else {
			resp, err = p.Provider.Chat(ctx, req)
		}

		if err != nil {
			msg := err.Error()
			switch {
			case out.ToolsEnabled && providers.IsToolUnsupportedError(msg):
				if p.ToolsMode == "on" {
					return nil, errs.Wrap(errs.CodeToolsNotSupported,
						fmt.Sprintf("%s/%s rejects tool calling", p.ProviderName, p.Model), err)
				}
				slog.Info("tool calling unsupported, retrying without tools",
					"provider", p.ProviderName, "model", p.Model)
				out.ToolsEnabled = false
				out.ToolsFallbackUsed = true
				turn--
				continue
			case hasImages && providers.IsVisionUnsupportedError(msg):
				return nil, errs.Wrap(errs.CodeVisionNotSupported,
					fmt.Sprintf("%s/%s rejects image input", p.ProviderName, p.Model), err)
			case useStreaming && providers.IsStreamUnsupportedError(msg):
				slog.Debug("streaming unsupported, retrying without stream",
					"provider", p.ProviderName)
				streamDisabled = true
				turn--
				continue
			}
			return nil, err
		}

		out.TurnsUsed++
		accumulateUsage(&out.Usage, resp.Usage)
		recordUsage(p, resp.Usage)

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			out.Status = "completed"
			out.FinalText = resp.Content
			return out, nil
		}

		for _, call := range resp.ToolCalls {
			record := dispatchToolCall(ctx, p.Registry, call)
			out.ToolCalls = append(out.ToolCalls, record)

			serialized, err := json.Marshal(record)
			if err != nil {
				serialized = []byte(`{"ok":false,"error":{"message":"record serialization failed","code":"TOOL_EXECUTION_ERROR"}}`)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    string(serialized),
				ToolCallID: call.ID,
			})
		}
	}

	out.Status = "failed"
	out.Code = errs.CodeMaxToolTurnsNoFinal
	out.TerminationReason = "max_tool_turns_no_final"
	return out, nil
}

// dispatchToolCall parses arguments (malformed JSON degrades to an empty
// object), runs the executor, and normalizes the outcome. Tool failures
// never abort the loop.
func dispatchToolCall(ctx context.Context, registry *tools.Registry, call providers.ToolCall) ToolCallRecord {
	args := map[string]interface{}{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			slog.Debug("malformed tool arguments", "tool", call.Name, "error", err)
			args = map[string]interface{}{}
		}
	}

	start := time.Now()
	res := registry.Dispatch(ctx, call.Name, args)
	record := ToolCallRecord{
		Tool:  call.Name,
		Input: args,
		OK:    res.OK,
		Meta: ToolCallMeta{
			DurationMs: time.Since(start).Milliseconds(),
			TS:         start.UTC().Format(time.RFC3339),
		},
	}
	if res.OK {
		if data, err := json.Marshal(res); err == nil {
			record.Result = data
		}
	} else {
		code := res.Code
		if code == "" {
			code = errs.CodeToolExecutionError
		}
		record.Error = &ToolCallError{Message: res.Error, Code: code}
	}
	return record
}

func accumulateUsage(agg *UsageAggregate, u *providers.Usage) {
	agg.Turns++
	if u == nil {
		return
	}
	agg.TurnsWithUsage++
	agg.HasUsage = true
	agg.InputTokens += u.PromptTokens
	agg.OutputTokens += u.CompletionTokens
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	agg.TotalTokens += total
}

func recordUsage(p Params, u *providers.Usage) {
	if p.Recorder == nil || !p.Recorder.Enabled() {
		return
	}
	e := stats.Entry{
		Provider:     p.ProviderName,
		Model:        p.Model,
		RequestCount: 1,
	}
	if u != nil {
		e.HasUsage = true
		e.InputTokens = u.PromptTokens
		e.OutputTokens = u.CompletionTokens
		e.TotalTokens = u.TotalTokens
		if e.TotalTokens == 0 {
			e.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
	}
	p.Recorder.Record(e)
}

// buildUserMessage assembles the user turn: plain text when there are no
// attachments, otherwise typed parts with fenced file blocks and
// image_url parts.
func buildUserMessage(text string, atts *Attachments) providers.Message {
	if atts == nil || (len(atts.Files) == 0 && len(atts.Images) == 0) {
		return providers.Message{Role: "user", Content: text}
	}

	parts := []providers.ContentPart{{Type: "text", Text: text}}
	for _, f := range atts.Files {
		parts = append(parts, providers.ContentPart{
			Type: "text",
			Text: fmt.Sprintf("File: %s\n```\n%s\n```", f.Path, f.Content),
		})
	}
	for _, img := range atts.Images {
		parts = append(parts, providers.ContentPart{
			Type: "text",
			Text: fmt.Sprintf("Image: %s", img.Path),
		})
		parts = append(parts, providers.ContentPart{
			Type:     "image_url",
			ImageURL: img.DataURL,
		})
	}
	return providers.Message{Role: "user", Parts: parts}
}
