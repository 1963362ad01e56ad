package cmd

import (
	"fmt"
	"io"
)

// outputSchema describes the --json result document. Kept as a literal
// so --json-schema works offline and matches the agent.Output struct.
const outputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "termagent result",
  "type": "object",
  "required": [
    "ok", "status", "provider", "model", "profile", "mode",
    "approvalMode", "toolsMode", "toolsEnabled", "toolsFallbackUsed",
    "health", "attachments", "message", "toolCalls", "timingMs"
  ],
  "properties": {
    "ok": { "type": "boolean" },
    "status": { "type": "string", "enum": ["completed", "failed"] },
    "provider": { "type": "string" },
    "model": { "type": "string" },
    "profile": { "type": "string", "enum": ["safe", "dev", "framework"] },
    "mode": { "type": "string" },
    "approvalMode": { "type": "string", "enum": ["ask", "auto", "never"] },
    "toolsMode": { "type": "string", "enum": ["auto", "on", "off"] },
    "toolsEnabled": { "type": "boolean" },
    "toolsFallbackUsed": { "type": "boolean" },
    "health": {
      "type": "object",
      "required": ["retriesUsed", "toolCallsTotal", "toolCallsFailed", "toolCallFailureRate"],
      "properties": {
        "retriesUsed": { "type": "integer", "minimum": 0 },
        "toolCallsTotal": { "type": "integer", "minimum": 0 },
        "toolCallsFailed": { "type": "integer", "minimum": 0 },
        "toolCallFailureRate": { "type": "number", "minimum": 0, "maximum": 1 }
      }
    },
    "attachments": {
      "type": "object",
      "required": ["files", "images"],
      "properties": {
        "files": { "type": "array", "items": { "type": "string" } },
        "images": { "type": "array", "items": { "type": "string" } }
      }
    },
    "usage": {
      "type": "object",
      "properties": {
        "turns": { "type": "integer" },
        "turns_with_usage": { "type": "integer" },
        "input_tokens": { "type": "integer" },
        "output_tokens": { "type": "integer" },
        "total_tokens": { "type": "integer" },
        "has_usage": { "type": "boolean" }
      }
    },
    "message": { "type": "string" },
    "toolCalls": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tool", "ok"],
        "properties": {
          "tool": { "type": "string" },
          "input": { "type": "object" },
          "ok": { "type": "boolean" },
          "result": { "type": "object" },
          "error": {
            "type": ["object", "null"],
            "properties": {
              "message": { "type": "string" },
              "code": { "type": "string" }
            }
          },
          "meta": {
            "type": "object",
            "properties": {
              "duration_ms": { "type": "integer" },
              "ts": { "type": "string" }
            }
          }
        }
      }
    },
    "timingMs": { "type": "integer", "minimum": 0 },
    "error": { "type": "string" },
    "code": { "type": "string" },
    "termination": {
      "type": "object",
      "required": ["reason"],
      "properties": { "reason": { "type": "string" } }
    }
  }
}`

func printJSONSchema(w io.Writer) error {
	_, err := fmt.Fprintln(w, outputSchema)
	return err
}
