package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// maxCaptureBytes bounds stdout/stderr capture per stream.
const maxCaptureBytes = 1 << 20

// ShellTool executes a command string through the platform shell after
// clearing it with the policy engine and, in ask mode, the human.
type ShellTool struct {
	Profile      string
	Policy       config.Security
	ApprovalMode string // ask|auto|never
	TimeoutMs    int
	Prompter     Prompter
}

func (t *ShellTool) Name() string { return "run_command" }
func (t *ShellTool) Description() string {
	return "Run a shell command (pipes, redirects and globs work) under the active security policy"
}
func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"cmd": map[string]interface{}{"type": "string", "description": "Command line to execute"},
		},
		"required": []string{"cmd"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := argString(args, "cmd", "")
	if command == "" {
		return FailResult(errs.CodeToolInvalidArgs, "cmd is required")
	}

	decision := EvaluateCommand(command, t.Profile, t.Policy)
	if !decision.Allowed {
		slog.Info("command blocked by policy",
			"source", decision.Source, "rule", decision.Rule, "profile", decision.Profile)
		return FailResult(errs.CodeToolExecutionError,
			fmt.Sprintf("command blocked by policy (%s: %s)", decision.Source, decision.Rule)).
			WithPayload(map[string]interface{}{
				"blocked": true,
				"cmd":     command,
				"policy": map[string]interface{}{
					"source": decision.Source,
					"rule":   decision.Rule,
				},
			})
	}

	switch t.ApprovalMode {
	case "never":
		return FailResult(errs.CodeToolExecutionError,
			"command execution is disabled (approval mode is never)").
			WithPayload(map[string]interface{}{
				"blocked":      true,
				"cmd":          command,
				"approvalMode": t.ApprovalMode,
			})
	case "ask":
		approved, err := t.Prompter.Confirm("run_command", t.Profile, command)
		if err != nil {
			return FailResult(errs.CodeOf(err), err.Error())
		}
		if !approved {
			return FailResult(errs.CodeToolExecutionError, "command denied by user").
				WithPayload(map[string]interface{}{
					"blocked":      true,
					"reason":       "user_denied",
					"cmd":          command,
					"approvalMode": t.ApprovalMode,
				})
		}
	}

	return t.run(ctx, command)
}

func (t *ShellTool) run(ctx context.Context, command string) *Result {
	timeout := time.Duration(config.ClampCommandTimeout(t.TimeoutMs)) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backend, cmd := platformCommand(runCtx, command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{w: &stdout, limit: maxCaptureBytes}
	cmd.Stderr = &limitWriter{w: &stderr, limit: maxCaptureBytes}

	start := time.Now()
	err := cmd.Run()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return FailResult(errs.CodeToolExecutionError,
				fmt.Sprintf("run %q with %s: %v", command, backend, err)).
				WithPayload(map[string]interface{}{
					"executionMode": "shell",
					"backend":       backend,
					"cmd":           command,
				})
		}
		if timedOut {
			exitCode = -1
		}
	}

	slog.Debug("command finished",
		"backend", backend, "code", exitCode, "timedOut", timedOut,
		"duration", time.Since(start).Round(time.Millisecond))

	res := &Result{OK: err == nil && !timedOut}
	if !res.OK {
		res.Code = errs.CodeToolExecutionError
		if timedOut {
			res.Error = fmt.Sprintf("command timed out after %s", timeout)
		} else {
			res.Error = fmt.Sprintf("command exited with code %d", exitCode)
		}
	}
	res.Payload = map[string]interface{}{
		"executionMode": "shell",
		"backend":       backend,
		"stdout":        stdout.String(),
		"stderr":        stderr.String(),
		"code":          exitCode,
		"timedOut":      timedOut,
		"cmd":           command,
		"approvalMode":  t.ApprovalMode,
	}
	return res
}

// platformCommand picks the shell: /bin/sh -lc on POSIX (bare sh when
// /bin/sh is absent), PowerShell on Windows with a cmd.exe fallback when
// no PowerShell binary is on PATH.
func platformCommand(ctx context.Context, command string) (string, *exec.Cmd) {
	if runtime.GOOS == "windows" {
		for _, shell := range []string{"pwsh", "powershell"} {
			if _, err := exec.LookPath(shell); err == nil {
				return shell, exec.CommandContext(ctx, shell,
					"-NoProfile", "-NonInteractive", "-Command", command)
			}
		}
		return "cmd", exec.CommandContext(ctx, "cmd.exe", "/d", "/s", "/c", command)
	}

	shell := "/bin/sh"
	if _, err := os.Stat(shell); err != nil {
		shell = "sh"
	}
	return shell, exec.CommandContext(ctx, shell, "-lc", command)
}

// limitWriter keeps the first limit bytes and silently drops the rest.
type limitWriter struct {
	w     *bytes.Buffer
	limit int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := l.limit - l.w.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
		}
		l.w.Write(p)
	}
	return n, nil
}
