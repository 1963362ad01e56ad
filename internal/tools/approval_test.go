package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// tempFile returns an open regular file, which is never a terminal.
func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "notatty"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestTerminalPrompterPrecheck(t *testing.T) {
	f := tempFile(t)

	tests := []struct {
		name     string
		prompter *TerminalPrompter
		wantCode string
	}{
		{"json mode", &TerminalPrompter{JSONMode: true, In: f, Out: f},
			errs.CodeInteractiveApprovalJSON},
		{"no tty", &TerminalPrompter{In: f, Out: f},
			errs.CodeInteractiveApprovalTTY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prompter.Precheck()
			if err == nil {
				t.Fatal("expected a precondition error")
			}
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %s, want %s", errs.CodeOf(err), tt.wantCode)
			}
		})
	}
}

// Confirm enforces the same preconditions, so a prompt that slips past the
// up-front check still fails with the constraint code instead of blocking.
func TestConfirmEnforcesPreconditions(t *testing.T) {
	f := tempFile(t)
	p := &TerminalPrompter{JSONMode: true, In: f, Out: f}

	ok, err := p.Confirm("run_command", "dev", "echo hi")
	if ok {
		t.Error("confirm must not approve")
	}
	if errs.CodeOf(err) != errs.CodeInteractiveApprovalJSON {
		t.Errorf("code = %s", errs.CodeOf(err))
	}
}
