package tools

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// Prompter asks the human whether a command may run. Implementations
// other than the terminal one exist for tests.
type Prompter interface {
	Confirm(tool, profile, command string) (bool, error)
}

// TerminalPrompter prompts on stderr and reads the answer from stdin.
// Only "y"/"yes" (case-insensitive) approve; anything else, EOF, or an
// elapsed timeout denies.
type TerminalPrompter struct {
	In  *os.File // defaults to os.Stdin
	Out *os.File // defaults to os.Stderr

	// TimeoutMs bounds the wait for an answer; 0 waits forever.
	TimeoutMs int

	// JSONMode marks the invocation as machine-readable output, which is
	// incompatible with an interactive prompt.
	JSONMode bool
}

func (p *TerminalPrompter) in() *os.File {
	if p.In != nil {
		return p.In
	}
	return os.Stdin
}

func (p *TerminalPrompter) out() *os.File {
	if p.Out != nil {
		return p.Out
	}
	return os.Stderr
}

// Precheck reports whether an interactive prompt could run at all.
// Callers that know approval will be needed run it before any tool call so
// a constraint violation aborts the invocation instead of surfacing as a
// per-call tool failure.
func (p *TerminalPrompter) Precheck() error {
	if p.JSONMode {
		return errs.New(errs.CodeInteractiveApprovalJSON,
			"interactive approval cannot be combined with --json; use --approval auto or never")
	}
	if !term.IsTerminal(int(p.in().Fd())) || !term.IsTerminal(int(p.out().Fd())) {
		return errs.New(errs.CodeInteractiveApprovalTTY,
			"interactive approval requires a terminal on stdin and stderr")
	}
	return nil
}

func (p *TerminalPrompter) Confirm(tool, profile, command string) (bool, error) {
	if err := p.Precheck(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out(), "Tool:    %s\n", tool)
	fmt.Fprintf(p.out(), "Profile: %s\n", profile)
	fmt.Fprintf(p.out(), "Command: %s\n", command)
	fmt.Fprint(p.out(), "Approve? [y/N]: ")

	answers := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(p.in())
		line, _ := reader.ReadString('\n')
		answers <- line
	}()

	var line string
	if p.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(p.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case line = <-answers:
		case <-timer.C:
			fmt.Fprintln(p.out(), "\napproval timed out")
			return false, nil
		}
	} else {
		line = <-answers
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
