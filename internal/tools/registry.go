package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/termagent/internal/errs"
	"github.com/nextlevelbuilder/termagent/internal/providers"
)

// Tool is a named local executor the model can call.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is the closed name→executor map for one invocation. Dispatch
// is static; unknown names fail with TOOL_UNKNOWN.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds the standard tool set. shell may be nil when tools
// are advertised without command execution (not a supported mode today,
// but the registry does not care).
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// DefaultRegistry wires the full executor set against the working
// directory with the given shell runner.
func DefaultRegistry(shell *ShellTool) *Registry {
	return NewRegistry(
		&ReadFileTool{},
		&ListFilesTool{},
		&SearchContentTool{},
		&WriteFileTool{},
		&DeleteFileTool{},
		&MoveFileTool{},
		&MkdirTool{},
		&ApplyPatchTool{},
		shell,
	)
}

// Dispatch runs the named tool. The result is always non-nil.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.tools[name]
	if !ok {
		return FailResult(errs.CodeToolUnknown, fmt.Sprintf("unknown tool %q", name))
	}
	return t.Execute(ctx, args)
}

// Definitions returns the tool schemas advertised to the model, in a
// stable name order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
