package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// ApplyPatchTool runs a batch of filesystem operations in two phases:
// every operation is prechecked before any executes, then execution
// proceeds in order and stops on the first failure. Effects of earlier
// operations are not rolled back.
type ApplyPatchTool struct{}

func (t *ApplyPatchTool) Name() string { return "apply_patch" }
func (t *ApplyPatchTool) Description() string {
	return "Apply a batch of file operations (add, update, write, delete, move, mkdir) with upfront validation"
}
func (t *ApplyPatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operations": map[string]interface{}{
				"type":        "array",
				"description": "Ordered operations to apply",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"op":        map[string]interface{}{"type": "string", "description": "One of add, update, write, delete, move, rename, mkdir"},
						"path":      map[string]interface{}{"type": "string", "description": "Target path"},
						"to":        map[string]interface{}{"type": "string", "description": "Destination path for move/rename"},
						"content":   map[string]interface{}{"type": "string", "description": "File content for add/update/write"},
						"recursive": map[string]interface{}{"type": "boolean", "description": "Recursive flag for delete/mkdir"},
						"overwrite": map[string]interface{}{"type": "boolean", "description": "Overwrite flag for move"},
					},
					"required": []string{"op", "path"},
				},
			},
		},
		"required": []string{"operations"},
	}
}

type patchOp struct {
	op   string
	path string
	args map[string]interface{}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawOps, ok := args["operations"].([]interface{})
	if !ok || len(rawOps) == 0 {
		return FailResult(errs.CodeToolInvalidArgs, "operations must be a non-empty array")
	}

	ops := make([]patchOp, 0, len(rawOps))
	for i, raw := range rawOps {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return FailResult(errs.CodeToolInvalidArgs,
				fmt.Sprintf("operation %d is not an object", i))
		}
		op := argString(m, "op", "")
		if op == "rename" {
			op = "move"
		}
		ops = append(ops, patchOp{op: op, path: argString(m, "path", ""), args: m})
	}

	// Phase 1: validate everything before touching the filesystem.
	for i, op := range ops {
		if err := precheckOp(op); err != nil {
			return FailResult(errs.CodeToolInvalidArgs,
				fmt.Sprintf("operation %d (%s %s): %v", i, op.op, op.path, err))
		}
	}

	// Phase 2: execute in order, stopping on the first failure.
	results := make([]map[string]interface{}, 0, len(ops))
	for i, op := range ops {
		res := executeOp(ctx, op)
		entry := map[string]interface{}{
			"op":   op.op,
			"path": op.path,
			"ok":   res.OK,
		}
		if !res.OK {
			entry["code"] = res.Code
			entry["error"] = res.Error
		}
		results = append(results, entry)
		if !res.OK {
			return FailResult(res.Code,
				fmt.Sprintf("operation %d (%s %s) failed: %s", i, op.op, op.path, res.Error)).
				WithPayload(map[string]interface{}{"results": results})
		}
	}

	return OKResult(map[string]interface{}{
		"results": results,
		"applied": len(results),
	})
}

func precheckOp(op patchOp) error {
	if op.path == "" {
		return fmt.Errorf("path is required")
	}
	abs, err := absPath(op.path)
	if err != nil {
		return fmt.Errorf("cannot resolve path: %v", err)
	}
	_, statErr := os.Stat(abs)
	exists := statErr == nil

	switch op.op {
	case "add":
		if _, ok := op.args["content"].(string); !ok {
			return fmt.Errorf("content is required")
		}
		if exists {
			return fmt.Errorf("target already exists")
		}
	case "update":
		if _, ok := op.args["content"].(string); !ok {
			return fmt.Errorf("content is required")
		}
		if !exists {
			return fmt.Errorf("target does not exist")
		}
	case "write":
		if _, ok := op.args["content"].(string); !ok {
			return fmt.Errorf("content is required")
		}
	case "delete", "mkdir":
		// path checked above
	case "move":
		if argString(op.args, "to", "") == "" {
			return fmt.Errorf("to is required")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", op.op)
	}
	return nil
}

func executeOp(ctx context.Context, op patchOp) *Result {
	switch op.op {
	case "add", "update", "write":
		return (&WriteFileTool{}).Execute(ctx, op.args)
	case "delete":
		return (&DeleteFileTool{}).Execute(ctx, op.args)
	case "move":
		return (&MoveFileTool{}).Execute(ctx, op.args)
	case "mkdir":
		return (&MkdirTool{}).Execute(ctx, op.args)
	}
	return FailResult(errs.CodeToolInvalidArgs, fmt.Sprintf("unknown op %q", op.op))
}
