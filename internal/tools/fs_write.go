package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// writeFileAtomic writes content through a sibling temp file and renames
// it over the target, so readers see either the old file or the new one.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d-%s",
		filepath.Base(path), os.Getpid(), time.Now().UnixNano(), uuid.NewString()[:8]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteFileTool writes file content atomically.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file atomically, creating parent directories unless disabled"
}
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":       map[string]interface{}{"type": "string", "description": "Path to write"},
			"content":    map[string]interface{}{"type": "string", "description": "File content"},
			"createDirs": map[string]interface{}{"type": "boolean", "description": "Create missing parent directories (default true)"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path", "")
	if path == "" {
		return FailResult(errs.CodeToolInvalidArgs, "path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return FailResult(errs.CodeToolInvalidArgs, "content is required")
	}
	createDirs := argBool(args, "createDirs", true)

	abs, err := absPath(path)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", path, err))
	}

	parent := filepath.Dir(abs)
	if _, err := os.Stat(parent); err != nil {
		if !createDirs {
			return FailResult(errs.CodeToolNotFound,
				fmt.Sprintf("parent directory %s does not exist", parent))
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("mkdir %s: %v", parent, err))
		}
	}

	if err := writeFileAtomic(abs, []byte(content)); err != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("write %s: %v", path, err))
	}
	return OKResult(map[string]interface{}{
		"path":  abs,
		"bytes": len(content),
	})
}

// DeleteFileTool removes a file, or a directory when recursive is set.
type DeleteFileTool struct{}

func (t *DeleteFileTool) Name() string { return "delete_file" }
func (t *DeleteFileTool) Description() string {
	return "Delete a file; deleting a directory requires recursive=true"
}
func (t *DeleteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":      map[string]interface{}{"type": "string", "description": "Path to delete"},
			"recursive": map[string]interface{}{"type": "boolean", "description": "Allow deleting directories (default false)"},
		},
		"required": []string{"path"},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path", "")
	if path == "" {
		return FailResult(errs.CodeToolInvalidArgs, "path is required")
	}
	recursive := argBool(args, "recursive", false)

	abs, err := absPath(path)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", path, err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("%s does not exist", path))
	}
	if info.IsDir() {
		if !recursive {
			return FailResult(errs.CodeToolInvalidArgs,
				fmt.Sprintf("%s is a directory; pass recursive=true to delete it", path))
		}
		if err := os.RemoveAll(abs); err != nil {
			return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("delete %s: %v", path, err))
		}
	} else if err := os.Remove(abs); err != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("delete %s: %v", path, err))
	}
	return OKResult(map[string]interface{}{
		"path":    abs,
		"deleted": true,
	})
}

// MoveFileTool renames a file or directory, creating the destination
// parent as needed.
type MoveFileTool struct{}

func (t *MoveFileTool) Name() string { return "move_file" }
func (t *MoveFileTool) Description() string {
	return "Move or rename a file; refuses to clobber an existing destination unless overwrite=true"
}
func (t *MoveFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":      map[string]interface{}{"type": "string", "description": "Source path"},
			"to":        map[string]interface{}{"type": "string", "description": "Destination path"},
			"overwrite": map[string]interface{}{"type": "boolean", "description": "Replace an existing destination (default false)"},
		},
		"required": []string{"path", "to"},
	}
}

func (t *MoveFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	src := argString(args, "path", "")
	dst := argString(args, "to", "")
	if src == "" || dst == "" {
		return FailResult(errs.CodeToolInvalidArgs, "path and to are required")
	}
	overwrite := argBool(args, "overwrite", false)

	absSrc, err := absPath(src)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", src, err))
	}
	absDst, err := absPath(dst)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", dst, err))
	}
	if _, err := os.Stat(absSrc); err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("%s does not exist", src))
	}
	if _, err := os.Stat(absDst); err == nil && !overwrite {
		return FailResult(errs.CodeToolConflict,
			fmt.Sprintf("%s already exists; pass overwrite=true to replace it", dst))
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("mkdir %s: %v", filepath.Dir(absDst), err))
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("move %s to %s: %v", src, dst, err))
	}
	return OKResult(map[string]interface{}{
		"path": absSrc,
		"to":   absDst,
	})
}

// MkdirTool creates a directory.
type MkdirTool struct{}

func (t *MkdirTool) Name() string { return "mkdir" }
func (t *MkdirTool) Description() string {
	return "Create a directory, including parents unless recursive=false"
}
func (t *MkdirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":      map[string]interface{}{"type": "string", "description": "Directory to create"},
			"recursive": map[string]interface{}{"type": "boolean", "description": "Create parent directories too (default true)"},
		},
		"required": []string{"path"},
	}
}

func (t *MkdirTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path", "")
	if path == "" {
		return FailResult(errs.CodeToolInvalidArgs, "path is required")
	}
	recursive := argBool(args, "recursive", true)

	abs, err := absPath(path)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", path, err))
	}
	if recursive {
		err = os.MkdirAll(abs, 0o755)
	} else {
		err = os.Mkdir(abs, 0o755)
	}
	if err != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("mkdir %s: %v", path, err))
	}
	return OKResult(map[string]interface{}{
		"path":    abs,
		"created": true,
	})
}
