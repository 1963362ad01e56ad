package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

const (
	defaultReadLimit  = 2000
	defaultMaxResults = 2000
)

// ReadFileTool reads a window of a UTF-8 text file as numbered lines.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a text file, returning 1-based numbered lines within an optional offset/limit window"
}
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":   map[string]interface{}{"type": "string", "description": "Path to the file to read"},
			"offset": map[string]interface{}{"type": "integer", "description": "First line to return (1-based, default 1)"},
			"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of lines (default 2000)"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path := argString(args, "path", "")
	if path == "" {
		return FailResult(errs.CodeToolInvalidArgs, "path is required")
	}
	offset := argInt(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := argInt(args, "limit", defaultReadLimit)
	if limit < 1 {
		limit = defaultReadLimit
	}

	abs, err := absPath(path)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", path, err))
	}
	if isBinaryExtension(abs) {
		return FailResult(errs.CodeToolUnsupportedFileType,
			fmt.Sprintf("%s looks like a binary file", path))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot read %s: %v", path, err))
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)

	var b strings.Builder
	count := 0
	for i := offset - 1; i < total && count < limit; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i+1, lines[i])
		count++
	}

	return OKResult(map[string]interface{}{
		"path":       abs,
		"content":    b.String(),
		"offset":     offset,
		"lines":      count,
		"totalLines": total,
	})
}

// ListFilesTool walks a directory tree and returns relative paths.
type ListFilesTool struct{}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "Recursively list files under a directory, with optional wildcard filter"
}
func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":          map[string]interface{}{"type": "string", "description": "Directory to list (default .)"},
			"include":       map[string]interface{}{"type": "string", "description": "Wildcard filter on file names, e.g. *.go (default *)"},
			"includeHidden": map[string]interface{}{"type": "boolean", "description": "Include dot files and directories (default false)"},
			"maxResults":    map[string]interface{}{"type": "integer", "description": "Stop after this many entries (default 2000)"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	root := argString(args, "path", ".")
	include := argString(args, "include", "*")
	includeHidden := argBool(args, "includeHidden", false)
	maxResults := argInt(args, "maxResults", defaultMaxResults)
	if maxResults < 1 {
		maxResults = defaultMaxResults
	}

	abs, err := absPath(root)
	if err != nil {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("cannot resolve %s: %v", root, err))
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return FailResult(errs.CodeToolNotFound, fmt.Sprintf("%s is not a readable directory", root))
	}

	filter, err := wildcardRegexp(include)
	if err != nil {
		return FailResult(errs.CodeToolInvalidArgs, fmt.Sprintf("invalid include filter %q", include))
	}

	var files []string
	truncated := false
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if !includeHidden && strings.HasPrefix(name, ".") && path != abs {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !filter.MatchString(name) {
			return nil
		}
		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, rel)
		if len(files) >= maxResults {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return FailResult(errs.CodeToolExecutionError, fmt.Sprintf("walk %s: %v", root, walkErr))
	}

	return OKResult(map[string]interface{}{
		"path":      abs,
		"files":     files,
		"count":     len(files),
		"truncated": truncated,
	})
}
