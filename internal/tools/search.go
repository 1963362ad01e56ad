package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

const searchPreviewLimit = 400

// SearchContentTool greps text files under a directory for a regex.
type SearchContentTool struct{}

func (t *SearchContentTool) Name() string { return "search_content" }
func (t *SearchContentTool) Description() string {
	return "Search text files under a directory for a regular expression, returning per-line matches"
}
func (t *SearchContentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern":       map[string]interface{}{"type": "string", "description": "Regular expression to search for"},
			"path":          map[string]interface{}{"type": "string", "description": "Directory to search (default .)"},
			"include":       map[string]interface{}{"type": "string", "description": "Wildcard filter on file names (default *)"},
			"caseSensitive": map[string]interface{}{"type": "boolean", "description": "Match case-sensitively (default false)"},
			"includeHidden": map[string]interface{}{"type": "boolean", "description": "Include dot files and directories (default false)"},
			"maxResults":    map[string]interface{}{"type": "integer", "description": "Stop after this many matches (default 2000)"},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchContentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern := argString(args, "pattern", "")
	if pattern == "" {
		return FailResult(errs.CodeToolInvalidArgs, "pattern is required")
	}
	root := argString(args, "path", ".")
	include := argString(args, "include", "*")
	caseSensitive := argBool(args, "caseSensitive", false)
	includeHidden := argBool(args, "includeHidden", false)
	maxResults := argInt(args, "maxResults", defaultMaxResults)
	if maxResults < 1 {
		maxResults = defaultMaxResults
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return FailResult(errs.CodeToolInvalidPattern, fmt.Sprintf("invalid pattern %q: %v", pattern, err))
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

	type match struct {
		Path    string `json:"path"`
		Line    int    `json:"line"`
		Preview string `json:"preview"`
	}
	var matches []match
	truncated := false

	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
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
		if !filter.MatchString(name) || isBinaryExtension(name) {
			return nil
		}

		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			rel = path
		}
		fileMatches, ok := scanFile(path, rel, re, maxResults-len(matches))
		if !ok {
			return nil
		}
		for _, m := range fileMatches {
			matches = append(matches, match{Path: m.path, Line: m.line, Preview: m.preview})
		}
		if len(matches) >= maxResults {
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
		"pattern":   pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}

type lineMatch struct {
	path    string
	line    int
	preview string
}

// scanFile returns up to budget matches from one file. Files that are
// not valid UTF-8 near the start are treated as non-text and skipped.
func scanFile(path, rel string, re *regexp.Regexp, budget int) ([]lineMatch, bool) {
	if budget <= 0 {
		return nil, true
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var matches []lineMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 && !utf8.ValidString(line) {
			return nil, false
		}
		if !re.MatchString(line) {
			continue
		}
		preview := strings.TrimSpace(line)
		if len(preview) > searchPreviewLimit {
			// Back up to a rune boundary so the cut never emits invalid UTF-8.
			cut := searchPreviewLimit
			for cut > 0 && !utf8.RuneStart(preview[cut]) {
				cut--
			}
			preview = preview[:cut]
		}
		matches = append(matches, lineMatch{path: rel, line: lineNo, preview: preview})
		if len(matches) >= budget {
			break
		}
	}
	return matches, true
}
