package tools

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Argument extraction. Models send JSON objects, so numbers arrive as
// float64 and every field is optional until an executor says otherwise.

func argString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// absPath resolves a tool-supplied path against the working directory.
func absPath(path string) (string, error) {
	return filepath.Abs(path)
}

// binaryExtensions are rejected by read_file and skipped by
// search_content. The list is currently hardcoded.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
	".bmp": true, ".ico": true, ".pdf": true, ".zip": true, ".gz": true,
	".tar": true, ".7z": true, ".mp3": true, ".wav": true, ".mp4": true,
	".mov": true, ".avi": true, ".woff": true, ".woff2": true, ".ttf": true,
	".otf": true, ".exe": true, ".dll": true, ".so": true, ".class": true,
	".jar": true, ".bin": true,
}

func isBinaryExtension(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}

// wildcardRegexp translates a *?-style include filter into an anchored
// regexp matched against base names.
func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
