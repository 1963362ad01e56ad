// Package agent drives the bounded turn loop: prompt and attachments in,
// chat completions and tool dispatches in the middle, a normalized
// outcome out.
package agent

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/termagent/internal/errs"
)

// AttachmentLimits are the effective bounds after option resolution.
// Zero means unlimited.
type AttachmentLimits struct {
	MaxFiles      int
	MaxImages     int
	MaxFileBytes  int64
	MaxImageBytes int64
}

// FileAttachment is a validated UTF-8 text file.
type FileAttachment struct {
	Path    string
	Bytes   int64
	Content string
}

// ImageAttachment is a validated image carried as a base64 data URL.
type ImageAttachment struct {
	Path    string
	Bytes   int64
	MIME    string
	DataURL string
}

// Attachments is the resolved attachment set for one invocation.
type Attachments struct {
	Files  []FileAttachment
	Images []ImageAttachment
}

var imageMIMEs = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// ResolveAttachments validates every --file and --image before any HTTP
// request is issued; the first failure aborts the invocation.
func ResolveAttachments(files, images []string, limits AttachmentLimits) (*Attachments, error) {
	if limits.MaxFiles > 0 && len(files) > limits.MaxFiles {
		return nil, errs.Newf(errs.CodeAttachmentTooManyFiles,
			"%d files attached, limit is %d", len(files), limits.MaxFiles)
	}
	if limits.MaxImages > 0 && len(images) > limits.MaxImages {
		return nil, errs.Newf(errs.CodeAttachmentTooManyImages,
			"%d images attached, limit is %d", len(images), limits.MaxImages)
	}

	out := &Attachments{}
	for _, path := range files {
		att, err := resolveFile(path, limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		out.Files = append(out.Files, *att)
	}
	for _, path := range images {
		att, err := resolveImage(path, limits.MaxImageBytes)
		if err != nil {
			return nil, err
		}
		out.Images = append(out.Images, *att)
	}
	return out, nil
}

func resolveFile(path string, maxBytes int64) (*FileAttachment, error) {
	abs, info, err := statAttachment(path)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, errs.Newf(errs.CodeAttachmentTooLarge,
			"%s is %d bytes, limit is %d", path, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAttachmentUnreadable,
			fmt.Sprintf("cannot read %s: %v", path, err), err)
	}
	if !utf8.Valid(data) {
		return nil, errs.Newf(errs.CodeAttachmentTypeUnsupported,
			"%s is not valid UTF-8 text", path)
	}
	return &FileAttachment{Path: abs, Bytes: info.Size(), Content: string(data)}, nil
}

func resolveImage(path string, maxBytes int64) (*ImageAttachment, error) {
	abs, info, err := statAttachment(path)
	if err != nil {
		return nil, err
	}
	mime, ok := imageMIMEs[strings.ToLower(filepath.Ext(abs))]
	if !ok {
		return nil, errs.Newf(errs.CodeAttachmentTypeUnsupported,
			"%s: image type must be png, jpeg or webp", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, errs.Newf(errs.CodeAttachmentTooLarge,
			"%s is %d bytes, limit is %d", path, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAttachmentUnreadable,
			fmt.Sprintf("cannot read %s: %v", path, err), err)
	}
	return &ImageAttachment{
		Path:    abs,
		Bytes:   info.Size(),
		MIME:    mime,
		DataURL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)),
	}, nil
}

func statAttachment(path string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, errs.Wrap(errs.CodeAttachmentNotFound,
			fmt.Sprintf("cannot resolve %s: %v", path, err), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, errs.Wrap(errs.CodeAttachmentNotFound,
			fmt.Sprintf("%s does not exist", path), err)
	}
	if info.IsDir() {
		return "", nil, errs.Newf(errs.CodeAttachmentUnreadable, "%s is a directory", path)
	}
	return abs, info, nil
}
