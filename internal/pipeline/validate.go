package pipeline

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes int64 = 50 << 20

// DefaultExtensions are the accepted upload extensions when none are configured.
var DefaultExtensions = []string{"pdf", "jpg", "jpeg", "png", "txt"}

var extMimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"txt":  "text/plain",
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// MimeTypeFor returns the canonical mime type for a file name, or "" when
// the extension is unknown.
func MimeTypeFor(name string) string {
	return extMimeTypes[Extension(name)]
}

// normalizeMime strips parameters ("text/plain; charset=utf-8") and
// lower-cases the type.
func normalizeMime(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "image/jpg" {
		return "image/jpeg"
	}
	return s
}

// Validate checks an upload before any extraction work starts. size is the
// number of bytes actually received. Every failure is a validation error.
func Validate(req model.ProcessingRequest, size int64, limits config.UploadConfig) error {
	maxBytes := limits.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	allowed := limits.AllowedExtensions
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}

	if size <= 0 {
		return resilience.Validation(eris.Errorf("pipeline: file %q is empty", req.FileName))
	}
	if size > maxBytes {
		return resilience.Validation(eris.Errorf("pipeline: file %q is %d bytes, limit is %d", req.FileName, size, maxBytes))
	}

	ext := Extension(req.FileName)
	if ext == "" || !slices.Contains(allowed, ext) {
		return resilience.Validation(eris.Errorf("pipeline: extension %q is not allowed (allowed: %s)", ext, strings.Join(allowed, ", ")))
	}

	want, known := extMimeTypes[ext]
	got := normalizeMime(req.MimeType)
	if known && got != "" && got != "application/octet-stream" && got != want {
		return resilience.Validation(eris.Errorf("pipeline: mime type %q does not match extension %q", req.MimeType, ext))
	}
	return nil
}

// resolveMime picks the mime type handed to extraction: the declared type
// when it is specific, otherwise the one implied by the extension.
func resolveMime(req model.ProcessingRequest) string {
	got := normalizeMime(req.MimeType)
	if got == "" || got == "application/octet-stream" {
		return MimeTypeFor(req.FileName)
	}
	return got
}
