package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

func TestValidate(t *testing.T) {
	limits := config.UploadConfig{MaxBytes: 1024}

	tests := []struct {
		name    string
		file    string
		mime    string
		size    int64
		wantErr bool
	}{
		{name: "pdf", file: "report.pdf", mime: "application/pdf", size: 10},
		{name: "upper case extension", file: "REPORT.PDF", mime: "application/pdf", size: 10},
		{name: "jpg alias", file: "scan.jpg", mime: "image/jpg", size: 10},
		{name: "jpeg", file: "scan.jpeg", mime: "image/jpeg", size: 10},
		{name: "png", file: "scan.png", mime: "image/png", size: 10},
		{name: "txt with charset", file: "report.txt", mime: "text/plain; charset=utf-8", size: 10},
		{name: "octet stream", file: "report.pdf", mime: "application/octet-stream", size: 10},
		{name: "no mime", file: "report.pdf", size: 10},
		{name: "at limit", file: "report.pdf", size: 1024},
		{name: "empty", file: "report.pdf", mime: "application/pdf", size: 0, wantErr: true},
		{name: "over limit", file: "report.pdf", mime: "application/pdf", size: 1025, wantErr: true},
		{name: "disallowed extension", file: "report.exe", size: 10, wantErr: true},
		{name: "no extension", file: "report", size: 10, wantErr: true},
		{name: "mime mismatch", file: "report.pdf", mime: "image/png", size: 10, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := model.ProcessingRequest{FileName: tt.file, MimeType: tt.mime}
			err := Validate(req, tt.size, limits)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, resilience.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	req := model.ProcessingRequest{FileName: "report.pdf"}
	assert.NoError(t, Validate(req, DefaultMaxBytes, config.UploadConfig{}))
	assert.Error(t, Validate(req, DefaultMaxBytes+1, config.UploadConfig{}))

	req.FileName = "report.docx"
	assert.Error(t, Validate(req, 10, config.UploadConfig{}))
}

func TestValidate_ConfiguredExtensions(t *testing.T) {
	limits := config.UploadConfig{MaxBytes: 100, AllowedExtensions: []string{"pdf"}}
	assert.NoError(t, Validate(model.ProcessingRequest{FileName: "a.pdf"}, 1, limits))
	assert.Error(t, Validate(model.ProcessingRequest{FileName: "a.png"}, 1, limits))
}

func TestResolveMime(t *testing.T) {
	assert.Equal(t, "application/pdf", resolveMime(model.ProcessingRequest{FileName: "a.pdf"}))
	assert.Equal(t, "image/jpeg", resolveMime(model.ProcessingRequest{FileName: "a.JPG", MimeType: "application/octet-stream"}))
	assert.Equal(t, "text/plain", resolveMime(model.ProcessingRequest{FileName: "a.txt", MimeType: "Text/Plain; charset=utf-8"}))
	assert.Equal(t, "", MimeTypeFor("a.exe"))
	assert.Equal(t, "png", Extension("dir/scan.PNG"))
}
