package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText reads the embedded text layer of PDFs with the pdftotext CLI.
// Scanned PDFs without a text layer produce empty output, which sends the
// document on to the OCR tier.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText processor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Process writes data to a temp file and runs pdftotext -layout on it.
func (p *PdfToText) Process(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if mimeType != "application/pdf" {
		return nil, eris.Errorf("ocr: pdftotext cannot read %s", mimeType)
	}

	f, err := os.CreateTemp("", "credit-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create temp pdf")
	}
	defer os.Remove(f.Name()) //nolint:errcheck
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "ocr: write temp pdf")
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrap(err, "ocr: close temp pdf")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", f.Name(), "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}

	text := stdout.String()
	// pdftotext separates pages with form feeds.
	pages := bytes.Count(stdout.Bytes(), []byte{'\f'})
	return &Result{Text: text, PageCount: pages}, nil
}
