package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/ocr"
)

// Output is what a single tier produced.
type Output struct {
	Text       string
	PageCount  int
	Confidence float64
}

// Tier is one extraction strategy.
type Tier interface {
	Method() model.Method
	Name() string
	// Configured reports whether the tier's external service is set up.
	Configured() bool
	// Supports reports whether the tier can read mimeType.
	Supports(mimeType string) bool
	Extract(ctx context.Context, data []byte, mimeType string) (*Output, error)
}

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// StructuredTier reads a document's text layer with a structured processor
// (Document AI or pdftotext).
type StructuredTier struct {
	name       string
	proc       ocr.Processor
	pdfOnly    bool
	confidence float64
}

// NewStructuredTier wraps proc. proc may be nil, leaving the tier unconfigured.
func NewStructuredTier(name string, proc ocr.Processor, pdfOnly bool, confidence float64) *StructuredTier {
	return &StructuredTier{name: name, proc: proc, pdfOnly: pdfOnly, confidence: confidence}
}

func (t *StructuredTier) Method() model.Method { return model.MethodStructuredProcessor }
func (t *StructuredTier) Name() string         { return t.name }
func (t *StructuredTier) Configured() bool     { return t.proc != nil }

func (t *StructuredTier) Supports(mimeType string) bool {
	if mimeType == "application/pdf" {
		return true
	}
	return !t.pdfOnly && imageTypes[mimeType]
}

func (t *StructuredTier) Extract(ctx context.Context, data []byte, mimeType string) (*Output, error) {
	res, err := t.proc.Process(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return &Output{Text: res.Text, PageCount: res.PageCount, Confidence: t.confidence}, nil
}

// OCRTier recognizes text in scans and images. Its confidence is the mean
// per-word confidence when the detector reports one.
type OCRTier struct {
	name       string
	det        ocr.Detector
	confidence float64
}

// NewOCRTier wraps det. det may be nil, leaving the tier unconfigured.
func NewOCRTier(name string, det ocr.Detector, confidence float64) *OCRTier {
	return &OCRTier{name: name, det: det, confidence: confidence}
}

func (t *OCRTier) Method() model.Method { return model.MethodOCR }
func (t *OCRTier) Name() string         { return t.name }
func (t *OCRTier) Configured() bool     { return t.det != nil }

func (t *OCRTier) Supports(mimeType string) bool {
	return mimeType == "application/pdf" || imageTypes[mimeType]
}

func (t *OCRTier) Extract(ctx context.Context, data []byte, mimeType string) (*Output, error) {
	res, err := t.det.DetectText(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	conf := t.confidence
	if avg, ok := res.AvgConfidence(); ok {
		conf = avg
	}
	return &Output{Text: res.Text, PageCount: res.PageCount, Confidence: conf}, nil
}

// FallbackTier never fails. Plain-text uploads pass through unchanged;
// anything else becomes a placeholder block describing the file, so
// downstream stages receive well-formed input. The placeholder contains
// no credit data.
type FallbackTier struct {
	confidence float64
}

// NewFallbackTier creates the fallback tier.
func NewFallbackTier(confidence float64) *FallbackTier {
	return &FallbackTier{confidence: confidence}
}

func (t *FallbackTier) Method() model.Method { return model.MethodFallback }
func (t *FallbackTier) Name() string         { return "fallback" }
func (t *FallbackTier) Configured() bool     { return true }
func (t *FallbackTier) Supports(string) bool { return true }

func (t *FallbackTier) Extract(_ context.Context, data []byte, mimeType string) (*Output, error) {
	return &Output{Text: Placeholder(data, mimeType), PageCount: 1, Confidence: t.confidence}, nil
}

// Placeholder returns the deterministic fallback text for a document.
func Placeholder(data []byte, mimeType string) string {
	if strings.HasPrefix(mimeType, "text/") && utf8.Valid(data) && len(strings.TrimSpace(string(data))) > 0 {
		return string(data)
	}
	sum := sha256.Sum256(data)
	var sb strings.Builder
	sb.WriteString("CREDIT REPORT DOCUMENT\n")
	sb.WriteString("Automated text extraction was unavailable for this document.\n")
	fmt.Fprintf(&sb, "Document type: %s\n", mimeType)
	fmt.Fprintf(&sb, "Document size: %d bytes\n", len(data))
	fmt.Fprintf(&sb, "Fingerprint: %s\n", hex.EncodeToString(sum[:6]))
	sb.WriteString("No personal information, accounts, or negative items could be read.\n")
	return sb.String()
}
