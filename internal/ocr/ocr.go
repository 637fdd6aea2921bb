// Package ocr holds the text-extraction clients behind the structured
// processor and OCR tiers.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/pkg/documentai"
)

// Result is text extracted from a document.
type Result struct {
	Text            string
	PageCount       int
	WordConfidences []float64
}

// AvgConfidence returns the mean per-word confidence scaled to 0-100.
// ok is false when the client reported no word confidences.
func (r *Result) AvgConfidence() (avg float64, ok bool) {
	if r == nil || len(r.WordConfidences) == 0 {
		return 0, false
	}
	var sum float64
	for _, c := range r.WordConfidences {
		sum += c
	}
	return sum / float64(len(r.WordConfidences)) * 100, true
}

// Processor reads the text layer of a document (structured processor tier).
type Processor interface {
	Process(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// Detector recognizes text in scanned pages or images (OCR tier).
type Detector interface {
	DetectText(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// NewProcessor creates the structured-tier client for cfg. It returns nil
// when no provider is configured.
func NewProcessor(ctx context.Context, cfg config.StructuredConfig) (Processor, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "documentai":
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		c, err := documentai.NewClient(ctx, documentai.Config{
			ProjectID:   cfg.ProjectID,
			Location:    cfg.Location,
			ProcessorID: cfg.ProcessorID,
		}, opts...)
		if err != nil {
			return nil, eris.Wrap(err, "ocr: document ai client")
		}
		return NewDocumentAI(c), nil
	default:
		return nil, eris.Errorf("ocr: unknown structured provider %q", cfg.Provider)
	}
}

// NewDetector creates the OCR-tier client for cfg. It returns nil when no
// provider is configured.
func NewDetector(ctx context.Context, cfg config.OCRConfig) (Detector, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "vision":
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		v, err := NewVision(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel, cfg.MistralBaseURL), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// DocumentAI adapts a Document AI client to Processor.
type DocumentAI struct {
	client documentai.Client
}

// NewDocumentAI wraps c.
func NewDocumentAI(c documentai.Client) *DocumentAI {
	return &DocumentAI{client: c}
}

// Process runs the document through the configured processor.
func (d *DocumentAI) Process(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	doc, err := d.client.Process(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return &Result{Text: doc.Text, PageCount: doc.PageCount}, nil
}
