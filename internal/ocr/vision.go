package ocr

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

const documentTextDetection = "DOCUMENT_TEXT_DETECTION"

// visionMaxFilePages is the page limit of synchronous files:annotate calls.
const visionMaxFilePages = 5

// Vision recognizes text with the Cloud Vision API and reports per-word
// confidences. Images use images:annotate; PDFs use files:annotate.
type Vision struct {
	svc *vision.Service
}

// NewVision creates a Vision detector.
func NewVision(ctx context.Context, opts ...option.ClientOption) (*Vision, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create vision service")
	}
	return &Vision{svc: svc}, nil
}

// DetectText runs DOCUMENT_TEXT_DETECTION over data.
func (v *Vision) DetectText(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	content := base64.StdEncoding.EncodeToString(data)
	features := []*vision.Feature{{Type: documentTextDetection}}

	if mimeType == "application/pdf" {
		pages := make([]int64, visionMaxFilePages)
		for i := range pages {
			pages[i] = int64(i + 1)
		}
		resp, err := v.svc.Files.Annotate(&vision.BatchAnnotateFilesRequest{
			Requests: []*vision.AnnotateFileRequest{{
				InputConfig: &vision.InputConfig{Content: content, MimeType: mimeType},
				Features:    features,
				Pages:       pages,
			}},
		}).Context(ctx).Do()
		if err != nil {
			return nil, eris.Wrap(err, "ocr: vision files annotate")
		}
		if len(resp.Responses) == 0 {
			return &Result{}, nil
		}
		file := resp.Responses[0]
		if file.Error != nil && file.Error.Message != "" {
			return nil, eris.Errorf("ocr: vision: %s", file.Error.Message)
		}
		out := collectImageResponses(file.Responses)
		out.PageCount = int(file.TotalPages)
		return out, nil
	}

	resp, err := v.svc.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: content},
			Features: features,
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrap(err, "ocr: vision images annotate")
	}
	for _, r := range resp.Responses {
		if r.Error != nil && r.Error.Message != "" {
			return nil, eris.Errorf("ocr: vision: %s", r.Error.Message)
		}
	}
	out := collectImageResponses(resp.Responses)
	out.PageCount = 1
	return out, nil
}

func collectImageResponses(responses []*vision.AnnotateImageResponse) *Result {
	out := &Result{}
	var texts []string
	for _, r := range responses {
		if r == nil || r.FullTextAnnotation == nil {
			continue
		}
		texts = append(texts, r.FullTextAnnotation.Text)
		for _, page := range r.FullTextAnnotation.Pages {
			for _, block := range page.Blocks {
				for _, para := range block.Paragraphs {
					for _, word := range para.Words {
						out.WordConfidences = append(out.WordConfidences, word.Confidence)
					}
				}
			}
		}
	}
	out.Text = strings.Join(texts, "\n\n")
	return out
}
