package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-pipeline/internal/resilience"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-ocr-latest"
)

// MistralOCR recognizes text in PDFs and images using the Mistral OCR API.
// It does not report word confidences.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR detector. Empty model or baseURL use defaults.
func NewMistralOCR(apiKey, model, baseURL string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/ocr",
		client:   &http.Client{},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// DetectText sends data as a base64 data URL and joins the returned pages.
func (m *MistralOCR) DetectText(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	doc := mistralOCRDocument{Type: "document_url", DocumentURL: dataURL}
	if strings.HasPrefix(mimeType, "image/") {
		doc = mistralOCRDocument{Type: "image_url", ImageURL: dataURL}
	}

	bodyBytes, err := json.Marshal(mistralOCRRequest{Model: m.model, Document: doc})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}

	return &Result{Text: sb.String(), PageCount: len(ocrResp.Pages)}, nil
}
