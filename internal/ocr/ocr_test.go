package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/resilience"
	"github.com/sells-group/credit-pipeline/pkg/documentai"
)

func TestNewProcessor(t *testing.T) {
	p, err := NewProcessor(context.Background(), config.StructuredConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProcessor(context.Background(), config.StructuredConfig{Provider: "pdftotext", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, p)

	_, err = NewProcessor(context.Background(), config.StructuredConfig{Provider: "documentai"})
	require.Error(t, err)

	_, err = NewProcessor(context.Background(), config.StructuredConfig{Provider: "textract"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown structured provider "textract"`)
}

func TestNewDetector(t *testing.T) {
	d, err := NewDetector(context.Background(), config.OCRConfig{})
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = NewDetector(context.Background(), config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")

	d, err = NewDetector(context.Background(), config.OCRConfig{Provider: "mistral", MistralKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, d)

	_, err = NewDetector(context.Background(), config.OCRConfig{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestResult_AvgConfidence(t *testing.T) {
	_, ok := (&Result{}).AvgConfidence()
	assert.False(t, ok)

	var nilResult *Result
	_, ok = nilResult.AvgConfidence()
	assert.False(t, ok)

	avg, ok := (&Result{WordConfidences: []float64{0.8, 0.84}}).AvgConfidence()
	require.True(t, ok)
	assert.InDelta(t, 82, avg, 0.0001)
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func TestPdfToText_RejectsNonPDF(t *testing.T) {
	_, err := NewPdfToText("").Process(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read image/png")
}

func TestPdfToText_MissingBinary(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").Process(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

type stubDocAI struct {
	doc *documentai.Document
	err error
}

func (s stubDocAI) Process(context.Context, []byte, string) (*documentai.Document, error) {
	return s.doc, s.err
}

func TestDocumentAI_Adapter(t *testing.T) {
	res, err := NewDocumentAI(stubDocAI{doc: &documentai.Document{Text: "report", PageCount: 3}}).
		Process(context.Background(), []byte("x"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, &Result{Text: "report", PageCount: 3}, res)

	_, err = NewDocumentAI(stubDocAI{err: errors.New("quota")}).Process(context.Background(), nil, "application/pdf")
	assert.Error(t, err)
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, "https://api.mistral.ai/v1/ocr", m.endpoint)

	m = NewMistralOCR("key", "custom-model", "http://localhost:9000/v1/")
	assert.Equal(t, "custom-model", m.model)
	assert.Equal(t, "http://localhost:9000/v1/ocr", m.endpoint)
}

func TestMistralOCR_DetectText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ocr", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.True(t, strings.HasPrefix(req.Document.DocumentURL, "data:application/pdf;base64,"))

		resp := mistralOCRResponse{Pages: []mistralOCRPage{
			{Index: 0, Markdown: "Page one content"},
			{Index: 1, Markdown: "Page two content"},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", srv.URL)
	res, err := m.DetectText(context.Background(), []byte("%PDF-1.4 test content"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Page one content\n\nPage two content", res.Text)
	assert.Equal(t, 2, res.PageCount)
	_, ok := res.AvgConfidence()
	assert.False(t, ok)
}

func TestMistralOCR_ImageUsesImageURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.True(t, strings.HasPrefix(req.Document.ImageURL, "data:image/png;base64,"))
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"scan"}]}`))
	}))
	defer srv.Close()

	res, err := NewMistralOCR("k", "m", srv.URL).DetectText(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "scan", res.Text)
}

func TestMistralOCR_APIErrors(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	m := NewMistralOCR("bad-key", "m", srv.URL)
	_, err := m.DetectText(context.Background(), []byte("x"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
	assert.False(t, resilience.IsTransient(err))

	status = http.StatusTooManyRequests
	_, err = m.DetectText(context.Background(), []byte("x"), "application/pdf")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func newTestVision(t *testing.T, handler http.HandlerFunc) *Vision {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	v, err := NewVision(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return v
}

const visionImageResponse = `{"responses":[{"fullTextAnnotation":{"text":"JOHN DOE\nScore 712","pages":[{"blocks":[{"paragraphs":[{"words":[{"confidence":0.8},{"confidence":0.84}]}]}]}]}}]}`

func TestVision_DetectTextImage(t *testing.T) {
	v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "v1/images:annotate"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reqs := body["requests"].([]any)
		features := reqs[0].(map[string]any)["features"].([]any)
		assert.Equal(t, documentTextDetection, features[0].(map[string]any)["type"])
		_, _ = w.Write([]byte(visionImageResponse))
	})

	res, err := v.DetectText(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "JOHN DOE\nScore 712", res.Text)
	assert.Equal(t, 1, res.PageCount)
	avg, ok := res.AvgConfidence()
	require.True(t, ok)
	assert.InDelta(t, 82, avg, 0.0001)
}

func TestVision_DetectTextPDF(t *testing.T) {
	v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "v1/files:annotate"), r.URL.Path)
		_, _ = w.Write([]byte(`{"responses":[{"totalPages":7,"responses":[` +
			`{"fullTextAnnotation":{"text":"page one"}},{"fullTextAnnotation":{"text":"page two"}}]}]}`))
	})

	res, err := v.DetectText(context.Background(), []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "page one\n\npage two", res.Text)
	assert.Equal(t, 7, res.PageCount)
}

func TestVision_ResponseError(t *testing.T) {
	v := newTestVision(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`))
	})

	_, err := v.DetectText(context.Background(), []byte("img"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad image data.")
}
