package documentai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestConfig_Names(t *testing.T) {
	cfg := Config{ProjectID: "p1", Location: "eu", ProcessorID: "abc"}
	assert.Equal(t, "projects/p1/locations/eu/processors/abc", cfg.ProcessorName())
	assert.Equal(t, "https://eu-documentai.googleapis.com/", cfg.Endpoint())
	assert.Equal(t, "https://us-documentai.googleapis.com/", Config{}.Endpoint())
}

func TestNewClient_RequiresProcessor(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor_id are required")
}

func TestProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "projects/p1/locations/us/processors/abc:process"), r.URL.Path)

		var body struct {
			RawDocument struct {
				Content  string `json:"content"`
				MimeType string `json:"mimeType"`
			} `json:"rawDocument"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "application/pdf", body.RawDocument.MimeType)
		raw, err := base64.StdEncoding.DecodeString(body.RawDocument.Content)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(raw))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document":{"text":"JOHN DOE\nFICO Score 712","pages":[{},{}]}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(),
		Config{ProjectID: "p1", Location: "us", ProcessorID: "abc"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	doc, err := c.Process(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "JOHN DOE\nFICO Score 712", doc.Text)
	assert.Equal(t, 2, doc.PageCount)
}

func TestProcess_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"unavailable"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(),
		Config{ProjectID: "p1", ProcessorID: "abc"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	_, err = c.Process(context.Background(), []byte("x"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "documentai: process")
}
