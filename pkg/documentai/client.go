// Package documentai wraps the Google Document AI REST API for processing
// raw documents with a configured processor.
package documentai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rotisserie/eris"
	docai "google.golang.org/api/documentai/v1"
	"google.golang.org/api/option"
)

// Document is the text layer returned by a processor.
type Document struct {
	Text      string
	PageCount int
}

// Client processes raw documents.
type Client interface {
	Process(ctx context.Context, data []byte, mimeType string) (*Document, error)
}

// Config identifies the processor to call.
type Config struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// ProcessorName returns the fully qualified processor resource name.
func (c Config) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// Endpoint returns the regional API endpoint for the processor location.
func (c Config) Endpoint() string {
	loc := c.Location
	if loc == "" {
		loc = "us"
	}
	return fmt.Sprintf("https://%s-documentai.googleapis.com/", loc)
}

type restClient struct {
	svc  *docai.Service
	name string
}

// NewClient creates a Document AI client. The regional endpoint is used
// unless opts override it.
func NewClient(ctx context.Context, cfg Config, opts ...option.ClientOption) (Client, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, eris.New("documentai: project_id and processor_id are required")
	}
	opts = append([]option.ClientOption{option.WithEndpoint(cfg.Endpoint())}, opts...)
	svc, err := docai.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "documentai: create service")
	}
	return &restClient{svc: svc, name: cfg.ProcessorName()}, nil
}

// Process sends data inline to the processor and returns its text layer.
func (c *restClient) Process(ctx context.Context, data []byte, mimeType string) (*Document, error) {
	req := &docai.GoogleCloudDocumentaiV1ProcessRequest{
		RawDocument: &docai.GoogleCloudDocumentaiV1RawDocument{
			Content:  base64.StdEncoding.EncodeToString(data),
			MimeType: mimeType,
		},
		SkipHumanReview: true,
	}

	resp, err := c.svc.Projects.Locations.Processors.Process(c.name, req).Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrap(err, "documentai: process")
	}
	if resp.Document == nil {
		return nil, eris.New("documentai: response has no document")
	}

	return &Document{
		Text:      resp.Document.Text,
		PageCount: len(resp.Document.Pages),
	}, nil
}
