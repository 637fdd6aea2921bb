package llm

import (
	"context"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// contentGenerator is the subset of *genai.GenerativeModel used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Vertex generates completions with a Gemini model on Vertex AI. The model
// is configured for JSON output at temperature 0.
type Vertex struct {
	model  contentGenerator
	client *genai.Client
}

// NewVertex creates a Vertex generator for the given project and region.
func NewVertex(ctx context.Context, projectID, location, modelName string, maxTokens int32, opts ...option.ClientOption) (*Vertex, error) {
	client, err := genai.NewClient(ctx, projectID, location, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "llm: create vertex client")
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt)}}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(maxTokens)
	}

	return &Vertex{model: model, client: client}, nil
}

// Name implements Generator.
func (v *Vertex) Name() string { return "vertex" }

// Generate sends prompt and concatenates the text parts of the first candidate.
func (v *Vertex) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", eris.Wrap(err, "llm: vertex generate")
	}
	return candidateText(resp), nil
}

// Close releases the underlying client.
func (v *Vertex) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
