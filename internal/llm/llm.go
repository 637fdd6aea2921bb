// Package llm adapts generative model providers to a single prompt-in,
// text-out interface and holds the JSON discipline shared by every caller:
// balanced-object scanning and schema validation.
package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/pkg/anthropic"
)

// SystemPrompt is sent with every request.
const SystemPrompt = "You extract and analyze consumer credit report data. " +
	"Respond with exactly one JSON object and no other text. " +
	"Use null or empty arrays for anything the document does not contain. Never invent values."

// Generator produces a text completion for a prompt. Responses may be prose
// rather than JSON; callers validate.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Name implements Generator.
func (f GeneratorFunc) Name() string { return "func" }

// NewGenerator builds the generator for cfg.Provider. It returns nil when no
// provider is configured, in which case callers use their rule-based paths.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic provider requires llm.anthropic.key")
		}
		return NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, int64(cfg.MaxTokens)), nil
	case "vertex":
		if cfg.Vertex.ProjectID == "" {
			return nil, eris.New("llm: vertex provider requires llm.vertex.project_id")
		}
		var opts []option.ClientOption
		if cfg.Vertex.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Vertex.CredentialsFile))
		}
		g, err := NewVertex(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Location, cfg.Vertex.Model, int32(cfg.MaxTokens), opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
