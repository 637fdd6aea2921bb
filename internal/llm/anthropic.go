package llm

import (
	"context"

	"github.com/sells-group/credit-pipeline/pkg/anthropic"
)

// Anthropic generates completions with a Claude model.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic generator.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Generator.
func (a *Anthropic) Name() string { return "anthropic" }

// Generate sends prompt as a single user message at temperature 0.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.CachedSystem(SystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(a.model, "generate")
	return resp.Text(), nil
}
