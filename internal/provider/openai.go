package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDetector sends the persona and the user text as a single-turn chat
// completion. Prior turns are never replayed.
type OpenAIDetector struct {
	client  *openai.Client
	model   string
	persona Persona
}

func NewOpenAIDetector(apiKey, baseURL, model string, persona Persona) *OpenAIDetector {
	oc := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		oc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIDetector{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		persona: persona,
	}
}

func (d *OpenAIDetector) Name() string { return "openai" }

func (d *OpenAIDetector) Detect(ctx context.Context, in Input) Result {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Temperature: d.persona.Temperature,
		MaxTokens:   d.persona.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: d.persona.System},
			{Role: openai.ChatMessageRoleUser, Content: in.Text},
		},
	})
	if err != nil {
		return Fail(fmt.Errorf("openai chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Fail(fmt.Errorf("openai returned no choices"))
	}
	reply := resp.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return Fail(fmt.Errorf("openai returned empty content"))
	}
	return Succeed(reply)
}
