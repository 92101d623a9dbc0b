package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiDetector calls Gemini with the persona as system instruction and the
// user text as the only turn.
type GeminiDetector struct {
	models  contentGenerator
	model   string
	persona Persona
}

// NewGeminiDetector uses the Gemini API when apiKey is set and Vertex AI
// (project + location) otherwise.
func NewGeminiDetector(ctx context.Context, apiKey, project, location, model string, persona Persona) (*GeminiDetector, error) {
	cc := &genai.ClientConfig{}
	if apiKey != "" {
		cc.APIKey = apiKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		if project == "" || location == "" {
			return nil, fmt.Errorf("gemini needs GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION")
		}
		cc.Project = project
		cc.Location = location
		cc.Backend = genai.BackendVertexAI
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiDetector{models: client.Models, model: model, persona: persona}, nil
}

func (d *GeminiDetector) Name() string { return "gemini" }

func (d *GeminiDetector) Detect(ctx context.Context, in Input) Result {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(d.persona.System, genai.RoleUser),
	}
	if d.persona.Temperature > 0 {
		temp := d.persona.Temperature
		cfg.Temperature = &temp
	}
	if d.persona.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(d.persona.MaxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(in.Text, genai.RoleUser)}
	res, err := d.models.GenerateContent(ctx, d.model, contents, cfg)
	if err != nil {
		return Fail(fmt.Errorf("gemini generate content: %w", err))
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return Fail(fmt.Errorf("gemini returned empty text"))
	}
	return Succeed(text)
}
