package provider

import (
	"context"
	"fmt"

	"xsanitaz-backend/internal/config"
)

// New builds the single Detector selected by cfg.Provider. The returned close
// func releases upstream connections and is never nil.
func New(ctx context.Context, cfg config.Config) (Detector, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case "openai", "":
		persona, err := LoadPersona(cfg.PersonaFile)
		if err != nil {
			return nil, noop, err
		}
		return NewOpenAIDetector(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, persona), noop, nil
	case "gemini":
		persona, err := LoadPersona(cfg.PersonaFile)
		if err != nil {
			return nil, noop, err
		}
		d, err := NewGeminiDetector(ctx, cfg.GeminiAPIKey, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel, persona)
		if err != nil {
			return nil, noop, err
		}
		return d, noop, nil
	case "dialogflow":
		d, err := NewDialogflowDetector(ctx, cfg.DialogflowProjectID, cfg.DialogflowLanguageCode, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, noop, err
		}
		return d, d.Close, nil
	case "echo":
		return NewEchoDetector(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
