package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"5000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`

	// Provider selects the single upstream adapter: openai, gemini, dialogflow or echo.
	Provider    string `env:"PROVIDER" envDefault:"openai"`
	PersonaFile string `env:"PERSONA_FILE" envDefault:"./prompts/persona.yaml"`

	// OpenAI
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Gemini (API key backend, or Vertex AI when project is set and no key)
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	GCPProject   string `env:"GOOGLE_CLOUD_PROJECT"`
	GCPLocation  string `env:"GOOGLE_CLOUD_LOCATION" envDefault:"us-central1"`

	// Dialogflow
	DialogflowProjectID    string `env:"DIALOGFLOW_PROJECT_ID"`
	DialogflowLanguageCode string `env:"DIALOGFLOW_LANGUAGE_CODE" envDefault:"en"`
	GoogleCredentialsFile  string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Relay behaviour
	UpstreamTimeout        time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"20s"`
	DefaultSessionID       string        `env:"DEFAULT_SESSION_ID" envDefault:"default"`
	MaxAttachmentBytes     int64         `env:"MAX_ATTACHMENT_BYTES" envDefault:"10485760"`
	AllowedAttachmentTypes []string      `env:"ALLOWED_ATTACHMENT_TYPES" envDefault:"image/,audio/,application/pdf,text/plain" envSeparator:","`

	// Diagnostics
	DatabaseURL       string `env:"DB_URL"`
	EnableDiagnostics bool   `env:"ENABLE_DIAGNOSTICS" envDefault:"false"`

	// Rate limiting (disabled when REDIS_ADDR is empty)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RateLimitQPS  int    `env:"RATE_LIMIT_QPS" envDefault:"5"`
}

func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.AllowedOrigins = trimList(cfg.AllowedOrigins)
	cfg.AllowedAttachmentTypes = trimList(cfg.AllowedAttachmentTypes)
	warnMissingCredentials(cfg)
	return cfg, nil
}

func warnMissingCredentials(cfg Config) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Println("warning: OPENAI_API_KEY is not set; API calls will fail until provided")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" && cfg.GCPProject == "" {
			log.Println("warning: neither GEMINI_API_KEY nor GOOGLE_CLOUD_PROJECT is set; API calls will fail until provided")
		}
	case "dialogflow":
		if cfg.DialogflowProjectID == "" {
			log.Println("warning: DIALOGFLOW_PROJECT_ID is not set; intent detection will fail until provided")
		}
	}
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
