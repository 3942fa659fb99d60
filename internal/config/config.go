package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Storage    StorageConfig
	Retrieval  RetrievalConfig
	Tagging    TaggingConfig
	Automation AutomationConfig
	Log        LogConfig
	API        APIConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// ProviderConfig points at an OpenAI-compatible API used for chat
// completion, embeddings and transcription.
type ProviderConfig struct {
	BaseURL         string
	APIKey          string
	ChatModel       string
	ArticleModel    string
	EmbedModel      string
	EmbedDimensions int
	TranscribeModel string
	TimeoutSecs     int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	ContextLimit     int
	ContextThreshold float64
	SimilarThreshold float64
}

type TaggingConfig struct {
	// TablePath overrides the embedded keyword table when non-empty.
	TablePath string
}

type AutomationConfig struct {
	BaseURL string
	Secret  string
}

type LogConfig struct {
	Level  string
	Format string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://openrouter.ai/api/v1",
			ChatModel:       "openai/gpt-4o",
			ArticleModel:    "openai/gpt-4o",
			EmbedModel:      "text-embedding-3-small",
			EmbedDimensions: 1536,
			TranscribeModel: "whisper-1",
			TimeoutSecs:     120,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			ContextLimit:     5,
			ContextThreshold: 0.8,
			SimilarThreshold: 0.8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a .env file in the working directory (if
// present), the JSON file backend at $XDG_CONFIG_HOME/jurist/config.json and
// JURIST_* environment variables, in increasing order of precedence. Values
// already present in the process environment win over .env entries.
//
// Secrets (provider API key, API token, automation secret) are only read
// from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend())
}

// LoadClient reads the same layers as Load but does not require provider
// credentials. CLI commands that only talk to a running server use it.
func LoadClient() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return layered(newPlatformBackend())
}

func layered(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg, err := layered(b)
	if err != nil {
		return Config{}, err
	}

	if cfg.Provider.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: provider API key. " +
			"Set it via environment variable JURIST_PROVIDER_API_KEY")
	}
	if cfg.Provider.EmbedDimensions <= 0 {
		return Config{}, fmt.Errorf("provider.embed_dimensions must be positive, got %d", cfg.Provider.EmbedDimensions)
	}
	if cfg.Retrieval.ContextThreshold < 0 || cfg.Retrieval.ContextThreshold > 1 {
		return Config{}, fmt.Errorf("retrieval.context_threshold must be within [0,1], got %v", cfg.Retrieval.ContextThreshold)
	}

	return cfg, nil
}
