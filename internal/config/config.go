// Package config loads configuration from environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/rzline/CradleAI/internal/types"
)

// Config holds runtime settings.
type Config struct {
	DatabaseURL string
	UserName    string

	Provider       string
	GoogleAPIKey   string
	GeminiModel    string
	Temperature    float64
	TemperatureSet bool

	OpenRouterAPIKey string
	OpenRouterModel  string

	OpenAIEndpoint  string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIMaxTokens int
	OpenAIStream    bool

	MemoryEnabled       bool
	MemoryModel         string
	EmbeddingModel      string
	SummarizeThreshold  int
	SummarizeKeepRecent int
	TopK                int
	SimilarityThreshold float64
}

// Load reads env vars and applies defaults. Nothing is fatal here; a
// missing Gemini key only fails once a call is made.
func Load() Config {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		UserName:         os.Getenv("USER_NAME"),
		Provider:         os.Getenv("PROVIDER"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:  os.Getenv("OPENROUTER_MODEL"),
		OpenAIEndpoint:   os.Getenv("OPENAI_ENDPOINT"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		MemoryModel:      os.Getenv("MEMORY_MODEL"),
		EmbeddingModel:   os.Getenv("EMBEDDING_MODEL"),
	}

	if val := os.Getenv("TEMPERATURE"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Temperature = parsed
			cfg.TemperatureSet = true
		}
	}

	cfg.OpenAIMaxTokens = getEnvInt("OPENAI_MAX_TOKENS", 0)
	cfg.OpenAIStream = getEnvBool("OPENAI_STREAM", false)
	cfg.MemoryEnabled = getEnvBool("MEMORY_ENABLED", false)
	cfg.SummarizeThreshold = getEnvInt("SUMMARIZE_THRESHOLD", 40)
	cfg.SummarizeKeepRecent = getEnvInt("SUMMARIZE_KEEP_RECENT", 10)
	cfg.TopK = getEnvInt("TOP_K", 5)
	cfg.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", 0.7)

	if cfg.UserName == "" {
		cfg.UserName = "User"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.MemoryModel == "" {
		cfg.MemoryModel = cfg.GeminiModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}

	return cfg
}

// ProviderSettings maps the flat env config onto the dispatcher's
// tagged settings.
func (cfg Config) ProviderSettings() types.ProviderSettings {
	settings := types.ProviderSettings{
		Provider:     cfg.Provider,
		GeminiAPIKey: cfg.GoogleAPIKey,
		GeminiModel:  cfg.GeminiModel,
	}
	if cfg.TemperatureSet {
		t := cfg.Temperature
		settings.Temperature = &t
	}
	if cfg.Provider == types.ProviderOpenRouter {
		settings.OpenRouter = &types.OpenRouterSettings{
			Enabled: true,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
		}
	}
	if cfg.Provider == types.ProviderOpenAICompatible {
		settings.OpenAICompatible = &types.OpenAICompatibleSettings{
			Enabled:   true,
			Endpoint:  cfg.OpenAIEndpoint,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			MaxTokens: cfg.OpenAIMaxTokens,
			Stream:    cfg.OpenAIStream,
		}
	}
	return settings
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
