package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration values for the SEO writer server.
type Config struct {
	DBPath        string
	DatabaseURL   string
	ServerPort    int
	LogLevel      string
	LLMEndpoint   string
	LLMAPIKey     string
	LLMModels     []string
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration

	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	Scraper   ScraperConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
}

// EmbeddingConfig selects the remote embedding model and its fixed vector size.
type EmbeddingConfig struct {
	Model      string
	Dimensions int
}

// OllamaConfig describes the local model daemon.
type OllamaConfig struct {
	BaseURL  string
	Model    string
	Binary   string
	LiteMode bool
}

// ScraperConfig tunes the competitor scraper. It may be overridden from the YAML file.
type ScraperConfig struct {
	SearchURL  string        `yaml:"searchUrl"`
	Delay      time.Duration `yaml:"delay"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgents []string      `yaml:"userAgents"`
	Selectors  []string      `yaml:"selectors"`
}

// RetrievalConfig bounds the context handed to the language models.
type RetrievalConfig struct {
	TopK         int `yaml:"topK"`
	SnippetChars int `yaml:"snippetChars"`
	MaxTokens    int `yaml:"maxTokens"`
}

// RateLimitConfig configures the HTTP token bucket limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

const (
	defaultDBPath          = "./data/seowriter.db"
	defaultServerPort      = 8080
	defaultLogLevel        = "info"
	defaultEnvironment     = "development"
	defaultShutdownGrace   = 10 * time.Second
	defaultLLMEndpoint     = "https://api.openai.com/v1"
	defaultLLMModel        = "gpt-4o"
	defaultEmbeddingModel  = "text-embedding-3-small"
	defaultEmbeddingDims   = 1536
	defaultOllamaBaseURL   = "http://localhost:11434"
	defaultOllamaModel     = "tinymistral"
	defaultOllamaBinary    = "ollama"
	defaultSearchURL       = "https://html.duckduckgo.com/html/"
	defaultScrapeDelay     = 3 * time.Second
	defaultScrapeTimeout   = 15 * time.Second
	defaultTopK            = 7
	defaultSnippetChars    = 1000
	defaultMaxTokens       = 6000
	defaultRateLimitRPS    = 5.0
	defaultRateLimitBurst  = 20
	defaultRateLimitClient = 10 * time.Minute
)

// Load reads configuration values from environment variables, applying defaults where necessary.
// When CONFIG_FILE points at a YAML document, its scraper and retrieval sections are applied
// before the environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		LLMEndpoint:   getEnv("LLM_ENDPOINT", defaultLLMEndpoint),
		LLMAPIKey:     getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMModels:     []string{defaultLLMModel},
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
		ShutdownGrace: defaultShutdownGrace,
		Embedding: EmbeddingConfig{
			Model:      getEnv("EMBEDDING_MODEL", defaultEmbeddingModel),
			Dimensions: defaultEmbeddingDims,
		},
		Ollama: OllamaConfig{
			BaseURL: getEnv("OLLAMA_BASE_URL", defaultOllamaBaseURL),
			Model:   getEnv("OLLAMA_MODEL", defaultOllamaModel),
			Binary:  getEnv("OLLAMA_BINARY", defaultOllamaBinary),
		},
		Scraper: ScraperConfig{
			SearchURL: defaultSearchURL,
			Delay:     defaultScrapeDelay,
			Timeout:   defaultScrapeTimeout,
		},
		Retrieval: RetrievalConfig{
			TopK:         defaultTopK,
			SnippetChars: defaultSnippetChars,
			MaxTokens:    defaultMaxTokens,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: defaultRateLimitRPS,
			Burst:             defaultRateLimitBurst,
			ClientTTL:         defaultRateLimitClient,
		},
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, eris.Wrapf(err, "loading CONFIG_FILE %s", path)
		}
	}

	if modelsJSON := os.Getenv("LLM_MODELS"); modelsJSON != "" {
		models, err := parseModels(modelsJSON)
		if err != nil {
			return nil, eris.Wrap(err, "parsing LLM_MODELS")
		}
		cfg.LLMModels = models
	}

	portValue := getEnv("SERVER_PORT", strconv.Itoa(defaultServerPort))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	if cfg.Embedding.Dimensions, err = getInt("EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions); err != nil {
		return nil, err
	}
	if cfg.Embedding.Dimensions <= 0 {
		return nil, eris.New("EMBEDDING_DIMENSIONS must be greater than zero")
	}

	if cfg.Ollama.LiteMode, err = getBool("LITE_MODE", false); err != nil {
		return nil, err
	}

	cfg.Scraper.SearchURL = getEnv("SEARCH_URL", cfg.Scraper.SearchURL)
	if cfg.Scraper.Delay, err = getDuration("SCRAPE_DELAY", cfg.Scraper.Delay); err != nil {
		return nil, err
	}
	if cfg.Scraper.Timeout, err = getDuration("SCRAPE_TIMEOUT", cfg.Scraper.Timeout); err != nil {
		return nil, err
	}

	if cfg.RateLimit.RequestsPerSecond, err = getFloat("RATE_LIMIT_RPS", cfg.RateLimit.RequestsPerSecond); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst); err != nil {
		return nil, err
	}
	if cfg.RateLimit.ClientTTL, err = getDuration("RATE_LIMIT_TTL", cfg.RateLimit.ClientTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

type fileOverlay struct {
	Scraper   ScraperConfig   `yaml:"scraper"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "reading config file")
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return eris.Wrap(err, "decoding yaml")
	}

	if overlay.Scraper.SearchURL != "" {
		c.Scraper.SearchURL = overlay.Scraper.SearchURL
	}
	if overlay.Scraper.Delay > 0 {
		c.Scraper.Delay = overlay.Scraper.Delay
	}
	if overlay.Scraper.Timeout > 0 {
		c.Scraper.Timeout = overlay.Scraper.Timeout
	}
	if len(overlay.Scraper.UserAgents) > 0 {
		c.Scraper.UserAgents = overlay.Scraper.UserAgents
	}
	if len(overlay.Scraper.Selectors) > 0 {
		c.Scraper.Selectors = overlay.Scraper.Selectors
	}

	if overlay.Retrieval.TopK > 0 {
		c.Retrieval.TopK = overlay.Retrieval.TopK
	}
	if overlay.Retrieval.SnippetChars > 0 {
		c.Retrieval.SnippetChars = overlay.Retrieval.SnippetChars
	}
	if overlay.Retrieval.MaxTokens > 0 {
		c.Retrieval.MaxTokens = overlay.Retrieval.MaxTokens
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func parseModels(raw string) ([]string, error) {
	// Accept either a JSON array of strings or an object with a `models` field.
	var arrayInput []string
	if err := json.Unmarshal([]byte(raw), &arrayInput); err == nil {
		if len(arrayInput) == 0 {
			return nil, eris.New("models list is empty")
		}
		return arrayInput, nil
	}

	var objectInput struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal([]byte(raw), &objectInput); err != nil {
		return nil, eris.Wrap(err, "decoding JSON")
	}

	if len(objectInput.Models) == 0 {
		return nil, eris.New("models list is empty")
	}

	return objectInput.Models, nil
}
