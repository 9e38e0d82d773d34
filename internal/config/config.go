package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"

	ScraperModeHTTP    = "http"
	ScraperModeBrowser = "browser"
)

type Config struct {
	LogLevel  string
	LogFormat string

	DatabaseURL string

	LLMProvider     string
	AnthropicAPIKey string
	LLMModel        string
	OllamaURL       string

	ScraperUserAgent   string
	ScraperBaseURL     string
	ScraperMode        string
	ScraperPageSize    int
	ScraperDelayMS     int
	ScraperRetryWaitMS int
	ScraperNoSandbox   bool
	RecentMaxPages     int
	Selectors          Selectors

	DownloadDir            string
	DownloadHourlyLimit    int
	DownloadConcurrency    int
	DownloadTimeoutSeconds int

	AIHourlyLimit      int
	AIDelayMS          int
	AIMaxContentLength int
	AIConcurrency      int
	AITimeoutSeconds   int
	BatchSize          int
	MaxRetries         int

	NATSURL            string
	NATSEventsSubject  string
	NATSControlSubject string

	ScheduleCron string
	MetricsPort  string

	ConfigFile string
}

// Selectors overrides listing selectors. Empty fields keep the built-in
// defaults.
type Selectors struct {
	Item         string `yaml:"item"`
	TitleLink    string `yaml:"title_link"`
	Type         string `yaml:"type"`
	Date         string `yaml:"date"`
	Description  string `yaml:"description"`
	TotalResults string `yaml:"total_results"`
}

// overlay is the optional YAML file named by CONFIG_FILE. Zero values leave
// the environment setting in place.
type overlay struct {
	Selectors Selectors `yaml:"selectors"`
	Scraper   struct {
		BaseURL  string `yaml:"base_url"`
		Mode     string `yaml:"mode"`
		PageSize int    `yaml:"page_size"`
		DelayMS  int    `yaml:"delay_ms"`
	} `yaml:"scraper"`
	Limits struct {
		DownloadHourly      int `yaml:"download_hourly"`
		DownloadConcurrency int `yaml:"download_concurrency"`
		AIHourly            int `yaml:"ai_hourly"`
		AIDelayMS           int `yaml:"ai_delay_ms"`
		AIConcurrency       int `yaml:"ai_concurrency"`
		BatchSize           int `yaml:"batch_size"`
	} `yaml:"limits"`
	Schedule string `yaml:"schedule"`
}

// Load reads .env (when present), the environment and the optional YAML
// overlay, then validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := fromEnv()
	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() Config {
	return Config{
		LogLevel:  mustEnv("LOG_LEVEL", "info"),
		LogFormat: mustEnv("LOG_FORMAT", "json"),

		DatabaseURL: mustEnv("DATABASE_URL", ""),

		LLMProvider:     strings.ToLower(mustEnv("LLM_PROVIDER", ProviderAnthropic)),
		AnthropicAPIKey: mustEnv("ANTHROPIC_API_KEY", ""),
		LLMModel:        mustEnv("LLM_MODEL", ""),
		OllamaURL:       mustEnv("OLLAMA_URL", "http://localhost:11434"),

		ScraperUserAgent:   mustEnv("SCRAPER_USER_AGENT", ""),
		ScraperBaseURL:     mustEnv("SCRAPER_BASE_URL", ""),
		ScraperMode:        strings.ToLower(mustEnv("SCRAPER_MODE", ScraperModeHTTP)),
		ScraperPageSize:    mustEnvInt("SCRAPER_PAGE_SIZE", 10),
		ScraperDelayMS:     mustEnvInt("SCRAPER_DELAY_MS", 2000),
		ScraperRetryWaitMS: mustEnvInt("SCRAPER_RETRY_WAIT_MS", 5000),
		ScraperNoSandbox:   mustEnvBool("SCRAPER_NO_SANDBOX", false),
		RecentMaxPages:     mustEnvInt("SCRAPER_RECENT_MAX_PAGES", 5),

		DownloadDir:            mustEnv("DOWNLOAD_DIR", "./data/pdfs"),
		DownloadHourlyLimit:    mustEnvInt("DOWNLOAD_HOURLY_LIMIT", 100),
		DownloadConcurrency:    mustEnvInt("DOWNLOAD_CONCURRENCY", 3),
		DownloadTimeoutSeconds: mustEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 60),

		AIHourlyLimit:      mustEnvInt("AI_HOURLY_LIMIT", 50),
		AIDelayMS:          mustEnvInt("AI_DELAY_MS", 2000),
		AIMaxContentLength: mustEnvInt("AI_MAX_CONTENT_LENGTH", 50000),
		AIConcurrency:      mustEnvInt("AI_CONCURRENCY", 1),
		AITimeoutSeconds:   mustEnvInt("AI_TIMEOUT_SECONDS", 120),
		BatchSize:          mustEnvInt("BATCH_SIZE", 50),
		MaxRetries:         mustEnvInt("MAX_RETRIES", domain.MaxRetries),

		NATSURL:            mustEnv("NATS_URL", ""),
		NATSEventsSubject:  mustEnv("NATS_EVENTS_SUBJECT", "enforcement.pipeline.events"),
		NATSControlSubject: mustEnv("NATS_CONTROL_SUBJECT", "enforcement.pipeline.control"),

		ScheduleCron: mustEnv("SCHEDULE_CRON", "0 */6 * * *"),
		MetricsPort:  mustEnv("METRICS_PORT", "9090"),

		ConfigFile: mustEnv("CONFIG_FILE", ""),
	}
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "parse config file", err)
	}

	c.Selectors = o.Selectors
	setString(&c.ScraperBaseURL, o.Scraper.BaseURL)
	setString(&c.ScraperMode, strings.ToLower(o.Scraper.Mode))
	setInt(&c.ScraperPageSize, o.Scraper.PageSize)
	setInt(&c.ScraperDelayMS, o.Scraper.DelayMS)
	setInt(&c.DownloadHourlyLimit, o.Limits.DownloadHourly)
	setInt(&c.DownloadConcurrency, o.Limits.DownloadConcurrency)
	setInt(&c.AIHourlyLimit, o.Limits.AIHourly)
	setInt(&c.AIDelayMS, o.Limits.AIDelayMS)
	setInt(&c.AIConcurrency, o.Limits.AIConcurrency)
	setInt(&c.BatchSize, o.Limits.BatchSize)
	setString(&c.ScheduleCron, o.Schedule)
	return nil
}

// Validate rejects configurations the pipeline cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return domain.WrapError(domain.ErrMissingConfig, "validate config", errors.New("DATABASE_URL is required"))
	}
	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOllama:
	default:
		return domain.WrapError(domain.ErrMissingConfig, "validate config", fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.ScraperMode {
	case ScraperModeHTTP, ScraperModeBrowser:
	default:
		return domain.WrapError(domain.ErrMissingConfig, "validate config", fmt.Errorf("unknown SCRAPER_MODE %q", c.ScraperMode))
	}
	if c.ScraperPageSize <= 0 || c.BatchSize <= 0 || c.DownloadConcurrency <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate config", errors.New("page size, batch size and download concurrency must be positive"))
	}
	return nil
}

// Warnings lists settings that do not stop startup but disable a feature.
func (c Config) Warnings() []string {
	var out []string
	if c.LLMProvider == ProviderAnthropic && c.AnthropicAPIKey == "" {
		out = append(out, "ANTHROPIC_API_KEY is not set; the ai stage will fail")
	}
	if c.NATSURL == "" {
		out = append(out, "NATS_URL is not set; events stay in-process and remote control is disabled")
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
