// Package config loads and validates watchtower configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/calvin1011/watchtower/internal/competitor"
	"github.com/calvin1011/watchtower/internal/intel"
	localstorage "github.com/calvin1011/watchtower/internal/storage/local"
	"github.com/calvin1011/watchtower/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	RateLimit   RateLimitConfig    `mapstructure:"rate_limit"`
	Headless    HeadlessConfig     `mapstructure:"headless"`
	Sources     SourcesConfig      `mapstructure:"sources"`
	SerpAPI     SerpAPIConfig      `mapstructure:"serpapi"`
	Analysis    AnalysisConfig     `mapstructure:"analysis"`
	Embedding   EmbeddingConfig    `mapstructure:"embedding"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Dedupe      DedupeConfig       `mapstructure:"dedupe"`
	Storage     StorageConfig      `mapstructure:"storage"`
	PubSub      PubSubConfig       `mapstructure:"pubsub"`
	Digest      DigestConfig       `mapstructure:"digest"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Pipeline    PipelineConfig     `mapstructure:"pipeline"`
	Telemetry   telemetry.Config   `mapstructure:"telemetry"`
	Competitors []intel.Competitor `mapstructure:"competitors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the static fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// RateLimitConfig sets per-domain politeness for the static fetcher.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// SourcesConfig toggles and caps each source.
type SourcesConfig struct {
	Blog    BlogSourceConfig    `mapstructure:"blog"`
	Reviews ReviewsSourceConfig `mapstructure:"reviews"`
	Jobs    JobsSourceConfig    `mapstructure:"jobs"`
	Website WebsiteSourceConfig `mapstructure:"website"`
}

// BlogSourceConfig configures the blog source.
type BlogSourceConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxItems int  `mapstructure:"max_items"`
}

// ReviewsSourceConfig configures the review source.
type ReviewsSourceConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxPerQuery     int  `mapstructure:"max_per_query"`
	MaxItems        int  `mapstructure:"max_items"`
	ResultsPerQuery int  `mapstructure:"results_per_query"`
}

// JobsSourceConfig configures the job-listing source.
type JobsSourceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MaxItems int    `mapstructure:"max_items"`
	Location string `mapstructure:"location"`
}

// WebsiteSourceConfig configures the rendered homepage source.
type WebsiteSourceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SerpAPIConfig holds search API credentials.
type SerpAPIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// AnalysisConfig configures the LLM client.
type AnalysisConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	MaxTokens   int    `mapstructure:"max_tokens"`
	MaxRetries  int    `mapstructure:"max_retries"`
	ContextFile string `mapstructure:"context_file"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider     string `mapstructure:"provider"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	GenAIAPIKey  string `mapstructure:"genai_api_key"`
	Model        string `mapstructure:"model"`
	Dimensions   int    `mapstructure:"dimensions"`
	BaseURL      string `mapstructure:"base_url"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	IntelTable      string        `mapstructure:"intel_table"`
	DigestTable     string        `mapstructure:"digest_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DedupeConfig configures the optional seen-URL cache.
type DedupeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLHours      int    `mapstructure:"ttl_hours"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// StorageConfig selects where digest archives are written.
type StorageConfig struct {
	Backend string              `mapstructure:"backend"`
	Bucket  string              `mapstructure:"bucket"`
	Prefix  string              `mapstructure:"prefix"`
	Local   localstorage.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DigestConfig configures digest building and delivery.
type DigestConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	Recipient    string `mapstructure:"recipient"`
	SinceDays    int    `mapstructure:"since_days"`
	ScanLimit    int    `mapstructure:"scan_limit"`
	CompanyName  string `mapstructure:"company_name"`
}

// SchedulerConfig configures the weekly trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// PipelineConfig tunes the per-competitor pipeline.
type PipelineConfig struct {
	SourceConcurrency int `mapstructure:"source_concurrency"`
	EmbedConcurrency  int `mapstructure:"embed_concurrency"`
}

// aliases maps config keys to conventional environment variable names.
var aliases = map[string]string{
	"analysis.api_key":         "ANTHROPIC_API_KEY",
	"embedding.openai_api_key": "OPENAI_API_KEY",
	"embedding.genai_api_key":  "GEMINI_API_KEY",
	"serpapi.api_key":          "SERPAPI_KEY",
	"digest.resend_api_key":    "RESEND_API_KEY",
	"digest.recipient":         "DIGEST_RECIPIENT",
	"database.dsn":             "DATABASE_URL",
	"server.port":              "PORT",
	"telemetry.project_id":     "GOOGLE_CLOUD_PROJECT",
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("WATCHTOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, "", reflect.TypeOf(Config{})); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Competitors) == 0 {
		cfg.Competitors = competitor.Defaults()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindEnv registers every leaf key of t so Unmarshal sees values that are
// only set in the environment. AutomaticEnv alone misses keys without a
// default. Keys in aliases also accept their conventional name.
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		switch {
		case field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}):
			if err := bindEnv(v, key, field.Type); err != nil {
				return err
			}
			continue
		case field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() == reflect.Struct:
			// Lists of structs come from the config file only.
			continue
		}
		names := []string{key, envName(key)}
		if alias, ok := aliases[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func envName(key string) string {
	return "WATCHTOWER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; Watchtower/1.0; +competitive-intel)")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("sources.blog.enabled", true)
	v.SetDefault("sources.blog.max_items", 20)
	v.SetDefault("sources.reviews.enabled", true)
	v.SetDefault("sources.reviews.max_per_query", 15)
	v.SetDefault("sources.reviews.max_items", 30)
	v.SetDefault("sources.reviews.results_per_query", 10)
	v.SetDefault("sources.jobs.enabled", true)
	v.SetDefault("sources.jobs.max_items", 15)
	v.SetDefault("sources.jobs.location", "United States")
	v.SetDefault("sources.website.enabled", false)
	v.SetDefault("serpapi.base_url", "https://serpapi.com/search.json")
	v.SetDefault("analysis.model", "claude-sonnet-4-5")
	v.SetDefault("analysis.max_tokens", 4096)
	v.SetDefault("analysis.max_retries", 2)
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("database.intel_table", "intel_items")
	v.SetDefault("database.digest_table", "digests")
	v.SetDefault("dedupe.enabled", false)
	v.SetDefault("dedupe.ttl_hours", 24*30)
	v.SetDefault("dedupe.key_prefix", "watchtower:seen:")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("digest.from", "Watchtower <onboarding@resend.dev>")
	v.SetDefault("digest.since_days", 7)
	v.SetDefault("digest.scan_limit", 100)
	v.SetDefault("digest.company_name", "HappyCo")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 7 * * 1")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("pipeline.source_concurrency", 4)
	v.SetDefault("pipeline.embed_concurrency", 4)
	v.SetDefault("telemetry.service_name", "watchtower")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Analysis.MaxTokens <= 0 {
		return fmt.Errorf("analysis.max_tokens must be > 0")
	}
	switch c.Embedding.Provider {
	case "openai", "genai", "none":
	default:
		return fmt.Errorf("embedding.provider must be one of openai, genai, none")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	if c.Dedupe.Enabled && c.Dedupe.TTLHours <= 0 {
		return fmt.Errorf("dedupe.ttl_hours must be > 0 when dedupe is enabled")
	}
	if c.Digest.SinceDays < 1 || c.Digest.SinceDays > 90 {
		return fmt.Errorf("digest.since_days must be between 1 and 90")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Cron) == "" {
		return fmt.Errorf("scheduler.cron must be set when the scheduler is enabled")
	}
	if _, err := competitor.NewRegistry(c.Competitors); err != nil {
		return fmt.Errorf("competitors: %w", err)
	}
	return nil
}

// HTTPTimeout converts the fetch timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DedupeTTL converts the seen-URL TTL to a duration.
func (c Config) DedupeTTL() time.Duration {
	return time.Duration(c.Dedupe.TTLHours) * time.Hour
}
