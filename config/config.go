package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the enrichment pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Ladder    LadderConfig    `mapstructure:"ladder"`
	Review    ReviewConfig    `mapstructure:"review"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains the internal ops HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains the text-generation service configuration.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MiniModel   string        `mapstructure:"mini_model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// StorageConfig contains Postgres and Redis settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig mirrors the usual DSN pieces; URL wins when set.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig configures the processing-lease cache. Optional: an empty
// host disables leasing and the scanner runs without cross-process locks.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// ResolverConfig controls document resolution.
type ResolverConfig struct {
	ProfilesFile string        `mapstructure:"profiles_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// LadderConfig carries the per-strategy thickness gates and endpoints for
// the text-acquisition ladder.
type LadderConfig struct {
	// Minimum characters a source must clear before it is accepted.
	MinTextChars      int           `mapstructure:"min_text_chars"`
	MinDocumentChars  int           `mapstructure:"min_document_chars"`
	MinAbstractChars  int           `mapstructure:"min_abstract_chars"`
	MaxTextChars      int           `mapstructure:"max_text_chars"`
	BillInfoEndpoint  string        `mapstructure:"bill_info_endpoint"`
	AbstractEndpoint  string        `mapstructure:"abstract_endpoint"`
	AbstractAPIKey    string        `mapstructure:"abstract_api_key"`
	ExtractorEndpoint string        `mapstructure:"extractor_endpoint"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

func (l LadderConfig) Normalize() LadderConfig {
	if l.MinTextChars <= 0 {
		l.MinTextChars = 50
	}
	if l.MinDocumentChars <= 0 {
		l.MinDocumentChars = 200
	}
	if l.MinAbstractChars <= 0 {
		l.MinAbstractChars = 100
	}
	if l.MaxTextChars <= 0 {
		l.MaxTextChars = 3000
	}
	if l.FetchTimeout <= 0 {
		l.FetchTimeout = 20 * time.Second
	}
	return l
}

// ReviewConfig controls the verification pipeline.
type ReviewConfig struct {
	// CrossCheck enables the secondary mini-model consistency check.
	CrossCheck           bool     `mapstructure:"cross_check"`
	AllowedSources       []string `mapstructure:"allowed_sources"`
	ExpectedJurisdiction string   `mapstructure:"expected_jurisdiction"`
}

func (r ReviewConfig) Normalize() ReviewConfig {
	if len(r.AllowedSources) == 0 {
		r.AllowedSources = []string{"lso", "open_states"}
	}
	if strings.TrimSpace(r.ExpectedJurisdiction) == "" {
		r.ExpectedJurisdiction = "WY"
	}
	return r
}

// ScanConfig throttles the batch scanner.
type ScanConfig struct {
	BatchSize   int    `mapstructure:"batch_size"`
	RescanDays  int    `mapstructure:"rescan_days"`
	Concurrency int    `mapstructure:"concurrency"`
	Schedule    string `mapstructure:"schedule"`
}

func (s ScanConfig) Normalize() ScanConfig {
	if s.BatchSize <= 0 {
		s.BatchSize = 25
	}
	if s.RescanDays <= 0 {
		s.RescanDays = 7
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	return s
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig reads configuration from a file (JSON) plus CIVICD_* env vars.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10011")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.mini_model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.25)
	viper.SetDefault("llm.max_tokens", 500)
	viper.SetDefault("llm.timeout", "45s")
	viper.SetDefault("resolver.timeout", "15s")
	viper.SetDefault("resolver.cache_ttl", "24h")
	viper.SetDefault("scan.schedule", "0 4 * * 1")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CIVICD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Ladder = config.Ladder.Normalize()
	config.Review = config.Review.Normalize()
	config.Scan = config.Scan.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}

	return &config
}
