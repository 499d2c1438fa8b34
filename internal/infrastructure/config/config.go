// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${VAR} references expanded
//  2. Environment variables (fallback), optionally seeded from a .env file
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	if err := cfg.Validate(); err != nil { ... }
//	profile, err := cfg.Profile("personal")
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// Config represents the entire application configuration
type Config struct {
	UpBank        UpBankConfig             `yaml:"upbank"`
	YNAB          YNABConfig               `yaml:"ynab"`
	Storage       StorageConfig            `yaml:"storage"`
	Sync          SyncConfig               `yaml:"sync"`
	Profiles      map[string]ProfileConfig `yaml:"profiles"`
	Audit         AuditConfig              `yaml:"audit"`
	API           APIConfig                `yaml:"api"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// UpBankConfig holds source ledger API configuration
type UpBankConfig struct {
	Token             string  `yaml:"token"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// YNABConfig holds destination ledger API configuration
type YNABConfig struct {
	Token             string  `yaml:"token"`
	BudgetID          string  `yaml:"budget_id"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StorageConfig holds state store configuration
type StorageConfig struct {
	Backend      string         `yaml:"backend"` // sqlite, dynamodb, memory
	DatabasePath string         `yaml:"database_path"`
	DynamoDB     DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig holds DynamoDB state store settings
type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // e.g. http://localhost:8000 for DynamoDB Local
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	MaxRetries               int           `yaml:"max_retries"`
	RetryDelay               time.Duration `yaml:"retry_delay"`
	Workers                  int           `yaml:"workers"`
	LookbackDays             int           `yaml:"lookback_days"`
	SourceUnitsPerMajor      int64         `yaml:"source_units_per_major"`
	DestinationUnitsPerMajor int64         `yaml:"destination_units_per_major"`
	Timezone                 string        `yaml:"timezone"`
	HTTPTimeout              time.Duration `yaml:"http_timeout"`
	TransportRetries         int           `yaml:"transport_retries"`
}

// ProfileConfig describes one set of account mappings and their policies
type ProfileConfig struct {
	Mappings            []model.AccountMapping       `yaml:"mappings"`
	Categorization      model.CategorizationSettings `yaml:"categorization"`
	EnabledAccountTypes []model.AccountType          `yaml:"enabled_account_types"`
	RulesFile           string                       `yaml:"rules_file"`
}

// AuditConfig holds run result publishing settings
type AuditConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
	Region      string `yaml:"region"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text (maven-style) or json
}

// Defaults used when a value is not configured
const (
	DefaultDatabasePath = "upsync.db"
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultWorkers      = 1
	DefaultLookbackDays = 14
	DefaultAPIPort      = 8085
	DefaultProfile      = "default"
)

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${YNAB_TOKEN})
	expanded := os.ExpandEnv(string(data))

	// keys absent from the file keep these values; an explicit zero stays zero
	cfg := Config{Sync: SyncConfig{MaxRetries: DefaultMaxRetries}}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadDotEnv loads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv loads configuration from environment variables only. The
// single profile it builds maps UPBANK_ACCOUNT_ID to YNAB_ACCOUNT_ID.
func LoadFromEnv() *Config {
	cfg := &Config{
		UpBank: UpBankConfig{
			Token:   os.Getenv("UPBANK_TOKEN"),
			BaseURL: os.Getenv("UPBANK_BASE_URL"),
		},
		YNAB: YNABConfig{
			Token:    os.Getenv("YNAB_TOKEN"),
			BudgetID: os.Getenv("YNAB_BUDGET_ID"),
			BaseURL:  os.Getenv("YNAB_BASE_URL"),
		},
		Storage: StorageConfig{
			Backend:      getEnv("UPSYNC_STORAGE_BACKEND", "sqlite"),
			DatabasePath: getEnv("UPSYNC_DB_PATH", DefaultDatabasePath),
			DynamoDB: DynamoDBConfig{
				Table:    os.Getenv("UPSYNC_DYNAMODB_TABLE"),
				Region:   os.Getenv("AWS_REGION"),
				Endpoint: os.Getenv("UPSYNC_DYNAMODB_ENDPOINT"),
			},
		},
		Sync: SyncConfig{
			MaxRetries:   getEnvInt("UPSYNC_MAX_RETRIES", DefaultMaxRetries),
			RetryDelay:   getEnvDuration("UPSYNC_RETRY_DELAY", DefaultRetryDelay),
			Workers:      getEnvInt("UPSYNC_WORKERS", DefaultWorkers),
			LookbackDays: getEnvInt("UPSYNC_LOOKBACK_DAYS", DefaultLookbackDays),
			Timezone:     os.Getenv("UPSYNC_TIMEZONE"),
		},
		Audit: AuditConfig{
			SQSQueueURL: os.Getenv("UPSYNC_SQS_QUEUE_URL"),
			Region:      os.Getenv("AWS_REGION"),
		},
		API: APIConfig{
			Port: getEnvInt("UPSYNC_API_PORT", DefaultAPIPort),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}

	if src, dst := os.Getenv("UPBANK_ACCOUNT_ID"), os.Getenv("YNAB_ACCOUNT_ID"); src != "" && dst != "" {
		cfg.Profiles = map[string]ProfileConfig{
			DefaultProfile: {
				Mappings: []model.AccountMapping{{
					Source:      model.SourceAccount{ID: src, DisplayName: src, Type: model.AccountTypeTransactional},
					Destination: model.DestinationAccount{ID: dst, DisplayName: dst},
					Enabled:     true,
				}},
				RulesFile: os.Getenv("UPSYNC_RULES_FILE"),
			},
		}
	}

	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	_ = LoadDotEnv("")
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.DatabasePath == "" && c.Storage.Backend == "sqlite" {
		c.Storage.DatabasePath = DefaultDatabasePath
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = DefaultRetryDelay
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = DefaultWorkers
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = DefaultLookbackDays
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var problems []string

	if c.GetAPIKey(c.UpBank.Token, "UPBANK_TOKEN") == "" {
		problems = append(problems, "upbank.token is required")
	}
	if c.GetAPIKey(c.YNAB.Token, "YNAB_TOKEN") == "" {
		problems = append(problems, "ynab.token is required")
	}
	if c.YNAB.BudgetID == "" {
		problems = append(problems, "ynab.budget_id is required")
	}

	switch c.Storage.Backend {
	case "sqlite", "memory":
	case "dynamodb":
		if c.Storage.DynamoDB.Table == "" {
			problems = append(problems, "storage.dynamodb.table is required for the dynamodb backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of sqlite, dynamodb, memory", c.Storage.Backend))
	}

	if c.Sync.MaxRetries < 0 {
		problems = append(problems, "sync.max_retries must not be negative")
	}
	if c.Sync.Timezone != "" {
		if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("sync.timezone %q is invalid", c.Sync.Timezone))
		}
	}

	if len(c.Profiles) == 0 {
		problems = append(problems, "at least one profile is required")
	}
	for name, p := range c.Profiles {
		for i, m := range p.Mappings {
			if m.Source.ID == "" || m.Destination.ID == "" {
				problems = append(problems, fmt.Sprintf("profiles.%s.mappings[%d] needs source and destination ids", name, i))
			}
		}
		if t := p.Categorization.MinConfidenceThreshold; t < 0 || t > 1 {
			problems = append(problems, fmt.Sprintf("profiles.%s.categorization.min_confidence_threshold must be within [0,1]", name))
		}
	}

	if len(problems) > 0 {
		return model.NewSyncError(model.ErrorConfiguration, strings.Join(problems, "; "), nil)
	}
	return nil
}

// Profile returns the named profile. An empty name selects the only
// profile when exactly one is configured.
func (c *Config) Profile(name string) (ProfileConfig, error) {
	if name == "" {
		if len(c.Profiles) == 1 {
			for _, p := range c.Profiles {
				return p, nil
			}
		}
		name = DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return ProfileConfig{}, model.NewSyncError(model.ErrorConfiguration,
			fmt.Sprintf("profile %q is not configured", name), nil)
	}
	return p, nil
}

// ProfileName resolves an empty profile name the same way Profile does
func (c *Config) ProfileName(name string) string {
	if name != "" {
		return name
	}
	if len(c.Profiles) == 1 {
		for n := range c.Profiles {
			return n
		}
	}
	return DefaultProfile
}

// Location returns the configured timezone, or nil for each timestamp's own offset
func (c *Config) Location() *time.Location {
	if c.Sync.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// GetAPIKey retrieves an API key from config first, then tries multiple environment variable names
// Usage: GetAPIKey(cfg.YNAB.Token, "YNAB_TOKEN")
//
//	GetAPIKey(cfg.UpBank.Token, "UPBANK_TOKEN", "UP_API_TOKEN")
func (c *Config) GetAPIKey(configValue string, envVarNames ...string) string {
	if configValue != "" {
		return configValue
	}

	for _, envVar := range envVarNames {
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}

	return ""
}
