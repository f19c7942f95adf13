// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Matching      MatchingConfig          `mapstructure:"matching"`
	Recompute     RecomputeConfig         `mapstructure:"recompute"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Registry      RegistryConfig          `mapstructure:"registry"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Metrics       MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	UserIndex  string   `mapstructure:"user_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MatchingConfig holds the tunables of the matching engine.
type MatchingConfig struct {
	MinQuality      int `mapstructure:"min_quality"`
	MaxResults      int `mapstructure:"max_results"`
	DefaultRadiusKM int `mapstructure:"default_radius_km"`
	CandidateCap    int `mapstructure:"candidate_cap"`
	RunBudgetMS     int `mapstructure:"run_budget"`       // milliseconds
	RecencyDays     int `mapstructure:"recency_days"`     // exclude users inactive longer
	PriceCacheTTL   int `mapstructure:"price_cache_ttl"`  // seconds
	TrustCacheTTL   int `mapstructure:"trust_cache_ttl"`  // seconds
}

// RunBudget returns the wall-clock budget for one matching run.
func (m MatchingConfig) RunBudget() time.Duration {
	return time.Duration(m.RunBudgetMS) * time.Millisecond
}

// RecencyThreshold returns the inactivity cutoff as a duration.
func (m MatchingConfig) RecencyThreshold() time.Duration {
	return time.Duration(m.RecencyDays) * 24 * time.Hour
}

// RecomputeConfig holds settings for the recompute queue and dispatcher.
type RecomputeConfig struct {
	Stream           string `mapstructure:"stream"`
	DeadLetterStream string `mapstructure:"dead_letter_stream"`
	Group            string `mapstructure:"group"`
	PoolSize         int    `mapstructure:"pool_size"`
	BlockTimeMS      int    `mapstructure:"block_time"` // milliseconds
	MaxRetry         int    `mapstructure:"max_retry"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// RegistryConfig points at the task-type registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig holds settings for the new-match notification sink.
type NotificationConfig struct {
	MinScore int `mapstructure:"min_score"`
	Email    struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the prometheus/pprof listener settings.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}
