package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DatabaseURL       string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// Static bearer token; empty disables auth
	APIKey string `envconfig:"API_KEY"`

	OpenAIAPIKey        string  `envconfig:"OPENAI_API_KEY"`
	EmbeddingAPIKey     string  `envconfig:"EMBEDDING_API_KEY"`
	CompletionAPIKey    string  `envconfig:"COMPLETION_API_KEY"`
	OpenAIBaseURL       string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int     `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	CompletionModel     string  `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	ProviderRPS         float64 `envconfig:"PROVIDER_RPS" default:"3"`
	ProviderBurst       int     `envconfig:"PROVIDER_BURST" default:"6"`

	RecoveryBatch       int           `envconfig:"RECOVERY_BATCH" default:"50"`
	RecoveryInterval    time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1h"`
	ClusterMinInterval  time.Duration `envconfig:"CLUSTER_MIN_INTERVAL" default:"23h"`
	ClusterPollInterval time.Duration `envconfig:"CLUSTER_POLL_INTERVAL" default:"15m"`
	RRFK                float64       `envconfig:"RRF_K" default:"60"`
	ClusterBoost        float64       `envconfig:"CLUSTER_BOOST" default:"0.05"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"recall-clusters"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("RECALL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// EmbeddingKey falls back to the shared OpenAI key.
func (c *Config) EmbeddingKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.OpenAIAPIKey
}

// CompletionKey falls back to the shared OpenAI key.
func (c *Config) CompletionKey() string {
	if c.CompletionAPIKey != "" {
		return c.CompletionAPIKey
	}
	return c.OpenAIAPIKey
}

func (c *Config) HasEmbeddingKey() bool {
	return c.EmbeddingKey() != ""
}

func (c *Config) HasCompletionKey() bool {
	return c.CompletionKey() != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return "info"
}
