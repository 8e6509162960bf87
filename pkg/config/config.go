// Package config loads and validates worker configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Redis, Kafka, Storage, Transcriber, Digest, Notifier,
// Pipeline).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level worker configuration.
type Config struct {
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Storage     StorageConfig     `yaml:"storage"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Digest      DigestConfig      `yaml:"digest"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the mutex lease store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds the broker list and the topics the worker consumes from
// and dead-letters to.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Topic           string        `yaml:"topic"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MaxReceives     int           `yaml:"maxReceives"`
	ReceiveBackoff  time.Duration `yaml:"receiveBackoff"`
}

// StorageConfig holds S3-compatible object storage credentials. The bucket
// itself arrives in each notification, so only the endpoint is configured.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

// TranscriberConfig holds the speech-to-text service settings.
type TranscriberConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	APIKey         string        `yaml:"apiKey"`
	Model          string        `yaml:"model"`
	Language       string        `yaml:"language"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DigestConfig holds the structured-generation model settings.
type DigestConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	APIKey         string        `yaml:"apiKey"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// NotifierConfig holds the operator notification channel settings.
type NotifierConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	BaseURL  string `yaml:"baseUrl"`
	Enabled  bool   `yaml:"enabled"`
}

// PipelineConfig controls chunking, fan-out, retry, and the job deadline.
type PipelineConfig struct {
	ChunkLength    time.Duration `yaml:"chunkLength"`
	ChunkOverlap   time.Duration `yaml:"chunkOverlap"`
	Workers        int           `yaml:"workers"`
	RetryAttempts  int           `yaml:"retryAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	Deadline       time.Duration `yaml:"deadline"`
	LeaseTTL       time.Duration `yaml:"leaseTtl"`
	ScratchRoot    string        `yaml:"scratchRoot"`
	FFmpegBin      string        `yaml:"ffmpegBin"`
	FFprobeBin     string        `yaml:"ffprobeBin"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants. The lease TTL must outlive the
// pipeline deadline so a legitimate run never loses its lease mid-flight,
// and the chunk overlap must leave the chunks a positive stride.
func (c *Config) Validate() error {
	if c.Pipeline.LeaseTTL <= c.Pipeline.Deadline {
		return fmt.Errorf("pipeline.leaseTtl (%v) must exceed pipeline.deadline (%v)",
			c.Pipeline.LeaseTTL, c.Pipeline.Deadline)
	}
	if c.Pipeline.ChunkLength <= 0 {
		return fmt.Errorf("pipeline.chunkLength must be positive, got %v", c.Pipeline.ChunkLength)
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkLength {
		return fmt.Errorf("pipeline.chunkOverlap (%v) must be in [0, chunkLength)", c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Kafka.MaxReceives <= 0 {
		return fmt.Errorf("kafka.maxReceives must be positive, got %d", c.Kafka.MaxReceives)
	}
	if c.Kafka.ReceiveBackoff < 0 {
		return fmt.Errorf("kafka.receiveBackoff must not be negative, got %v", c.Kafka.ReceiveBackoff)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development. The
// 14-minute deadline sits under the hosting platform's 15-minute hard
// timeout, and the 20-minute lease TTL sits above the deadline.
func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "meetmind",
			User:            "meetmind",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			ConsumerGroup:   "meetmind-worker",
			Topic:           "meeting-uploads",
			DeadLetterTopic: "meeting-uploads-dlq",
			MaxReceives:     3,
			ReceiveBackoff:  10 * time.Second,
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			UseSSL:   false,
		},
		Transcriber: TranscriberConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "whisper-large-v3",
			RequestTimeout: 2 * time.Minute,
		},
		Digest: DigestConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.3-70b-versatile",
			RequestTimeout: 2 * time.Minute,
		},
		Notifier: NotifierConfig{
			BaseURL: "https://api.telegram.org",
			Enabled: true,
		},
		Pipeline: PipelineConfig{
			ChunkLength:    600 * time.Second,
			ChunkOverlap:   0,
			Workers:        5,
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
			Deadline:       14 * time.Minute,
			LeaseTTL:       20 * time.Minute,
			ScratchRoot:    os.TempDir(),
			FFmpegBin:      "ffmpeg",
			FFprobeBin:     "ffprobe",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MW_* environment variables and overrides the
// corresponding config fields. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("MW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("MW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("MW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MW_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("MW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MW_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("MW_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("MW_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("MW_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("MW_TRANSCRIBER_API_KEY"); v != "" {
		cfg.Transcriber.APIKey = v
	}
	if v := os.Getenv("MW_TRANSCRIBER_BASE_URL"); v != "" {
		cfg.Transcriber.BaseURL = v
	}
	if v := os.Getenv("MW_DIGEST_API_KEY"); v != "" {
		cfg.Digest.APIKey = v
	}
	if v := os.Getenv("MW_DIGEST_BASE_URL"); v != "" {
		cfg.Digest.BaseURL = v
	}
	if v := os.Getenv("MW_NOTIFIER_BOT_TOKEN"); v != "" {
		cfg.Notifier.BotToken = v
	}
	if v := os.Getenv("MW_NOTIFIER_CHAT_ID"); v != "" {
		cfg.Notifier.ChatID = v
	}
	if v := os.Getenv("MW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
