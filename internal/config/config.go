// Package config loads runtime configuration through viper with environment
// variable overrides, e.g. SERVER_PORT=9090 overrides server.port.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	S3         S3Config
	NATS       NATSConfig
	Classifier ClassifierConfig
	Webhook    WebhookConfig
	RateLimit  RateLimitConfig
	Auth       AuthConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// S3Config points at the MinIO/S3 deployment holding uploaded assets. The
// upload path is owned by another service; we only presign read URLs.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

type NATSConfig struct {
	URL string
}

// ClassifierConfig configures the remote vision classifier. An empty endpoint
// disables the remote path entirely and every document goes through the
// filename heuristic.
type ClassifierConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type WebhookConfig struct {
	Secret      string
	MaxAttempts int
	BackoffBase time.Duration
	RetryDelay  time.Duration
	Timeout     time.Duration
	Concurrency int
}

// RateLimitConfig holds the two inbound limiters: a per-client window and a
// tighter per-credential window.
type RateLimitConfig struct {
	ClientLimit     int
	CredentialLimit int
	Window          time.Duration
	SweepInterval   time.Duration
}

type AuthConfig struct {
	Secret  string
	Enforce bool
}

type LogConfig struct {
	Level string
	JSON  bool
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "veriflow")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.accesskey", "")
	v.SetDefault("s3.secretkey", "")
	v.SetDefault("s3.bucket", "kyc-assets")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.usessl", false)
	v.SetDefault("s3.urlttl", 5*time.Minute)

	v.SetDefault("nats.url", "")

	v.SetDefault("classifier.endpoint", "")
	v.SetDefault("classifier.apikey", "")
	v.SetDefault("classifier.timeout", 10*time.Second)

	v.SetDefault("webhook.secret", "veriflow-dev-secret")
	v.SetDefault("webhook.maxattempts", 3)
	v.SetDefault("webhook.backoffbase", time.Second)
	v.SetDefault("webhook.retrydelay", 5*time.Minute)
	v.SetDefault("webhook.timeout", 15*time.Second)
	v.SetDefault("webhook.concurrency", 4)

	v.SetDefault("ratelimit.clientlimit", 100)
	v.SetDefault("ratelimit.credentiallimit", 20)
	v.SetDefault("ratelimit.window", 15*time.Minute)
	v.SetDefault("ratelimit.sweepinterval", 5*time.Minute)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.enforce", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			AccessKey: v.GetString("s3.accesskey"),
			SecretKey: v.GetString("s3.secretkey"),
			Bucket:    v.GetString("s3.bucket"),
			Region:    v.GetString("s3.region"),
			UseSSL:    v.GetBool("s3.usessl"),
			URLTTL:    v.GetDuration("s3.urlttl"),
		},
		NATS: NATSConfig{
			URL: v.GetString("nats.url"),
		},
		Classifier: ClassifierConfig{
			Endpoint: v.GetString("classifier.endpoint"),
			APIKey:   v.GetString("classifier.apikey"),
			Timeout:  v.GetDuration("classifier.timeout"),
		},
		Webhook: WebhookConfig{
			Secret:      v.GetString("webhook.secret"),
			MaxAttempts: v.GetInt("webhook.maxattempts"),
			BackoffBase: v.GetDuration("webhook.backoffbase"),
			RetryDelay:  v.GetDuration("webhook.retrydelay"),
			Timeout:     v.GetDuration("webhook.timeout"),
			Concurrency: v.GetInt("webhook.concurrency"),
		},
		RateLimit: RateLimitConfig{
			ClientLimit:     v.GetInt("ratelimit.clientlimit"),
			CredentialLimit: v.GetInt("ratelimit.credentiallimit"),
			Window:          v.GetDuration("ratelimit.window"),
			SweepInterval:   v.GetDuration("ratelimit.sweepinterval"),
		},
		Auth: AuthConfig{
			Secret:  v.GetString("auth.secret"),
			Enforce: v.GetBool("auth.enforce"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("ratelimit.window must be positive")
	}
	if cfg.Auth.Enforce && cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret is required when auth.enforce is set")
	}

	return cfg, nil
}

// DatabaseDSN builds the postgres connection string for pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, c.Database.SSLMode)
}

// ServerAddress is the host:port the HTTP server binds to.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
