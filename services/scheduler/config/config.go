package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel     string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string

	PollInterval time.Duration
	BatchSize    int

	MaxConcurrent         int
	DailySocialLimit      int
	DailyTransactionLimit int

	TaskTimeout time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration

	SocialEndpoints map[domain.Platform]string
	SocialAuthToken string
	WalletURL       string
	WalletAuthToken string
	WalletDryRun    bool
	PlaybookDir     string

	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),

		PollInterval: v.GetDuration("poll_interval"),
		BatchSize:    v.GetInt("batch_size"),

		MaxConcurrent:         v.GetInt("max_concurrent"),
		DailySocialLimit:      v.GetInt("daily_social_limit"),
		DailyTransactionLimit: v.GetInt("daily_transaction_limit"),

		TaskTimeout: v.GetDuration("task_timeout"),
		BackoffBase: v.GetDuration("backoff_base"),
		BackoffCap:  v.GetDuration("backoff_cap"),

		SocialEndpoints: socialEndpoints(v.GetStringMapString("social_endpoints")),
		SocialAuthToken: v.GetString("social_auth_token"),
		WalletURL:       v.GetString("wallet_url"),
		WalletAuthToken: v.GetString("wallet_auth_token"),
		WalletDryRun:    v.GetBool("wallet_dry_run"),
		PlaybookDir:     v.GetString("playbook_dir"),

		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}

func socialEndpoints(raw map[string]string) map[domain.Platform]string {
	out := make(map[domain.Platform]string, len(raw))
	for platform, url := range raw {
		out[domain.Platform(strings.ToLower(platform))] = url
	}
	return out
}
