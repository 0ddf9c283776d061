package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the planner service.
type Config struct {
	LogLevel         string
	KafkaBrokers     string
	RedisAddr        string
	PostgresDSN      string
	ProjectsFile     string
	TickInterval     time.Duration
	SweepCron        string
	PlanLimit        int
	MaxAttempts      int
	ApprovalRequired bool
	StalenessWindow  time.Duration
	ApprovalTimeout  time.Duration
	MetricsAddr      string
	OTelEndpoint     string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		ProjectsFile:     v.GetString("projects_file"),
		TickInterval:     v.GetDuration("tick_interval"),
		SweepCron:        v.GetString("sweep_cron"),
		PlanLimit:        v.GetInt("plan_limit"),
		MaxAttempts:      v.GetInt("max_attempts"),
		ApprovalRequired: v.GetBool("approval_required"),
		StalenessWindow:  v.GetDuration("staleness_window"),
		ApprovalTimeout:  v.GetDuration("approval_timeout"),
		MetricsAddr:      v.GetString("metrics_addr"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
	}
}
