package config

import (
	"github.com/spf13/viper"
)

// Config holds typed configuration for the ingestor service.
type Config struct {
	LogLevel        string
	KafkaBrokers    string
	PostgresDSN     string
	ProjectsFile    string
	ConfidenceFloor float64
	MetricsAddr     string
	OTelEndpoint    string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		ProjectsFile:    v.GetString("projects_file"),
		ConfidenceFloor: v.GetFloat64("confidence_floor"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
