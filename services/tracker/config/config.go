package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the tracker service.
type Config struct {
	LogLevel    string
	HTTPPort    string
	MetricsAddr string

	StreamURL       string
	StreamSessionID string

	KafkaBrokers     string
	KafkaEventsTopic string
	KafkaJournal     string
	KafkaGroupID     string

	RedisAddr   string
	PostgresDSN string

	RateLimit     int
	RateWindow    time.Duration
	QuietPeriod   time.Duration
	RetainRecent  int
	RetainWindow  time.Duration
	PruneSchedule string
	StallSchedule string
	RecentLimit   int
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:    v.GetString("log_level"),
		HTTPPort:    v.GetString("http_port"),
		MetricsAddr: v.GetString("metrics_addr"),

		StreamURL:       v.GetString("stream_url"),
		StreamSessionID: v.GetString("stream_session_id"),

		KafkaBrokers:     v.GetString("kafka_brokers"),
		KafkaEventsTopic: v.GetString("kafka_events_topic"),
		KafkaJournal:     v.GetString("kafka_journal_topic"),
		KafkaGroupID:     v.GetString("kafka_group_id"),

		RedisAddr:   v.GetString("redis_addr"),
		PostgresDSN: v.GetString("postgres_dsn"),

		RateLimit:     v.GetInt("rate_limit"),
		RateWindow:    v.GetDuration("rate_window"),
		QuietPeriod:   v.GetDuration("quiet_period"),
		RetainRecent:  v.GetInt("retain_recent"),
		RetainWindow:  v.GetDuration("retain_window"),
		PruneSchedule: v.GetString("prune_schedule"),
		StallSchedule: v.GetString("stall_schedule"),
		RecentLimit:   v.GetInt("recent_limit"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
