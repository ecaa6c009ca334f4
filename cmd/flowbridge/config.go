package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/flowbridge/settings"
)

// Config is the process configuration. Bridge options (qzb_*) may sit at the
// top level of the same file and are seeded into the settings store.
type Config struct {
	Listen        string        `mapstructure:"listen"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Shutdown      time.Duration `mapstructure:"shutdown_timeout"`
	RecordType    string        `mapstructure:"record_type"`
	EventName     string        `mapstructure:"event_name"`
	EventIDPrefix string        `mapstructure:"event_id_prefix"`

	Recheck RecheckConfig `mapstructure:"recheck"`
	Store   StoreConfig   `mapstructure:"store"`
	Inbound InboundConfig `mapstructure:"inbound"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`

	// file is the config file actually read, if any.
	file string
}

type RecheckConfig struct {
	Delay        time.Duration `mapstructure:"delay"`
	MaxRechecks  int           `mapstructure:"max"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, redis, postgres, sqlite, mongo
	DSN    string `mapstructure:"dsn"`
}

type InboundConfig struct {
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flowbridge")
	}

	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("record_type", "crbs_booking")
	v.SetDefault("event_name", "crbs.booking.created")
	v.SetDefault("event_id_prefix", "crbs")
	v.SetDefault("recheck.delay", 5*time.Second)
	v.SetDefault("recheck.max", 2)
	v.SetDefault("recheck.poll_interval", time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("inbound.tolerance", 5*time.Minute)
	v.SetDefault("kafka.topic", "crbs-booking-events")
	v.SetDefault("kafka.group_id", "flowbridge")

	v.SetEnvPrefix(settings.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()
	return &cfg, nil
}
