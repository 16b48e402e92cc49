// Package config loads client configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr string        `mapstructure:"server_addr"`
	APIAddr    string        `mapstructure:"api_addr"`
	Log        LogConfig     `mapstructure:"log"`
	Session    SessionConfig `mapstructure:"session"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type SessionConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	WarningWindow     time.Duration `mapstructure:"warning_window"`
	ServerTimeout     time.Duration `mapstructure:"server_timeout"`
}

// Load reads configuration from configPath/configName.yaml plus X33X_*
// environment variables. A missing file is fine, defaults apply.
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("X33X")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "ws://localhost:3001/ws")
	v.SetDefault("api_addr", "http://localhost:3001")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("session.connect_timeout", 10*time.Second)
	v.SetDefault("session.heartbeat_interval", 30*time.Second)
	v.SetDefault("session.poll_interval", 30*time.Second)
	v.SetDefault("session.check_interval", time.Second)
	v.SetDefault("session.warning_window", 10*time.Second)
	v.SetDefault("session.server_timeout", 15*time.Minute)
}
