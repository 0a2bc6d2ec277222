package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration. It is read from an optional YAML file
// and from INTERCEPTD_* environment variables, the latter taking precedence.
type Config struct {
	Listen      string `mapstructure:"listen"`
	Transparent string `mapstructure:"transparent"`
	Reverse     string `mapstructure:"reverse"`
	Upstream    string `mapstructure:"upstream"`
	DNSServer   string `mapstructure:"dns_server"`
	ProxyAgent  string `mapstructure:"proxy_agent"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	TLS     TLSConfig     `mapstructure:"tls"`
	Ghost   GhostConfig   `mapstructure:"ghost"`
	HAR     HARConfig     `mapstructure:"har"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Limit   int           `mapstructure:"max_concurrent"`
	Logging LoggingConfig `mapstructure:"logging"`

	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

type TLSConfig struct {
	Intercept bool          `mapstructure:"intercept"`
	CACert    string        `mapstructure:"ca_cert"`
	CAKey     string        `mapstructure:"ca_key"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type GhostConfig struct {
	Root  string `mapstructure:"root"`
	Phase string `mapstructure:"phase"`
}

type HARConfig struct {
	Output  string `mapstructure:"output"`
	Content bool   `mapstructure:"content"`
}

type AuthConfig struct {
	Realm string            `mapstructure:"realm"`
	Users map[string]string `mapstructure:"users"`
}

// LoggingConfig selects where records go. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("proxy_agent", "interceptd")
	v.SetDefault("stall_timeout", 5*time.Second)
	v.SetDefault("read_timeout", 2*time.Minute)
	v.SetDefault("tls.cache_size", 1024)
	v.SetDefault("tls.cache_ttl", 24*time.Hour)
	v.SetDefault("ghost.phase", "request")
	v.SetDefault("auth.realm", "interceptd")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// loadConfig reads path (may be empty) and the environment.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INTERCEPTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Listen == "" && cfg.Transparent == "" {
		return Config{}, fmt.Errorf("nothing to listen on")
	}
	if (cfg.TLS.CACert == "") != (cfg.TLS.CAKey == "") {
		return Config{}, fmt.Errorf("tls.ca_cert and tls.ca_key go together")
	}
	return cfg, nil
}
