package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/openhab/cloud-tunnelgw/internal/cmdutil"
)

// appConfig is the full set of recognized options from SPEC_FULL.md §6, loaded through
// viper with the TUNNELGW_ env prefix (e.g. TUNNELGW_LISTEN_ADDRESS, TUNNELGW_STORE_ADDR).
// A config file (--config) is optional; every field also has an environment variable and
// a built-in default, matching the teacher's own envs-over-files preference in
// cmd/flowersec-tunnel/main.go.
type appConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	AdminAddress  string `mapstructure:"admin_address"`
	NodeAddress   string `mapstructure:"node_address"`
	AttachPath    string `mapstructure:"attach_path"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowNoOrigin  bool     `mapstructure:"allow_no_origin"`
	TrustProxy     bool     `mapstructure:"trust_proxy"`

	ConnectionLockTTLSeconds int `mapstructure:"connection_lock_ttl_seconds"`
	PingIntervalSeconds      int `mapstructure:"ping_interval_seconds"`
	PingTimeoutSeconds       int `mapstructure:"ping_timeout_seconds"`
	RequestMaxAgeSeconds     int `mapstructure:"request_max_age_seconds"`
	BlockTTLSeconds          int `mapstructure:"block_ttl_seconds"`
	SweepIntervalSeconds     int `mapstructure:"sweep_interval_seconds"`
	ShutdownGraceSeconds     int `mapstructure:"shutdown_grace_seconds"`

	MaxNotificationPayloadBytes int `mapstructure:"max_notification_payload_bytes"`
	MaxAttachBytes              int `mapstructure:"max_attach_bytes"`

	Store struct {
		Driver   string `mapstructure:"driver"` // "redis" or "memory"
		Addr     string `mapstructure:"addr"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"store"`

	Directory struct {
		Driver string `mapstructure:"driver"` // "postgres" or "memory"
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"directory"`

	FCM struct {
		Enabled   bool   `mapstructure:"enabled"`
		ProjectID string `mapstructure:"project_id"`
	} `mapstructure:"fcm"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

func (c appConfig) connectionLockTTL() time.Duration {
	return time.Duration(c.ConnectionLockTTLSeconds) * time.Second
}
func (c appConfig) pingInterval() time.Duration { return time.Duration(c.PingIntervalSeconds) * time.Second }
func (c appConfig) pingTimeout() time.Duration  { return time.Duration(c.PingTimeoutSeconds) * time.Second }
func (c appConfig) requestMaxAge() time.Duration {
	return time.Duration(c.RequestMaxAgeSeconds) * time.Second
}
func (c appConfig) blockTTL() time.Duration    { return time.Duration(c.BlockTTLSeconds) * time.Second }
func (c appConfig) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
func (c appConfig) shutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// loadConfig reads .env (if present, best-effort), then an optional config file, then
// TUNNELGW_-prefixed environment variables, in ascending precedence.
func loadConfig(configPath string) (appConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TUNNELGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", ":8080")
	v.SetDefault("admin_address", "127.0.0.1:8081")
	v.SetDefault("node_address", "")
	v.SetDefault("attach_path", "/tunnel/attach")

	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("allow_no_origin", false)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("connection_lock_ttl_seconds", 45)
	v.SetDefault("ping_interval_seconds", 10)
	v.SetDefault("ping_timeout_seconds", 20)
	v.SetDefault("request_max_age_seconds", 120)
	v.SetDefault("block_ttl_seconds", 60)
	v.SetDefault("sweep_interval_seconds", 10)
	v.SetDefault("shutdown_grace_seconds", 10)

	v.SetDefault("max_notification_payload_bytes", 1048576)
	v.SetDefault("max_attach_bytes", 8192)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.addr", "127.0.0.1:6379")
	v.SetDefault("store.username", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", 0)

	v.SetDefault("directory.driver", "memory")
	v.SetDefault("directory.dsn", "")

	v.SetDefault("fcm.enabled", false)
	v.SetDefault("fcm.project_id", "")

	v.SetDefault("metrics_enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return appConfig{}, &cmdutil.UsageError{Msg: fmt.Sprintf("reading --config %s: %v", configPath, err)}
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}
