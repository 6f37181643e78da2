package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Env             string
	LogLevel        string
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	RateLimit       RateLimitConfig
	PasswordCost    int
	RoomIdleTTL     time.Duration
	ReapInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Environment variables each setting is read from. The first five keep the
// names used by earlier deployments.
var envBindings = map[string]string{
	"port":                       "SERVER_PORT",
	"allowed_origins":            "ALLOWED_ORIGINS",
	"max_message_size":           "MAX_MESSAGE_SIZE",
	"rate_limit_burst":           "RATE_LIMIT_BURST",
	"rate_limit_refill_interval": "RATE_LIMIT_REFILL_INTERVAL",
	"send_buffer_size":           "SEND_BUFFER_SIZE",
	"password_cost":              "PASSWORD_COST",
	"room_idle_ttl":              "ROOM_IDLE_TTL",
	"reap_interval":              "REAP_INTERVAL",
	"shutdown_timeout":           "SHUTDOWN_TIMEOUT",
	"env":                        "APP_ENV",
	"log_level":                  "LOG_LEVEL",
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Env:  "dev",
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		PasswordCost:    bcrypt.DefaultCost,
		RoomIdleTTL:     5 * time.Minute,
		ReapInterval:    time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig builds a Config from defaults, the optional config file at path
// and the environment, in increasing order of precedence. An empty path skips
// the file. Invalid values fall back to their defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v).Sanitize(), nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("env", cfg.Env)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("allowed_origins", strings.Join(cfg.AllowedOrigins, ","))
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("send_buffer_size", cfg.SendBufferSize)
	v.SetDefault("rate_limit_burst", cfg.RateLimit.Burst)
	v.SetDefault("rate_limit_refill_interval", cfg.RateLimit.RefillInterval.String())
	v.SetDefault("password_cost", cfg.PasswordCost)
	v.SetDefault("room_idle_ttl", cfg.RoomIdleTTL.String())
	v.SetDefault("reap_interval", cfg.ReapInterval.String())
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout.String())
}

func decode(v *viper.Viper) Config {
	cfg := Config{
		Env:            strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		LogLevel:       strings.TrimSpace(v.GetString("log_level")),
		Port:           strings.TrimSpace(v.GetString("port")),
		AllowedOrigins: readOrigins(v),
		MaxMessageSize: v.GetInt64("max_message_size"),
		SendBufferSize: v.GetInt("send_buffer_size"),
		RateLimit: RateLimitConfig{
			Burst: v.GetInt("rate_limit_burst"),
		},
		PasswordCost: v.GetInt("password_cost"),
	}

	cfg.RateLimit.RefillInterval = parseDuration(v.GetString("rate_limit_refill_interval"))
	cfg.RoomIdleTTL = parseDuration(v.GetString("room_idle_ttl"))
	cfg.ReapInterval = parseDuration(v.GetString("reap_interval"))
	cfg.ShutdownTimeout = parseDuration(v.GetString("shutdown_timeout"))
	return cfg
}

// readOrigins accepts either a comma separated string (environment) or a
// list (config file).
func readOrigins(v *viper.Viper) []string {
	if raw, ok := v.Get("allowed_origins").(string); ok {
		return parseOrigins(raw)
	}
	return v.GetStringSlice("allowed_origins")
}

// Sanitize replaces missing or out of range values with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if c.Env == "" {
		c.Env = def.Env
	}
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost {
		c.PasswordCost = def.PasswordCost
	}
	if c.RoomIdleTTL <= 0 {
		c.RoomIdleTTL = def.RoomIdleTTL
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDuration reads a bare integer as seconds and anything else as a Go
// duration string. Unparseable values yield zero so Sanitize restores the
// default.
func parseDuration(value string) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
