package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the submission core service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	EventChannelBase     string
	OriginalityBaseURL   string
	OriginalityAPIKey    string
	OpenAIAPIKey         string
	QualityModel         string
	FlagThreshold        float64
	CheckTimeout         time.Duration
	CheckRetryBase       time.Duration
	CheckRetryCap        time.Duration
	CheckMaxAttempts     int
	EventStreamKeepAlive time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LMS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "SmartLMS Submission Core")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel_base", "smartlms:submissions")
	v.SetDefault("quality.model", "gpt-4o-mini")
	v.SetDefault("checks.flag_threshold", 20.0)
	v.SetDefault("checks.timeout", "60s")
	v.SetDefault("checks.retry_base", "2s")
	v.SetDefault("checks.retry_cap", "30s")
	v.SetDefault("checks.max_attempts", 3)
	v.SetDefault("events.keepalive", "30s")

	checkTimeout, err := time.ParseDuration(v.GetString("checks.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid check timeout: %w", err)
	}

	retryBase, err := time.ParseDuration(v.GetString("checks.retry_base"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid check retry base: %w", err)
	}

	retryCap, err := time.ParseDuration(v.GetString("checks.retry_cap"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid check retry cap: %w", err)
	}

	keepAlive, err := time.ParseDuration(v.GetString("events.keepalive"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid event stream keepalive: %w", err)
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		EventChannelBase:     v.GetString("events.channel_base"),
		OriginalityBaseURL:   v.GetString("originality.base_url"),
		OriginalityAPIKey:    v.GetString("originality.api_key"),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		QualityModel:         v.GetString("quality.model"),
		FlagThreshold:        v.GetFloat64("checks.flag_threshold"),
		CheckTimeout:         checkTimeout,
		CheckRetryBase:       retryBase,
		CheckRetryCap:        retryCap,
		CheckMaxAttempts:     v.GetInt("checks.max_attempts"),
		EventStreamKeepAlive: keepAlive,
	}

	if cfg.FlagThreshold < 0 || cfg.FlagThreshold > 100 {
		return Config{}, fmt.Errorf("flag threshold must be within 0-100, got %v", cfg.FlagThreshold)
	}

	if cfg.CheckMaxAttempts <= 0 {
		cfg.CheckMaxAttempts = 3
	}

	return cfg, nil
}
