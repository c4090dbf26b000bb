package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	InferenceBaseURL string        `mapstructure:"INFERENCE_BASE_URL"`
	InferenceAPIKey  string        `mapstructure:"INFERENCE_API_KEY"`
	InferenceModel   string        `mapstructure:"INFERENCE_MODEL"`
	InferenceTimeout time.Duration `mapstructure:"INFERENCE_TIMEOUT"`
	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `mapstructure:"RETRY_BASE_DELAY"`

	MatchThreshold float64 `mapstructure:"MATCH_THRESHOLD"`
	MaxCandidates  int     `mapstructure:"MAX_CANDIDATES"`
	TriageWorkers  int     `mapstructure:"TRIAGE_WORKERS"`

	SLACriticalHours int `mapstructure:"SLA_CRITICAL_HOURS"`
	SLADefaultHours  int `mapstructure:"SLA_DEFAULT_HOURS"`

	DedupCron  string `mapstructure:"DEDUP_CRON"`
	SLACron    string `mapstructure:"SLA_CRON"`
	ScoresCron string `mapstructure:"SCORES_CRON"`

	GeocodeBaseURL   string  `mapstructure:"GEOCODE_BASE_URL"`
	GeocodeUserAgent string  `mapstructure:"GEOCODE_USER_AGENT"`
	AreaRadiusKm     float64 `mapstructure:"AREA_RADIUS_KM"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("INFERENCE_TIMEOUT", "15s")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "500ms")
	v.SetDefault("MATCH_THRESHOLD", 0.7)
	v.SetDefault("MAX_CANDIDATES", 10)
	v.SetDefault("TRIAGE_WORKERS", 8)
	v.SetDefault("SLA_CRITICAL_HOURS", 24)
	v.SetDefault("SLA_DEFAULT_HOURS", 72)
	v.SetDefault("DEDUP_CRON", "@every 5m")
	v.SetDefault("SLA_CRON", "@every 15m")
	v.SetDefault("SCORES_CRON", "@every 1h")
	v.SetDefault("GEOCODE_USER_AGENT", "civicpulse-backend")
	v.SetDefault("AREA_RADIUS_KM", 5.0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
