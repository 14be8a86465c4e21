// Package config loads the Review API and bot worker's configuration from
// the environment via spf13/viper. Grounded on the teacher's go.mod,
// which already depended on viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OCRTuning holds the optional OCR engine overrides.
type OCRTuning struct {
	Mode                  string
	BaseConcurrency       int64
	ExpressConcurrency    int64
	StandardConcurrency   int64
	BackgroundConcurrency int64
	BorrowingEnabled      bool
	BorrowThreshold       float64
	AdaptationEnabled     bool
	AdaptationWindow      time.Duration
	BulkThreshold         int
	PerOpMemoryLimitMB    int
	PerOpCPULimit         float64
	MetricsInterval       time.Duration
}

// Config is the process-wide configuration, sourced from WARBOT_*
// environment variables.
type Config struct {
	DatabaseDSN       string
	ChatPlatformToken string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	JWTSigningSecret  string
	APIKey            string
	CORSOrigins       []string
	PublicWebURL      string
	ConnPoolMin       int
	ConnPoolMax       int

	OCR OCRTuning
}

// Load reads configuration from the environment, applying sane defaults
// where a value is unset.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WARBOT")
	v.AutomaticEnv()

	v.SetDefault("CONN_POOL_MIN", 1)
	v.SetDefault("CONN_POOL_MAX", 10)
	v.SetDefault("OCR_MODE", "balanced")
	v.SetDefault("OCR_EXPRESS_CONCURRENCY", 4)
	v.SetDefault("OCR_STANDARD_CONCURRENCY", 2)
	v.SetDefault("OCR_BACKGROUND_CONCURRENCY", 1)
	v.SetDefault("OCR_BORROWING_ENABLED", true)
	v.SetDefault("OCR_BORROW_THRESHOLD", 0.8)
	v.SetDefault("OCR_ADAPTATION_ENABLED", true)
	v.SetDefault("OCR_ADAPTATION_WINDOW", "60m")
	v.SetDefault("OCR_BULK_THRESHOLD", 10)
	v.SetDefault("OCR_METRICS_INTERVAL", "1m")

	cfg := Config{
		DatabaseDSN:       v.GetString("DATABASE_DSN"),
		ChatPlatformToken: v.GetString("CHAT_PLATFORM_TOKEN"),
		OAuthClientID:     v.GetString("OAUTH_CLIENT_ID"),
		OAuthClientSecret: v.GetString("OAUTH_CLIENT_SECRET"),
		OAuthRedirectURI:  v.GetString("OAUTH_REDIRECT_URI"),
		JWTSigningSecret:  v.GetString("JWT_SIGNING_SECRET"),
		APIKey:            v.GetString("API_KEY"),
		PublicWebURL:      v.GetString("PUBLIC_WEB_URL"),
		ConnPoolMin:       v.GetInt("CONN_POOL_MIN"),
		ConnPoolMax:       v.GetInt("CONN_POOL_MAX"),
		OCR: OCRTuning{
			Mode:                  v.GetString("OCR_MODE"),
			BaseConcurrency:       v.GetInt64("OCR_BASE_CONCURRENCY"),
			ExpressConcurrency:    v.GetInt64("OCR_EXPRESS_CONCURRENCY"),
			StandardConcurrency:   v.GetInt64("OCR_STANDARD_CONCURRENCY"),
			BackgroundConcurrency: v.GetInt64("OCR_BACKGROUND_CONCURRENCY"),
			BorrowingEnabled:      v.GetBool("OCR_BORROWING_ENABLED"),
			BorrowThreshold:       v.GetFloat64("OCR_BORROW_THRESHOLD"),
			AdaptationEnabled:     v.GetBool("OCR_ADAPTATION_ENABLED"),
			AdaptationWindow:      v.GetDuration("OCR_ADAPTATION_WINDOW"),
			BulkThreshold:         v.GetInt("OCR_BULK_THRESHOLD"),
			PerOpMemoryLimitMB:    v.GetInt("OCR_PER_OP_MEMORY_LIMIT_MB"),
			PerOpCPULimit:         v.GetFloat64("OCR_PER_OP_CPU_LIMIT"),
			MetricsInterval:       v.GetDuration("OCR_METRICS_INTERVAL"),
		},
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSOrigins = append(cfg.CORSOrigins, strings.TrimSpace(o))
		}
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("config: WARBOT_DATABASE_DSN is required")
	}
	if cfg.JWTSigningSecret == "" {
		return Config{}, fmt.Errorf("config: WARBOT_JWT_SIGNING_SECRET is required")
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("config: WARBOT_API_KEY is required")
	}

	return cfg, nil
}
