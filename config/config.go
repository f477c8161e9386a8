// Package config provides configuration management for couchrepl using Viper.
package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchrepl/couchrepl/errors"
)

const (
	// DefaultConcurrency is the worker pool size unless the operator raises it.
	DefaultConcurrency = 5

	// DefaultHTTPTimeout bounds discovery and connection-setup calls.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxTransientRetries is how many times a job retries a transient error
	// before recording the failure.
	MaxTransientRetries = 2

	// RetryInitialInterval and RetryMaxInterval shape the retry backoff.
	RetryInitialInterval = time.Second
	RetryMaxInterval     = 30 * time.Second
)

// Load initializes Viper from the command flags and environment and returns
// the decoded Config. Positional arguments become the explicit database list.
func Load(cmd *cobra.Command, args []string) (*Config, error) {
	viper.SetEnvPrefix("COUCHREPL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.Databases = args

	return &cfg, nil
}

func bindEnvVars() {
	_ = viper.BindEnv("source", "COUCHREPL_SOURCE_URL")
	_ = viper.BindEnv("target", "COUCHREPL_TARGET_URL")

	_ = viper.BindEnv("concurrency", "COUCHREPL_CONCURRENCY")
	_ = viper.BindEnv("skip", "COUCHREPL_SKIP")
	_ = viper.BindEnv("http-timeout", "COUCHREPL_HTTP_TIMEOUT")
	_ = viper.BindEnv("metrics-port", "COUCHREPL_METRICS_PORT")
	_ = viper.BindEnv("insecure-tls", "COUCHREPL_INSECURE_TLS")
	_ = viper.BindEnv("tls-ca", "COUCHREPL_TLS_CA")

	_ = viper.BindEnv("log-level", "COUCHREPL_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "COUCHREPL_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "COUCHREPL_LOG_NO_COLOR")
}
