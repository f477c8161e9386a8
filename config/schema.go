package config

import (
	"time"
)

// Config holds all couchrepl configuration.
type Config struct {
	// Source and Target are the cluster base URLs, credentials may be embedded.
	Source string `mapstructure:"source" validate:"required,clusterurl"`
	Target string `mapstructure:"target" validate:"required,clusterurl"`

	// Databases is the explicit replication list from positional arguments.
	Databases []string `mapstructure:"-"`

	// All replicates every database discovered on the source.
	All bool `mapstructure:"all"`
	// Skip lists databases to exclude. Meaningful only with All.
	Skip []string `mapstructure:"skip"`

	// Concurrency is the maximum number of simultaneous replications.
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`

	// UseTarget drives replication through the target's /_replicate API
	// instead of the source's.
	UseTarget bool `mapstructure:"use-target"`
	// SystemDBs includes databases starting with an underscore.
	SystemDBs bool `mapstructure:"system-dbs"`
	// Permanent sets up continuous replication after each initial one-shot.
	Permanent bool `mapstructure:"permanent"`

	// HTTPTimeout bounds discovery and connection-setup calls. The one-shot
	// replication wait is never subject to it.
	HTTPTimeout time.Duration `mapstructure:"http-timeout" validate:"gt=0"`

	// MetricsPort serves Prometheus metrics while the run is in progress.
	// Zero disables the endpoint.
	MetricsPort int `mapstructure:"metrics-port" validate:"omitempty,gte=1024,lte=65535"`

	// InsecureTLS disables TLS certificate verification.
	InsecureTLS bool `mapstructure:"insecure-tls"`
	// TLSCaFile is a PEM bundle of additional trusted CA certificates.
	TLSCaFile string `mapstructure:"tls-ca"`

	Log LogConfig `mapstructure:",squash"`

	Verbose bool `mapstructure:"verbose"`
	Debug   bool `mapstructure:"debug"`
	Quiet   bool `mapstructure:"quiet"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}
