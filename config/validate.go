package config

import (
	"github.com/couchrepl/couchrepl/cluster"
	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/validate"
)

// Validate checks the Config for required fields, value ranges, and invalid
// flag combinations. It rejects bad input before any network call is made.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if cfg.Source == cfg.Target {
		return errors.New("source URL and target URL are identical")
	}

	switch {
	case !cfg.All && len(cfg.Databases) == 0:
		return errors.New("specify databases to replicate or use --all")
	case cfg.All && len(cfg.Databases) != 0:
		return errors.New("--all and explicit databases are mutually exclusive")
	case !cfg.All && len(cfg.Skip) != 0:
		return errors.New("--skip is only meaningful with --all")
	}

	return nil
}

// SourceEndpoint parses the source cluster URL.
func SourceEndpoint(cfg *Config) (*cluster.Endpoint, error) {
	ep, err := cluster.ParseEndpoint(cfg.Source)

	return ep, errors.Wrap(err, "source")
}

// TargetEndpoint parses the target cluster URL.
func TargetEndpoint(cfg *Config) (*cluster.Endpoint, error) {
	ep, err := cluster.ParseEndpoint(cfg.Target)

	return ep, errors.Wrap(err, "target")
}
