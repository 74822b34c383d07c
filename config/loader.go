package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

const (
	// ConfigFile is looked up in the working directory when no path is given
	ConfigFile = "storefront.yaml"

	EnvDSN       = "STOREFRONT_DSN"
	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. The file at path, or storefront.yaml in the working directory
// 3. STOREFRONT_DSN and STOREFRONT_JWT_SECRET
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = ConfigFile
	}
	fileConfig, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("Loaded config file", slog.String("path", path))
		config.Merge(fileConfig)
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, err
	default:
		l.logger.Debug("No config file found", slog.String("path", path))
	}

	if dsn := l.getenv(EnvDSN); dsn != "" {
		config.Store.DSN = dsn
	}
	if secret := l.getenv(EnvJWTSecret); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
