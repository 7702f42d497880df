package bootstrap

import (
	"fmt"

	"github.com/yndnr/snapfn-go/internal/infra/confloader"
	"github.com/yndnr/snapfn-go/internal/server/config"
)

// LoadConfig loads defaults, the optional YAML file, the environment and
// overrides, in that order, and verifies the result. The loader is returned
// so the caller can reload on file changes.
func LoadConfig(path string, overrides map[string]any) (*config.Config, *confloader.Loader, error) {
	opts := []confloader.Option{}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if len(overrides) > 0 {
		opts = append(opts, confloader.WithOverrides(overrides))
	}
	loader := confloader.NewLoader(opts...)

	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

// Reload re-reads every source into a fresh default configuration.
func Reload(loader *confloader.Loader) (*config.Config, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
