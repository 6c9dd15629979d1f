package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*loader)

// WithConfigFile reads path instead of searching .tuindex/ for config.yml.
// A missing explicit file is an error.
func WithConfigFile(path string) LoaderOption {
	return func(l *loader) {
		l.configFile = path
	}
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string, opts ...LoaderOption) Loader {
	l := &loader{rootDir: rootDir}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (TUINDEX_*)
// 2. Config file (.tuindex/config.yml or .tuindex/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(l.rootDir, ".tuindex"))
	}

	// Replace . with _ in env var names (e.g., TUINDEX_LOG_LEVEL)
	v.SetEnvPrefix("TUINDEX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"scheduler.max_workers",
		"scheduler.drain_delay",
		"scheduler.unload_delay",
		"compile.include_dirs",
		"compile.defines",
		"cache.source_max_mb",
		"cache.source_ttl",
		"watch.debounce",
		"log.level",
		"log.format",
	} {
		_ = v.BindEnv(key)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("scheduler.max_workers", defaults.Scheduler.MaxWorkers)
	v.SetDefault("scheduler.drain_delay", defaults.Scheduler.DrainDelay)
	v.SetDefault("scheduler.unload_delay", defaults.Scheduler.UnloadDelay)

	v.SetDefault("paths.sources", defaults.Paths.Sources)
	v.SetDefault("paths.ignore", defaults.Paths.Ignore)

	v.SetDefault("compile.include_dirs", defaults.Compile.IncludeDirs)
	v.SetDefault("compile.defines", defaults.Compile.Defines)

	v.SetDefault("cache.source_max_mb", defaults.Cache.SourceMaxMB)
	v.SetDefault("cache.source_ttl", defaults.Cache.SourceTTL)

	v.SetDefault("watch.debounce", defaults.Watch.Debounce)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}

// LoadConfig is a convenience function that creates a loader and loads config.
// It uses the current working directory as the root.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

func resolvePath(rootDir, p string) string {
	if filepath.IsAbs(p) || rootDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(rootDir, p)
}
