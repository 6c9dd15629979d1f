// Package config provides configuration loading for tuindex.
//
// Configuration is read from .tuindex/config.yml in the project root, or
// from an explicit file, and can be overridden by environment variables.
//
// Configuration Hierarchy (highest to lowest priority):
//  1. Environment variables (TUINDEX_*)
//  2. Config file (.tuindex/config.yml)
//  3. Built-in defaults
//
// Environment Variable Convention:
//   - Prefix: TUINDEX_
//   - Nested fields: Use underscores (TUINDEX_SCHEDULER_MAX_WORKERS)
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// Config represents the complete tuindex configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Compile   CompileConfig   `yaml:"compile" mapstructure:"compile"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SchedulerConfig sizes the worker pool and the debounce delays.
type SchedulerConfig struct {
	MaxWorkers  int           `yaml:"max_workers" mapstructure:"max_workers"`   // worker pool size
	DrainDelay  time.Duration `yaml:"drain_delay" mapstructure:"drain_delay"`   // debounce of the parse queue drain
	UnloadDelay time.Duration `yaml:"unload_delay" mapstructure:"unload_delay"` // debounce of idle unit suspension
}

// PathsConfig defines which files are translation units.
type PathsConfig struct {
	Sources []string `yaml:"sources" mapstructure:"sources"` // glob patterns for main files
	Ignore  []string `yaml:"ignore" mapstructure:"ignore"`   // glob patterns to ignore
}

// CompileConfig holds the compile options shared by every unit.
type CompileConfig struct {
	IncludeDirs []string `yaml:"include_dirs" mapstructure:"include_dirs"`
	Defines     []string `yaml:"defines" mapstructure:"defines"` // NAME or NAME=VALUE, like -D
}

// CacheConfig bounds the in-memory source cache.
type CacheConfig struct {
	SourceMaxMB int           `yaml:"source_max_mb" mapstructure:"source_max_mb"`
	SourceTTL   time.Duration `yaml:"source_ttl" mapstructure:"source_ttl"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn or error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:  runtime.NumCPU(),
			DrainDelay:  10 * time.Millisecond,
			UnloadDelay: 500 * time.Millisecond,
		},
		Paths: PathsConfig{
			Sources: []string{
				"**/*.c",
				"**/*.cc",
				"**/*.cpp",
				"**/*.cxx",
			},
			Ignore: []string{
				".git/**",
				"build/**",
				"vendor/**",
				"third_party/**",
			},
		},
		Compile: CompileConfig{
			IncludeDirs: []string{},
			Defines:     []string{},
		},
		Cache: CacheConfig{
			SourceMaxMB: 64,
			SourceTTL:   10 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// CompileOptions converts the compile section into front-end options.
// Relative include directories are resolved against rootDir.
func (c *Config) CompileOptions(rootDir string) *frontend.CompileOptions {
	dirs := make([]string, 0, len(c.Compile.IncludeDirs))
	for _, d := range c.Compile.IncludeDirs {
		dirs = append(dirs, resolvePath(rootDir, d))
	}
	return frontend.NewCompileOptions(dirs, c.Compile.DefineMap())
}

// DefineMap parses the -D style define list.
func (c CompileConfig) DefineMap() map[string]string {
	defs := make(map[string]string, len(c.Defines))
	for _, d := range c.Defines {
		name, value, _ := strings.Cut(d, "=")
		defs[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return defs
}

// SourceExtensions extracts the file extensions from the source patterns.
// Returns extensions with leading dot (e.g., []string{".c", ".cpp"}).
func (c *Config) SourceExtensions() []string {
	seen := make(map[string]bool)
	var exts []string
	for _, pattern := range c.Paths.Sources {
		if ext := extractExtension(pattern); ext != "" && !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	return exts
}

// extractExtension extracts the file extension from a glob pattern.
// Returns empty string if pattern doesn't match a simple extension pattern.
// Examples: "**/*.c" -> ".c", "*.cc" -> ".cc"
func extractExtension(pattern string) string {
	for i := len(pattern) - 1; i >= 1; i-- {
		if pattern[i] == '.' && pattern[i-1] == '*' {
			return pattern[i:]
		}
	}
	return ""
}
