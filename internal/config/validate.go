package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrInvalidWorkers indicates a worker pool smaller than one
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidDelay indicates a negative debounce delay or TTL
	ErrInvalidDelay = errors.New("invalid delay")

	// ErrInvalidPattern indicates a glob pattern that does not compile
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrEmptySources indicates there is no pattern selecting translation units
	ErrEmptySources = errors.New("empty source patterns")

	// ErrInvalidDefine indicates a define that is not a valid macro name
	ErrInvalidDefine = errors.New("invalid define")

	// ErrInvalidCacheSettings indicates invalid cache configuration
	ErrInvalidCacheSettings = errors.New("invalid cache settings")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidLogFormat indicates an unknown log format
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validatePaths(&cfg.Paths)...)
	errs = append(errs, validateCompile(&cfg.Compile)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	if cfg.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("%w: watch.debounce cannot be negative, got %s", ErrInvalidDelay, cfg.Watch.Debounce))
	}
	errs = append(errs, validateLog(&cfg.Log)...)
	return joinErrors(errs)
}

func validateScheduler(cfg *SchedulerConfig) []error {
	var errs []error
	if cfg.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("%w: max_workers must be at least 1, got %d", ErrInvalidWorkers, cfg.MaxWorkers))
	}
	if cfg.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: drain_delay cannot be negative, got %s", ErrInvalidDelay, cfg.DrainDelay))
	}
	if cfg.UnloadDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: unload_delay cannot be negative, got %s", ErrInvalidDelay, cfg.UnloadDelay))
	}
	return errs
}

func validatePaths(cfg *PathsConfig) []error {
	var errs []error
	if len(cfg.Sources) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one pattern required", ErrEmptySources))
	}
	for _, p := range append(append([]string{}, cfg.Sources...), cfg.Ignore...) {
		if _, err := glob.Compile(p, '/'); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err))
		}
	}
	return errs
}

func validateCompile(cfg *CompileConfig) []error {
	var errs []error
	for _, d := range cfg.Defines {
		name, _, _ := strings.Cut(d, "=")
		if !isIdentifier(strings.TrimSpace(name)) {
			errs = append(errs, fmt.Errorf("%w: %q is not a macro name", ErrInvalidDefine, d))
		}
	}
	return errs
}

func validateCache(cfg *CacheConfig) []error {
	var errs []error
	if cfg.SourceMaxMB <= 0 {
		errs = append(errs, fmt.Errorf("%w: source_max_mb must be positive, got %d", ErrInvalidCacheSettings, cfg.SourceMaxMB))
	}
	if cfg.SourceTTL < 0 {
		errs = append(errs, fmt.Errorf("%w: source_ttl cannot be negative, got %s", ErrInvalidDelay, cfg.SourceTTL))
	}
	return errs
}

func validateLog(cfg *LogConfig) []error {
	var errs []error
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: must be debug, info, warn or error, got '%s'", ErrInvalidLogLevel, cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: must be 'text' or 'json', got '%s'", ErrInvalidLogFormat, cfg.Format))
	}
	return errs
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// validationErrors keeps every failure reachable through errors.Is while
// rendering them as one list.
type validationErrors []error

func (e validationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (e validationErrors) Unwrap() []error { return e }

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return validationErrors(errs)
}
