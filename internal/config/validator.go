package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "runner.drain_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateRunner()...)
	errors = append(errors, c.validateSnapshot()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	fields := []struct {
		name  string
		value string
	}{
		{"paths.snapshot_dir", c.Paths.SnapshotDir},
		{"paths.status_dir", c.Paths.StatusDir},
		{"paths.history_file", c.Paths.HistoryFile},
		{"paths.log_dir", c.Paths.LogDir},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "cannot be empty",
			})
			continue
		}
		if strings.ContainsRune(f.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "contains invalid null character",
			})
		}
	}

	return errors
}

// validateRunner validates the RunnerConfig
func (c *Config) validateRunner() []ValidationError {
	var errors []ValidationError

	nonNegative := []struct {
		name  string
		value int
	}{
		{"runner.poll_interval_ms", c.Runner.PollIntervalMs},
		{"runner.drain_wait_ms", c.Runner.DrainWaitMs},
		{"runner.terminate_timeout_ms", c.Runner.TerminateTimeoutMs},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "must be non-negative",
			})
		}
	}

	if c.Runner.DrainAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "runner.drain_attempts",
			Value:   c.Runner.DrainAttempts,
			Message: "must be at least 1",
		})
	}

	if c.Runner.Cols < 0 || c.Runner.Cols > 1000 {
		errors = append(errors, ValidationError{
			Field:   "runner.cols",
			Value:   c.Runner.Cols,
			Message: "must be between 0 and 1000",
		})
	}
	if c.Runner.Rows < 0 || c.Runner.Rows > 1000 {
		errors = append(errors, ValidationError{
			Field:   "runner.rows",
			Value:   c.Runner.Rows,
			Message: "must be between 0 and 1000",
		})
	}

	// Sorted so the error order is stable.
	exts := make([]string, 0, len(c.Runner.Interpreters))
	for ext := range c.Runner.Interpreters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if ext == "" || strings.ContainsAny(ext, "./\\") {
			errors = append(errors, ValidationError{
				Field:   "runner.interpreters",
				Value:   ext,
				Message: "must be a bare extension such as 'py'",
			})
		}
	}

	return errors
}

// validateSnapshot validates the SnapshotConfig
func (c *Config) validateSnapshot() []ValidationError {
	var errors []ValidationError

	if c.Snapshot.CompressionLevel < 0 || c.Snapshot.CompressionLevel > 9 {
		errors = append(errors, ValidationError{
			Field:   "snapshot.compression_level",
			Value:   c.Snapshot.CompressionLevel,
			Message: "must be between 0 and 9",
		})
	}

	return errors
}

// validateSync validates the SyncConfig
func (c *Config) validateSync() []ValidationError {
	var errors []ValidationError

	if c.Sync.NetworkDir != "" && c.Sync.LocalDir == "" {
		errors = append(errors, ValidationError{
			Field:   "sync.local_dir",
			Value:   c.Sync.LocalDir,
			Message: "required when network_dir is set",
		})
	}

	if c.Sync.MtimeToleranceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.mtime_tolerance_ms",
			Value:   c.Sync.MtimeToleranceMs,
			Message: "must be non-negative",
		})
	}
	if c.Sync.WatchDebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.watch_debounce_ms",
			Value:   c.Sync.WatchDebounceMs,
			Message: "must be non-negative",
		})
	}
	if c.Sync.LogLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.log_limit",
			Value:   c.Sync.LogLimit,
			Message: "must be at least 1",
		})
	}

	for i, pattern := range c.Sync.ExtraIgnore {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("sync.extra_ignore[%d]", i),
				Value:   pattern,
				Message: "pattern cannot be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
