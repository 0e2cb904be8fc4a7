package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateAPI(&c.API)...)
	errs = append(errs, validateConnectivity(&c.Connectivity)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateDiagnostics(&c.Diagnostics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAPI(a *APIConfig) ValidationErrors {
	var errs ValidationErrors

	if a.BaseURL == "" {
		if _, ok := Environments[a.Environment]; !ok {
			errs = append(errs, ValidationError{
				Field:   "api.environment",
				Message: fmt.Sprintf("unknown environment %q (valid: production, local, lan)", a.Environment),
			})
		}
	} else if !isValidURL(a.BaseURL) {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL: %s", a.BaseURL),
		})
	}

	if a.TimeoutMs < 100 || a.TimeoutMs > 300000 {
		errs = append(errs, *RangeError("api.timeout_ms", 100, 300000))
	}
	if a.MaxLoggedBodyBytes < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.max_logged_body_bytes",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateConnectivity(c *ConnectivityConfig) ValidationErrors {
	var errs ValidationErrors

	if c.IntervalSec < 1 || c.IntervalSec > 3600 {
		errs = append(errs, *RangeError("connectivity.interval_sec", 1, 3600))
	}
	if !strings.HasPrefix(c.ProbePath, "/") {
		errs = append(errs, ValidationError{
			Field:   "connectivity.probe_path",
			Message: "must start with /",
		})
	}
	if c.TimeoutMs < 100 || c.TimeoutMs > 300000 {
		errs = append(errs, *RangeError("connectivity.timeout_ms", 100, 300000))
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.TokenDBPath == "" {
		errs = append(errs, *RequiredFieldError("storage.token_db_path"))
	}
	if s.KeyPath == "" {
		errs = append(errs, *RequiredFieldError("storage.key_path"))
	}
	if s.TokenDBPath != "" && s.TokenDBPath == s.KeyPath {
		errs = append(errs, ValidationError{
			Field:   "storage.key_path",
			Message: "must differ from token_db_path",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "cannot be negative",
		})
	}
	return errs
}

func validateDiagnostics(d *DiagnosticsConfig) ValidationErrors {
	var errs ValidationErrors

	if d.MaxLogs < 1 || d.MaxLogs > 100000 {
		errs = append(errs, *RangeError("diagnostics.max_logs", 1, 100000))
	}
	if d.DebugAddr != "" {
		if _, _, err := net.SplitHostPort(d.DebugAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "diagnostics.debug_addr",
				Message: fmt.Sprintf("invalid listen address: %v", err),
			})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes to a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RequiredFieldError creates an error for a missing required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates an error for a value outside the allowed range.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
