package validator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentialsConfigured is returned when the pool would start empty.
	ErrNoCredentialsConfigured = errors.New("no credentials configured")
	// ErrInputNotFound is returned when the input file does not exist.
	ErrInputNotFound = errors.New("input file not found")
	// ErrTooManyRedirects is reported by fetchers when a navigation loops.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// ConfigurationError marks a failure that must abort the run before any work
// begins.
type ConfigurationError struct {
	Setting string
	Err     error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Setting, e.Err)
}

// Unwrap exposes the wrapped cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err as a ConfigurationError for setting.
func NewConfigurationError(setting string, err error) error {
	return &ConfigurationError{Setting: setting, Err: err}
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
