package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoChoices       = errors.New("no choices returned")
)

// ProviderError is a failed call to a vendor API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("failed to get response from %s: request timed out", e.Provider)
	case e.StatusCode != 0:
		return fmt.Sprintf("failed to get response from %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("failed to get response from %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("failed to get response from %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
func (e *ProviderError) Transient() bool {
	if e.Timeout {
		return true
	}
	if e.StatusCode == 0 {
		// Transport failure without a response.
		return e.Err != nil && !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConfigError is a configuration bug surfaced at first use.
type ConfigError struct {
	Capability string
	Provider   string
	Err        error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Capability != "" && e.Provider != "":
		return fmt.Sprintf("config: capability %q -> provider %q: %v", e.Capability, e.Provider, e.Err)
	case e.Capability != "":
		return fmt.Sprintf("config: capability %q: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("config: provider %q: %v", e.Provider, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// GenerationError means a model answered but the answer could not be used.
type GenerationError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: invalid JSON response: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// transportError wraps a failure that carried no HTTP status.
func transportError(provider string, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, Err: err}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		pe.Timeout = true
	}
	return pe
}
