package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/this-is-us/civicd/config"
	openai_provider "github.com/this-is-us/civicd/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the interface all LLM implementations satisfy. Complete runs
// one system/user exchange against the named model and returns the raw
// assistant text; callers extract structured payloads themselves. An empty
// model selects the provider's configured default.
type Provider interface {
	Complete(ctx context.Context, system, user, model string) (string, error)
}

// APIError is returned when the upstream API answers with a non-2xx status.
// Callers distinguish it from transport and parse failures when recording
// enrichment outcomes.
type APIError = openai_provider.APIError

// IsAPIError reports whether err wraps an upstream API status failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// NewProvider creates an LLM client from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("llm api key not set")
		}
		return openai_provider.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
