// ABOUTME: Selects the configured generator implementation.
// ABOUTME: Supports the anthropic and echo providers.

package generation

import (
	"fmt"
	"log/slog"

	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderEcho      = "echo"
)

// Settings select and configure a generator.
type Settings struct {
	Provider  string
	Model     string
	APIKey    string
	MaxTokens int64
	BaseURL   string
}

// New creates the generator named by s.Provider. An empty provider selects echo.
func New(s Settings, logger *slog.Logger) (executor.Generator, error) {
	switch s.Provider {
	case "", ProviderEcho:
		return NewEcho(), nil
	case ProviderAnthropic:
		gen, err := NewAnthropic(AnthropicConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
			BaseURL:   s.BaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", s.Provider)
	}
}
