// Package generator turns a natural-language question plus retrieved
// context into candidate SQL by calling an LLM provider. Generated SQL
// is untrusted output; validation happens downstream.
package generator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

// Generator produces one candidate SQL statement for a question.
type Generator interface {
	Generate(ctx context.Context, question string, rctx models.RetrievalContext) (string, error)
}

// Config selects and configures the LLM provider.
type Config struct {
	// Provider is "gemini" or "openai".
	Provider string
	Model    string
	APIKey   string
	// Endpoint overrides the provider's default API base URL.
	Endpoint       string
	RequestTimeout time.Duration
	// RequestsPerMinute throttles outbound calls; zero disables the
	// limiter.
	RequestsPerMinute int
}

// New creates the configured provider client.
func New(config Config, logger zerolog.Logger) (Generator, error) {
	switch strings.ToLower(config.Provider) {
	case "gemini":
		return NewGemini(config, logger), nil
	case "openai":
		return NewOpenAI(config, logger), nil
	case "":
		return nil, pkgerrors.ErrProviderUnconfigured
	default:
		return nil, pkgerrors.New(pkgerrors.CodeGenerationFailed,
			"unknown llm provider: "+config.Provider)
	}
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}
