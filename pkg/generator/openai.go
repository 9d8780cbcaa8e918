package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

// OpenAIGenerator implements Generator against any OpenAI-compatible
// chat-completions endpoint, which covers self-hosted models too.
type OpenAIGenerator struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(config Config, logger zerolog.Logger) *OpenAIGenerator {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: newLimiter(config.RequestsPerMinute),
		logger:  logger.With().Str("component", "generator").Str("provider", "openai").Logger(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate asks the chat model for one SQL statement grounded in the
// retrieved context.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, rctx models.RetrievalContext) (string, error) {
	if g.config.APIKey == "" {
		return "", pkgerrors.ErrProviderUnconfigured
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "rate limiter wait aborted")
	}

	prompt := BuildPrompt(question, rctx)
	g.logger.Debug().Str("question", truncate(question, 80)).Msg("Calling chat completions")

	body, err := json.Marshal(chatRequest{
		Model:       g.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "chat completions request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeGenerationFailed,
			fmt.Sprintf("chat completions returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to parse response")
	}
	if parsed.Error != nil {
		return "", pkgerrors.New(pkgerrors.CodeGenerationFailed,
			fmt.Sprintf("chat completions error (%s): %s", parsed.Error.Type, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", pkgerrors.ErrGenerationEmpty
	}

	sql := stripSQLFences(parsed.Choices[0].Message.Content)
	if sql == "" {
		return "", pkgerrors.ErrGenerationEmpty
	}
	return sql, nil
}
