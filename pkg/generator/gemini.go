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

// GeminiGenerator implements Generator using the Google Gemini API.
type GeminiGenerator struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(config Config, logger zerolog.Logger) *GeminiGenerator {
	if config.Model == "" {
		config.Model = "gemini-2.5-flash-lite"
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &GeminiGenerator{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: newLimiter(config.RequestsPerMinute),
		logger:  logger.With().Str("component", "generator").Str("provider", "gemini").Logger(),
	}
}

// geminiRequest is the Gemini API request body.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiResponse is the Gemini API response body.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Generate asks Gemini for one SQL statement grounded in the retrieved
// context.
func (g *GeminiGenerator) Generate(ctx context.Context, question string, rctx models.RetrievalContext) (string, error) {
	if g.config.APIKey == "" {
		return "", pkgerrors.ErrProviderUnconfigured
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "rate limiter wait aborted")
	}

	prompt := BuildPrompt(question, rctx)
	g.logger.Debug().Str("question", truncate(question, 80)).Msg("Calling Gemini")

	text, err := g.call(ctx, prompt)
	if err != nil {
		return "", err
	}

	sql := stripSQLFences(text)
	if sql == "" {
		return "", pkgerrors.ErrGenerationEmpty
	}
	return sql, nil
}

func (g *GeminiGenerator) call(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s",
		g.config.Endpoint, g.config.Model, g.config.APIKey)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "gemini request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to read gemini response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeGenerationFailed,
			fmt.Sprintf("gemini returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CodeGenerationFailed, "failed to parse gemini response")
	}
	if parsed.Error != nil {
		return "", pkgerrors.New(pkgerrors.CodeGenerationFailed,
			fmt.Sprintf("gemini error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", pkgerrors.ErrGenerationEmpty
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
