// File: internal/llmclient/ollama_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
)

// OllamaClient implements schemas.LLMClient against a local Ollama daemon.
// Unreachability is the expected failure mode here (the daemon may simply not
// be running), so every transport failure wraps schemas.ErrLLMUnavailable and
// the caller decides whether to fall back to a cloud tier.
type OllamaClient struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.ModelConfig
}

type ollamaRequestPayload struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponsePayload struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaClient initializes the client. The endpoint is the daemon base URL
// (default http://localhost:11434); the generate path is appended here.
func NewOllamaClient(cfg config.ModelConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model name is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	endpoint = strings.TrimSuffix(endpoint, "/") + "/api/generate"

	timeout := cfg.APITimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &OllamaClient{
		endpoint:   endpoint,
		model:      cfg.Model,
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llm_client.ollama"),
	}, nil
}

// Generate sends a single non-streaming completion request to the daemon.
// No retry loop: a dead local daemon stays dead for the duration of a run,
// and the router handles the fallback decision.
func (c *OllamaClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := ollamaRequestPayload{
		Model:  c.model,
		System: req.SystemPrompt,
		Prompt: req.UserPrompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Options.Temperature,
		},
	}
	if c.config.MaxTokens > 0 {
		payload.Options["num_predict"] = c.config.MaxTokens
	}
	if req.Options.ForceJSONFormat {
		payload.Format = "json"
	}
	for _, img := range req.Images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: ollama request failed: %v", schemas.ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Ollama API returned error status",
			zap.Int("status", resp.StatusCode), zap.String("response", string(respBody)))
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("%w: ollama API error: status %d", schemas.ErrLLMUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var responsePayload ollamaResponsePayload
	if err := json.Unmarshal(respBody, &responsePayload); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}

	c.logger.Info("LLM generation complete (Ollama)",
		zap.Duration("duration", time.Since(startTime)),
		zap.String("model", c.model),
		zap.Int("prompt_tokens", responsePayload.PromptEvalCount),
		zap.Int("completion_tokens", responsePayload.EvalCount),
	)

	return responsePayload.Response, nil
}
