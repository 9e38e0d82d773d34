// Package ollama talks to a local Ollama server for self-hosted extraction.
package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

const (
	DefaultModel         = "llama3.1"
	defaultContextWindow = 32768
)

type Config struct {
	BaseURL string
	Model   string
	// Timeout bounds each generate attempt, not the whole retried call.
	Timeout time.Duration
	// MaxContextWindow caps num_ctx; prompts are sized up to it.
	MaxContextWindow int

	Resilience resilience.Config
}

type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	maxWindow  int
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxContextWindow <= 0 {
		cfg.MaxContextWindow = defaultContextWindow
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxWindow:  cfg.MaxContextWindow,
		httpClient: &http.Client{},
		executor:   resilience.NewExecutor(cfg.Resilience),
	}
}

func (c *Client) Model() string {
	return c.model
}

// Complete asks for JSON-formatted output so the reply parses as one object.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Format: "json",
		Options: generateOptions{
			Temperature: 0,
			NumCtx:      contextWindow(prompt, c.maxWindow),
		},
	}

	var response generateResponse
	err := c.executor.Execute(ctx, "ollama.generate", func(ctx context.Context) error {
		var err error
		response, err = c.generate(ctx, req)
		return err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return "", wrapError("ollama generate", err)
	}
	if response.DoneReason == "length" {
		slog.Warn("ollama_output_truncated", "model", c.model, "num_ctx", req.Options.NumCtx)
	}
	return strings.TrimSpace(response.Response), nil
}
