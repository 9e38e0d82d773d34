// Package anthropic adapts the Anthropic Messages API to the pipeline's LLM
// port.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096

	systemPrompt = "You are a regulatory analyst. Reply with a single JSON object and nothing else."
)

type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// MaxRetries is handed to the SDK, which retries 429 and 5xx itself.
	MaxRetries int
	BaseURL    string
}

type Client struct {
	client    sdk.Client
	model     string
	maxTokens int
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrMissingConfig, "anthropic client", errors.New("api key is empty"))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", mapError(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", domain.WrapError(domain.ErrInvalidAnalysis, "anthropic completion", errors.New("response has no text content"))
	}
	return out.String(), nil
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrMissingConfig, "anthropic completion", err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return domain.WrapError(domain.ErrTemporary, "anthropic completion", err)
		case apiErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrServerError, "anthropic completion", err)
		default:
			return domain.WrapError(domain.ErrInvalidInput, "anthropic completion", err)
		}
	}
	return domain.WrapError(domain.ErrTemporary, "anthropic completion", fmt.Errorf("request failed: %w", err))
}
