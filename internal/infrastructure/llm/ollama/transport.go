package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

const (
	generatePath     = "/api/generate"
	maxResponseBytes = 4 << 20
	minContextWindow = 4096
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

// attemptTimeout reports one generate call that outlived its own deadline
// while the caller's context was still live. It is a net.Error so the
// resilience policy retries it.
type attemptTimeout struct {
	after time.Duration
}

func (e *attemptTimeout) Error() string {
	return fmt.Sprintf("ollama generate: no reply within %s", e.after)
}
func (e *attemptTimeout) Timeout() bool   { return true }
func (e *attemptTimeout) Temporary() bool { return true }

// contextWindow sizes num_ctx for a prompt. Ollama drops the head of a prompt
// longer than its window, which would cut off the start of the notice.
func contextWindow(prompt string, ceiling int) int {
	needed := utf8.RuneCountInString(prompt)/3 + 1024
	n := minContextWindow
	for n < needed && n < ceiling {
		n *= 2
	}
	return min(n, ceiling)
}

// generate runs one non-streaming call bounded by the per-attempt timeout,
// so every retry gets the full budget.
func (c *Client) generate(ctx context.Context, req generateRequest) (generateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("marshal generate request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return generateResponse{}, &attemptTimeout{after: c.timeout}
		}
		return generateResponse{}, fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return generateResponse{}, resilience.NewHTTPStatusError("ollama", "generate", resp)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return generateResponse{}, &attemptTimeout{after: c.timeout}
		}
		return generateResponse{}, fmt.Errorf("decode generate response: %w", err)
	}
	if out.Error != "" {
		return out, fmt.Errorf("ollama generate: %s", out.Error)
	}
	return out, nil
}
