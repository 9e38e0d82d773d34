package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "{\"entity_name\":"},
				{"type": "text", "text": "\"Acme\"}"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	out, err := client.Complete(context.Background(), "Analyse this notice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"entity_name":"Acme"}` {
		t.Fatalf("unexpected output %q", out)
	}
	if client.Model() != "claude-test" {
		t.Fatalf("unexpected model %q", client.Model())
	}
	if gotBody["model"] != "claude-test" {
		t.Fatalf("unexpected request model %v", gotBody["model"])
	}
	if !strings.Contains(mustJSON(t, gotBody["messages"]), "Analyse this notice") {
		t.Fatalf("prompt not sent: %v", gotBody["messages"])
	}
}

func TestCompleteMapsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Complete(context.Background(), "x"); !domain.IsKind(err, domain.ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); !domain.IsKind(err, domain.ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}
