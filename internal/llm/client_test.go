package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/v2"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Fatalf("expected error when API key is missing")
	}
	if _, err := NewClient(ClientOptions{APIKey: "   "}); err == nil {
		t.Fatalf("expected error when API key is blank")
	}
}

func TestNewClientDefaultsBaseURL(t *testing.T) {
	t.Parallel()

	client, err := NewClient(ClientOptions{APIKey: "key", BaseURL: "  "})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if client.BaseURL() != "https://api.openai.com/v1" {
		t.Fatalf("expected default base url, got %q", client.BaseURL())
	}

	custom, err := NewClient(ClientOptions{APIKey: "key", BaseURL: " " + fakeBaseURL + " "})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if custom.BaseURL() != fakeBaseURL {
		t.Fatalf("expected trimmed custom base url, got %q", custom.BaseURL())
	}
}

func TestNewClientDoesNotRetryFailedRequests(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{APIKey: "key", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.chat.New(context.Background(), openai.ChatCompletionNewParams{
		Model:    "test-model",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hello")},
	})
	if err == nil {
		t.Fatalf("expected error from failing endpoint")
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("expected exactly one request, got %d", got)
	}
}
