package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"server/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func completionBody(content string, tokens int) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": tokens},
	})
	return string(b)
}

func TestCompleteReturnsJSONAndTokens(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"answer": 42}`, 123)))
	})

	resp, err := client.Complete(context.Background(), Request{
		Model:  "gpt-4o-mini",
		System: "system prompt",
		User:   "user prompt",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if string(resp.JSON) != `{"answer": 42}` {
		t.Fatalf("json = %s", resp.JSON)
	}
	if resp.TokensUsed != 123 {
		t.Fatalf("tokens = %d, want 123", resp.TokensUsed)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %+v, want json_object", gotReq.ResponseFormat)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
}

func TestCompleteStripsCodeFence(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("```json\n{\"ok\": true}\n```", 10)))
	})

	resp, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if string(resp.JSON) != `{"ok": true}` {
		t.Fatalf("json = %s, want fence removed", resp.JSON)
	}
}

func TestCompleteNon2xxIsProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want provider error", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", pe.StatusCode)
	}
}

func TestCompleteMalformedContentIsProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("this is not json", 5)))
	})

	_, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	if !domain.IsProviderError(err) {
		t.Fatalf("err = %v, want provider error for malformed body", err)
	}
}

func TestCompleteNoChoicesIsProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 0}}`))
	})

	_, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	if !domain.IsProviderError(err) {
		t.Fatalf("err = %v, want provider error for empty choices", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"plain": true}`, `{"plain": true}`},
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
