package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenRouterChat_ReturnsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openRouterChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "meta/llama" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "meta/llama", "", "")
	reply, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestOpenRouterChat_StatusBecomesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit exceeded","code":429}}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "meta/llama", "", "")
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T %v", err, err)
	}
	if pe.StatusCode != 429 || pe.Code != "429" || pe.Message != "Rate limit exceeded" {
		t.Fatalf("unexpected provider error: %+v", pe)
	}
	if !IsRetryable(*pe) {
		t.Fatalf("expected retryable")
	}
}

func TestOllamaChat_StatusBecomesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"server busy"}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3:latest")
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	pe := AsProviderError(err)
	if pe.StatusCode != 503 || pe.Message != "server busy" {
		t.Fatalf("unexpected provider error: %+v", pe)
	}
}
