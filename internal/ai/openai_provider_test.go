package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amishk599/hunter/internal/model"
)

func makeTestServer(t *testing.T, statusCode int, body any) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, srv.Client()
}

func TestComplete_Success(t *testing.T) {
	resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "ANSWER_1: hello"}}}}
	srv, client := makeTestServer(t, http.StatusOK, resp)

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	got, err := provider.Complete(context.Background(), "draft answers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ANSWER_1: hello" {
		t.Errorf("got %q, want the first choice", got)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusInternalServerError, map[string]string{"error": "server error"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	_, err := provider.Complete(context.Background(), "draft answers")
	if err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestComplete_RateLimited(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	_, err := provider.Complete(context.Background(), "draft answers")
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want HTTPError 429", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	resp := chatResponse{Choices: nil}
	srv, client := makeTestServer(t, http.StatusOK, resp)

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	_, err := provider.Complete(context.Background(), "draft answers")
	if err == nil {
		t.Fatal("expected error when LLM returns no choices")
	}
}

func TestComplete_SetsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "my-secret-key", "test-model", srv.Client())
	_, _ = provider.Complete(context.Background(), "hello")

	if gotAuth != "Bearer my-secret-key" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer my-secret-key")
	}
}

func TestComplete_SendsPromptAsUserTurn(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: "{}"}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "key", "gpt-4o-mini", srv.Client())
	_, _ = provider.Complete(context.Background(), "draft answers")

	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Role != "user" || gotReq.Messages[1].Content != "draft answers" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}
