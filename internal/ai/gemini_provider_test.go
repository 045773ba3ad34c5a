package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiComplete(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"ANSWER_1: "},{"text":"hi"}]}}]}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), "test-key", "gemini-2.5-flash", srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	got, err := p.Complete(context.Background(), "draft answers")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ANSWER_1: hi" {
		t.Errorf("got %q", got)
	}
	if !strings.HasSuffix(gotPath, "gemini-2.5-flash:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, "draft answers") {
		t.Errorf("body missing prompt: %s", gotBody)
	}
}

func TestGeminiComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), "test-key", "gemini-2.5-flash", srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}
	if _, err := p.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 5xx")
	}
}
