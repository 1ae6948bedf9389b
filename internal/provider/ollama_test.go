package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"benchchat/internal/domain"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaGenerateReply(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "There are 12 open orders."},
			Done:    true,
		})
	})

	p := NewOllamaProvider(srv.URL, "llama3.2")
	history := []*domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "boom", IsError: true},
	}
	reply, err := p.GenerateReply(context.Background(), history, "how many open orders?")
	if err != nil {
		t.Fatalf("GenerateReply failed: %v", err)
	}
	if reply != "There are 12 open orders." {
		t.Errorf("Unexpected reply: %q", reply)
	}

	// system + 2 kept history messages + new user text; error message dropped.
	if len(gotReq.Messages) != 4 {
		t.Fatalf("Expected 4 messages sent, got %d", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" {
		t.Errorf("Expected system message first, got %s", gotReq.Messages[0].Role)
	}
	if last := gotReq.Messages[3]; last.Role != "user" || last.Content != "how many open orders?" {
		t.Errorf("Expected user text last, got %+v", last)
	}
	if gotReq.Stream {
		t.Error("Expected stream disabled")
	}
}

func TestOllamaAnalyzeCommand_RequestsJSON(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: `{"command":"list orders"}`},
			Done:    true,
		})
	})

	p := NewOllamaProvider(srv.URL, "llama3.2")
	out, err := p.AnalyzeCommand(context.Background(), "list orders")
	if err != nil {
		t.Fatalf("AnalyzeCommand failed: %v", err)
	}
	if out != `{"command":"list orders"}` {
		t.Errorf("Unexpected output: %q", out)
	}
	if gotReq.Format != "json" {
		t.Errorf("Expected json format requested, got %q", gotReq.Format)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("Expected system+user messages, got %+v", gotReq.Messages)
	}
}

func TestOllamaErrors_Unreachable(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	_, err := p.GenerateReply(context.Background(), nil, "hi")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestOllamaErrors_Timeout(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	p := NewOllamaProvider(srv.URL, "llama3.2")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.GenerateReply(ctx, nil, "hi")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestOllamaErrors_Rejected(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	p := NewOllamaProvider(srv.URL, "missing-model")
	_, err := p.GenerateReply(context.Background(), nil, "hi")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected for 404, got %v", err)
	}
}

func TestOllamaErrors_ServerErrorIsUnreachable(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	p := NewOllamaProvider(srv.URL, "llama3.2")
	_, err := p.GenerateReply(context.Background(), nil, "hi")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable for 500, got %v", err)
	}
}

func TestOllamaPing(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("Expected /api/version, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"version":"0.5.0"}`))
	})

	p := NewOllamaProvider(srv.URL, "llama3.2")
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
