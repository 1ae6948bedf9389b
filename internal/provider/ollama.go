package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"benchchat/internal/domain"
)

// OllamaProvider talks to a local Ollama server over its chat API.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(endpoint, model string) *OllamaProvider {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaProvider{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   &http.Client{},
	}
}

func (p *OllamaProvider) Name() string {
	return domain.ProviderOllama
}

func (p *OllamaProvider) GenerateReply(ctx context.Context, history []*domain.Message, userText string) (string, error) {
	messages := []ollamaMessage{{Role: "system", Content: chatSystemPrompt}}
	for _, msg := range trimHistory(history) {
		messages = append(messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: userText})

	resp, err := p.chat(ctx, ollamaChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Options:  &ollamaOptions{Temperature: 0.7, NumPredict: 2048},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (p *OllamaProvider) AnalyzeCommand(ctx context.Context, userText string) (string, error) {
	resp, err := p.chat(ctx, ollamaChatRequest{
		Model: p.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: userText},
		},
		Stream:  false,
		Format:  "json",
		Options: &ollamaOptions{Temperature: 0.1, NumPredict: 1024},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (p *OllamaProvider) chat(ctx context.Context, reqBody ollamaChatRequest) (*ollamaChatResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRejected, err)
	}
	return &chatResp, nil
}

// Ping hits the version endpoint, the cheapest reachability probe Ollama has.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "")
	}
	return nil
}

// classifyTransportError maps a transport-level failure to the error
// taxonomy callers switch on.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// classifyStatus maps a non-200 backend status to the error taxonomy.
// Client errors mean the backend saw and refused the request; server
// errors are treated as the backend being effectively unavailable.
func classifyStatus(status int, body string) error {
	detail := fmt.Sprintf("status %d", status)
	if body != "" {
		detail = fmt.Sprintf("status %d: %s", status, strings.TrimSpace(body))
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: %s", ErrRejected, detail)
	}
	return fmt.Errorf("%w: %s", ErrUnreachable, detail)
}
