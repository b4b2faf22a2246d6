package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
)

const (
	defaultEndpoint = "http://localhost:11434/api/chat"
	defaultModel    = "llama3.2"
)

type ollamaLLM struct {
	endpoint string
	model    string
	client   *http.Client
}

// New returns a client configured for the local Ollama chat API.
func New() interfaces.LLM {
	return NewWithEndpointModel(defaultEndpoint, defaultModel)
}

// NewWithEndpointModel creates an Ollama client with custom endpoint and model.
func NewWithEndpointModel(endpoint, model string) interfaces.LLM {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	return &ollamaLLM{endpoint: endpoint, model: model, client: &http.Client{Timeout: 30 * time.Second}}
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []interfaces.Message `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string             `json:"model"`
	Message interfaces.Message `json:"message"`
	Done    bool               `json:"done"`
	Error   string             `json:"error"`
}

func (o *ollamaLLM) Chat(ctx context.Context, messages []interfaces.Message, opts ...interfaces.LLMOption) (string, error) {
	var settings interfaces.LLMSettings
	for _, opt := range opts {
		opt(&settings)
	}
	reqBody := chatRequest{Model: o.model, Messages: messages, Stream: false}
	if settings.Temperature != nil {
		reqBody.Options = map[string]any{"temperature": *settings.Temperature}
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("new ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Message.Content, nil
}
