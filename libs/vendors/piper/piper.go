package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
)

const defaultEndpoint = "http://localhost:7071/tts"

type piperTTS struct {
	endpoint string
	client   *http.Client
}

// New returns a Piper TTS implementation with the default local endpoint.
func New() interfaces.TTS { return NewWithEndpoint(defaultEndpoint) }

// NewWithEndpoint allows overriding the Piper TTS endpoint.
func NewWithEndpoint(endpoint string) interfaces.TTS {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	// Piper may need to start its binary before the first byte.
	return &piperTTS{endpoint: endpoint, client: &http.Client{Timeout: 120 * time.Second}}
}

type ttsRequest struct {
	Text string `json:"text"`
}

// Speak synthesizes text. The form encoding is tried first, then JSON for servers that
// only accept a JSON body.
func (p *piperTTS) Speak(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("piper: empty text")
	}
	body, status, err := p.post(ctx, "application/x-www-form-urlencoded", formBody(text))
	if err == nil && isOK(status) {
		return body, nil
	}

	reqBody, mErr := json.Marshal(ttsRequest{Text: text})
	if mErr != nil {
		return nil, fmt.Errorf("marshal piper request: %w", mErr)
	}
	body2, status2, err2 := p.post(ctx, "application/json", bytes.NewReader(reqBody))
	if err2 == nil && isOK(status2) {
		return body2, nil
	}

	if err2 != nil {
		return nil, fmt.Errorf("piper tts request failed: %w", errors.Join(err, err2))
	}
	return nil, fmt.Errorf("piper tts request failed, last status %d", status2)
}

// SpeakStream streams audio produced by the Piper server directly to w.
func (p *piperTTS) SpeakStream(ctx context.Context, text string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, formBody(text))
	if err != nil {
		return fmt.Errorf("new piper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post form to piper tts: %w", err)
	}
	defer resp.Body.Close()

	if !isOK(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("piper tts bad status %d: %s", resp.StatusCode, string(b))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream tts response: %w", err)
	}
	return nil
}

func (p *piperTTS) post(ctx context.Context, contentType string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("new piper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("post to piper tts: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read tts response: %w", err)
	}
	return b, resp.StatusCode, nil
}

func formBody(text string) io.Reader {
	form := url.Values{}
	form.Set("text", text)
	return strings.NewReader(form.Encode())
}

func isOK(status int) bool { return status >= 200 && status < 300 }
