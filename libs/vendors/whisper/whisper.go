// Package whisper transcribes caller audio with a whisper.cpp inference server.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
)

const defaultEndpoint = "http://localhost:7070/inference"

// BookingPrompt biases decoding toward the words callers use when booking.
const BookingPrompt = "Appointment booking call. Dates, times like 9:30 AM, services, names and phone numbers."

type Option func(*whisperSTT)

// WithLanguage pins the spoken language ("en", "id", ...) instead of auto-detection.
func WithLanguage(lang string) Option { return func(w *whisperSTT) { w.language = lang } }

// WithPrompt sets the initial decoding prompt.
func WithPrompt(prompt string) Option { return func(w *whisperSTT) { w.prompt = prompt } }

func WithHTTPClient(hc *http.Client) Option { return func(w *whisperSTT) { w.client = hc } }

type whisperSTT struct {
	endpoint string
	language string
	prompt   string
	client   *http.Client
}

func New(opts ...Option) interfaces.STT {
	return NewWithEndpoint(defaultEndpoint, opts...)
}

func NewWithEndpoint(endpoint string, opts ...Option) interfaces.STT {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	w := &whisperSTT{
		endpoint: endpoint,
		prompt:   BookingPrompt,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Recognize returns the trimmed transcript. The server reports no confidence, so any
// non-empty transcript scores 1 and silence scores 0 with no error.
func (w *whisperSTT) Recognize(ctx context.Context, audio []byte) (string, float32, error) {
	body, contentType, err := w.form(audio)
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, body)
	if err != nil {
		return "", 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("post to whisper server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("whisper server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, fmt.Errorf("decode transcript: %w", err)
	}
	if out.Error != "" {
		return "", 0, fmt.Errorf("whisper: %s", out.Error)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", 0, nil
	}
	return text, 1, nil
}

func (w *whisperSTT) form(audio []byte) (io.Reader, string, error) {
	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	fields := map[string]string{"response_format": "json", "temperature": "0"}
	if w.language != "" {
		fields["language"] = w.language
	}
	if w.prompt != "" {
		fields["prompt"] = w.prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &b, mw.FormDataContentType(), nil
}
