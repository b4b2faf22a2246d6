// Package livekit creates and deletes LiveKit rooms through the RoomService Twirp API.
package livekit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	lk "github.com/jacky-htg/ai-booking-agent/libs/livekit"
)

const (
	twirpPrefix  = "/twirp/livekit.RoomService/"
	emptyTimeout = 300
)

type livekitProvider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

// New returns a room provider for the server at url (ws:// or http:// schemes both work).
// With no url the provider only echoes room names; LiveKit creates rooms on first join.
func New(url, apiKey, apiSecret string) interfaces.WebRTCProvider {
	return &livekitProvider{
		baseURL:   httpURL(url),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomRequest struct {
	Name         string `json:"name"`
	EmptyTimeout uint32 `json:"empty_timeout,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
}

type room struct {
	Sid      string `json:"sid"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
}

func (l *livekitProvider) StartSession(ctx context.Context, spec interfaces.SessionSpec) (string, error) {
	if spec.Room == "" {
		return "", fmt.Errorf("livekit: room name required")
	}
	if l.baseURL == "" {
		return spec.Room, nil
	}
	var out room
	req := createRoomRequest{Name: spec.Room, EmptyTimeout: emptyTimeout, Metadata: spec.Metadata}
	if err := l.call(ctx, "CreateRoom", req, &out); err != nil {
		return "", err
	}
	if out.Name == "" {
		out.Name = spec.Room
	}
	return out.Name, nil
}

func (l *livekitProvider) StopSession(ctx context.Context, sessionID string) error {
	if l.baseURL == "" {
		return nil
	}
	return l.call(ctx, "DeleteRoom", map[string]string{"room": sessionID}, nil)
}

func (l *livekitProvider) call(ctx context.Context, method string, in, out any) error {
	token, err := lk.AccessToken{
		APIKey:    l.apiKey,
		APISecret: l.apiSecret,
		TTL:       time.Minute,
		Grant:     lk.VideoGrant{RoomCreate: true},
	}.Sign()
	if err != nil {
		return fmt.Errorf("livekit %s: %w", method, err)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+twirpPrefix+method, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("new %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("livekit %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("livekit %s returned status %d: %s", method, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func httpURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}
