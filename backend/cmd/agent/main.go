// Command agent fetches the LiveKit token persisted for an agent session and joins the
// room's signaling channel, logging every message. It is a debugging aid for workers
// that run outside the backend process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/livekitclient"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

func main() {
	var (
		sessionID  string
		backendURL string
		timeout    time.Duration
		watch      time.Duration
	)
	flag.StringVar(&sessionID, "session", "", "agent session ID to fetch token for")
	flag.StringVar(&backendURL, "backend", "http://localhost:8080", "backend base URL")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout")
	flag.DurationVar(&watch, "watch", 20*time.Second, "how long to keep the signaling connection open")
	flag.Parse()

	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "session id required: -session <id>")
		os.Exit(2)
	}

	cfg := config.LoadFromEnv()
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With(zap.String("session_id", sessionID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	token, err := fetchToken(ctx, backendURL, sessionID, cfg.TokenEndpointSecret, timeout)
	if err != nil {
		log.Fatal("fetch token", zap.Error(err))
	}
	log.Info("token fetched", zap.Int("token_len", len(token)))

	lkURL := cfg.Vendor("livekit", "url")
	if lkURL == "" {
		log.Warn("LIVEKIT_URL not set; skipping join")
		return
	}
	if err := watchSignaling(ctx, livekitclient.SignalURL(lkURL, token), watch, log); err != nil {
		log.Fatal("join livekit", zap.Error(err))
	}
}

func fetchToken(ctx context.Context, backendURL, sessionID, secret string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/sessions/%s/token", backendURL, sessionID), nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bad status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("no token returned")
	}
	return out.Token, nil
}

func watchSignaling(ctx context.Context, wsURL string, watch time.Duration, log *zap.Logger) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("websocket dial: %w (status=%d body=%s)", err, resp.StatusCode, b)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()
	log.Info("connected to signaling", zap.Duration("watch", watch))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug("signaling closed", zap.Error(err))
				return
			}
			log.Info("signal", zap.Int("type", mt), zap.ByteString("message", msg))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(watch):
	}
	return nil
}
