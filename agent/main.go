// Command agent simulates a caller against a running backend: it opens a call for a business,
// replays the LiveKit participant_joined webhook, then plays the greeting and one recorded
// utterance through the caller session.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

type turn struct {
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Audio      []byte `json:"audio"`
}

func main() {
	var (
		server       string
		businessID   string
		businessName string
		audioPath    string
		outPath      string
	)
	flag.StringVar(&server, "server", envOr("SERVER_URL", "http://localhost:8080"), "backend base URL")
	flag.StringVar(&businessID, "business", os.Getenv("E2E_BUSINESS_ID"), "business id to book against")
	flag.StringVar(&businessName, "business-name", "", "business name used in the greeting")
	flag.StringVar(&audioPath, "audio", "testdata/jfk.wav", "caller utterance (wav)")
	flag.StringVar(&outPath, "out", "", "write the agent's reply audio here")
	flag.Parse()

	log, err := logging.New(envOr("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	c := &client{base: server, http: &http.Client{Timeout: 2 * time.Minute}}

	var created map[string]string
	if err := c.post("/calls", map[string]string{
		"caller_id": "simulated-caller", "business_id": businessID, "business_name": businessName,
	}, http.StatusOK, &created); err != nil {
		log.Fatal("create call", zap.Error(err))
	}
	callID, session := created["call_id"], created["session_id"]
	log = log.With(zap.String("call_id", callID), zap.String("session_id", session))
	log.Info("call created")

	if err := c.post("/webhook/livekit", map[string]any{
		"event": "participant_joined", "participant": map[string]string{"identity": session},
	}, http.StatusNoContent, nil); err != nil {
		log.Fatal("participant_joined webhook", zap.Error(err))
	}

	var greeting turn
	if err := c.do(http.MethodGet, "/sessions/"+session+"/greeting", nil, http.StatusOK, &greeting); err != nil {
		log.Fatal("greeting", zap.Error(err))
	}
	log.Info("agent", zap.String("said", greeting.Reply))

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatal("read audio", zap.Error(err))
	}
	var reply turn
	if err := c.do(http.MethodPost, "/sessions/"+session+"/audio", audio, http.StatusOK, &reply); err != nil {
		log.Fatal("post audio", zap.Error(err))
	}
	log.Info("caller", zap.String("said", reply.Transcript))
	log.Info("agent", zap.String("said", reply.Reply), zap.Int("audio_bytes", len(reply.Audio)))

	if outPath != "" {
		if err := os.WriteFile(outPath, reply.Audio, 0o644); err != nil {
			log.Fatal("write reply audio", zap.Error(err))
		}
	}

	var invs []map[string]any
	if err := c.do(http.MethodGet, "/calls/"+callID+"/tools", nil, http.StatusOK, &invs); err != nil {
		log.Warn("list tool calls", zap.Error(err))
	}
	log.Info("simulated call complete", zap.Int("tool_calls", len(invs)))

	if err := c.post("/webhook/livekit", map[string]any{
		"event": "participant_left", "participant": map[string]string{"identity": session},
	}, http.StatusNoContent, nil); err != nil {
		log.Warn("participant_left webhook", zap.Error(err))
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) post(path string, body any, want int, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, path, b, want, out)
}

func (c *client) do(method, path string, body []byte, want int, out any) error {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
