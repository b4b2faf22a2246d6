package agents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/booking"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/dialog"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/tools"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/ollama"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/piper"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/whisper"
)

type simulatedVendors struct {
	whisper, ollama, piper, scheduling *httptest.Server
	transcript                         string
	llmReply                           string
	availabilityHits                   atomic.Int32
	piperStreamFails                   bool
}

// start spins up lightweight HTTP servers that mimic Whisper, Ollama, Piper and the scheduling API.
func (v *simulatedVendors) start(t *testing.T) {
	t.Helper()
	v.whisper = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(10 << 20)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": v.transcript})
	}))
	v.ollama = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": v.llmReply},
			"done":    true,
		})
	}))
	v.piper = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.piperStreamFails && r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "json only", http.StatusUnsupportedMediaType)
			return
		}
		var text string
		if r.Header.Get("Content-Type") == "application/json" {
			var body struct{ Text string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			text = body.Text
		} else {
			_ = r.ParseForm()
			text = r.FormValue("text")
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, "WAVDATA:"+text)
	}))
	v.scheduling = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voice-agent/availability" {
			http.NotFound(w, r)
			return
		}
		v.availabilityHits.Add(1)
		assert.Equal(t, "biz_1", r.URL.Query().Get("businessId"))
		_, _ = io.WriteString(w, `{"available":true,"slots":[{"startTime":"2024-06-01T09:00:00"},{"startTime":"2024-06-01T09:30:00"}]}`)
	}))
	t.Cleanup(func() {
		v.whisper.Close()
		v.ollama.Close()
		v.piper.Close()
		v.scheduling.Close()
	})
}

func (v *simulatedVendors) agent(t *testing.T) *CallAgent {
	t.Helper()
	api := scheduling.New(config.SchedulingConfig{BaseURL: v.scheduling.URL, Timeout: 2 * time.Second})
	ctrl, err := booking.New(booking.BusinessContext{ID: "biz_1", Name: "Bella Salon"}, api)
	require.NoError(t, err)
	sess, err := dialog.New("Bella Salon", ollama.NewWithEndpointModel(v.ollama.URL, "tinyllama"), tools.NewDispatcher(ctrl))
	require.NoError(t, err)
	ag, err := New(piper.NewWithEndpoint(v.piper.URL), whisper.NewWithEndpoint(v.whisper.URL), sess, nil)
	require.NoError(t, err)
	return ag
}

func TestTurn_E2E_ToolCallThroughSimulatedVendors(t *testing.T) {
	v := &simulatedVendors{
		transcript: "Do you have anything on June first?",
		llmReply:   `{"tool":"check_availability","arguments":{"date":"2024-06-01"}}`,
	}
	v.start(t)
	ag := v.agent(t)

	greet, err := ag.Greet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "WAVDATA:Hello! Thank you for calling Bella Salon. How can I help you today?", string(greet.Audio))

	turn, err := ag.Turn(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "Do you have anything on June first?", turn.Transcript)
	assert.Equal(t, "I have openings at 09:00 and 09:30. Which time works best for you?", turn.Reply)
	assert.Equal(t, "WAVDATA:"+turn.Reply, string(turn.Audio))
	assert.EqualValues(t, 1, v.availabilityHits.Load())
}

func TestTurn_SilenceProducesNothing(t *testing.T) {
	v := &simulatedVendors{transcript: "", llmReply: "unused"}
	v.start(t)
	ag := v.agent(t)

	audio, err := ag.HandleAudio(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Empty(t, audio)
}

func TestHandleAudioFile_E2E_SimulatedVendors(t *testing.T) {
	v := &simulatedVendors{
		transcript:       "I'd like a haircut",
		llmReply:         "Sure! What date works for you?",
		piperStreamFails: true,
	}
	v.start(t)
	ag := v.agent(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(in, []byte("RIFFfake"), 0o644))
	out := filepath.Join(dir, "out.wav")

	turn, err := ag.HandleAudioFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, "Sure! What date works for you?", turn.Reply)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "WAVDATA:"), string(b))
	assert.Zero(t, v.availabilityHits.Load())
}
