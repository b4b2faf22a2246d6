package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacky-htg/ai-booking-agent/libs/config"
)

func TestNewVendors(t *testing.T) {
	cfg := &config.Config{
		TTSVendor: "piper", STTVendor: "whisper", LLMVendor: "ollama", WebRTCVendor: "livekit",
		VendorSettings: map[string]map[string]string{"ollama": {"model": "llama3.1"}},
	}
	v, err := NewVendors(cfg)
	require.NoError(t, err)
	assert.NotNil(t, v.TTS)
	assert.NotNil(t, v.STT)
	assert.NotNil(t, v.LLM)
	assert.NotNil(t, v.WebRTC)
}

func TestUnknownVendors(t *testing.T) {
	base := config.Config{TTSVendor: "piper", STTVendor: "whisper", LLMVendor: "ollama", WebRTCVendor: "livekit"}

	for name, mutate := range map[string]func(*config.Config){
		"tts":    func(c *config.Config) { c.TTSVendor = "polly" },
		"stt":    func(c *config.Config) { c.STTVendor = "deepgram" },
		"llm":    func(c *config.Config) { c.LLMVendor = "openai" },
		"webrtc": func(c *config.Config) { c.WebRTCVendor = "twilio" },
	} {
		cfg := base
		mutate(&cfg)
		_, err := NewVendors(&cfg)
		assert.Error(t, err, name)
	}
}
