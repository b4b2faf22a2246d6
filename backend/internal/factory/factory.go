package factory

import (
	"fmt"

	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/livekit"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/ollama"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/piper"
	"github.com/jacky-htg/ai-booking-agent/libs/vendors/whisper"
)

func NewTTS(cfg *config.Config) (interfaces.TTS, error) {
	switch cfg.TTSVendor {
	case "piper":
		return piper.NewWithEndpoint(cfg.Vendor("piper", "endpoint")), nil
	default:
		return nil, fmt.Errorf("unknown tts vendor %q", cfg.TTSVendor)
	}
}

func NewSTT(cfg *config.Config) (interfaces.STT, error) {
	switch cfg.STTVendor {
	case "whisper":
		var opts []whisper.Option
		if lang := cfg.Vendor("whisper", "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewWithEndpoint(cfg.Vendor("whisper", "endpoint"), opts...), nil
	default:
		return nil, fmt.Errorf("unknown stt vendor %q", cfg.STTVendor)
	}
}

func NewLLM(cfg *config.Config) (interfaces.LLM, error) {
	switch cfg.LLMVendor {
	case "ollama":
		return ollama.NewWithEndpointModel(cfg.Vendor("ollama", "endpoint"), cfg.Vendor("ollama", "model")), nil
	default:
		return nil, fmt.Errorf("unknown llm vendor %q", cfg.LLMVendor)
	}
}

func NewWebRTC(cfg *config.Config) (interfaces.WebRTCProvider, error) {
	switch cfg.WebRTCVendor {
	case "livekit":
		return livekit.New(cfg.Vendor("livekit", "url"), cfg.Vendor("livekit", "api_key"), cfg.Vendor("livekit", "api_secret")), nil
	default:
		return nil, fmt.Errorf("unknown webrtc vendor %q", cfg.WebRTCVendor)
	}
}

// NewScheduler returns the scheduling API client every call's controller shares.
func NewScheduler(cfg *config.Config) *scheduling.Client {
	return scheduling.New(cfg.Scheduling)
}

// Vendors bundles the media and language components one backend process uses.
type Vendors struct {
	TTS    interfaces.TTS
	STT    interfaces.STT
	LLM    interfaces.LLM
	WebRTC interfaces.WebRTCProvider
}

func NewVendors(cfg *config.Config) (Vendors, error) {
	var v Vendors
	var err error
	if v.TTS, err = NewTTS(cfg); err != nil {
		return Vendors{}, err
	}
	if v.STT, err = NewSTT(cfg); err != nil {
		return Vendors{}, err
	}
	if v.LLM, err = NewLLM(cfg); err != nil {
		return Vendors{}, err
	}
	if v.WebRTC, err = NewWebRTC(cfg); err != nil {
		return Vendors{}, err
	}
	return v, nil
}
