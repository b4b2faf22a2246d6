package interfaces

import (
	"context"
	"io"

	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

// TTS is the text-to-speech interface. Implementations should be swappable.
type TTS interface {
	// Speak converts text into audio bytes (e.g., WAV).
	Speak(ctx context.Context, text string) ([]byte, error)
	// SpeakStream writes audio for text to w as it is produced.
	SpeakStream(ctx context.Context, text string, w io.Writer) error
}

// STT is the speech-to-text interface.
type STT interface {
	// Recognize converts audio bytes into text (returns transcript and confidence)
	Recognize(ctx context.Context, audio []byte) (string, float32, error)
}

// Message is one chat turn sent to an LLM. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM is the language model interface.
type LLM interface {
	// Chat returns the assistant reply to the conversation so far.
	Chat(ctx context.Context, messages []Message, opts ...LLMOption) (string, error)
}

// LLMSettings holds per-request generation knobs.
type LLMSettings struct {
	Temperature *float64
}

type LLMOption func(*LLMSettings)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(s *LLMSettings) { s.Temperature = &t }
}

// SessionSpec describes the room created for a call.
type SessionSpec struct {
	Room string
	// Metadata is attached to the room; agents read call identity from it.
	Metadata string
}

// WebRTCProvider manages the media rooms calls happen in.
type WebRTCProvider interface {
	StartSession(ctx context.Context, spec SessionSpec) (string, error)
	StopSession(ctx context.Context, sessionID string) error
}

// BookingTools are the two operations a dialog layer may invoke during a call. Both always
// return a sentence that can be spoken; failures are already folded into the text.
type BookingTools interface {
	CheckAvailability(ctx context.Context, date string, durationMinutes int) string
	BookAppointment(ctx context.Context, req scheduling.BookingRequest) string
}
