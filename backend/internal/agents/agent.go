package agents

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/dialog"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

// Transcripts below this confidence are treated as noise.
const minConfidence = 0.5

// Turn is the result of one caller utterance.
type Turn struct {
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Audio      []byte `json:"audio,omitempty"`
}

// CallAgent coordinates STT, the booking dialog and TTS for a single call.
type CallAgent struct {
	tts    interfaces.TTS
	stt    interfaces.STT
	dialog *dialog.Session
	log    *zap.Logger
}

// New constructs a CallAgent with concrete components (injected via factory).
func New(tts interfaces.TTS, stt interfaces.STT, d *dialog.Session, log *zap.Logger) (*CallAgent, error) {
	if tts == nil || stt == nil || d == nil {
		return nil, errors.New("agents: tts, stt and dialog are required")
	}
	return &CallAgent{tts: tts, stt: stt, dialog: d, log: logging.OrNop(log)}, nil
}

// Greet produces the opening sentence and its audio.
func (c *CallAgent) Greet(ctx context.Context) (Turn, error) {
	t := Turn{Reply: c.dialog.Greeting()}
	audio, err := c.tts.Speak(ctx, t.Reply)
	if err != nil {
		return t, fmt.Errorf("tts speak: %w", err)
	}
	t.Audio = audio
	return t, nil
}

// Turn runs STT -> dialog -> TTS for one utterance. A zero Turn means nothing was heard.
func (c *CallAgent) Turn(ctx context.Context, audio []byte) (Turn, error) {
	t, err := c.listen(ctx, audio)
	if err != nil || t.Reply == "" {
		return t, err
	}
	out, err := c.tts.Speak(ctx, t.Reply)
	if err != nil {
		return t, fmt.Errorf("tts speak: %w", err)
	}
	t.Audio = out
	return t, nil
}

// listen transcribes audio and asks the dialog for a reply without synthesizing it.
func (c *CallAgent) listen(ctx context.Context, audio []byte) (Turn, error) {
	transcript, conf, err := c.stt.Recognize(ctx, audio)
	if err != nil {
		return Turn{}, fmt.Errorf("stt recognize: %w", err)
	}
	if transcript == "" || conf < minConfidence {
		return Turn{}, nil
	}
	c.log.Debug("caller said", zap.String("transcript", transcript), zap.Float32("confidence", conf))

	t := Turn{Transcript: transcript}
	// Respond always returns something speakable; its error is only reported.
	t.Reply, err = c.dialog.Respond(ctx, transcript)
	if err != nil {
		c.log.Warn("dialog turn degraded", zap.Error(err))
	}
	return t, nil
}

// HandleAudio returns the audio to play back for a chunk of caller audio.
func (c *CallAgent) HandleAudio(ctx context.Context, audio []byte) ([]byte, error) {
	t, err := c.Turn(ctx, audio)
	return t.Audio, err
}

// HandleAudioFile runs one turn from a local audio file and streams the reply audio to outputPath.
func (c *CallAgent) HandleAudioFile(ctx context.Context, inputPath, outputPath string) (Turn, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return Turn{}, fmt.Errorf("read input audio: %w", err)
	}
	t, err := c.listen(ctx, data)
	if err != nil || t.Reply == "" {
		return t, err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return t, fmt.Errorf("create output file: %w", err)
	}
	defer outF.Close()

	// Prefer streaming; fall back to a buffered Speak when the server cannot stream.
	if err := c.tts.SpeakStream(ctx, t.Reply, outF); err != nil {
		outAudio, err2 := c.tts.Speak(ctx, t.Reply)
		if err2 != nil {
			return t, fmt.Errorf("tts speak: %w", errors.Join(err, err2))
		}
		if _, err3 := outF.Write(outAudio); err3 != nil {
			return t, fmt.Errorf("write output audio: %w", err3)
		}
	}
	return t, nil
}
