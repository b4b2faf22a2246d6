package livekitclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

const (
	// Caller audio is buffered and handed to the AudioHandler once per window.
	defaultWindow = 2 * time.Second
	sampleRate    = 16000
	chunkDuration = 100 * time.Millisecond
)

// AudioHandler turns a chunk of caller audio into audio to play back (nil for silence).
type AudioHandler interface {
	HandleAudio(ctx context.Context, audio []byte) ([]byte, error)
}

// Options carries the optional callbacks a RoomClient reports room events to.
type Options struct {
	Logger *zap.Logger
	// OnRoomMetadata receives the room metadata from the join response.
	OnRoomMetadata func(metadata string)
	// OnParticipantLeft fires when a remote participant disconnects.
	OnParticipantLeft func(identity string)
	Window            time.Duration
}

// RoomClient represents a LiveKit room client that joins as the agent participant.
type RoomClient struct {
	url        string
	token      string
	roomName   string
	identity   string
	handler    AudioHandler
	opts       Options
	log        *zap.Logger
	conn       *websocket.Conn
	pc         *webrtc.PeerConnection
	audioTrack *webrtc.TrackLocalStaticSample
	ctx        context.Context
	cancel     context.CancelFunc
	publishMu  sync.Mutex
	closeOnce  sync.Once
}

// NewRoomClient creates a new LiveKit room client.
func NewRoomClient(url, token, roomName, identity string, handler AudioHandler, opts Options) *RoomClient {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	return &RoomClient{
		url:      url,
		token:    token,
		roomName: roomName,
		identity: identity,
		handler:  handler,
		opts:     opts,
		log:      logging.OrNop(opts.Logger).With(zap.String("room", roomName), zap.String("identity", identity)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SignalURL converts a LiveKit server url into its /rtc websocket endpoint.
func SignalURL(url, token string) string {
	u := strings.TrimRight(url, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/rtc?access_token=" + token
}

// Connect joins the LiveKit room.
func (rc *RoomClient) Connect(ctx context.Context) error {
	rc.log.Info("connecting to livekit room")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, SignalURL(rc.url, rc.token), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	rc.conn = conn

	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}
	rc.pc = pc

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			rc.log.Info("received audio track", zap.String("track", track.ID()))
			go rc.handleAudioTrack(track)
		}
	})

	// Track the agent publishes its spoken replies on.
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"agent-audio",
		"agent",
	)
	if err != nil {
		rc.Disconnect()
		return fmt.Errorf("create audio track: %w", err)
	}
	rc.audioTrack = audioTrack
	if _, err := pc.AddTrack(audioTrack); err != nil {
		rc.Disconnect()
		return fmt.Errorf("add track: %w", err)
	}

	go rc.handleMessages()

	rc.log.Info("connected to room")
	return nil
}

type signalMessage struct {
	Type string `json:"type"`
	Room struct {
		Name     string `json:"name"`
		Metadata string `json:"metadata"`
	} `json:"room"`
	Participant struct {
		Identity string `json:"identity"`
	} `json:"participant"`
}

// handleMessages processes signalling messages until the connection closes.
func (rc *RoomClient) handleMessages() {
	for {
		_, message, err := rc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && rc.ctx.Err() == nil {
				rc.log.Warn("websocket closed", zap.Error(err))
			}
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			rc.log.Debug("ignoring non-json signal message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "join":
			rc.log.Info("joined room")
			if rc.opts.OnRoomMetadata != nil {
				rc.opts.OnRoomMetadata(msg.Room.Metadata)
			}
		case "participant_connected":
			rc.log.Info("participant connected", zap.String("participant", msg.Participant.Identity))
		case "participant_disconnected":
			rc.log.Info("participant disconnected", zap.String("participant", msg.Participant.Identity))
			if rc.opts.OnParticipantLeft != nil && msg.Participant.Identity != rc.identity {
				rc.opts.OnParticipantLeft(msg.Participant.Identity)
			}
		}
	}
}

// handleAudioTrack buffers caller audio and processes it once per window.
func (rc *RoomClient) handleAudioTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 0, sampleRate*2)
	last := time.Now()

	for {
		if rc.ctx.Err() != nil {
			return
		}
		// Payloads are passed through undecoded; the STT server handles the container.
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				rc.log.Info("audio track ended")
				return
			}
			rc.log.Debug("read rtp", zap.Error(err))
			continue
		}
		buf = append(buf, pkt.Payload...)

		if time.Since(last) >= rc.opts.Window && len(buf) > 0 {
			chunk := append([]byte(nil), buf...)
			buf = buf[:0]
			last = time.Now()
			go rc.processAudioChunk(chunk)
		}
	}
}

func (rc *RoomClient) processAudioChunk(audio []byte) {
	if rc.handler == nil {
		return
	}
	reply, err := rc.handler.HandleAudio(rc.ctx, audio)
	if err != nil {
		rc.log.Error("audio turn failed", zap.Error(err))
	}
	if len(reply) == 0 {
		return
	}
	if err := rc.Publish(reply); err != nil {
		rc.log.Error("publish audio", zap.Error(err))
	}
}

// Publish plays audio into the room in 100ms samples. Concurrent calls are serialized.
func (rc *RoomClient) Publish(audio []byte) error {
	if rc.audioTrack == nil {
		return errors.New("audio track not initialized")
	}
	rc.publishMu.Lock()
	defer rc.publishMu.Unlock()

	chunkSize := int(sampleRate * 2 * chunkDuration / time.Second)
	for i := 0; i < len(audio); i += chunkSize {
		if rc.ctx.Err() != nil {
			return rc.ctx.Err()
		}
		end := min(i+chunkSize, len(audio))
		if err := rc.audioTrack.WriteSample(media.Sample{Data: audio[i:end], Duration: chunkDuration}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		time.Sleep(chunkDuration)
	}
	return nil
}

// Disconnect leaves the room and cleans up. It is safe to call more than once.
func (rc *RoomClient) Disconnect() error {
	var errs []error
	rc.closeOnce.Do(func() {
		rc.cancel()
		if rc.pc != nil {
			if err := rc.pc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close peer connection: %w", err))
			}
		}
		if rc.conn != nil {
			_ = rc.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			if err := rc.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close websocket: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
