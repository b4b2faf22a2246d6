package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/agentmgr"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/booking"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/tools"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/livekit"
	"github.com/jacky-htg/ai-booking-agent/libs/metrics"
	"github.com/jacky-htg/ai-booking-agent/libs/store"
)

const (
	tokenTTL     = 3600
	maxAudioBody = 16 << 20
)

type server struct {
	cfg    *config.Config
	store  *store.Store
	mgr    *agentmgr.AgentManager
	webrtc interfaces.WebRTCProvider
	log    *zap.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(func(r *http.Request) string {
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			return rc.RoutePattern()
		}
		return "unmatched"
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Handle("/metrics", metrics.Handler())

	r.Post("/calls", s.createCall)
	r.Get("/calls/{id}/tools", s.listTools)
	r.Post("/calls/{id}/tools/{name}", s.dispatchTool)
	r.Get("/livekit/token", s.livekitToken)
	r.Post("/webhook/livekit", s.livekitWebhook)
	r.Post("/sessions/{id}/audio", s.sessionAudio)
	r.Get("/sessions/{id}/greeting", s.sessionGreeting)
	r.Get("/sessions/{id}/token", s.sessionToken)
	return r
}

type createCallRequest struct {
	CallerID     string `json:"caller_id"`
	BusinessID   string `json:"business_id"`
	BusinessName string `json:"business_name"`
}

// createCall creates a call for a business, its LiveKit room and a caller token.
func (s *server) createCall(w http.ResponseWriter, r *http.Request) {
	var body createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	bc, err := booking.NewBusinessContext(body.BusinessID, body.BusinessName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "business_id required")
		return
	}
	// Generate caller_id if not provided
	if body.CallerID == "" {
		body.CallerID = fmt.Sprintf("user-%d", time.Now().UnixNano())
	}

	ctx := r.Context()
	callID, sessionID, err := s.store.CreateCall(ctx, store.NewCall{CallerID: body.CallerID, BusinessID: bc.ID, BusinessName: bc.Name})
	if err != nil {
		s.log.Error("create call", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create call failed")
		return
	}
	room, err := s.webrtc.StartSession(ctx, interfaces.SessionSpec{Room: callID, Metadata: bc.Metadata()})
	if err != nil {
		s.log.Error("start room", zap.String("call_id", callID), zap.Error(err))
		_ = s.store.UpdateCallStatus(ctx, callID, store.CallFailed)
		writeError(w, http.StatusBadGateway, "start room failed")
		return
	}

	resp := map[string]string{"call_id": callID, "session_id": sessionID, "room": room, "url": s.cfg.Vendor("livekit", "url")}
	if s.cfg.Vendor("livekit", "api_secret") != "" {
		token, err := livekit.GenerateAccessToken(s.cfg.Vendor("livekit", "api_key"), s.cfg.Vendor("livekit", "api_secret"), room, sessionID, tokenTTL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.store.UpdateSessionToken(ctx, sessionID, token); err != nil {
			s.log.Warn("persist caller token", zap.Error(err))
		}
		resp["token"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// livekitToken issues a join token for any room and identity.
func (s *server) livekitToken(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = "default"
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "ai-agent"
	}
	apiKey := s.cfg.Vendor("livekit", "api_key")
	token, err := livekit.GenerateAccessToken(apiKey, s.cfg.Vendor("livekit", "api_secret"), room, identity, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.cfg.Vendor("livekit", "url"), "token": token, "apiKey": apiKey})
}

type webhookEvent struct {
	Type string `json:"type"`
	// LiveKit names the field "event"; older relays send "type".
	Event       string `json:"event"`
	Participant struct {
		Identity string `json:"identity"`
	} `json:"participant"`
	Room struct {
		Name     string `json:"name"`
		Metadata string `json:"metadata"`
	} `json:"room"`
}

func (e webhookEvent) kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Event
}

// livekitWebhook keeps calls and agents in sync with room and participant events.
func (s *server) livekitWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	sig := r.Header.Get("X-LiveKit-Signature")
	if sig == "" {
		sig = r.Header.Get("Livekit-Signature")
	}
	if !livekit.VerifySignature(s.cfg.Vendor("livekit", "api_secret"), body, sig) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	ctx := r.Context()
	log := s.log.With(zap.String("event", evt.kind()))
	switch evt.kind() {
	case "room_started":
		s.roomStarted(r, evt, log)
	case "participant_joined":
		sess, err := s.store.GetSession(ctx, evt.Participant.Identity)
		if err != nil {
			log.Debug("unknown participant", zap.String("identity", evt.Participant.Identity))
			break
		}
		_ = s.store.UpdateSessionStatus(ctx, sess.ID, "active")
		// Only a caller joining attaches an agent.
		if sess.Type == "caller" {
			if _, _, err := s.mgr.SpawnAgent(ctx, sess.CallID); err != nil && !errors.Is(err, agentmgr.ErrAgentExists) {
				log.Error("spawn agent", zap.String("call_id", sess.CallID), zap.Error(err))
			}
		}
	case "participant_left":
		sess, err := s.store.GetSession(ctx, evt.Participant.Identity)
		if err != nil {
			break
		}
		_ = s.store.UpdateSessionStatus(ctx, sess.ID, "ended")
		if sess.Type == "caller" {
			s.stopAgent(r, sess.CallID, log)
		}
	case "room_finished", "room_ended", "room_disconnected":
		if evt.Room.Name != "" {
			s.stopAgent(r, evt.Room.Name, log)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// roomStarted registers rooms created outside the backend, taking the business from room metadata.
func (s *server) roomStarted(r *http.Request, evt webhookEvent, log *zap.Logger) {
	ctx := r.Context()
	if evt.Room.Name == "" {
		return
	}
	if _, err := s.store.GetCall(ctx, evt.Room.Name); err == nil {
		return
	}
	bc, err := booking.ParseMetadata(evt.Room.Metadata)
	if err != nil {
		log.Warn("room metadata has no business", zap.String("room", evt.Room.Name), zap.Error(err))
	}
	callID, _, err := s.store.CreateCall(ctx, store.NewCall{
		ID: evt.Room.Name, CallerID: "room:" + evt.Room.Name, BusinessID: bc.ID, BusinessName: bc.Name,
	})
	if err != nil {
		log.Error("register room", zap.Error(err))
		return
	}
	if _, _, err := s.mgr.SpawnAgent(ctx, callID); err != nil {
		log.Error("spawn agent", zap.String("call_id", callID), zap.Error(err))
	}
}

func (s *server) stopAgent(r *http.Request, callID string, log *zap.Logger) {
	ctx := r.Context()
	if err := s.mgr.StopAgent(ctx, callID); err != nil && !errors.Is(err, agentmgr.ErrNoAgent) {
		log.Warn("stop agent", zap.String("call_id", callID), zap.Error(err))
	}
	_ = s.store.UpdateCallStatus(ctx, callID, store.CallEnded)
	if err := s.webrtc.StopSession(ctx, callID); err != nil {
		log.Debug("stop room", zap.String("call_id", callID), zap.Error(err))
	}
}

// sessionAudio runs one STT -> dialog -> TTS turn. The reply audio is base64 in the JSON body.
func (s *server) sessionAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	turn, err := s.mgr.ProcessIncomingAudio(r.Context(), chi.URLParam(r, "id"), audio)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *server) sessionGreeting(w http.ResponseWriter, r *http.Request) {
	turn, err := s.mgr.Greet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// sessionToken returns the persisted LiveKit token so external agent workers can join.
func (s *server) sessionToken(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.TokenEndpointSecret; secret != "" {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if auth != secret && r.Header.Get("X-Agent-Auth") != secret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	token, err := s.store.GetSessionToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to get token")
		return
	}
	if token == "" {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// dispatchTool runs a booking tool directly; the request body is the tool arguments.
func (s *server) dispatchTool(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")
	args, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	d, err := s.mgr.Tools(r.Context(), callID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	call := tools.Call{Name: chi.URLParam(r, "name"), Arguments: args}
	res := d.Dispatch(r.Context(), call)
	s.mgr.RecordTool(r.Context(), callID, call, res)

	out := map[string]string{"tool": res.Name, "output": res.Output}
	status := http.StatusOK
	if res.Err != nil {
		out["error"] = res.Err.Error()
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

func (s *server) listTools(w http.ResponseWriter, r *http.Request) {
	invs, err := s.store.ListToolInvocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if invs == nil {
		invs = []store.ToolInvocation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, agentmgr.ErrNoAgent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrMissingBusinessID):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
