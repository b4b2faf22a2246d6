package agentmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/agents"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/booking"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/dialog"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/livekitclient"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/tools"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/livekit"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
	"github.com/jacky-htg/ai-booking-agent/libs/metrics"
	"github.com/jacky-htg/ai-booking-agent/libs/store"
)

const (
	agentUser     = "ai-agent"
	agentTokenTTL = 3600
)

var (
	ErrAgentExists = errors.New("agent already exists for call")
	ErrNoAgent     = errors.New("no agent for call")
)

// Deps are the shared components every agent is built from.
type Deps struct {
	Store     *store.Store
	Config    *config.Config
	TTS       interfaces.TTS
	STT       interfaces.STT
	LLM       interfaces.LLM
	Scheduler booking.Scheduler
	Logger    *zap.Logger
}

type agent struct {
	callID    string
	sessionID string
	business  booking.BusinessContext
	call      *agents.CallAgent
	room      *livekitclient.RoomClient
}

// AgentManager attaches one booking agent to each active call and tracks its lifecycle.
type AgentManager struct {
	mu     sync.Mutex
	agents map[string]*agent // by call id
	deps   Deps
	log    *zap.Logger
}

func New(d Deps) *AgentManager {
	return &AgentManager{
		agents: make(map[string]*agent),
		deps:   d,
		log:    logging.OrNop(d.Logger),
	}
}

// SpawnAgent attaches an agent to callID using the business stored with the call. A call without a
// business id is marked failed before any session is created or any network call is made.
// It returns the agent sessionID and its LiveKit token ("" when LiveKit is not configured).
func (m *AgentManager) SpawnAgent(ctx context.Context, callID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[callID]; ok {
		return "", "", fmt.Errorf("%w %s", ErrAgentExists, callID)
	}

	call, err := m.deps.Store.GetCall(ctx, callID)
	if err != nil {
		return "", "", err
	}
	log := m.log.With(zap.String("call_id", callID), zap.String("business_id", call.BusinessID))

	bc, err := booking.NewBusinessContext(call.BusinessID, call.BusinessName)
	if err != nil {
		metrics.CallSetupFailures.WithLabelValues("missing_business_id").Inc()
		log.Error("refusing to start agent", zap.Error(err))
		if uerr := m.deps.Store.UpdateCallStatus(ctx, callID, store.CallFailed); uerr != nil {
			log.Warn("mark call failed", zap.Error(uerr))
		}
		return "", "", err
	}

	ag := &agent{callID: callID, business: bc}
	ag.call, err = m.newCallAgent(callID, bc, log)
	if err != nil {
		metrics.CallSetupFailures.WithLabelValues("agent_setup").Inc()
		return "", "", err
	}

	ag.sessionID, err = m.deps.Store.CreateSession(ctx, callID, agentUser, "agent", "new")
	if err != nil {
		return "", "", err
	}

	var token string
	if url := m.deps.Config.Vendor("livekit", "url"); url != "" {
		token, err = livekit.AccessToken{
			APIKey:    m.deps.Config.Vendor("livekit", "api_key"),
			APISecret: m.deps.Config.Vendor("livekit", "api_secret"),
			Identity:  ag.sessionID,
			Name:      agentUser,
			Metadata:  bc.Metadata(),
			TTL:       agentTokenTTL * time.Second,
			Grant:     livekit.VideoGrant{Room: call.Room, RoomJoin: true},
		}.Sign()
		if err != nil {
			metrics.CallSetupFailures.WithLabelValues("token").Inc()
			_ = m.deps.Store.UpdateSessionStatus(ctx, ag.sessionID, "ended")
			return "", "", err
		}
		// persist the agent token so external agent workers can retrieve it
		if err := m.deps.Store.UpdateSessionToken(ctx, ag.sessionID, token); err != nil {
			log.Warn("persist agent token", zap.Error(err))
		}
		ag.room = livekitclient.NewRoomClient(url, token, call.Room, ag.sessionID, ag.call, livekitclient.Options{
			Logger:            log,
			OnParticipantLeft: func(string) { m.stopAsync(callID) },
		})
	}

	_ = m.deps.Store.UpdateSessionStatus(ctx, ag.sessionID, "active")
	_ = m.deps.Store.UpdateCallStatus(ctx, callID, store.CallActive)
	m.agents[callID] = ag
	metrics.ActiveAgents.Inc()
	log.Info("agent spawned", zap.String("session_id", ag.sessionID))

	if ag.room != nil {
		go m.join(ag, log)
	}
	return ag.sessionID, token, nil
}

func (m *AgentManager) newCallAgent(callID string, bc booking.BusinessContext, log *zap.Logger) (*agents.CallAgent, error) {
	ctrl, err := booking.New(bc, m.deps.Scheduler,
		booking.WithLogger(log),
		booking.WithBookingConfig(m.deps.Config.Booking))
	if err != nil {
		return nil, err
	}
	sess, err := dialog.New(bc.Name, m.deps.LLM, tools.NewDispatcher(ctrl),
		dialog.WithLogger(log),
		dialog.WithToolObserver(m.recordTool(callID, log)))
	if err != nil {
		return nil, err
	}
	return agents.New(m.deps.TTS, m.deps.STT, sess, log)
}

// join connects the room client and greets the caller.
func (m *AgentManager) join(ag *agent, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ag.room.Connect(ctx); err != nil {
		metrics.CallSetupFailures.WithLabelValues("room_connect").Inc()
		log.Error("connect agent to room", zap.Error(err))
		m.stopAsync(ag.callID)
		return
	}
	greet, err := ag.call.Greet(ctx)
	if err != nil {
		log.Warn("greeting", zap.Error(err))
		return
	}
	if err := ag.room.Publish(greet.Audio); err != nil {
		log.Warn("publish greeting", zap.Error(err))
	}
}

// recordTool persists every tool call the model makes during callID.
func (m *AgentManager) recordTool(callID string, log *zap.Logger) dialog.ToolObserver {
	return func(ctx context.Context, call tools.Call, res tools.Result) {
		outcome := "ok"
		if res.Err != nil {
			outcome = "rejected"
		}
		inv := store.ToolInvocation{
			CallID:    callID,
			Tool:      res.Name,
			Arguments: string(call.Arguments),
			Output:    res.Output,
			Outcome:   outcome,
		}
		if err := m.deps.Store.RecordToolInvocation(context.WithoutCancel(ctx), inv); err != nil {
			log.Warn("record tool invocation", zap.Error(err))
		}
	}
}

func (m *AgentManager) stopAsync(callID string) {
	go func() {
		if err := m.StopAgent(context.Background(), callID); err != nil && !errors.Is(err, ErrNoAgent) {
			m.log.Warn("stop agent", zap.String("call_id", callID), zap.Error(err))
		}
	}()
}

// StopAgent stops the agent for the given call and marks it and the call ended.
func (m *AgentManager) StopAgent(ctx context.Context, callID string) error {
	m.mu.Lock()
	ag, ok := m.agents[callID]
	delete(m.agents, callID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrNoAgent, callID)
	}
	metrics.ActiveAgents.Dec()

	var errs []error
	if ag.room != nil {
		if err := ag.room.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.deps.Store.UpdateSessionStatus(ctx, ag.sessionID, "ended"); err != nil {
		errs = append(errs, err)
	}
	if err := m.deps.Store.UpdateCallStatus(ctx, callID, store.CallEnded); err != nil {
		errs = append(errs, err)
	}
	m.log.Info("agent stopped", zap.String("call_id", callID))
	return errors.Join(errs...)
}

// StopAll stops every agent; used on shutdown.
func (m *AgentManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.StopAgent(ctx, id); err != nil && !errors.Is(err, ErrNoAgent) {
			m.log.Warn("stop agent", zap.String("call_id", id), zap.Error(err))
		}
	}
}

// Active reports whether callID has an agent attached.
func (m *AgentManager) Active(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.agents[callID]
	return ok
}

// ProcessIncomingAudio accepts raw audio bytes for any session of a call (from an external agent
// worker or media pipeline) and runs STT -> dialog -> TTS with that call's agent.
func (m *AgentManager) ProcessIncomingAudio(ctx context.Context, sessionID string, audio []byte) (agents.Turn, error) {
	ag, err := m.agentForSession(ctx, sessionID)
	if err != nil {
		return agents.Turn{}, err
	}
	return ag.call.Turn(ctx, audio)
}

// Greet returns the opening line for the call a session belongs to.
func (m *AgentManager) Greet(ctx context.Context, sessionID string) (agents.Turn, error) {
	ag, err := m.agentForSession(ctx, sessionID)
	if err != nil {
		return agents.Turn{}, err
	}
	return ag.call.Greet(ctx)
}

// Tools returns a dispatcher bound to the business of callID, for direct tool calls.
func (m *AgentManager) Tools(ctx context.Context, callID string) (*tools.Dispatcher, error) {
	m.mu.Lock()
	ag, ok := m.agents[callID]
	m.mu.Unlock()

	var bc booking.BusinessContext
	if ok {
		bc = ag.business
	} else {
		call, err := m.deps.Store.GetCall(ctx, callID)
		if err != nil {
			return nil, err
		}
		bc = booking.BusinessContext{ID: call.BusinessID, Name: call.BusinessName}
	}
	ctrl, err := booking.New(bc, m.deps.Scheduler,
		booking.WithLogger(m.log.With(zap.String("call_id", callID))),
		booking.WithBookingConfig(m.deps.Config.Booking))
	if err != nil {
		return nil, err
	}
	return tools.NewDispatcher(ctrl), nil
}

// RecordTool stores a tool call made outside the dialog, e.g. through the HTTP tool endpoint.
func (m *AgentManager) RecordTool(ctx context.Context, callID string, call tools.Call, res tools.Result) {
	m.recordTool(callID, m.log)(ctx, call, res)
}

func (m *AgentManager) agentForSession(ctx context.Context, sessionID string) (*agent, error) {
	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agents[sess.CallID]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoAgent, sess.CallID)
	}
	return ag, nil
}
