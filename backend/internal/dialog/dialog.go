// Package dialog runs one caller conversation: it keeps the chat history, asks the LLM for the
// next reply and executes booking tools the model requests.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/tools"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

const (
	defaultMaxHistory  = 20
	defaultTemperature = 0.7

	// Spoken when the model cannot be reached.
	troubleReply = "I'm sorry, I'm having trouble right now. Let me transfer you to our staff."
)

// ToolObserver is notified after every tool call the model makes.
type ToolObserver func(ctx context.Context, call tools.Call, res tools.Result)

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = logging.OrNop(l) }
}

// WithMaxHistory bounds the number of non-system messages kept for the model.
func WithMaxHistory(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

func WithToolObserver(o ToolObserver) Option {
	return func(s *Session) { s.observer = o }
}

// WithClock is used by tests to pin the date given to the model.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is safe for concurrent use; turns are serialized.
type Session struct {
	business   string
	llm        interfaces.LLM
	tools      *tools.Dispatcher
	log        *zap.Logger
	maxHistory int
	observer   ToolObserver
	now        func() time.Time

	mu      sync.Mutex
	history []interfaces.Message
}

func New(businessName string, llm interfaces.LLM, d *tools.Dispatcher, opts ...Option) (*Session, error) {
	if llm == nil {
		return nil, fmt.Errorf("dialog: llm is required")
	}
	if d == nil {
		return nil, fmt.Errorf("dialog: tool dispatcher is required")
	}
	s := &Session{
		business:   strings.TrimSpace(businessName),
		llm:        llm,
		tools:      d,
		log:        zap.NewNop(),
		maxHistory: defaultMaxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.business == "" {
		s.business = "our business"
	}
	return s, nil
}

// Greeting is the first sentence spoken when the caller connects.
func (s *Session) Greeting() string {
	g := fmt.Sprintf("Hello! Thank you for calling %s. How can I help you today?", s.business)
	s.mu.Lock()
	s.appendLocked(interfaces.Message{Role: "assistant", Content: g})
	s.mu.Unlock()
	return g
}

// Respond returns the sentence to speak for one caller utterance. The reply is always speakable;
// a non-nil error only reports what went wrong.
func (s *Session) Respond(ctx context.Context, utterance string) (string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(interfaces.Message{Role: "user", Content: utterance})
	msgs := make([]interfaces.Message, 0, len(s.history)+1)
	msgs = append(msgs, interfaces.Message{Role: "system", Content: SystemPrompt(s.business, s.tools.Definitions(), s.now())})
	msgs = append(msgs, s.history...)

	out, err := s.llm.Chat(ctx, msgs, interfaces.WithTemperature(defaultTemperature))
	if err != nil {
		s.log.Error("llm chat failed", zap.Error(err))
		return troubleReply, fmt.Errorf("llm chat: %w", err)
	}
	out = strings.TrimSpace(out)

	call, ok := ParseToolCall(out)
	if !ok {
		s.appendLocked(interfaces.Message{Role: "assistant", Content: out})
		return out, nil
	}

	res := s.tools.Dispatch(ctx, call)
	if res.Err != nil {
		s.log.Warn("tool call rejected", zap.String("tool", res.Name), zap.Error(res.Err))
	} else {
		s.log.Info("tool call", zap.String("tool", res.Name))
	}
	if s.observer != nil {
		s.observer(ctx, call, res)
	}
	s.appendLocked(
		interfaces.Message{Role: "assistant", Content: out},
		interfaces.Message{Role: "tool", Content: res.Output},
	)
	return res.Output, nil
}

// History returns a copy of the non-system messages.
func (s *Session) History() []interfaces.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.Message(nil), s.history...)
}

func (s *Session) appendLocked(m ...interfaces.Message) {
	s.history = append(s.history, m...)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append([]interfaces.Message(nil), s.history[over:]...)
	}
}

// ParseToolCall recognizes a reply of the form {"tool":"name","arguments":{...}}, optionally
// wrapped in a markdown code fence.
func ParseToolCall(reply string) (tools.Call, bool) {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return tools.Call{}, false
	}
	var call tools.Call
	if err := json.Unmarshal([]byte(s), &call); err != nil || strings.TrimSpace(call.Name) == "" {
		return tools.Call{}, false
	}
	return call, true
}

// SystemPrompt instructs the model for one business and lists the tools it may call.
func SystemPrompt(business string, defs []tools.Definition, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly, professional appointment booking assistant for %s. ", business)
	b.WriteString("Your job is to help customers book appointments quickly and efficiently.\n\n")
	b.WriteString("Follow these steps:\n")
	b.WriteString("1. Greet the customer warmly\n")
	b.WriteString("2. Ask what service they need\n")
	b.WriteString("3. Ask for their preferred date and time\n")
	b.WriteString("4. Check availability using the check_availability tool\n")
	b.WriteString("5. If available, collect their name and phone number and book using the book_appointment tool\n")
	b.WriteString("6. If not available, suggest alternative times\n")
	b.WriteString("7. Confirm all details before ending the call\n\n")
	b.WriteString("Be conversational, friendly, and efficient. Keep responses concise.\n\n")
	b.WriteString("Important:\n")
	b.WriteString("- Always confirm details before booking\n")
	b.WriteString("- If you can't help, offer to transfer to a staff member\n")
	b.WriteString("- Use natural, conversational language\n")
	b.WriteString("- Don't repeat yourself\n\n")
	fmt.Fprintf(&b, "Today's date is %s.\n\n", today.Format("2006-01-02 (Monday)"))
	b.WriteString("To use a tool, reply with only a JSON object like ")
	b.WriteString(`{"tool":"check_availability","arguments":{"date":"2024-06-01"}}`)
	b.WriteString(" and nothing else. Available tools:\n")
	for _, d := range defs {
		params, _ := json.Marshal(d.Parameters)
		fmt.Fprintf(&b, "- %s: %s Parameters: %s\n", d.Name, d.Description, params)
	}
	return b.String()
}
