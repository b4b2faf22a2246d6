package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacky-htg/ai-booking-agent/libs/config"
)

const (
	defaultBaseURL = "https://elevoi.vercel.app"
	defaultTimeout = 10 * time.Second

	availabilityPath = "/api/voice-agent/availability"
	bookPath         = "/api/voice-agent/book"

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
)

// Client talks to the scheduling backend. It is safe for concurrent use and holds no
// per-call state; one instance is shared by every call's controller.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is kept as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// New returns a client for the backend described by cfg. An empty API key is sent as-is;
// the backend decides whether the call is authorised.
func New(cfg config.SchedulingConfig, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryAvailability asks which slots of durationMinutes are open on date (YYYY-MM-DD).
// Transport failures and non-2xx answers come back as KindBackendUnavailable.
func (c *Client) QueryAvailability(ctx context.Context, businessID, date string, durationMinutes int) (AvailabilityResult, error) {
	q := url.Values{}
	q.Set("businessId", businessID)
	q.Set("date", date)
	q.Set("duration", strconv.Itoa(durationMinutes))

	req, err := c.newRequest(ctx, http.MethodGet, availabilityPath+"?"+q.Encode(), nil)
	if err != nil {
		return AvailabilityResult{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return AvailabilityResult{}, &Error{Kind: KindBackendUnavailable, Err: fmt.Errorf("get availability: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return AvailabilityResult{}, &Error{Kind: KindBackendUnavailable, Status: resp.StatusCode}
	}

	var out AvailabilityResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AvailabilityResult{}, &Error{Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode availability: %w", err)}
	}
	return out, nil
}

type bookingResponse struct {
	ID      string `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// CreateBooking places one booking. Only HTTP 201 counts as success; any other status is
// classified from the backend's code and message.
func (c *Client) CreateBooking(ctx context.Context, p BookingPayload) (BookingResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return BookingResult{}, &Error{Kind: KindInvalidInput, Err: fmt.Errorf("marshal booking: %w", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, bookPath, bytes.NewReader(body))
	if err != nil {
		return BookingResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return BookingResult{}, &Error{Kind: KindBackendUnavailable, Err: fmt.Errorf("post booking: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return BookingResult{}, &Error{Kind: KindBackendUnavailable, Status: resp.StatusCode, Err: fmt.Errorf("read booking response: %w", err)}
	}

	var br bookingResponse
	// Bodies are optional on both paths; a non-JSON body just carries no detail.
	_ = json.Unmarshal(raw, &br)

	if resp.StatusCode == http.StatusCreated {
		return BookingResult{Success: true, BookingID: br.ID}, nil
	}

	detail := br.Error
	if detail == "" {
		detail = br.Message
	}
	return BookingResult{}, &Error{
		Kind:   classifyBooking(resp.StatusCode, br.Code, detail),
		Status: resp.StatusCode,
		Detail: detail,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}
