package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Identity policies applied when a booking arrives without caller name or phone.
const (
	IdentityRequire     = "require"
	IdentityPlaceholder = "placeholder"
)

// Config contains runtime configuration and vendor selection.
type Config struct {
	// Vendor keys: e.g., "whisper", "piper", "ollama", "livekit"
	TTSVendor    string `json:"tts_vendor"`
	STTVendor    string `json:"stt_vendor"`
	LLMVendor    string `json:"llm_vendor"`
	WebRTCVendor string `json:"webrtc_vendor"`

	// Generic map for vendor-specific settings
	VendorSettings map[string]map[string]string `json:"vendor_settings"`

	Scheduling SchedulingConfig `json:"scheduling"`
	Booking    BookingConfig    `json:"booking"`

	DatabasePath string `json:"database_path"`
	HTTPPort     string `json:"http_port"`
	LogLevel     string `json:"log_level"`
	// TokenEndpointSecret protects GET /sessions/{id}/token when set.
	TokenEndpointSecret string `json:"-"`
}

// SchedulingConfig is handed to the scheduling client at construction.
type SchedulingConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// BookingConfig tunes the booking dialog controller.
type BookingConfig struct {
	IdentityPolicy  string `json:"identity_policy"`
	PlaceholderName string `json:"placeholder_name"`
	DefaultDuration int    `json:"default_duration"`
}

// LoadFromEnv constructs a Config reading from environment variables, falling back to a
// .env file in the working directory. Supported env vars:
//
//	ELEVOI_API_URL, ELEVOI_API_KEY, ELEVOI_API_TIMEOUT
//	BOOKING_IDENTITY_POLICY, BOOKING_PLACEHOLDER_NAME, BOOKING_DEFAULT_DURATION
//	TTS_VENDOR, STT_VENDOR, LLM_VENDOR, WEBRTC_VENDOR
//	WHISPER_ENDPOINT, WHISPER_LANGUAGE, PIPER_ENDPOINT, OLLAMA_ENDPOINT, OLLAMA_MODEL
//	LIVEKIT_URL, LIVEKIT_API_KEY, LIVEKIT_API_SECRET
//	DATABASE_PATH, HTTP_PORT, LOG_LEVEL, AGENT_TOKEN_ENDPOINT_SECRET
func LoadFromEnv() *Config {
	cfg := &Config{
		TTSVendor:      getEnv("TTS_VENDOR", "piper"),
		STTVendor:      getEnv("STT_VENDOR", "whisper"),
		LLMVendor:      getEnv("LLM_VENDOR", "ollama"),
		WebRTCVendor:   getEnv("WEBRTC_VENDOR", "livekit"),
		VendorSettings: make(map[string]map[string]string),
		Scheduling: SchedulingConfig{
			BaseURL: getEnv("ELEVOI_API_URL", "https://elevoi.vercel.app"),
			APIKey:  getEnv("ELEVOI_API_KEY", ""),
			Timeout: getEnvDuration("ELEVOI_API_TIMEOUT", 10*time.Second),
		},
		Booking: BookingConfig{
			IdentityPolicy:  getEnv("BOOKING_IDENTITY_POLICY", IdentityRequire),
			PlaceholderName: getEnv("BOOKING_PLACEHOLDER_NAME", "Unknown"),
			DefaultDuration: getEnvInt("BOOKING_DEFAULT_DURATION", 30),
		},
		DatabasePath:        getEnv("DATABASE_PATH", "data/ai.callcenter.db"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		TokenEndpointSecret: getEnv("AGENT_TOKEN_ENDPOINT_SECRET", ""),
	}

	cfg.setVendor("whisper", "endpoint", "WHISPER_ENDPOINT")
	cfg.setVendor("whisper", "language", "WHISPER_LANGUAGE")
	cfg.setVendor("piper", "endpoint", "PIPER_ENDPOINT")
	cfg.setVendor("ollama", "endpoint", "OLLAMA_ENDPOINT")
	cfg.setVendor("ollama", "model", "OLLAMA_MODEL")
	cfg.setVendor("livekit", "url", "LIVEKIT_URL")
	cfg.setVendor("livekit", "api_key", "LIVEKIT_API_KEY")
	cfg.setVendor("livekit", "api_secret", "LIVEKIT_API_SECRET")

	return cfg
}

// Vendor returns a vendor setting or "" when unset.
func (c *Config) Vendor(vendor, key string) string {
	if c == nil || c.VendorSettings == nil {
		return ""
	}
	return c.VendorSettings[vendor][key]
}

func (c *Config) setVendor(vendor, key, env string) {
	v := getEnv(env, "")
	if v == "" {
		return
	}
	if c.VendorSettings == nil {
		c.VendorSettings = make(map[string]map[string]string)
	}
	if _, ok := c.VendorSettings[vendor]; !ok {
		c.VendorSettings[vendor] = make(map[string]string)
	}
	c.VendorSettings[vendor][key] = v
}

// Validate reports settings the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduling.BaseURL == "" {
		errs = append(errs, errors.New("ELEVOI_API_URL is empty"))
	}
	if c.Scheduling.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ELEVOI_API_TIMEOUT must be positive, got %s", c.Scheduling.Timeout))
	}
	switch c.Booking.IdentityPolicy {
	case IdentityRequire, IdentityPlaceholder:
	default:
		errs = append(errs, fmt.Errorf("unknown BOOKING_IDENTITY_POLICY %q", c.Booking.IdentityPolicy))
	}
	if c.Booking.DefaultDuration <= 0 {
		errs = append(errs, fmt.Errorf("BOOKING_DEFAULT_DURATION must be positive, got %d", c.Booking.DefaultDuration))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	v := ""
	if val, ok := lookupEnv(key); ok {
		v = val
	} else {
		// fallback to .env file if present
		loadDotEnvOnce.Do(loadDotEnv)
		if val2, ok := dotEnv[key]; ok {
			v = val2
		}
	}
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// lookupEnv is a thin wrapper over os.LookupEnv so tests can replace it if needed.
var lookupEnv = func(key string) (string, bool) { return os.LookupEnv(key) }

var (
	dotEnv         map[string]string
	dotEnvPath     = ".env"
	loadDotEnvOnce sync.Once
)

// loadDotEnv reads .env from the working directory without touching the process environment.
func loadDotEnv() {
	m, err := godotenv.Read(dotEnvPath)
	if err != nil {
		// no .env present - nothing to do
		return
	}
	dotEnv = m
}
