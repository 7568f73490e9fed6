package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the conversation service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	BrainMode          string
	BrainHTTPURL       string
	BrainAPIKey        string
	BrainModel         string
	GenerationTimeout  time.Duration
	ConversationWindow int

	VoiceProvider     string
	VoiceAPIKey       string
	VoiceBaseURL      string
	VoiceStockVoiceID string
	VoiceOutputFormat string
	VoiceSampleRate   int

	TranscriberAPIKey        string
	TranscriberBaseURL       string
	TranscriberModel         string
	TranscriberMinConfidence float64

	RoomAPIKey     string
	RoomAPIBaseURL string
	RoomDomain     string
	RoomExpiry     time.Duration

	ClipAPIKey       string
	ClipAPIBaseURL   string
	ClipPollInterval time.Duration
	ClipTimeout      time.Duration
	ClipCancelGrace  time.Duration

	DefaultAvatarType string
	DefaultFaceID     string

	CrisisCooldown time.Duration

	DatabaseURL string
}

// Load reads .env (when present) and environment variables, applying safe
// defaults and validating the result.
func Load() (Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "avilon"),
		AllowAnyOrigin:           false,
		BrainMode:                envOrDefault("BRAIN_ADAPTER_MODE", "auto"),
		BrainHTTPURL:             stringsTrimSpace("BRAIN_HTTP_URL"),
		BrainAPIKey:              stringsTrimSpace("BRAIN_API_KEY"),
		BrainModel:               envOrDefault("BRAIN_MODEL", "gpt-4o-mini"),
		GenerationTimeout:        45 * time.Second,
		ConversationWindow:       10,
		VoiceProvider:            envOrDefault("VOICE_PROVIDER", "auto"),
		VoiceAPIKey:              stringsTrimSpace("VOICE_API_KEY"),
		VoiceBaseURL:             envOrDefault("VOICE_BASE_URL", "https://api.cartesia.ai"),
		VoiceStockVoiceID:        envOrDefault("VOICE_STOCK_VOICE_ID", "79a125e8-cd45-4c13-8a67-188112f4dd22"),
		VoiceOutputFormat:        envOrDefault("VOICE_OUTPUT_FORMAT", "pcm_s16le"),
		VoiceSampleRate:          16000,
		TranscriberAPIKey:        stringsTrimSpace("TRANSCRIBER_API_KEY"),
		TranscriberBaseURL:       envOrDefault("TRANSCRIBER_BASE_URL", "wss://api.deepgram.com"),
		TranscriberModel:         envOrDefault("TRANSCRIBER_MODEL", "nova-2"),
		TranscriberMinConfidence: 0.5,
		RoomAPIKey:               stringsTrimSpace("ROOM_API_KEY"),
		RoomAPIBaseURL:           envOrDefault("ROOM_API_BASE_URL", "https://api.daily.co/v1"),
		RoomDomain:               stringsTrimSpace("ROOM_DOMAIN"),
		RoomExpiry:               time.Hour,
		ClipAPIKey:               stringsTrimSpace("CLIP_API_KEY"),
		ClipAPIBaseURL:           envOrDefault("CLIP_API_BASE_URL", ""),
		ClipPollInterval:         500 * time.Millisecond,
		ClipTimeout:              120 * time.Second,
		ClipCancelGrace:          60 * time.Second,
		DefaultAvatarType:        envOrDefault("DEFAULT_AVATAR_TYPE", "clientAvatar"),
		DefaultFaceID:            stringsTrimSpace("DEFAULT_FACE_ID"),
		CrisisCooldown:           60 * time.Second,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("BRAIN_GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationWindow, err = intFromEnv("BRAIN_CONVERSATION_WINDOW", cfg.ConversationWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceSampleRate, err = intFromEnv("VOICE_SAMPLE_RATE", cfg.VoiceSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriberMinConfidence, err = floatFromEnv("TRANSCRIBER_MIN_CONFIDENCE", cfg.TranscriberMinConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.RoomExpiry, err = durationFromEnv("ROOM_EXPIRY", cfg.RoomExpiry)
	if err != nil {
		return Config{}, err
	}
	cfg.ClipPollInterval, err = durationFromEnv("CLIP_POLL_INTERVAL", cfg.ClipPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ClipTimeout, err = durationFromEnv("CLIP_TIMEOUT", cfg.ClipTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ClipCancelGrace, err = durationFromEnv("CLIP_CANCEL_GRACE", cfg.ClipCancelGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.CrisisCooldown, err = durationFromEnv("CRISIS_RESPONSE_COOLDOWN", cfg.CrisisCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_GENERATION_TIMEOUT must be positive")
	}
	if cfg.ConversationWindow <= 0 {
		return Config{}, fmt.Errorf("BRAIN_CONVERSATION_WINDOW must be positive")
	}
	if cfg.VoiceSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_SAMPLE_RATE must be positive")
	}
	if cfg.TranscriberMinConfidence < 0 || cfg.TranscriberMinConfidence > 1 {
		return Config{}, fmt.Errorf("TRANSCRIBER_MIN_CONFIDENCE must be in [0,1]")
	}
	if cfg.ClipPollInterval < 500*time.Millisecond {
		return Config{}, fmt.Errorf("CLIP_POLL_INTERVAL must be at least 500ms")
	}
	switch cfg.DefaultAvatarType {
	case "clip", "room", "clientAvatar":
	default:
		return Config{}, fmt.Errorf("DEFAULT_AVATAR_TYPE must be clip, room or clientAvatar")
	}

	return cfg, nil
}

// Missing reports required settings that are absent, named by the environment
// variables operators set them with. Clip keys only count when the clip avatar
// is the default presentation path.
func (c Config) Missing() []string {
	var missing []string
	if c.RoomAPIKey == "" {
		missing = append(missing, "ROOM_API_KEY")
	}
	if c.TranscriberAPIKey == "" {
		missing = append(missing, "TRANSCRIBER_API_KEY")
	}
	if c.BrainAPIKey == "" {
		missing = append(missing, "BRAIN_API_KEY")
	}
	if c.VoiceAPIKey == "" {
		missing = append(missing, "VOICE_API_KEY")
	}
	if c.DefaultAvatarType == "clip" {
		if c.ClipAPIKey == "" {
			missing = append(missing, "CLIP_API_KEY")
		}
		if c.ClipAPIBaseURL == "" {
			missing = append(missing, "CLIP_API_BASE_URL")
		}
		if c.DefaultFaceID == "" {
			missing = append(missing, "DEFAULT_FACE_ID")
		}
	}
	return missing
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
