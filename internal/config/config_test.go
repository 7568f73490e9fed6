package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BrainMode != "auto" {
		t.Fatalf("BrainMode = %q, want %q", cfg.BrainMode, "auto")
	}
	if cfg.BrainHTTPURL != "" {
		t.Fatalf("BrainHTTPURL = %q, want empty default", cfg.BrainHTTPURL)
	}
	if cfg.GenerationTimeout != 45*time.Second {
		t.Fatalf("GenerationTimeout = %v, want 45s", cfg.GenerationTimeout)
	}
	if cfg.ClipPollInterval != 500*time.Millisecond {
		t.Fatalf("ClipPollInterval = %v, want 500ms", cfg.ClipPollInterval)
	}
	if cfg.CrisisCooldown != 60*time.Second {
		t.Fatalf("CrisisCooldown = %v, want 60s", cfg.CrisisCooldown)
	}
	if cfg.DefaultAvatarType != "clientAvatar" {
		t.Fatalf("DefaultAvatarType = %q, want clientAvatar", cfg.DefaultAvatarType)
	}
}

func TestLoadUsesExplicitBrainHTTPURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("BRAIN_HTTP_URL", "http://localhost:7777/v1/chat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrainHTTPURL != "http://localhost:7777/v1/chat" {
		t.Fatalf("BrainHTTPURL = %q, want explicit value", cfg.BrainHTTPURL)
	}
}

func TestLoadRejectsFastClipPolling(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CLIP_POLL_INTERVAL", "100ms")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for sub-500ms poll interval")
	}
}

func TestLoadRejectsUnknownAvatarType(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DEFAULT_AVATAR_TYPE", "hologram")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown avatar type")
	}
}

func TestLoadRejectsOutOfRangeConfidence(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TRANSCRIBER_MIN_CONFIDENCE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for confidence above 1")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"BRAIN_ADAPTER_MODE",
		"BRAIN_HTTP_URL",
		"BRAIN_API_KEY",
		"BRAIN_MODEL",
		"BRAIN_GENERATION_TIMEOUT",
		"BRAIN_CONVERSATION_WINDOW",
		"VOICE_PROVIDER",
		"VOICE_API_KEY",
		"VOICE_BASE_URL",
		"VOICE_STOCK_VOICE_ID",
		"VOICE_OUTPUT_FORMAT",
		"VOICE_SAMPLE_RATE",
		"TRANSCRIBER_MIN_CONFIDENCE",
		"ROOM_API_KEY",
		"ROOM_API_BASE_URL",
		"ROOM_DOMAIN",
		"ROOM_EXPIRY",
		"CLIP_API_KEY",
		"CLIP_API_BASE_URL",
		"CLIP_POLL_INTERVAL",
		"CLIP_TIMEOUT",
		"CLIP_CANCEL_GRACE",
		"DEFAULT_AVATAR_TYPE",
		"DEFAULT_FACE_ID",
		"CRISIS_RESPONSE_COOLDOWN",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
