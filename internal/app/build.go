package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/brain"
	"github.com/simsketch/avilonai.com/internal/config"
	"github.com/simsketch/avilonai.com/internal/conversation"
	"github.com/simsketch/avilonai.com/internal/httpapi"
	"github.com/simsketch/avilonai.com/internal/observability"
	"github.com/simsketch/avilonai.com/internal/render"
	"github.com/simsketch/avilonai.com/internal/room"
	"github.com/simsketch/avilonai.com/internal/session"
	"github.com/simsketch/avilonai.com/internal/store"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Controller *conversation.Controller
	Rooms      *room.Registry
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
	Voice      VoiceInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "avilon").Logger()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	turnStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	generator, err := brain.NewGenerator(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
		APIKey:  cfg.BrainAPIKey,
		Model:   cfg.BrainModel,
	})
	if err != nil {
		_ = turnStore.Close()
		return nil, fmt.Errorf("reply generator init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = turnStore.Close()
		return nil, err
	}
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	var rooms *room.Registry
	if strings.TrimSpace(cfg.RoomAPIKey) != "" {
		connector := room.NewConnector(cfg.RoomAPIBaseURL, cfg.RoomAPIKey, cfg.RoomExpiry, true)
		rooms = room.NewRegistry(connector, logger)
	}

	var clipRenderer render.Renderer
	var faces httpapi.FaceCreator
	if strings.TrimSpace(cfg.ClipAPIKey) != "" && strings.TrimSpace(cfg.ClipAPIBaseURL) != "" {
		jobs := render.NewHTTPJobClient(cfg.ClipAPIBaseURL, cfg.ClipAPIKey)
		faces = jobs
		clipRenderer = render.NewClipRenderer(jobs, render.ClipConfig{
			FaceID:       cfg.DefaultFaceID,
			PollInterval: cfg.ClipPollInterval,
			Timeout:      cfg.ClipTimeout,
			CancelGrace:  cfg.ClipCancelGrace,
		}, logger)
	}
	renderers := render.NewSelector(
		clipRenderer,
		render.NewRoomRenderer(logger),
		render.NewAvatarRenderer(logger),
	)

	defaultAvatar, err := render.ParseAvatarType(cfg.DefaultAvatarType)
	if err != nil {
		_ = turnStore.Close()
		return nil, err
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, defaultAvatar)

	controller := conversation.NewController(
		sessions,
		turnStore,
		generator,
		voiceSetup.synthesizer,
		voiceSetup.sttProvider,
		renderers,
		rooms,
		metrics,
		conversation.Config{
			GenerationTimeout:  cfg.GenerationTimeout,
			ConversationWindow: cfg.ConversationWindow,
			MinConfidence:      cfg.TranscriberMinConfidence,
			CrisisCooldown:     cfg.CrisisCooldown,
			DefaultVoiceID:     cfg.VoiceStockVoiceID,
		},
		logger,
	)

	if rooms != nil {
		// When the bot participant drops out of a media room the session has
		// no way to deliver replies, so end it rather than leave it idling.
		rooms.SetBotLeftHook(func(sessionID string) {
			metrics.SessionEvents.WithLabelValues("bot_left").Inc()
			_, _ = sessions.End(sessionID)
			controller.ReleaseSession(sessionID)
			metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		})
	}

	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		if rooms != nil {
			rooms.Disconnect(s.ID, true)
		}
		controller.ReleaseSession(s.ID)
	})

	api := httpapi.New(cfg, sessions, controller, rooms, voiceSetup.cloneClient, faces, metrics)

	cleanup := func() error {
		if rooms != nil {
			rooms.DisconnectAll()
		}
		return turnStore.Close()
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Controller: controller,
		Rooms:      rooms,
		Metrics:    metrics,
		Logger:     logger,
		Voice: VoiceInfo{
			Provider: cfg.VoiceProvider,
			Detail:   voiceSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
