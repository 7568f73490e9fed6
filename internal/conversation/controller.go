package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/brain"
	"github.com/simsketch/avilonai.com/internal/caption"
	"github.com/simsketch/avilonai.com/internal/crisis"
	"github.com/simsketch/avilonai.com/internal/observability"
	"github.com/simsketch/avilonai.com/internal/policy"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/render"
	"github.com/simsketch/avilonai.com/internal/room"
	"github.com/simsketch/avilonai.com/internal/session"
	"github.com/simsketch/avilonai.com/internal/store"
	"github.com/simsketch/avilonai.com/internal/voice"
)

var (
	// ErrInputRejected marks an utterance the pipeline refuses to process.
	ErrInputRejected = errors.New("input rejected")
	// ErrPersistenceFailed marks a save failure. Turns still complete; the
	// error only surfaces in logs and metrics.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// crisisCooldownReply replaces the full safety text when the same session
// trips the filter again inside the cooldown window.
const crisisCooldownReply = "I'm still here with you. Please reach out to one of the crisis resources I shared. If you're in immediate danger, call 988."

// askRepeatReply is spoken when a committed transcript falls below the
// confidence floor.
const askRepeatReply = "I'm sorry, I didn't quite catch that. Could you say it again?"

// Config carries the per-turn budgets and thresholds.
type Config struct {
	GenerationTimeout  time.Duration
	ConversationWindow int
	MinConfidence      float64
	CrisisCooldown     time.Duration
	DefaultVoiceID     string
}

// TurnResult reports what one processed turn produced.
type TurnResult struct {
	TurnID    string
	ReplyText string
	Crisis    bool
	AudioRef  string
	VideoRef  string
}

// Controller runs the conversation pipeline for every session: crisis
// filtering, reply generation, speech synthesis and the selected render
// strategy, with turn history persisted around it.
type Controller struct {
	sessions  *session.Manager
	turns     store.Store
	generator brain.Generator
	synth     voice.Synthesizer
	stt       voice.STTProvider
	renderers *render.Selector
	rooms     *room.Registry
	metrics   *observability.Metrics
	cfg       Config
	log       zerolog.Logger

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	lastCrisisAt map[string]time.Time
	captions     map[string]*caption.Buffer
	roomSinks    map[string]*render.BufferedSink
}

func NewController(
	sessions *session.Manager,
	turns store.Store,
	generator brain.Generator,
	synth voice.Synthesizer,
	stt voice.STTProvider,
	renderers *render.Selector,
	rooms *room.Registry,
	metrics *observability.Metrics,
	cfg Config,
	log zerolog.Logger,
) *Controller {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 45 * time.Second
	}
	if cfg.ConversationWindow <= 0 {
		cfg.ConversationWindow = 10
	}
	if cfg.CrisisCooldown <= 0 {
		cfg.CrisisCooldown = crisis.ResponseCooldown
	}
	return &Controller{
		sessions:     sessions,
		turns:        turns,
		generator:    generator,
		synth:        synth,
		stt:          stt,
		renderers:    renderers,
		rooms:        rooms,
		metrics:      metrics,
		cfg:          cfg,
		log:          log,
		sessionLocks: make(map[string]*sync.Mutex),
		lastCrisisAt: make(map[string]time.Time),
		captions:     make(map[string]*caption.Buffer),
		roomSinks:    make(map[string]*render.BufferedSink),
	}
}

// captionsFor returns the session's caption buffer, creating it on first use.
// Buffers are per session so concurrent conversations never interleave.
func (c *Controller) captionsFor(sessionID string) *caption.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.captions[sessionID]
	if !ok {
		buf = caption.NewBuffer(caption.DefaultLimit)
		c.captions[sessionID] = buf
	}
	return buf
}

// Captions returns the session's caption history in arrival order.
func (c *Controller) Captions(sessionID string) []caption.Entry {
	return c.captionsFor(sessionID).Entries()
}

// roomSink buffers outbound render messages for room sessions until the live
// media connection is up, then flushes them in original order.
func (c *Controller) roomSink(s *session.Session, live render.Sink) render.Sink {
	if s.AvatarType != render.AvatarRoom || c.rooms == nil {
		return live
	}
	c.mu.Lock()
	buf, ok := c.roomSinks[s.ID]
	if !ok {
		buf = render.NewBufferedSink()
		c.roomSinks[s.ID] = buf
	}
	c.mu.Unlock()

	if conn, ok := c.rooms.Lookup(s.ID); ok && conn.State() == room.StateConnected {
		if err := buf.Attach(live); err != nil {
			c.log.Error().Err(err).Str("session_id", s.ID).Msg("room sink flush failed")
		}
	} else {
		buf.Detach()
	}
	return buf
}

func (c *Controller) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.sessionLocks[sessionID] = l
	}
	return l
}

// ReleaseSession drops per-session pipeline state once the session ends.
func (c *Controller) ReleaseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionLocks, sessionID)
	delete(c.lastCrisisAt, sessionID)
	delete(c.captions, sessionID)
	delete(c.roomSinks, sessionID)
}

// ProcessTurn runs one user utterance through the full pipeline and streams
// the result to sink. Turns within a session run strictly one at a time.
func (c *Controller) ProcessTurn(ctx context.Context, s *session.Session, inputText string, sink render.Sink) (TurnResult, error) {
	inputText = strings.TrimSpace(inputText)
	if inputText == "" {
		c.metrics.ObserveTurnOutcome("rejected")
		return TurnResult{}, fmt.Errorf("%w: empty input", ErrInputRejected)
	}

	lock := c.lockFor(s.ID)
	lock.Lock()
	defer lock.Unlock()

	turnID := uuid.NewString()
	startedAt := time.Now()
	_ = c.sessions.StartTurn(s.ID, turnID)
	defer func() {
		_ = c.sessions.Touch(s.ID)
	}()

	c.captionsFor(s.ID).Finalize(caption.SpeakerUser, inputText)

	if det := crisis.Detect(inputText); det.IsCrisis {
		return c.runCrisisTurn(ctx, s, turnID, inputText, det, sink)
	}

	return c.runAssistantTurn(ctx, s, turnID, inputText, startedAt, sink)
}

// runCrisisTurn delivers the canned safety response. It must never touch the
// reply generator, the synthesizer or a renderer.
func (c *Controller) runCrisisTurn(ctx context.Context, s *session.Session, turnID, inputText string, det crisis.Detection, sink render.Sink) (TurnResult, error) {
	c.metrics.CrisisIncidents.Inc()
	c.metrics.ObserveTurnIndicator("crisis_response")
	c.log.Warn().
		Str("session_id", s.ID).
		Strs("matched_keywords", det.MatchedKeywords).
		Msg("crisis keywords detected")

	incident := crisis.Incident{
		ID:              uuid.NewString(),
		UserID:          s.UserID,
		SessionID:       s.ID,
		Message:         inputText,
		MatchedKeywords: det.MatchedKeywords,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.turns.SaveIncident(ctx, incident); err != nil {
		// The safety response is delivered no matter what.
		c.log.Error().Err(err).Str("session_id", s.ID).Msg("crisis incident save failed")
	}

	replyText := crisis.SafetyResponse
	c.mu.Lock()
	last, seen := c.lastCrisisAt[s.ID]
	c.lastCrisisAt[s.ID] = time.Now()
	c.mu.Unlock()
	if seen && time.Since(last) < c.cfg.CrisisCooldown {
		replyText = crisisCooldownReply
	}

	c.saveTurnBestEffort(ctx, store.Turn{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      store.RoleUser,
		Text:      inputText,
		Crisis:    true,
	})
	c.saveTurnBestEffort(ctx, store.Turn{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      store.RoleAssistant,
		Text:      replyText,
		Crisis:    true,
	})

	c.captionsFor(s.ID).Finalize(caption.SpeakerBot, replyText)
	if err := sink.Send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: s.ID,
		Code:      "crisis_support",
	}); err != nil {
		return TurnResult{}, err
	}
	if err := sink.Send(protocol.Caption{
		Type:      protocol.TypeCaption,
		SessionID: s.ID,
		Speaker:   string(caption.SpeakerBot),
		Text:      replyText,
		IsFinal:   true,
	}); err != nil {
		return TurnResult{}, err
	}
	if err := sink.Send(protocol.BotResponseEnd{
		Type:      protocol.TypeBotResponseEnd,
		SessionID: s.ID,
		TurnID:    turnID,
	}); err != nil {
		return TurnResult{}, err
	}

	c.metrics.ObserveTurnOutcome("crisis")
	return TurnResult{TurnID: turnID, ReplyText: replyText, Crisis: true}, nil
}

func (c *Controller) runAssistantTurn(ctx context.Context, s *session.Session, turnID, inputText string, startedAt time.Time, sink render.Sink) (TurnResult, error) {
	history, err := c.recentHistory(ctx, s.ID)
	if err != nil {
		c.log.Error().Err(err).Str("session_id", s.ID).Msg("history load failed")
		history = nil
	}

	resp, err := brain.Generate(ctx, c.generator, brain.TurnRequest{
		UserID:      s.UserID,
		SessionID:   s.ID,
		TurnID:      turnID,
		InputText:   inputText,
		History:     history,
		SessionType: string(s.Type),
		MoodScore:   s.MoodScore,
		CBTExercise: s.CBTExercise,
	}, c.cfg.GenerationTimeout, nil)
	if err != nil {
		c.metrics.ObserveTurnOutcome("generation_failed")
		return TurnResult{}, err
	}
	replyText := voice.SanitizeSpeechText(resp.Text)
	c.metrics.ObserveTurnStage("commit_to_reply_text", time.Since(startedAt))

	voiceID := s.Avatar.VoiceID
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoiceID
	}
	synthStart := time.Now()
	pcm, sampleRate, err := c.synth.Synthesize(ctx, voiceID, replyText)
	if err != nil {
		c.metrics.ObserveTurnOutcome("synthesis_failed")
		return TurnResult{}, err
	}
	c.metrics.ObserveTurnStage("reply_to_audio_ready", time.Since(synthStart))

	renderer, err := c.renderers.For(s.AvatarType)
	if err != nil {
		c.metrics.ObserveTurnOutcome("render_failed")
		return TurnResult{}, err
	}
	capture := &captureSink{inner: c.roomSink(s, sink)}
	renderStart := time.Now()
	if err := renderer.Render(ctx, render.Utterance{
		SessionID:  s.ID,
		TurnID:     turnID,
		Text:       replyText,
		PCM:        pcm,
		SampleRate: sampleRate,
	}, capture); err != nil {
		c.metrics.ObserveTurnOutcome("render_failed")
		return TurnResult{}, err
	}
	c.metrics.ObserveTurnStage("audio_to_render_done", time.Since(renderStart))
	c.captionsFor(s.ID).Finalize(caption.SpeakerBot, replyText)

	// Synthesized audio is streamed, not stored; only the rendered clip has
	// a durable location to reference.
	result := TurnResult{
		TurnID:    turnID,
		ReplyText: replyText,
		VideoRef:  capture.videoURL,
	}

	c.saveTurnBestEffort(ctx, store.Turn{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      store.RoleUser,
		Text:      inputText,
	})
	c.saveTurnBestEffort(ctx, store.Turn{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      store.RoleAssistant,
		Text:      replyText,
		AudioRef:  result.AudioRef,
		VideoRef:  result.VideoRef,
	})

	c.metrics.ObserveTurnStage("turn_total", time.Since(startedAt))
	c.metrics.ObserveTurnOutcome("completed")
	return result, nil
}

// recentHistory returns the last conversation window as generator messages
// in chronological order. Crisis turns stay out of the window so the model
// never riffs on the canned safety text.
func (c *Controller) recentHistory(ctx context.Context, sessionID string) ([]brain.Message, error) {
	turns, err := c.turns.RecentTurns(ctx, sessionID, c.cfg.ConversationWindow)
	if err != nil {
		return nil, err
	}
	msgs := make([]brain.Message, 0, len(turns))
	for _, t := range turns {
		if t.Crisis {
			continue
		}
		msgs = append(msgs, brain.Message{Role: t.Role, Content: t.Text})
	}
	return msgs, nil
}

func (c *Controller) saveTurnBestEffort(ctx context.Context, t store.Turn) {
	redacted, changed := policy.RedactPII(t.Text)
	t.Text = redacted
	t.PIIRedacted = changed
	if err := c.turns.SaveTurn(ctx, t); err != nil {
		c.metrics.SessionEvents.WithLabelValues("turn_save_failed").Inc()
		c.log.Error().Err(err).
			Str("session_id", t.SessionID).
			Str("role", t.Role).
			Msg(ErrPersistenceFailed.Error())
	}
}

// captureSink forwards everything and remembers the clip URL so the turn
// record can reference it.
type captureSink struct {
	inner    render.Sink
	videoURL string
}

func (s *captureSink) Send(msg any) error {
	if ready, ok := msg.(protocol.VideoReady); ok {
		s.videoURL = ready.VideoURL
	}
	return s.inner.Send(msg)
}
