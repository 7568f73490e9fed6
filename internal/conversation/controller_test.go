package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/brain"
	"github.com/simsketch/avilonai.com/internal/caption"
	"github.com/simsketch/avilonai.com/internal/crisis"
	"github.com/simsketch/avilonai.com/internal/observability"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/render"
	"github.com/simsketch/avilonai.com/internal/room"
	"github.com/simsketch/avilonai.com/internal/session"
	"github.com/simsketch/avilonai.com/internal/store"
	"github.com/simsketch/avilonai.com/internal/voice"
)

type stubGenerator struct {
	calls atomic.Int32
	reply string
	err   error
}

func (g *stubGenerator) StreamResponse(_ context.Context, _ brain.TurnRequest, onDelta brain.DeltaHandler) (brain.TurnResponse, error) {
	g.calls.Add(1)
	if g.err != nil {
		return brain.TurnResponse{}, g.err
	}
	if onDelta != nil {
		if err := onDelta(g.reply); err != nil {
			return brain.TurnResponse{}, err
		}
	}
	return brain.TurnResponse{Text: g.reply}, nil
}

type stubSynth struct {
	calls atomic.Int32
	err   error
}

func (s *stubSynth) Synthesize(_ context.Context, _, text string) ([]byte, int, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, 0, s.err
	}
	return make([]byte, 3200), 16000, nil
}

type stubRenderer struct {
	calls    atomic.Int32
	videoURL string
	err      error
}

func (r *stubRenderer) Render(_ context.Context, u render.Utterance, sink render.Sink) error {
	r.calls.Add(1)
	if r.err != nil {
		return r.err
	}
	if r.videoURL != "" {
		return sink.Send(protocol.VideoReady{
			Type:      protocol.TypeVideoReady,
			SessionID: u.SessionID,
			TurnID:    u.TurnID,
			VideoURL:  r.videoURL,
		})
	}
	return sink.Send(protocol.BotResponseEnd{
		Type:      protocol.TypeBotResponseEnd,
		SessionID: u.SessionID,
		TurnID:    u.TurnID,
	})
}

type collectSink struct {
	msgs []any
}

func (s *collectSink) Send(msg any) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

type failingStore struct {
	*store.InMemoryStore
}

func (f *failingStore) SaveTurn(context.Context, store.Turn) error {
	return errors.New("database offline")
}

type pipelineFixture struct {
	controller *Controller
	sessions   *session.Manager
	store      *store.InMemoryStore
	generator  *stubGenerator
	synth      *stubSynth
	renderer   *stubRenderer
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	sessions := session.NewManager(time.Minute, render.AvatarClientAvatar)
	mem := store.NewInMemoryStore()
	gen := &stubGenerator{reply: "That sounds really hard. What do you think triggered it?"}
	synth := &stubSynth{}
	renderer := &stubRenderer{videoURL: "https://clips.test/turn.mp4"}
	metrics := observability.NewMetrics(fmt.Sprintf("avilon_test_conv_%d", time.Now().UnixNano()))

	controller := NewController(
		sessions, mem, gen, synth, nil,
		render.NewSelector(renderer, renderer, renderer),
		nil,
		metrics,
		Config{
			GenerationTimeout:  5 * time.Second,
			ConversationWindow: 10,
			MinConfidence:      0.5,
			CrisisCooldown:     time.Minute,
			DefaultVoiceID:     "stock-voice",
		},
		zerolog.Nop(),
	)
	return &pipelineFixture{
		controller: controller,
		sessions:   sessions,
		store:      mem,
		generator:  gen,
		synth:      synth,
		renderer:   renderer,
	}
}

func (f *pipelineFixture) newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.sessions.Create("u1", session.Options{AvatarType: render.AvatarClip})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func TestProcessTurnRejectsEmptyInput(t *testing.T) {
	f := newPipelineFixture(t)
	s := f.newSession(t)

	_, err := f.controller.ProcessTurn(context.Background(), s, "   ", &collectSink{})
	if !errors.Is(err, ErrInputRejected) {
		t.Fatalf("error = %v, want ErrInputRejected", err)
	}
}

func TestProcessTurnCrisisBypassesPipeline(t *testing.T) {
	f := newPipelineFixture(t)
	s := f.newSession(t)
	sink := &collectSink{}

	res, err := f.controller.ProcessTurn(context.Background(), s, "I want to kill myself", sink)
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if !res.Crisis {
		t.Fatalf("result should flag crisis")
	}
	if res.ReplyText != crisis.SafetyResponse {
		t.Fatalf("reply is not the safety response")
	}
	if got := f.generator.calls.Load(); got != 0 {
		t.Fatalf("generator calls = %d, want 0", got)
	}
	if got := f.synth.calls.Load(); got != 0 {
		t.Fatalf("synthesizer calls = %d, want 0", got)
	}
	if got := f.renderer.calls.Load(); got != 0 {
		t.Fatalf("renderer calls = %d, want 0", got)
	}

	incidents := f.store.Incidents()
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	if incidents[0].SessionID != s.ID || len(incidents[0].MatchedKeywords) == 0 {
		t.Fatalf("unexpected incident: %+v", incidents[0])
	}

	var sawCaption, sawEnd bool
	for _, msg := range sink.msgs {
		switch m := msg.(type) {
		case protocol.Caption:
			if m.IsFinal && m.Text == crisis.SafetyResponse {
				sawCaption = true
			}
		case protocol.BotResponseEnd:
			sawEnd = true
		}
	}
	if !sawCaption || !sawEnd {
		t.Fatalf("missing safety caption or response end: %+v", sink.msgs)
	}

	turns, err := f.store.RecentTurns(context.Background(), s.ID, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 2 || !turns[0].Crisis || !turns[1].Crisis {
		t.Fatalf("both crisis turns should be persisted: %+v", turns)
	}
}

func TestProcessTurnCrisisCooldownShortensRepeat(t *testing.T) {
	f := newPipelineFixture(t)
	s := f.newSession(t)

	first, err := f.controller.ProcessTurn(context.Background(), s, "I feel suicidal", &collectSink{})
	if err != nil {
		t.Fatalf("first ProcessTurn() error = %v", err)
	}
	if first.ReplyText != crisis.SafetyResponse {
		t.Fatalf("first reply should be the full safety response")
	}

	second, err := f.controller.ProcessTurn(context.Background(), s, "I still feel suicidal", &collectSink{})
	if err != nil {
		t.Fatalf("second ProcessTurn() error = %v", err)
	}
	if second.ReplyText == crisis.SafetyResponse {
		t.Fatalf("repeat inside cooldown should not resend the full text")
	}
	if !strings.Contains(second.ReplyText, "988") {
		t.Fatalf("cooldown reply still points at crisis resources: %q", second.ReplyText)
	}

	if got := len(f.store.Incidents()); got != 2 {
		t.Fatalf("incidents = %d, want 2; both detections are recorded", got)
	}
}

func TestProcessTurnCompletesAndPersistsRefs(t *testing.T) {
	f := newPipelineFixture(t)
	s := f.newSession(t)
	sink := &collectSink{}

	res, err := f.controller.ProcessTurn(context.Background(), s, "I had a rough day at work", sink)
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if res.Crisis {
		t.Fatalf("normal turn flagged as crisis")
	}
	if res.VideoRef != "https://clips.test/turn.mp4" {
		t.Fatalf("VideoRef = %q", res.VideoRef)
	}
	// Synthesized audio is streamed to the client, never stored, so no ref.
	if res.AudioRef != "" {
		t.Fatalf("AudioRef = %q, want empty", res.AudioRef)
	}

	turns, err := f.store.RecentTurns(context.Background(), s.ID, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want user + assistant", len(turns))
	}
	assistant := turns[1]
	if assistant.Role != store.RoleAssistant || assistant.AudioRef != res.AudioRef || assistant.VideoRef != res.VideoRef {
		t.Fatalf("assistant turn refs not persisted: %+v", assistant)
	}
}

type stubRoomProvisioner struct{}

func (stubRoomProvisioner) Provision(_ context.Context, sessionID string) (room.Grant, error) {
	return room.Grant{
		Room:        room.Room{Name: "r-" + sessionID, URL: "https://rooms.test/" + sessionID},
		BotToken:    "bot-token",
		ClientToken: "client-token",
		BotID:       "bot-1",
	}, nil
}

func TestRoomTurnsBufferUntilConnectionLive(t *testing.T) {
	sessions := session.NewManager(time.Minute, render.AvatarRoom)
	mem := store.NewInMemoryStore()
	gen := &stubGenerator{reply: "I hear you. Want to talk through it?"}
	renderer := &stubRenderer{}
	rooms := room.NewRegistry(stubRoomProvisioner{}, zerolog.Nop())
	metrics := observability.NewMetrics(fmt.Sprintf("avilon_test_conv_%d", time.Now().UnixNano()))

	controller := NewController(
		sessions, mem, gen, &stubSynth{}, nil,
		render.NewSelector(renderer, renderer, renderer),
		rooms,
		metrics,
		Config{GenerationTimeout: 5 * time.Second, ConversationWindow: 10, CrisisCooldown: time.Minute},
		zerolog.Nop(),
	)

	s, err := sessions.Create("u1", session.Options{AvatarType: render.AvatarRoom})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sink := &collectSink{}
	first, err := controller.ProcessTurn(context.Background(), s, "I'm feeling anxious tonight", sink)
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if len(sink.msgs) != 0 {
		t.Fatalf("reply reached the sink before the room was live: %+v", sink.msgs)
	}

	if _, err := rooms.Connect(context.Background(), s.ID, string(render.AvatarRoom)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	second, err := controller.ProcessTurn(context.Background(), s, "Still a bit on edge", sink)
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v", err)
	}

	// Both turns arrive once the connection is up, oldest first.
	if len(sink.msgs) != 2 {
		t.Fatalf("messages = %d, want both buffered turns flushed", len(sink.msgs))
	}
	got1, ok1 := sink.msgs[0].(protocol.BotResponseEnd)
	got2, ok2 := sink.msgs[1].(protocol.BotResponseEnd)
	if !ok1 || !ok2 || got1.TurnID != first.TurnID || got2.TurnID != second.TurnID {
		t.Fatalf("flush order wrong: %+v", sink.msgs)
	}
}

func TestCaptionsIsolatedPerSession(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.newSession(t)
	b := f.newSession(t)

	if _, err := f.controller.ProcessTurn(context.Background(), a, "I had a rough day", &collectSink{}); err != nil {
		t.Fatalf("ProcessTurn(a) error = %v", err)
	}
	if _, err := f.controller.ProcessTurn(context.Background(), b, "Feeling okay today", &collectSink{}); err != nil {
		t.Fatalf("ProcessTurn(b) error = %v", err)
	}

	forA := f.controller.Captions(a.ID)
	if len(forA) != 2 || forA[0].Speaker != caption.SpeakerUser || forA[0].Text != "I had a rough day" {
		t.Fatalf("captions for a = %+v, want its own user turn first", forA)
	}
	for _, e := range forA {
		if e.Text == "Feeling okay today" {
			t.Fatalf("caption from session b leaked into a: %+v", forA)
		}
	}

	f.controller.ReleaseSession(a.ID)
	if got := f.controller.Captions(a.ID); len(got) != 0 {
		t.Fatalf("captions after release = %+v, want empty", got)
	}
	if got := f.controller.Captions(b.ID); len(got) != 2 {
		t.Fatalf("releasing a dropped b's captions: %+v", got)
	}
}

func TestProcessTurnGenerationTimeoutSurfaces(t *testing.T) {
	f := newPipelineFixture(t)
	f.generator.err = context.DeadlineExceeded
	s := f.newSession(t)

	_, err := f.controller.ProcessTurn(context.Background(), s, "hello", &collectSink{})
	if !errors.Is(err, brain.ErrGenerationTimeout) {
		t.Fatalf("error = %v, want ErrGenerationTimeout", err)
	}
	if got := f.synth.calls.Load(); got != 0 {
		t.Fatalf("synthesizer should not run after generation failure")
	}
}

func TestProcessTurnSynthesisFailureSurfaces(t *testing.T) {
	f := newPipelineFixture(t)
	f.synth.err = fmt.Errorf("%w: provider 500", voice.ErrSynthesisFailed)
	s := f.newSession(t)

	_, err := f.controller.ProcessTurn(context.Background(), s, "hello", &collectSink{})
	if !errors.Is(err, voice.ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
	if got := f.renderer.calls.Load(); got != 0 {
		t.Fatalf("renderer should not run after synthesis failure")
	}
}

func TestProcessTurnPersistenceFailureIsNotFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.controller.turns = &failingStore{InMemoryStore: f.store}
	s := f.newSession(t)

	res, err := f.controller.ProcessTurn(context.Background(), s, "rough day", &collectSink{})
	if err != nil {
		t.Fatalf("ProcessTurn() error = %v; save failures must not fail the turn", err)
	}
	if res.ReplyText == "" {
		t.Fatalf("reply should still be produced")
	}
}

func TestRecentHistoryExcludesCrisisTurns(t *testing.T) {
	f := newPipelineFixture(t)
	s := f.newSession(t)
	ctx := context.Background()

	for _, turn := range []store.Turn{
		{SessionID: s.ID, Role: store.RoleUser, Text: "hello"},
		{SessionID: s.ID, Role: store.RoleAssistant, Text: "hi there"},
		{SessionID: s.ID, Role: store.RoleUser, Text: "I want to end it all", Crisis: true},
		{SessionID: s.ID, Role: store.RoleAssistant, Text: crisis.SafetyResponse, Crisis: true},
	} {
		if err := f.store.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	history, err := f.controller.recentHistory(ctx, s.ID)
	if err != nil {
		t.Fatalf("recentHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2 (crisis turns excluded)", len(history))
	}
	for _, msg := range history {
		if strings.Contains(msg.Content, "988") {
			t.Fatalf("safety text leaked into the model window: %q", msg.Content)
		}
	}
}
