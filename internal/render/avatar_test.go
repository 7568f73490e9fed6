package render

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/viseme"
)

func TestAvatarRendererEmitsScheduleAndReset(t *testing.T) {
	r := NewAvatarRenderer(zerolog.Nop())
	sink := &collectSink{}

	u := testUtterance()
	if err := r.Render(context.Background(), u, sink); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if len(sink.msgs) < 5 {
		t.Fatalf("messages = %d, want speaking state, visemes, reset, end", len(sink.msgs))
	}
	start, ok := sink.msgs[0].(protocol.SpeakingState)
	if !ok || !start.IsSpeaking {
		t.Fatalf("first message = %+v, want speaking_state true", sink.msgs[0])
	}

	var visemes []protocol.VisemeEvent
	for _, msg := range sink.msgs[1 : len(sink.msgs)-2] {
		ev, ok := msg.(protocol.VisemeEvent)
		if !ok {
			t.Fatalf("unexpected mid-stream message %+v", msg)
		}
		visemes = append(visemes, ev)
	}
	if len(visemes) < 2 {
		t.Fatalf("viseme events = %d, want several", len(visemes))
	}
	for i := 1; i < len(visemes); i++ {
		if visemes[i].OffsetMS < visemes[i-1].OffsetMS {
			t.Fatalf("offsets not monotonic at %d: %d then %d", i, visemes[i-1].OffsetMS, visemes[i].OffsetMS)
		}
	}
	reset := visemes[len(visemes)-1]
	if reset.Viseme != string(viseme.Neutral) || reset.Weight != 0 {
		t.Fatalf("final viseme = %+v, want neutral weight 0", reset)
	}

	if _, ok := sink.msgs[len(sink.msgs)-2].(protocol.BotResponseEnd); !ok {
		t.Fatalf("penultimate message = %+v, want bot_response_end", sink.msgs[len(sink.msgs)-2])
	}
	end, ok := sink.msgs[len(sink.msgs)-1].(protocol.SpeakingState)
	if !ok || end.IsSpeaking {
		t.Fatalf("last message = %+v, want speaking_state false", sink.msgs[len(sink.msgs)-1])
	}
}

func TestScheduleFromTextSpansAudioDuration(t *testing.T) {
	events := ScheduleFromText("mama", 800*time.Millisecond)
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[0].Viseme != viseme.Closed || events[1].Viseme != viseme.AA {
		t.Fatalf("shapes = %v %v, want closed then open", events[0].Viseme, events[1].Viseme)
	}
	last := events[len(events)-1]
	if last.OffsetMS >= 800 {
		t.Fatalf("last offset %dms falls outside the audio", last.OffsetMS)
	}
}

func TestScheduleFromTextFallbackRate(t *testing.T) {
	events := ScheduleFromText("ok", 0)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[1].OffsetMS != 80 {
		t.Fatalf("second offset = %dms, want 80ms flat rate", events[1].OffsetMS)
	}
}

func TestScheduleFromTextEmptyInput(t *testing.T) {
	if events := ScheduleFromText("", time.Second); events != nil {
		t.Fatalf("events = %v, want nil", events)
	}
	if events := ScheduleFromText("123 456", time.Second); len(events) != 1 {
		// Digits carry no mouth shape; only the inner space survives.
		t.Fatalf("events = %v, want a single silence frame", events)
	}
}

func TestParseAvatarType(t *testing.T) {
	for _, valid := range []string{"clip", "room", "clientAvatar"} {
		got, err := ParseAvatarType(valid)
		if err != nil || string(got) != valid {
			t.Fatalf("ParseAvatarType(%q) = %v, %v", valid, got, err)
		}
	}
	if _, err := ParseAvatarType("hologram"); err == nil {
		t.Fatalf("ParseAvatarType should reject unknown types")
	}
}

func TestSelectorFor(t *testing.T) {
	avatar := NewAvatarRenderer(zerolog.Nop())
	sel := NewSelector(nil, nil, avatar)

	got, err := sel.For(AvatarClientAvatar)
	if err != nil || got != Renderer(avatar) {
		t.Fatalf("For(clientAvatar) = %v, %v", got, err)
	}
	if _, err := sel.For(AvatarClip); err == nil {
		t.Fatalf("For(clip) with no clip renderer should error")
	}
	if _, err := sel.For(AvatarType("bogus")); err == nil {
		t.Fatalf("For(bogus) should error")
	}
}
