package render

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/audio"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/viseme"
)

// AvatarRenderer drives a client-rendered avatar with a viseme schedule
// derived from the reply text, spread across the audio's playback duration.
// No video leaves the server; the client animates mouth shapes locally.
type AvatarRenderer struct {
	log zerolog.Logger
}

func NewAvatarRenderer(log zerolog.Logger) *AvatarRenderer {
	return &AvatarRenderer{log: log}
}

func (r *AvatarRenderer) Render(ctx context.Context, u Utterance, sink Sink) error {
	if err := sink.Send(protocol.SpeakingState{
		Type:       protocol.TypeSpeakingState,
		SessionID:  u.SessionID,
		IsSpeaking: true,
	}); err != nil {
		return err
	}

	schedule := ScheduleFromText(u.Text, audio.DurationPCM16(u.PCM, u.SampleRate))
	for _, ev := range schedule {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Send(protocol.VisemeEvent{
			Type:      protocol.TypeViseme,
			SessionID: u.SessionID,
			Viseme:    string(ev.Viseme),
			Weight:    ev.Weight,
			OffsetMS:  ev.OffsetMS,
		}); err != nil {
			return err
		}
	}

	// Reset the mouth after the schedule so the face never sticks open.
	if err := sink.Send(protocol.VisemeEvent{
		Type:      protocol.TypeViseme,
		SessionID: u.SessionID,
		Viseme:    string(viseme.Neutral),
		Weight:    0,
		OffsetMS:  int64(audio.DurationPCM16(u.PCM, u.SampleRate) / time.Millisecond),
	}); err != nil {
		return err
	}
	if err := sink.Send(protocol.BotResponseEnd{
		Type:      protocol.TypeBotResponseEnd,
		SessionID: u.SessionID,
		TurnID:    u.TurnID,
	}); err != nil {
		return err
	}
	r.log.Debug().Str("session_id", u.SessionID).Int("viseme_events", len(schedule)).Msg("avatar render complete")

	return sink.Send(protocol.SpeakingState{
		Type:       protocol.TypeSpeakingState,
		SessionID:  u.SessionID,
		IsSpeaking: false,
	})
}

// ScheduleFromText approximates a phoneme track from the reply's characters
// and maps it onto the audio duration. With no audio it falls back to a flat
// reading rate so the face still moves.
func ScheduleFromText(text string, total time.Duration) []viseme.Event {
	phonemes := phonemesFromText(text)
	if len(phonemes) == 0 {
		return nil
	}
	if total <= 0 {
		total = time.Duration(len(phonemes)) * 80 * time.Millisecond
	}
	frame := total / time.Duration(len(phonemes))
	events := viseme.Sequence(phonemes, frame)

	// Ramp weights between frames instead of stepping, so the client can
	// apply them directly without its own easing.
	const blendRate = 10.0
	prev := 0.0
	for i := range events {
		events[i].Weight = viseme.Blend(prev, events[i].Weight, blendRate, frame)
		prev = events[i].Weight
	}
	return events
}

// phonemesFromText is a letter-class approximation, not a linguistic
// analysis: vowels map to open shapes, labials to closed, everything else to
// neutral so the mouth motion tracks rhythm rather than exact articulation.
func phonemesFromText(text string) []string {
	var out []string
	for _, r := range strings.ToLower(text) {
		switch r {
		case 'a':
			out = append(out, "aa")
		case 'e', 'i', 'y':
			out = append(out, "ee")
		case 'o', 'u', 'w':
			out = append(out, "oo")
		case 'm', 'b', 'p':
			out = append(out, "m")
		case 'f', 'v':
			out = append(out, "f")
		case ' ', '\t', '\n':
			out = append(out, "sil")
		default:
			if r >= 'a' && r <= 'z' {
				out = append(out, "t")
			}
		}
	}
	return out
}
