package render

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/caption"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/voice"
)

// audioChunkBytes keeps outbound frames comfortably under websocket message
// limits once base64 encoded.
const audioChunkBytes = 32 * 1024

// RoomRenderer presents replies inside a live media session: speaking state,
// captions and the synthesized audio stream multiplexed as app messages.
type RoomRenderer struct {
	log zerolog.Logger
}

func NewRoomRenderer(log zerolog.Logger) *RoomRenderer {
	return &RoomRenderer{log: log}
}

func (r *RoomRenderer) Render(ctx context.Context, u Utterance, sink Sink) error {
	if err := sink.Send(protocol.SpeakingState{
		Type:       protocol.TypeSpeakingState,
		SessionID:  u.SessionID,
		IsSpeaking: true,
	}); err != nil {
		return err
	}

	// Long replies stream sentence by sentence as interim captions so the
	// client can show text while audio is still arriving.
	if segments := voice.SplitSpeechSegments(u.Text); len(segments) > 1 {
		for _, seg := range segments {
			if err := sink.Send(protocol.Caption{
				Type:      protocol.TypeCaption,
				SessionID: u.SessionID,
				Speaker:   string(caption.SpeakerBot),
				Text:      seg,
			}); err != nil {
				return err
			}
		}
	}

	if err := sink.Send(protocol.Caption{
		Type:      protocol.TypeCaption,
		SessionID: u.SessionID,
		Speaker:   string(caption.SpeakerBot),
		Text:      u.Text,
		IsFinal:   true,
	}); err != nil {
		return err
	}

	seq := 0
	for off := 0; off < len(u.PCM); off += audioChunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + audioChunkBytes
		if end > len(u.PCM) {
			end = len(u.PCM)
		}
		if err := sink.Send(protocol.AssistantAudioChunk{
			Type:        protocol.TypeAssistantAudioChunk,
			SessionID:   u.SessionID,
			TurnID:      u.TurnID,
			Seq:         seq,
			Format:      "pcm_s16le",
			AudioBase64: base64.StdEncoding.EncodeToString(u.PCM[off:end]),
		}); err != nil {
			return err
		}
		seq++
	}

	if err := sink.Send(protocol.BotResponseEnd{
		Type:      protocol.TypeBotResponseEnd,
		SessionID: u.SessionID,
		TurnID:    u.TurnID,
	}); err != nil {
		return err
	}
	r.log.Debug().Str("session_id", u.SessionID).Int("audio_chunks", seq).Msg("room render complete")

	return sink.Send(protocol.SpeakingState{
		Type:       protocol.TypeSpeakingState,
		SessionID:  u.SessionID,
		IsSpeaking: false,
	})
}

// BufferedSink queues outbound messages until a real sink attaches, then
// flushes them in FIFO order. Replies generated while the media connection is
// still coming up are not lost.
type BufferedSink struct {
	mu      sync.Mutex
	target  Sink
	pending []any
}

func NewBufferedSink() *BufferedSink { return &BufferedSink{} }

func (b *BufferedSink) Send(msg any) error {
	b.mu.Lock()
	if b.target == nil {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return nil
	}
	target := b.target
	b.mu.Unlock()
	return target.Send(msg)
}

// Attach binds the live sink and drains everything queued so far.
func (b *BufferedSink) Attach(target Sink) error {
	b.mu.Lock()
	b.target = target
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, msg := range pending {
		if err := target.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Detach unbinds the sink so later sends buffer again.
func (b *BufferedSink) Detach() {
	b.mu.Lock()
	b.target = nil
	b.mu.Unlock()
}
