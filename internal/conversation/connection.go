package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/simsketch/avilonai.com/internal/brain"
	"github.com/simsketch/avilonai.com/internal/caption"
	"github.com/simsketch/avilonai.com/internal/protocol"
	"github.com/simsketch/avilonai.com/internal/session"
	"github.com/simsketch/avilonai.com/internal/store"
	"github.com/simsketch/avilonai.com/internal/voice"
)

// RunConnection drives one realtime connection: transcription in, turns
// through the pipeline, protocol messages out. It returns when ctx ends, the
// inbound channel closes or the transcription stream dies.
func (c *Controller) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	sttSession, sttEvents, err := c.stt.StartSession(ctx, s.ID)
	if err != nil {
		c.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "stt_connect_failed",
			Source:    "stt",
			Retryable: true,
			Detail:    err.Error(),
		})
		return err
	}
	defer sttSession.Close()

	c.greet(ctx, s, outbound)

	var (
		turnMu       sync.Mutex
		turnCancel   context.CancelFunc
		activeToken  int64
		nextToken    int64
		lastSampleHz = 16000

		utteranceStartedAt time.Time
		endpointState      voice.EndpointDispatchState
	)

	cancelActiveTurn := func() {
		turnMu.Lock()
		cancel := turnCancel
		turnCancel = nil
		turnMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	defer cancelActiveTurn()

	startTurn := func(text string) {
		turnMu.Lock()
		busy := turnCancel != nil
		turnMu.Unlock()
		if busy {
			// Half-duplex: a fresh utterance while the assistant is talking
			// is a barge-in.
			_ = c.sessions.Interrupt(s.ID)
			cancelActiveTurn()
		}

		turnCtx, cancel := context.WithCancel(ctx)
		turnMu.Lock()
		nextToken++
		token := nextToken
		turnCancel = cancel
		activeToken = token
		turnMu.Unlock()

		go func() {
			defer func() {
				turnMu.Lock()
				if activeToken == token {
					turnCancel = nil
					activeToken = 0
				}
				turnMu.Unlock()
			}()

			if _, err := c.ProcessTurn(turnCtx, s, text, chanSink{c: c, outbound: outbound}); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, ErrInputRejected) {
					return
				}
				c.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      errorCodeForTurn(err),
					Source:    "pipeline",
					Retryable: false,
					Detail:    err.Error(),
				})
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				if m.SampleRate > 0 {
					lastSampleHz = m.SampleRate
				}
				_ = c.sessions.Touch(s.ID)
				if err := sttSession.SendAudioChunk(ctx, m.PCM16Base64, m.SampleRate, m.Commit); err != nil {
					c.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: s.ID,
						Code:      "stt_send_audio_failed",
						Source:    "stt",
						Retryable: true,
						Detail:    err.Error(),
					})
				}
			case protocol.ClientText:
				_ = c.sessions.Touch(s.ID)
				c.captionsFor(s.ID).UpsertInterim(caption.SpeakerUser, m.Text)
				startTurn(m.Text)
			case protocol.ClientControl:
				_ = c.sessions.Touch(s.ID)
				c.handleControl(ctx, s, m, sttSession, lastSampleHz, cancelActiveTurn, outbound)
			}
		case ev, ok := <-sttEvents:
			if !ok {
				return nil
			}
			switch ev.Type {
			case voice.STTEventPartial:
				text := ev.Text
				now := time.Now()
				if text != "" && utteranceStartedAt.IsZero() {
					utteranceStartedAt = now
				}
				c.captionsFor(s.ID).UpsertInterim(caption.SpeakerUser, text)
				c.send(outbound, protocol.TranscriptPartial{
					Type:       protocol.TypeTranscriptPartial,
					SessionID:  s.ID,
					Text:       text,
					Confidence: ev.Confidence,
					TSMs:       ev.Timestamp,
				})
				if text == "" {
					continue
				}
				if hint, ok := voice.BuildEndpointHint(text, ev.Confidence, now.Sub(utteranceStartedAt)); ok {
					if hint.ShouldCommit && endpointState.ShouldEmit(hint, now) {
						// The user sounds finished. Ask the transcriber to
						// close the utterance rather than waiting for VAD.
						if err := sttSession.SendAudioChunk(ctx, "", lastSampleHz, true); err != nil {
							c.log.Debug().Err(err).Str("session_id", s.ID).Msg("endpoint commit failed")
						}
					}
				}
			case voice.STTEventCommitted:
				utteranceStartedAt = time.Time{}
				endpointState.Reset()

				c.send(outbound, protocol.TranscriptFinal{
					Type:       protocol.TypeTranscriptFinal,
					SessionID:  s.ID,
					Text:       ev.Text,
					Confidence: ev.Confidence,
					TSMs:       ev.Timestamp,
				})
				if err := voice.AcceptTranscript(ev, c.cfg.MinConfidence); err != nil {
					c.metrics.SessionEvents.WithLabelValues("transcript_rejected").Inc()
					c.send(outbound, protocol.Caption{
						Type:      protocol.TypeCaption,
						SessionID: s.ID,
						Speaker:   string(caption.SpeakerBot),
						Text:      askRepeatReply,
						IsFinal:   true,
					})
					continue
				}
				startTurn(ev.Text)
			case voice.STTEventError:
				c.metrics.ProviderErrors.WithLabelValues("stt", ev.Code).Inc()
				c.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      ev.Code,
					Source:    "stt",
					Retryable: ev.Retryable,
					Detail:    ev.Detail,
				})
			}
		}
	}
}

// greet opens the conversation with the fixed greeting and records it so the
// model sees it as its own first turn.
func (c *Controller) greet(ctx context.Context, s *session.Session, outbound chan<- any) {
	c.captionsFor(s.ID).Finalize(caption.SpeakerBot, brain.InitialGreeting)
	c.send(outbound, protocol.Greeting{
		Type:      protocol.TypeGreeting,
		SessionID: s.ID,
		Text:      brain.InitialGreeting,
	})
	c.saveTurnBestEffort(ctx, store.Turn{
		UserID:    s.UserID,
		SessionID: s.ID,
		Role:      store.RoleAssistant,
		Text:      brain.InitialGreeting,
	})
}

func (c *Controller) handleControl(ctx context.Context, s *session.Session, m protocol.ClientControl, sttSession voice.STTSession, sampleHz int, cancelActiveTurn func(), outbound chan<- any) {
	switch m.Action {
	case protocol.ActionStop:
		if err := sttSession.SendAudioChunk(ctx, "", sampleHz, true); err != nil {
			c.log.Debug().Err(err).Str("session_id", s.ID).Msg("stop commit failed")
		}
	case protocol.ActionInterrupt:
		_ = c.sessions.Interrupt(s.ID)
		cancelActiveTurn()
		c.send(outbound, protocol.SpeakingState{
			Type:       protocol.TypeSpeakingState,
			SessionID:  s.ID,
			IsSpeaking: false,
		})
	case protocol.ActionMute, protocol.ActionUnmute:
		if c.rooms == nil {
			return
		}
		conn, ok := c.rooms.Lookup(s.ID)
		if !ok {
			return
		}
		if err := conn.SetMuted(m.Action == protocol.ActionMute); err != nil {
			c.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.ID,
				Code:      "mute_failed",
				Source:    "room",
				Retryable: false,
				Detail:    err.Error(),
			})
		}
	}
}

func errorCodeForTurn(err error) string {
	switch {
	case errors.Is(err, brain.ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, brain.ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, voice.ErrSynthesisFailed):
		return "synthesis_failed"
	case errors.Is(err, voice.ErrVoiceNotReady):
		return "voice_not_ready"
	default:
		return "turn_failed"
	}
}

// chanSink adapts the outbound channel to the render sink.
type chanSink struct {
	c        *Controller
	outbound chan<- any
}

func (s chanSink) Send(msg any) error {
	s.c.send(s.outbound, msg)
	return nil
}

// send delivers one outbound message. Critical messages wait a short grace
// period for a slow client; everything else is dropped when the channel is
// full so a stalled socket cannot wedge the pipeline.
func (c *Controller) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	if critical {
		timer := time.NewTimer(600 * time.Millisecond)
		defer timer.Stop()
		select {
		case outbound <- msg:
			c.metrics.WSMessages.WithLabelValues("out", msgType).Inc()
		case <-timer.C:
			c.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}
	select {
	case outbound <- msg:
		c.metrics.WSMessages.WithLabelValues("out", msgType).Inc()
	default:
		c.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.SystemEvent:
		return string(m.Type), true
	case protocol.Greeting:
		return string(m.Type), true
	case protocol.BotResponseEnd:
		return string(m.Type), true
	case protocol.VideoReady:
		return string(m.Type), true
	case protocol.Caption:
		return string(m.Type), m.IsFinal
	case protocol.SpeakingState:
		return string(m.Type), true
	case protocol.TranscriptFinal:
		return string(m.Type), true
	case protocol.TranscriptPartial:
		return string(m.Type), false
	case protocol.AssistantAudioChunk:
		return string(m.Type), false
	case protocol.VisemeEvent:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}
