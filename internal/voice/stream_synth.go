package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// StreamingSynthesizer adapts a streaming TTS backend to the one-shot
// Synthesizer surface. Text is pushed sentence by sentence so the backend
// starts producing audio before the full reply has been submitted.
type StreamingSynthesizer struct {
	provider   TTSProvider
	modelID    string
	sampleRate int
	settings   TTSSettings
}

// NewStreamingSynthesizer wraps provider. An empty modelID leaves the model
// choice to the backend.
func NewStreamingSynthesizer(provider TTSProvider, modelID string, sampleRate int) *StreamingSynthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &StreamingSynthesizer{provider: provider, modelID: modelID, sampleRate: sampleRate}
}

func (s *StreamingSynthesizer) Synthesize(ctx context.Context, voiceID, text string) ([]byte, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}
	stream, err := s.provider.StartStream(ctx, voiceID, s.modelID, s.settings)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer stream.Close()

	segments := SplitSpeechSegments(text)
	if len(segments) == 0 {
		segments = []string{text}
	}
	for _, seg := range segments {
		if err := stream.SendText(ctx, seg, false); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
		}
	}
	if err := stream.CloseInput(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	var pcm []byte
	for {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				if len(pcm) == 0 {
					return nil, 0, fmt.Errorf("%w: stream closed before audio arrived", ErrSynthesisFailed)
				}
				return pcm, s.sampleRate, nil
			}
			switch ev.Type {
			case TTSEventAudio:
				chunk, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
				if err != nil {
					return nil, 0, fmt.Errorf("%w: bad audio chunk: %v", ErrSynthesisFailed, err)
				}
				pcm = append(pcm, chunk...)
			case TTSEventFinal:
				if len(pcm) == 0 {
					return nil, 0, fmt.Errorf("%w: no audio produced", ErrSynthesisFailed)
				}
				return pcm, s.sampleRate, nil
			case TTSEventError:
				return nil, 0, fmt.Errorf("%w: %s", ErrSynthesisFailed, ev.Detail)
			}
		}
	}
}
