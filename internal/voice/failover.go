package voice

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// NewFailoverProviderPair builds STT/TTS providers that prefer the primary
// backend and automatically switch to fallback when primary stream/session
// startup fails. The usual pairing is the user's cloned voice on primary and
// a stock voice on fallback, so conversation continues while a clone builds.
// Once fallback succeeds, it stays active until fallback fails; then primary
// is retried.
func NewFailoverProviderPair(
	primarySTT STTProvider,
	primaryTTS TTSProvider,
	fallbackSTT STTProvider,
	fallbackTTS TTSProvider,
	fallbackVoiceID string,
	fallbackModelID string,
) (STTProvider, TTSProvider) {
	sel := &backendSelector{}
	stt := &failoverSTTProvider{sel: sel, primary: primarySTT, fallback: fallbackSTT}
	tts := &failoverTTSProvider{
		sel:             sel,
		primary:         primaryTTS,
		fallback:        fallbackTTS,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
		fallbackModelID: strings.TrimSpace(fallbackModelID),
	}
	return stt, tts
}

// backendSelector is the sticky primary/fallback choice shared by both
// directions of the pair, so STT and TTS fail over together.
type backendSelector struct {
	onFallback atomic.Bool
}

// choose runs the shared failover policy for one startup attempt. primary and
// fallback are closures so STT sessions and TTS streams can share the policy
// despite returning different types.
func (s *backendSelector) choose(kind string, primary, fallback func() error) error {
	if s.onFallback.Load() {
		fbErr := fallback()
		if fbErr == nil {
			return nil
		}
		// Fallback broke while active; give primary another chance.
		prErr := primary()
		if prErr == nil {
			s.onFallback.Store(false)
			return nil
		}
		return fmt.Errorf("%s fallback failed: %v; %s primary failed: %w", kind, fbErr, kind, prErr)
	}

	prErr := primary()
	if prErr == nil {
		return nil
	}
	fbErr := fallback()
	if fbErr != nil {
		return fmt.Errorf("%s primary failed: %v; %s fallback failed: %w", kind, prErr, kind, fbErr)
	}
	s.onFallback.Store(true)
	return nil
}

type failoverSTTProvider struct {
	sel      *backendSelector
	primary  STTProvider
	fallback STTProvider
}

func (p *failoverSTTProvider) StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	var (
		session STTSession
		events  <-chan STTEvent
	)
	err := p.sel.choose("stt",
		func() error {
			var err error
			session, events, err = p.primary.StartSession(ctx, sessionID)
			return err
		},
		func() error {
			var err error
			session, events, err = p.fallback.StartSession(ctx, sessionID)
			return err
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return session, events, nil
}

type failoverTTSProvider struct {
	sel             *backendSelector
	primary         TTSProvider
	fallback        TTSProvider
	fallbackVoiceID string
	fallbackModelID string
}

func (p *failoverTTSProvider) StartStream(
	ctx context.Context,
	voiceID, modelID string,
	settings TTSSettings,
) (TTSStream, error) {
	var stream TTSStream
	err := p.sel.choose("tts",
		func() error {
			var err error
			stream, err = p.primary.StartStream(ctx, voiceID, modelID, settings)
			return err
		},
		func() error {
			// The cloned voice only exists on the primary backend; swap in
			// the stock voice when falling back.
			fbVoice := voiceID
			if p.fallbackVoiceID != "" {
				fbVoice = p.fallbackVoiceID
			}
			fbModel := modelID
			if p.fallbackModelID != "" {
				fbModel = p.fallbackModelID
			}
			var err error
			stream, err = p.fallback.StartStream(ctx, fbVoice, fbModel, settings)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
