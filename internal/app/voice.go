package app

import (
	"fmt"
	"strings"

	"github.com/simsketch/avilonai.com/internal/config"
	"github.com/simsketch/avilonai.com/internal/voice"
)

type voiceSetup struct {
	sttProvider      voice.STTProvider
	ttsProvider      voice.TTSProvider
	synthesizer      voice.Synthesizer
	cloneClient      *voice.CloneClient
	resolvedProvider string
	detail           string
}

// resolveVoiceProviders picks the speech stack. With credentials present the
// realtime pair is Deepgram for transcription and Cartesia for synthesis,
// with the mock provider as startup fallback so a clone that is still
// building never blocks conversation.
func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	tryRealtime := func() (voiceSetup, bool) {
		if strings.TrimSpace(cfg.VoiceAPIKey) == "" {
			return voiceSetup{}, false
		}
		cartesia := voice.NewCartesiaProvider(voice.CartesiaConfig{
			APIKey:       cfg.VoiceAPIKey,
			HTTPBaseURL:  cfg.VoiceBaseURL,
			OutputFormat: cfg.VoiceOutputFormat,
			SampleRate:   cfg.VoiceSampleRate,
		})
		var stt voice.STTProvider = voice.NewMockProvider()
		detail := "cartesia tts, mock stt"
		if strings.TrimSpace(cfg.TranscriberAPIKey) != "" {
			stt = voice.NewDeepgramProvider(voice.DeepgramConfig{
				APIKey:     cfg.TranscriberAPIKey,
				WSBaseURL:  cfg.TranscriberBaseURL,
				Model:      cfg.TranscriberModel,
				SampleRate: cfg.VoiceSampleRate,
			})
			detail = "cartesia tts, deepgram stt"
		}

		mock := voice.NewMockProvider()
		sttProvider, ttsProvider := voice.NewFailoverProviderPair(
			stt, cartesia,
			mock, mock,
			cfg.VoiceStockVoiceID, "",
		)
		return voiceSetup{
			sttProvider: sttProvider,
			ttsProvider: ttsProvider,
			// Streaming synthesis over the failover pair: replies reach the
			// backend sentence by sentence and degrade to the mock stack when
			// the primary is down.
			synthesizer:      voice.NewStreamingSynthesizer(ttsProvider, "", cfg.VoiceSampleRate),
			cloneClient:      voice.NewCloneClient(cfg.VoiceBaseURL, cfg.VoiceAPIKey),
			resolvedProvider: "cartesia",
			detail:           detail,
		}, true
	}

	mockSetup := func() voiceSetup {
		p := voice.NewMockProvider()
		return voiceSetup{
			sttProvider:      p,
			ttsProvider:      p,
			synthesizer:      p,
			resolvedProvider: "mock",
			detail:           "mock speech stack",
		}
	}

	switch voiceMode {
	case "cartesia":
		setup, ok := tryRealtime()
		if !ok {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=cartesia but VOICE_API_KEY is not set")
		}
		return setup, nil
	case "mock":
		return mockSetup(), nil
	case "auto":
		if setup, ok := tryRealtime(); ok {
			return setup, nil
		}
		return mockSetup(), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|cartesia|mock)", cfg.VoiceProvider)
	}
}
