package voice

import (
	"context"
	"errors"
	"testing"
)

func TestStreamingSynthesizerGathersSentenceAudio(t *testing.T) {
	s := NewStreamingSynthesizer(NewMockProvider(), "", 16000)

	pcm, rate, err := s.Synthesize(context.Background(), "voice-1", "Take a slow breath with me. Notice how your shoulders feel.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	// The mock backend echoes each submitted sentence as its audio bytes, so
	// the gathered PCM shows per-sentence submission order.
	want := "Take a slow breath with me." + "Notice how your shoulders feel."
	if string(pcm) != want {
		t.Fatalf("pcm = %q, want sentence-by-sentence audio", string(pcm))
	}
}

func TestStreamingSynthesizerRejectsEmptyText(t *testing.T) {
	s := NewStreamingSynthesizer(NewMockProvider(), "", 16000)
	if _, _, err := s.Synthesize(context.Background(), "voice-1", "   "); !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
}

type brokenTTSProvider struct{}

func (brokenTTSProvider) StartStream(context.Context, string, string, TTSSettings) (TTSStream, error) {
	return nil, errors.New("backend down")
}

func TestStreamingSynthesizerSurfacesStartFailure(t *testing.T) {
	s := NewStreamingSynthesizer(brokenTTSProvider{}, "", 16000)
	if _, _, err := s.Synthesize(context.Background(), "voice-1", "hello there"); !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
}

func TestStreamingSynthesizerFailsOverWithPair(t *testing.T) {
	_, tts := NewFailoverProviderPair(
		NewMockProvider(), brokenTTSProvider{},
		NewMockProvider(), NewMockProvider(),
		"stock-voice", "",
	)
	s := NewStreamingSynthesizer(tts, "", 16000)

	pcm, _, err := s.Synthesize(context.Background(), "cloned-voice", "You are doing fine.")
	if err != nil {
		t.Fatalf("Synthesize() with failover error = %v", err)
	}
	if len(pcm) == 0 {
		t.Fatalf("no audio from the fallback backend")
	}
}
