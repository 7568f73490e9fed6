package voice

import (
	"context"
	"errors"
	"fmt"
)

type STTEventType string

const (
	STTEventPartial   STTEventType = "partial"
	STTEventCommitted STTEventType = "committed"
	STTEventError     STTEventType = "error"
)

type STTEvent struct {
	Type       STTEventType
	Text       string
	Confidence float64
	Source     string
	Code       string
	Detail     string
	Retryable  bool
	Timestamp  int64
}

type STTSession interface {
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
	Close() error
}

type STTProvider interface {
	StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error)
}

type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

type TTSEvent struct {
	Type        TTSEventType
	AudioBase64 string
	Format      string
	Code        string
	Detail      string
	Retryable   bool
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

type TTSStream interface {
	SendText(ctx context.Context, text string, tryTrigger bool) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

type TTSProvider interface {
	StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error)
}

// Synthesizer produces a full utterance in one shot, used by clip rendering
// where the audio must exist before the render job is submitted.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) (pcm []byte, sampleRate int, err error)
}

var (
	// ErrVoiceNotReady marks a cloned voice that is still processing.
	ErrVoiceNotReady = errors.New("voice not ready")
	// ErrSynthesisFailed marks a synthesis failure after any fallback.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
	// ErrLowConfidence marks a committed transcript below the acceptance floor.
	ErrLowConfidence = errors.New("transcript confidence too low")
)

// AcceptTranscript gates a committed transcript on the confidence floor.
// Zero confidence means the backend did not report one and is accepted.
func AcceptTranscript(ev STTEvent, minConfidence float64) error {
	if ev.Confidence > 0 && ev.Confidence < minConfidence {
		return fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, ev.Confidence, minConfidence)
	}
	return nil
}
