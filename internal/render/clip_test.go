package render

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/protocol"
)

type fakeJobClient struct {
	polls    atomic.Int64
	canceled atomic.Bool

	succeedAfter int
	finalStatus  JobStatus
	submitErr    error
}

func (f *fakeJobClient) Submit(context.Context, string, []byte, bool) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeJobClient) Status(context.Context, string) (JobStatus, error) {
	n := int(f.polls.Add(1))
	if n < f.succeedAfter {
		return JobStatus{State: JobProcessing}, nil
	}
	return f.finalStatus, nil
}

func (f *fakeJobClient) Cancel(context.Context, string) error {
	f.canceled.Store(true)
	return nil
}

func clipCfg() ClipConfig {
	return ClipConfig{
		FaceID:       "face-1",
		PollInterval: 500 * time.Millisecond,
		Timeout:      3 * time.Second,
		CancelGrace:  time.Second,
	}
}

type collectSink struct {
	msgs []any
}

func (s *collectSink) Send(msg any) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func testUtterance() Utterance {
	return Utterance{
		SessionID:  "s1",
		TurnID:     "t1",
		Text:       "Take a slow breath with me.",
		PCM:        make([]byte, 6400),
		SampleRate: 16000,
	}
}

func TestClipRendererSucceeds(t *testing.T) {
	jobs := &fakeJobClient{
		succeedAfter: 2,
		finalStatus:  JobStatus{State: JobSucceeded, VideoURL: "https://clips.test/v.mp4"},
	}
	r := NewClipRenderer(jobs, clipCfg(), zerolog.Nop())
	sink := &collectSink{}

	if err := r.Render(context.Background(), testUtterance(), sink); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(sink.msgs))
	}
	ready, ok := sink.msgs[0].(protocol.VideoReady)
	if !ok || ready.VideoURL != "https://clips.test/v.mp4" {
		t.Fatalf("unexpected message: %+v", sink.msgs[0])
	}
}

func TestClipRendererTimesOutWhileProcessing(t *testing.T) {
	jobs := &fakeJobClient{succeedAfter: 1 << 30}
	cfg := clipCfg()
	cfg.Timeout = 1200 * time.Millisecond
	r := NewClipRenderer(jobs, cfg, zerolog.Nop())

	_, err := r.RenderClip(context.Background(), testUtterance())
	if !errors.Is(err, ErrLipSyncTimeout) {
		t.Fatalf("error = %v, want ErrLipSyncTimeout", err)
	}
	if !jobs.canceled.Load() {
		t.Fatalf("expected in-flight job to be canceled on timeout")
	}
}

func TestClipRendererFailedJobCarriesProviderError(t *testing.T) {
	jobs := &fakeJobClient{
		succeedAfter: 1,
		finalStatus:  JobStatus{State: JobFailed, Error: "face asset missing"},
	}
	r := NewClipRenderer(jobs, clipCfg(), zerolog.Nop())

	_, err := r.RenderClip(context.Background(), testUtterance())
	if !errors.Is(err, ErrLipSyncFailed) {
		t.Fatalf("error = %v, want ErrLipSyncFailed", err)
	}
	if !strings.Contains(err.Error(), "face asset missing") {
		t.Fatalf("error %q missing provider detail", err)
	}
}

func TestClipRendererCancelsOnContext(t *testing.T) {
	jobs := &fakeJobClient{succeedAfter: 1 << 30}
	r := NewClipRenderer(jobs, clipCfg(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.RenderClip(ctx, testUtterance())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !jobs.canceled.Load() {
		t.Fatalf("expected in-flight job to be canceled")
	}
}

func TestClipRendererRejectsEmptyAudio(t *testing.T) {
	r := NewClipRenderer(&fakeJobClient{}, clipCfg(), zerolog.Nop())
	u := testUtterance()
	u.PCM = nil
	_, err := r.RenderClip(context.Background(), u)
	if !errors.Is(err, ErrLipSyncFailed) {
		t.Fatalf("error = %v, want ErrLipSyncFailed", err)
	}
}

func TestClipConfigEnforcesMinimumPollInterval(t *testing.T) {
	r := NewClipRenderer(&fakeJobClient{}, ClipConfig{PollInterval: 50 * time.Millisecond}, zerolog.Nop())
	if r.cfg.PollInterval < 500*time.Millisecond {
		t.Fatalf("PollInterval = %v, want >= 500ms", r.cfg.PollInterval)
	}
}
