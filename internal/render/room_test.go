package render

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/simsketch/avilonai.com/internal/protocol"
)

func TestRoomRendererMessageOrder(t *testing.T) {
	r := NewRoomRenderer(zerolog.Nop())
	sink := &collectSink{}

	u := testUtterance()
	u.PCM = make([]byte, audioChunkBytes+100)
	if err := r.Render(context.Background(), u, sink); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	// speaking on, caption, two audio chunks, response end, speaking off.
	if len(sink.msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(sink.msgs))
	}
	start, ok := sink.msgs[0].(protocol.SpeakingState)
	if !ok || !start.IsSpeaking {
		t.Fatalf("first message = %+v, want speaking_state true", sink.msgs[0])
	}
	cap, ok := sink.msgs[1].(protocol.Caption)
	if !ok || !cap.IsFinal || cap.Text != u.Text {
		t.Fatalf("second message = %+v, want final caption", sink.msgs[1])
	}
	for i, want := range []int{0, 1} {
		chunk, ok := sink.msgs[2+i].(protocol.AssistantAudioChunk)
		if !ok || chunk.Seq != want {
			t.Fatalf("message %d = %+v, want audio chunk seq %d", 2+i, sink.msgs[2+i], want)
		}
		if _, err := base64.StdEncoding.DecodeString(chunk.AudioBase64); err != nil {
			t.Fatalf("chunk %d audio is not base64: %v", want, err)
		}
	}
	if _, ok := sink.msgs[4].(protocol.BotResponseEnd); !ok {
		t.Fatalf("message 4 = %+v, want bot_response_end", sink.msgs[4])
	}
	end, ok := sink.msgs[5].(protocol.SpeakingState)
	if !ok || end.IsSpeaking {
		t.Fatalf("last message = %+v, want speaking_state false", sink.msgs[5])
	}
}

func TestRoomRendererStreamsInterimCaptionsPerSentence(t *testing.T) {
	r := NewRoomRenderer(zerolog.Nop())
	sink := &collectSink{}

	u := testUtterance()
	u.Text = "Take a slow breath with me. Notice how your shoulders feel."
	if err := r.Render(context.Background(), u, sink); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var interim []string
	var finals int
	for _, msg := range sink.msgs {
		cap, ok := msg.(protocol.Caption)
		if !ok {
			continue
		}
		if cap.IsFinal {
			finals++
			continue
		}
		interim = append(interim, cap.Text)
	}
	if finals != 1 {
		t.Fatalf("final captions = %d, want 1", finals)
	}
	if len(interim) != 2 {
		t.Fatalf("interim captions = %v, want 2 sentences", interim)
	}
	if interim[0] != "Take a slow breath with me." {
		t.Fatalf("interim[0] = %q", interim[0])
	}
	if interim[1] != "Notice how your shoulders feel." {
		t.Fatalf("interim[1] = %q", interim[1])
	}
}

func TestRoomRendererStopsOnCanceledContext(t *testing.T) {
	r := NewRoomRenderer(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Render(ctx, testUtterance(), &collectSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

type failSink struct{}

func (failSink) Send(any) error { return errors.New("socket gone") }

func TestBufferedSinkQueuesUntilAttached(t *testing.T) {
	b := NewBufferedSink()
	for _, msg := range []any{"one", "two", "three"} {
		if err := b.Send(msg); err != nil {
			t.Fatalf("Send() while detached error = %v", err)
		}
	}

	sink := &collectSink{}
	if err := b.Attach(sink); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(sink.msgs) != 3 || sink.msgs[0] != "one" || sink.msgs[2] != "three" {
		t.Fatalf("drained = %v, want FIFO order", sink.msgs)
	}

	// After attach, sends pass straight through.
	if err := b.Send("four"); err != nil {
		t.Fatalf("Send() after attach error = %v", err)
	}
	if len(sink.msgs) != 4 || sink.msgs[3] != "four" {
		t.Fatalf("messages after attach = %v", sink.msgs)
	}
}

func TestBufferedSinkDetachBuffersAgain(t *testing.T) {
	b := NewBufferedSink()
	first := &collectSink{}
	if err := b.Attach(first); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	b.Detach()

	if err := b.Send("queued"); err != nil {
		t.Fatalf("Send() while detached error = %v", err)
	}
	if len(first.msgs) != 0 {
		t.Fatalf("detached sink received %v", first.msgs)
	}

	second := &collectSink{}
	if err := b.Attach(second); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(second.msgs) != 1 || second.msgs[0] != "queued" {
		t.Fatalf("drained = %v", second.msgs)
	}
}

func TestBufferedSinkAttachSurfacesSendError(t *testing.T) {
	b := NewBufferedSink()
	_ = b.Send("pending")
	if err := b.Attach(failSink{}); err == nil {
		t.Fatalf("Attach() with failing sink should report the error")
	}
}
