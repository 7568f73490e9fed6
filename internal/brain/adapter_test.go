package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubGenerator struct {
	resp  TurnResponse
	err   error
	delay time.Duration
}

func (s *stubGenerator) StreamResponse(ctx context.Context, _ TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return TurnResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return TurnResponse{}, s.err
	}
	if onDelta != nil && s.resp.Text != "" {
		if err := onDelta(s.resp.Text); err != nil {
			return TurnResponse{}, err
		}
	}
	return s.resp, nil
}

func TestGenerateClassifiesTimeout(t *testing.T) {
	slow := &stubGenerator{resp: TurnResponse{Text: "late"}, delay: 200 * time.Millisecond}

	_, err := Generate(context.Background(), slow, TurnRequest{InputText: "hi"}, 20*time.Millisecond, nil)
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("error = %v, want ErrGenerationTimeout", err)
	}
}

func TestGenerateClassifiesFailure(t *testing.T) {
	broken := &stubGenerator{err: errors.New("upstream 500")}

	_, err := Generate(context.Background(), broken, TurnRequest{InputText: "hi"}, time.Second, nil)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateRejectsEmptyReply(t *testing.T) {
	empty := &stubGenerator{resp: TurnResponse{Text: "   "}}

	_, err := Generate(context.Background(), empty, TurnRequest{InputText: "hi"}, time.Second, nil)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestGeneratePreservesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := &stubGenerator{resp: TurnResponse{Text: "late"}, delay: 50 * time.Millisecond}
	_, err := Generate(ctx, slow, TurnRequest{InputText: "hi"}, time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestNewGeneratorMockMode(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if _, ok := g.(*MockGenerator); !ok {
		t.Fatalf("generator type = %T, want *MockGenerator", g)
	}
}

func TestNewGeneratorRejectsUnknownMode(t *testing.T) {
	if _, err := NewGenerator(Config{Mode: "quantum"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMockGeneratorEchoesInput(t *testing.T) {
	var streamed strings.Builder
	resp, err := NewMockGenerator().StreamResponse(context.Background(), TurnRequest{InputText: "I feel stuck"}, func(d string) error {
		streamed.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if !strings.Contains(resp.Text, "I feel stuck") {
		t.Fatalf("reply missing input echo: %q", resp.Text)
	}
	if streamed.String() != resp.Text {
		t.Fatalf("streamed %q != final %q", streamed.String(), resp.Text)
	}
}

func TestBuildSystemPromptExercise(t *testing.T) {
	prompt := BuildSystemPrompt("guided_cbt", "thought challenging", 4)
	if !strings.Contains(prompt, "guided CBT exercise: thought challenging") {
		t.Fatalf("prompt missing exercise name")
	}
	if !strings.Contains(prompt, "mood score of 4") {
		t.Fatalf("prompt missing mood score")
	}
}

func TestBuildSystemPromptPerSessionType(t *testing.T) {
	cases := []struct {
		sessionType string
		want        string
	}{
		{"quick_checkin", "daily check-in"},
		{"guided_cbt", "guided CBT exercise"},
		{"emotional_conversation", "open emotional conversation"},
	}
	for _, tc := range cases {
		prompt := BuildSystemPrompt(tc.sessionType, "", 0)
		if !strings.Contains(prompt, tc.want) {
			t.Fatalf("BuildSystemPrompt(%q) missing %q", tc.sessionType, tc.want)
		}
		if strings.Contains(prompt, "mood score") {
			t.Fatalf("BuildSystemPrompt(%q) should omit mood when unset", tc.sessionType)
		}
	}
}
