package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TurnRequest is the normalized request sent to the reply generator.
type TurnRequest struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	InputText   string    `json:"input_text"`
	History     []Message `json:"history,omitempty"`
	SessionType string    `json:"session_type,omitempty"`
	MoodScore   int       `json:"mood_score,omitempty"`
	CBTExercise string    `json:"cbt_exercise,omitempty"`
}

// Message is one prior turn in the conversation window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResponse is the final response after streaming deltas.
type TurnResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Generator produces assistant replies for user turns.
type Generator interface {
	StreamResponse(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error)
}

var (
	// ErrGenerationTimeout marks a reply that did not complete within the turn budget.
	ErrGenerationTimeout = errors.New("reply generation timed out")
	// ErrGenerationFailed marks an upstream generation failure after any fallback.
	ErrGenerationFailed = errors.New("reply generation failed")
)

// Config controls generator construction.
type Config struct {
	Mode    string
	HTTPURL string
	APIKey  string
	Model   string
}

func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		httpURL := strings.TrimSpace(cfg.HTTPURL)
		if httpURL != "" {
			return NewFallbackGenerator(NewHTTPGenerator(httpURL, cfg.APIKey, cfg.Model), NewMockGenerator()), nil
		}
		return NewMockGenerator(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

// Generate runs one turn against the generator under the turn budget and
// classifies the outcome into the service error taxonomy.
func Generate(ctx context.Context, g Generator, req TurnRequest, budget time.Duration, onDelta DeltaHandler) (TurnResponse, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	resp, err := g.StreamResponse(ctx, req, onDelta)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TurnResponse{}, fmt.Errorf("%w after %s", ErrGenerationTimeout, budget)
		}
		if errors.Is(err, context.Canceled) {
			return TurnResponse{}, err
		}
		return TurnResponse{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return TurnResponse{}, fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}
	return resp, nil
}
