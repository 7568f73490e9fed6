package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no brain backend is
// configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) StreamResponse(
	ctx context.Context,
	req TurnRequest,
	onDelta DeltaHandler,
) (TurnResponse, error) {
	select {
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return TurnResponse{}, err
		}
	}
	return TurnResponse{Text: text}, nil
}

func buildMockReply(req TurnRequest) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I'm listening."
	}

	if len(req.History) == 0 {
		return fmt.Sprintf("I hear you saying: %s. Tell me more about that.", base)
	}

	last := strings.TrimSpace(req.History[len(req.History)-1].Content)
	if last == "" {
		return fmt.Sprintf("I hear you saying: %s. Tell me more about that.", base)
	}

	return fmt.Sprintf("I hear you saying: %s. Earlier you mentioned: %s. How do those connect for you?", base, last)
}
