package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator attempts a primary generator first and falls back on error.
// Cancellation and deadline errors are never masked by the fallback.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) StreamResponse(
	ctx context.Context,
	req TurnRequest,
	onDelta DeltaHandler,
) (TurnResponse, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.fallback.StreamResponse(ctx, req, onDelta)
		}
		return TurnResponse{}, fmt.Errorf("fallback generator misconfigured")
	}

	resp, err := g.primary.StreamResponse(ctx, req, onDelta)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TurnResponse{}, err
	}
	if g.fallback == nil {
		return TurnResponse{}, err
	}

	fallbackResp, fallbackErr := g.fallback.StreamResponse(ctx, req, onDelta)
	if fallbackErr != nil {
		return TurnResponse{}, fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
