package voice

import (
	"regexp"
	"strings"
	"time"
)

// EndpointHint summarizes whether a live partial transcript looks finished.
// The connection loop uses it to decide how long to hold before committing
// the utterance for a full turn.
type EndpointHint struct {
	Reason       string
	Confidence   float64
	Hold         time.Duration
	ShouldCommit bool
}

// EndpointDispatchState dedupes hint emission so downstream consumers only
// see meaningful changes.
type EndpointDispatchState struct {
	hasValue       bool
	lastReason     string
	lastHoldBucket int
	lastCommitFlag bool
	lastConfBucket int
	lastSentAt     time.Time
}

const (
	endpointHoldMin             = 40 * time.Millisecond
	endpointHoldMax             = 900 * time.Millisecond
	endpointEmitRefresh         = 1200 * time.Millisecond
	endpointEmitHoldBucketWidth = 80
	endpointEmitConfBucketWidth = 10
	endpointConfidenceUnknown   = 0.55
	endpointConfidenceCommit    = 0.50
)

var (
	endpointContinuationTailRe = regexp.MustCompile(`(?i)\b(and|but|because|so|then|which|that|if|when|while|as|to|for)\s*$`)
	endpointContinuationHeadRe = regexp.MustCompile(`(?i)^(and|but|because|so|then)\b`)
	endpointContinuationPhrase = regexp.MustCompile(`(?i)\b(i mean|i feel like|it's just|its just|the thing is|for example|in order to)\s*$`)
	endpointHesitationTailRe   = regexp.MustCompile(`(?i)\b(um+|uh+|hmm+|you know|i guess|kind of|sort of)\s*$`)
	endpointTerminalTailRe     = regexp.MustCompile(`(?i)([.!?]["']?\s*$|\b(done|thanks|thank you|that's all|thats all|that's it|thats it)\s*$)`)
	endpointOpenTailRe         = regexp.MustCompile(`[,;:\-…]\s*$`)
)

// BuildEndpointHint evaluates a partial transcript against lexical endpoint
// cues.
func BuildEndpointHint(partial string, confidence float64, utteranceAge time.Duration) (EndpointHint, bool) {
	normalized := strings.TrimSpace(strings.ToLower(partial))
	if normalized == "" {
		return EndpointHint{}, false
	}

	confidence = normalizeEndpointConfidence(confidence)
	hint := EndpointHint{
		Reason:     "neutral",
		Confidence: maxFloat(0.58, confidence),
		Hold:       210 * time.Millisecond,
	}

	continuation := hasContinuationCue(normalized)
	hesitation := endpointHesitationTailRe.MatchString(normalized)
	terminal := hasTerminalCue(normalized)
	if continuation {
		hint.Reason = "continuation"
		hint.Confidence = maxFloat(hint.Confidence, 0.86)
		hint.Hold = 520 * time.Millisecond
	}
	if hesitation {
		// People pause while putting feelings into words. A trailing filler
		// means they are still composing, so hold well past a normal gap.
		hint.Reason = "hesitation"
		hint.Confidence = maxFloat(hint.Confidence, 0.84)
		hint.Hold = 650 * time.Millisecond
		terminal = false
	}
	if terminal {
		hint.Reason = "terminal"
		hint.Confidence = maxFloat(hint.Confidence, 0.82)
		hint.Hold = 90 * time.Millisecond
		hint.ShouldCommit = confidence >= endpointConfidenceCommit
	}

	if utteranceAge > 6*time.Second && !continuation && !hesitation {
		hint.Reason = "long_utterance"
		hint.Hold -= 70 * time.Millisecond
	}

	if utteranceAge > 0 && utteranceAge < 700*time.Millisecond {
		hint.Hold += 110 * time.Millisecond
		if hint.Reason == "neutral" {
			hint.Reason = "short_utterance"
		}
	}

	if confidence < 0.45 {
		hint.Hold += 140 * time.Millisecond
		hint.Confidence = minFloat(hint.Confidence, 0.62)
		hint.ShouldCommit = false
		if hint.Reason == "neutral" || hint.Reason == "terminal" {
			hint.Reason = "low_confidence"
		}
	}

	hint.Hold = clampDuration(hint.Hold, endpointHoldMin, endpointHoldMax)
	hint.Confidence = clampFloat(hint.Confidence, 0.05, 0.99)
	return hint, true
}

func (s *EndpointDispatchState) ShouldEmit(h EndpointHint, now time.Time) bool {
	reason := strings.TrimSpace(strings.ToLower(h.Reason))
	if reason == "" {
		reason = "neutral"
	}
	holdBucket := holdBucketForHint(h.Hold)
	confBucket := confidenceBucketForHint(h.Confidence)
	if !s.hasValue {
		s.set(reason, holdBucket, h.ShouldCommit, confBucket, now)
		return true
	}
	if reason != s.lastReason ||
		holdBucket != s.lastHoldBucket ||
		h.ShouldCommit != s.lastCommitFlag ||
		confBucket != s.lastConfBucket ||
		now.Sub(s.lastSentAt) >= endpointEmitRefresh {
		s.set(reason, holdBucket, h.ShouldCommit, confBucket, now)
		return true
	}
	return false
}

func (s *EndpointDispatchState) set(reason string, holdBucket int, shouldCommit bool, confBucket int, now time.Time) {
	s.hasValue = true
	s.lastReason = reason
	s.lastHoldBucket = holdBucket
	s.lastCommitFlag = shouldCommit
	s.lastConfBucket = confBucket
	s.lastSentAt = now
}

func (s *EndpointDispatchState) Reset() {
	*s = EndpointDispatchState{}
}

func hasContinuationCue(normalized string) bool {
	if normalized == "" {
		return false
	}
	if endpointOpenTailRe.MatchString(normalized) {
		return true
	}
	if endpointContinuationHeadRe.MatchString(normalized) {
		return true
	}
	if endpointContinuationTailRe.MatchString(normalized) {
		return true
	}
	return endpointContinuationPhrase.MatchString(normalized)
}

func hasTerminalCue(normalized string) bool {
	if normalized == "" {
		return false
	}
	if endpointOpenTailRe.MatchString(normalized) {
		return false
	}
	return endpointTerminalTailRe.MatchString(normalized)
}

func normalizeEndpointConfidence(conf float64) float64 {
	if conf <= 0 || conf > 1 {
		return endpointConfidenceUnknown
	}
	return conf
}

func holdBucketForHint(d time.Duration) int {
	ms := int(d.Milliseconds())
	if ms <= 0 {
		return 0
	}
	return ms / endpointEmitHoldBucketWidth
}

func confidenceBucketForHint(c float64) int {
	v := int(clampFloat(c, 0, 1) * 100)
	return v / endpointEmitConfBucketWidth
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
