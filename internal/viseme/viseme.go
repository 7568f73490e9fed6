package viseme

import (
	"math"
	"strings"
	"time"
)

// Viseme is a discrete mouth-shape category standing in for one or more
// phonemes. The set matches what both the 2D mouth-path renderer and the 3D
// morph-target renderer can display.
type Viseme string

const (
	Neutral Viseme = "neutral"
	AA      Viseme = "aa"
	EE      Viseme = "ee"
	OO      Viseme = "oo"
	Closed  Viseme = "closed"
	FV      Viseme = "fv"
)

// phonemeTable maps phoneme labels (lowercase) to mouth shapes. Unlisted
// phonemes, silence markers and empty labels all fall back to Neutral.
var phonemeTable = map[string]Viseme{
	"aa": AA,
	"ah": AA,
	"aw": AA,
	"ay": AA,
	"ae": AA,

	"ee": EE,
	"iy": EE,
	"ih": EE,
	"ey": EE,
	"y":  EE,

	"oo": OO,
	"ow": OO,
	"uw": OO,
	"uh": OO,
	"w":  OO,

	"m": Closed,
	"b": Closed,
	"p": Closed,

	"f": FV,
	"v": FV,
}

// weightTable gives each shape its default blend intensity. Closed lips hit
// harder than open vowels so plosives read visually even at short durations.
var weightTable = map[Viseme]float64{
	Neutral: 0.0,
	AA:      0.9,
	EE:      0.7,
	OO:      0.8,
	Closed:  1.0,
	FV:      0.85,
}

// FromPhoneme maps a phoneme label to its Viseme.
func FromPhoneme(label string) Viseme {
	v, ok := phonemeTable[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return Neutral
	}
	return v
}

// Weight returns the default intensity for a viseme.
func Weight(v Viseme) float64 {
	return weightTable[v]
}

// Event is one timed mouth-shape sample as sent over the app-message channel.
type Event struct {
	Viseme   Viseme  `json:"viseme"`
	Weight   float64 `json:"weight"`
	OffsetMS int64   `json:"offset_ms"`
}

// Sequence converts a phoneme sequence into viseme events of equal length.
func Sequence(phonemes []string, frameDur time.Duration) []Event {
	events := make([]Event, len(phonemes))
	for i, p := range phonemes {
		v := FromPhoneme(p)
		events[i] = Event{
			Viseme:   v,
			Weight:   Weight(v),
			OffsetMS: int64(i) * frameDur.Milliseconds(),
		}
	}
	return events
}

// Blend moves current toward target by rate*dt and clamps to [0,1], so mouth
// transitions ramp smoothly regardless of frame pacing.
func Blend(current, target, rate float64, dt time.Duration) float64 {
	step := rate * dt.Seconds()
	if current < target {
		current = math.Min(current+step, target)
	} else {
		current = math.Max(current-step, target)
	}
	return math.Min(1, math.Max(0, current))
}

// BlinkPhase returns the eyelid closure in [0,1] for an idle blink cycle.
// A short blink fires once per period; outside the blink window eyes are open.
func BlinkPhase(elapsed time.Duration, period time.Duration) float64 {
	if period <= 0 {
		period = 4 * time.Second
	}
	const blinkLen = 150 * time.Millisecond
	into := elapsed % period
	if into >= blinkLen {
		return 0
	}
	// Triangular close-then-open.
	half := blinkLen / 2
	if into < half {
		return float64(into) / float64(half)
	}
	return float64(blinkLen-into) / float64(half)
}
