package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// TurnStageStats summarizes recent latencies for one pipeline stage.
type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// turnStageWindow keeps a fixed-size ring of latency samples per stage so the
// perf endpoint can report percentiles without scraping Prometheus.
type turnStageWindow struct {
	mu         sync.RWMutex
	capacity   int
	rings      map[string]*stageRing
	indicators map[string]int
}

type stageRing struct {
	samples []float64
	head    int
	count   int
}

func (r *stageRing) push(ms float64) {
	if r.count < len(r.samples) {
		r.samples[r.count] = ms
		r.count++
		return
	}
	r.samples[r.head] = ms
	r.head = (r.head + 1) % len(r.samples)
}

func (r *stageRing) last() float64 {
	if r.count == 0 {
		return 0
	}
	if r.count < len(r.samples) {
		return r.samples[r.count-1]
	}
	idx := r.head - 1
	if idx < 0 {
		idx = len(r.samples) - 1
	}
	return r.samples[idx]
}

func (r *stageRing) sorted() []float64 {
	out := make([]float64, r.count)
	copy(out, r.samples[:r.count])
	sort.Float64s(out)
	return out
}

func newTurnStageWindow(capacity int) *turnStageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &turnStageWindow{
		capacity:   capacity,
		rings:      make(map[string]*stageRing),
		indicators: make(map[string]int),
	}
}

func (w *turnStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.rings[stage]
	if !ok {
		ring = &stageRing{samples: make([]float64, w.capacity)}
		w.rings[stage] = ring
	}
	ring.push(ms)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Stages:      make([]TurnStageStats, 0, len(w.rings)),
	}

	for _, stage := range sortedKeys(w.rings) {
		ring := w.rings[stage]
		if ring == nil || ring.count == 0 {
			continue
		}
		samples := ring.sorted()
		var sum float64
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, TurnStageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(ring.last()),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(nearestRank(samples, 0.50)),
			P95MS:       round2(nearestRank(samples, 0.95)),
			P99MS:       round2(nearestRank(samples, 0.99)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}

	for _, name := range sortedKeys(w.indicators) {
		if w.indicators[name] <= 0 {
			continue
		}
		snap.Indicators = append(snap.Indicators, TurnIndicator{
			Name:  name,
			Count: w.indicators[name],
		})
	}
	return snap
}

func (w *turnStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[string]*stageRing)
	w.indicators = make(map[string]int)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nearestRank picks the sample at ceil(q*n), which is stable for the small
// windows this tracks.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case "partial_to_commit":
		return 400
	case "commit_to_reply_text":
		return 2500
	case "reply_to_audio_ready":
		return 1500
	case "audio_to_render_done":
		return 4000
	case "clip_job_total":
		return 60000
	case "turn_total":
		return 8000
	default:
		return 0
	}
}
