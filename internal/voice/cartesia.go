package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/simsketch/avilonai.com/internal/reliability"
)

type CartesiaConfig struct {
	APIKey       string
	WSBaseURL    string
	HTTPBaseURL  string
	Model        string
	OutputFormat string
	SampleRate   int
}

// CartesiaProvider streams synthesized speech over the Cartesia websocket API
// and synthesizes full utterances over its HTTP bytes endpoint.
type CartesiaProvider struct {
	cfg    CartesiaConfig
	client *http.Client
}

func NewCartesiaProvider(cfg CartesiaConfig) *CartesiaProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.cartesia.ai"
	}
	if strings.TrimSpace(cfg.HTTPBaseURL) == "" {
		cfg.HTTPBaseURL = "https://api.cartesia.ai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "sonic-2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_s16le"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &CartesiaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *CartesiaProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = p.cfg.Model
	}

	speed := settings.Speed
	if speed <= 0 {
		speed = 1.0
	}
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/tts/websocket")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", p.cfg.APIKey)
	q.Set("cartesia_version", "2024-06-10")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &cartesiaStream{
		conn:      conn,
		events:    make(chan TTSEvent, 512),
		contextID: uuid.NewString(),
		voiceID:   voiceID,
		modelID:   modelID,
		speed:     speed,
		format:    p.cfg.OutputFormat,
		rate:      p.cfg.SampleRate,
	}
	go s.readLoop()
	return s, nil
}

type cartesiaStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
	contextID string
	voiceID   string
	modelID   string
	speed     float64
	format    string
	rate      int
}

func (s *cartesiaStream) SendText(_ context.Context, text string, tryTrigger bool) error {
	payload := map[string]any{
		"context_id": s.contextID,
		"model_id":   s.modelID,
		"transcript": text,
		"continue":   !tryTrigger,
		"voice":      map[string]any{"mode": "id", "id": s.voiceID},
		"output_format": map[string]any{
			"container":   "raw",
			"encoding":    s.format,
			"sample_rate": s.rate,
		},
		"speed": s.speed,
	}
	return s.writeJSON(payload)
}

func (s *cartesiaStream) CloseInput(ctx context.Context) error {
	// An empty non-continuing transcript flushes the context.
	return s.SendText(ctx, "", true)
}

func (s *cartesiaStream) Events() <-chan TTSEvent { return s.events }

func (s *cartesiaStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
		close(s.events)
	})
	return retErr
}

func (s *cartesiaStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *cartesiaStream) readLoop() {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw struct {
			Type  string `json:"type"`
			Data  string `json:"data"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		switch raw.Type {
		case "chunk":
			if raw.Data != "" {
				s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: raw.Data, Format: s.format}
			}
		case "done":
			s.events <- TTSEvent{Type: TTSEventFinal}
		case "error":
			s.events <- TTSEvent{
				Type:      TTSEventError,
				Code:      raw.Type,
				Detail:    raw.Error,
				Retryable: reliability.IsRetryableUpstreamCode(raw.Error),
			}
		default:
			if raw.Done {
				s.events <- TTSEvent{Type: TTSEventFinal}
			}
		}
	}
}

func (s *cartesiaStream) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.events)
	})
}

// Synthesize produces the full utterance as raw PCM in one request.
func (p *CartesiaProvider) Synthesize(ctx context.Context, voiceID, text string) ([]byte, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	payload, err := json.Marshal(map[string]any{
		"model_id":   p.cfg.Model,
		"transcript": text,
		"voice":      map[string]any{"mode": "id", "id": voiceID},
		"output_format": map[string]any{
			"container":   "raw",
			"encoding":    p.cfg.OutputFormat,
			"sample_rate": p.cfg.SampleRate,
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.HTTPBaseURL, "/")+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.cfg.APIKey)
	httpReq.Header.Set("Cartesia-Version", "2024-06-10")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, 0, fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, res.StatusCode, string(body))
	}

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrSynthesisFailed, err)
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("%w: empty audio", ErrSynthesisFailed)
	}
	return pcm, p.cfg.SampleRate, nil
}
