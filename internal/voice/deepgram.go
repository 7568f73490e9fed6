package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type DeepgramConfig struct {
	APIKey     string
	WSBaseURL  string
	Model      string
	Language   string
	SampleRate int
}

// DeepgramProvider streams microphone audio to the Deepgram realtime API.
type DeepgramProvider struct {
	cfg DeepgramConfig
}

func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &DeepgramProvider{cfg: cfg}
}

func (p *DeepgramProvider) StartSession(ctx context.Context, _ string) (STTSession, <-chan STTEvent, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/listen")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	q.Set("language", p.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.cfg.SampleRate))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	events := make(chan STTEvent, 256)
	s := &deepgramSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

type deepgramSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan STTEvent
}

func (s *deepgramSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	pcm, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if len(pcm) > 0 {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			return err
		}
	}
	if commit {
		return s.conn.WriteJSON(map[string]any{"type": "Finalize"})
	}
	return nil
}

func (s *deepgramSession) readLoop() {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, ok := parseDeepgramResult(data)
		if !ok {
			continue
		}
		s.events <- ev
	}
}

// parseDeepgramResult maps a Results frame to a partial or committed event.
func parseDeepgramResult(data []byte) (STTEvent, bool) {
	var raw struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channel"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return STTEvent{}, false
	}

	switch raw.Type {
	case "Results":
		if len(raw.Channel.Alternatives) == 0 {
			return STTEvent{}, false
		}
		alt := raw.Channel.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			return STTEvent{}, false
		}
		ev := STTEvent{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			Timestamp:  time.Now().UnixMilli(),
		}
		if raw.IsFinal {
			ev.Type = STTEventCommitted
			ev.Source = "deepgram_final"
		} else {
			ev.Type = STTEventPartial
		}
		return ev, true
	case "Metadata", "UtteranceEnd", "SpeechStarted", "":
		return STTEvent{}, false
	default:
		return STTEvent{
			Type:      STTEventError,
			Code:      raw.Type,
			Detail:    raw.Error,
			Timestamp: time.Now().UnixMilli(),
		}, true
	}
}

func (s *deepgramSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
		close(s.events)
	})
	return retErr
}

func (s *deepgramSession) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.events)
	})
}
