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
	"time"
)

// CloneStatus reports where a cloned voice sits in its build pipeline.
type CloneStatus string

const (
	CloneStatusPending CloneStatus = "pending"
	CloneStatusReady   CloneStatus = "ready"
	CloneStatusFailed  CloneStatus = "failed"
)

// ClonedVoice is the provider-side record of a user voice clone.
type ClonedVoice struct {
	VoiceID   string      `json:"voice_id"`
	Name      string      `json:"name"`
	Status    CloneStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// CloneClient manages user voice clones against the synthesis provider.
type CloneClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCloneClient(baseURL, apiKey string) *CloneClient {
	return &CloneClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateVoice submits recorded samples and returns the new clone, normally in
// pending state.
func (c *CloneClient) CreateVoice(ctx context.Context, name string, sampleBase64 []string) (ClonedVoice, error) {
	if len(sampleBase64) == 0 {
		return ClonedVoice{}, fmt.Errorf("at least one voice sample is required")
	}

	payload, err := json.Marshal(map[string]any{
		"name":    name,
		"samples": sampleBase64,
	})
	if err != nil {
		return ClonedVoice{}, fmt.Errorf("marshal request: %w", err)
	}

	var voice ClonedVoice
	if err := c.do(ctx, http.MethodPost, "/voices/clone", payload, &voice); err != nil {
		return ClonedVoice{}, err
	}
	if voice.Status == "" {
		voice.Status = CloneStatusPending
	}
	return voice, nil
}

// VoiceStatus fetches the current build state of a clone.
func (c *CloneClient) VoiceStatus(ctx context.Context, voiceID string) (ClonedVoice, error) {
	if strings.TrimSpace(voiceID) == "" {
		return ClonedVoice{}, fmt.Errorf("voice_id is required")
	}
	var voice ClonedVoice
	if err := c.do(ctx, http.MethodGet, "/voices/"+url.PathEscape(voiceID), nil, &voice); err != nil {
		return ClonedVoice{}, err
	}
	return voice, nil
}

// RequireReady resolves a clone for synthesis, mapping pending and failed
// builds into the error taxonomy.
func (c *CloneClient) RequireReady(ctx context.Context, voiceID string) (ClonedVoice, error) {
	voice, err := c.VoiceStatus(ctx, voiceID)
	if err != nil {
		return ClonedVoice{}, err
	}
	switch voice.Status {
	case CloneStatusReady:
		return voice, nil
	case CloneStatusPending:
		return ClonedVoice{}, fmt.Errorf("%w: voice %s still processing", ErrVoiceNotReady, voiceID)
	default:
		return ClonedVoice{}, fmt.Errorf("%w: voice %s build failed", ErrSynthesisFailed, voiceID)
	}
}

func (c *CloneClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("clone api status %d: %s", res.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
