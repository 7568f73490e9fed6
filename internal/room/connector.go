package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Room is a provisioned media room a client and bot can join.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Grant carries everything a participant needs to join a room.
type Grant struct {
	Room        Room
	BotToken    string
	ClientToken string
	BotID       string
}

// Connector provisions rooms and meeting tokens against a Daily-style REST API.
type Connector struct {
	baseURL     string
	apiKey      string
	roomExpiry  time.Duration
	enableVideo bool
	client      *http.Client
}

func NewConnector(baseURL, apiKey string, roomExpiry time.Duration, enableVideo bool) *Connector {
	return &Connector{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      strings.TrimSpace(apiKey),
		roomExpiry:  roomExpiry,
		enableVideo: enableVideo,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Provision creates a room plus owner and client tokens for one session.
func (c *Connector) Provision(ctx context.Context, sessionID string) (Grant, error) {
	room, err := c.createRoom(ctx)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	botToken, err := c.createMeetingToken(ctx, room.Name, true)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: bot token: %v", ErrConnectFailed, err)
	}
	clientToken, err := c.createMeetingToken(ctx, room.Name, false)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: client token: %v", ErrConnectFailed, err)
	}

	return Grant{
		Room:        room,
		BotToken:    botToken,
		ClientToken: clientToken,
		BotID:       "bot-" + uuid.NewString()[:8],
	}, nil
}

func (c *Connector) createRoom(ctx context.Context) (Room, error) {
	var exp any
	if c.roomExpiry > 0 {
		exp = time.Now().Add(c.roomExpiry).Unix()
	}
	payload := map[string]any{
		"name": "avilon-" + uuid.NewString()[:8],
		"properties": map[string]any{
			"enable_chat":        false,
			"enable_screenshare": false,
			"enable_recording":   false,
			"start_audio_off":    false,
			"start_video_off":    !c.enableVideo,
			"exp":                exp,
			"eject_at_room_exp":  true,
		},
	}

	var room Room
	if err := c.do(ctx, "/rooms", payload, &room); err != nil {
		return Room{}, err
	}
	if room.URL == "" || room.Name == "" {
		return Room{}, fmt.Errorf("room api returned incomplete room")
	}
	return room, nil
}

func (c *Connector) createMeetingToken(ctx context.Context, roomName string, isOwner bool) (string, error) {
	payload := map[string]any{
		"properties": map[string]any{
			"room_name":          roomName,
			"is_owner":           isOwner,
			"enable_screenshare": false,
			"start_audio_off":    false,
		},
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "/meeting-tokens", payload, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("room api returned empty token")
	}
	return out.Token, nil
}

func (c *Connector) do(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("room api status %d: %s", res.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
