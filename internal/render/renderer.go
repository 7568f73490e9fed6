package render

import (
	"context"
	"fmt"
)

// AvatarType selects how the assistant's reply is visually presented.
type AvatarType string

const (
	// AvatarClip renders a photorealistic video clip through an async job API.
	AvatarClip AvatarType = "clip"
	// AvatarRoom presents the reply inside a live media room.
	AvatarRoom AvatarType = "room"
	// AvatarClientAvatar streams viseme events for a client-rendered avatar.
	AvatarClientAvatar AvatarType = "clientAvatar"
)

func ParseAvatarType(s string) (AvatarType, error) {
	switch AvatarType(s) {
	case AvatarClip, AvatarRoom, AvatarClientAvatar:
		return AvatarType(s), nil
	default:
		return "", fmt.Errorf("unknown avatar type %q", s)
	}
}

// Utterance is one finished assistant reply ready for presentation.
type Utterance struct {
	SessionID  string
	TurnID     string
	Text       string
	PCM        []byte
	SampleRate int
}

// Sink receives outbound protocol messages produced while rendering.
type Sink interface {
	Send(msg any) error
}

// Renderer presents one utterance to the client.
type Renderer interface {
	Render(ctx context.Context, u Utterance, sink Sink) error
}

// Selector hands out the renderer for a session's avatar type.
type Selector struct {
	clip   Renderer
	room   Renderer
	avatar Renderer
}

func NewSelector(clip, room, avatar Renderer) *Selector {
	return &Selector{clip: clip, room: room, avatar: avatar}
}

func (s *Selector) For(t AvatarType) (Renderer, error) {
	switch t {
	case AvatarClip:
		if s.clip == nil {
			return nil, fmt.Errorf("clip rendering is not configured")
		}
		return s.clip, nil
	case AvatarRoom:
		if s.room == nil {
			return nil, fmt.Errorf("room rendering is not configured")
		}
		return s.room, nil
	case AvatarClientAvatar:
		if s.avatar == nil {
			return nil, fmt.Errorf("client avatar rendering is not configured")
		}
		return s.avatar, nil
	default:
		return nil, fmt.Errorf("unknown avatar type %q", t)
	}
}
