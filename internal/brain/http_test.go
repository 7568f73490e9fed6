package brain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPGeneratorConsumeStreaming(t *testing.T) {
	g := NewHTTPGenerator("http://example.test", "", "")
	stream := strings.NewReader(strings.Join([]string{
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	var deltas []string
	resp, err := g.consumeStreaming(stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Fatalf("deltas = %q, want %q", strings.Join(deltas, ""), "Hello")
	}
}

func TestHTTPGeneratorPlainJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"You are not alone in this."}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, "k1", "gpt-4o-mini")
	resp, err := g.StreamResponse(context.Background(), TurnRequest{InputText: "hi"}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "You are not alone in this." {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestHTTPGeneratorNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, "", "")
	if _, err := g.StreamResponse(context.Background(), TurnRequest{InputText: "hi"}, nil); err == nil {
		t.Fatalf("expected error for 503 response")
	}
}

func TestExtractTextChatCompletionShapes(t *testing.T) {
	cases := []struct {
		name string
		obj  map[string]any
		want string
	}{
		{
			name: "delta content",
			obj:  map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "a"}}}},
			want: "a",
		},
		{
			name: "message content",
			obj:  map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": "b"}}}},
			want: "b",
		},
		{
			name: "top-level text",
			obj:  map[string]any{"text": "c"},
			want: "c",
		},
	}
	for _, tc := range cases {
		if got := extractText(tc.obj); got != tc.want {
			t.Fatalf("%s: extractText = %q, want %q", tc.name, got, tc.want)
		}
	}
}
