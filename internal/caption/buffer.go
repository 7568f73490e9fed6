package caption

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a caption line.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// Entry is one caption line. A non-final entry is interim transcription or
// accumulating bot text and may be replaced in place; once final it is frozen.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultLimit bounds how many finalized lines are kept for display.
const DefaultLimit = 10

// Buffer holds the ordered caption history with interim-replace-then-finalize
// semantics: at most one interim entry per speaker exists at a time, and
// finalizing collapses it into exactly one final entry.
type Buffer struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
	now     func() time.Time
}

func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit, now: time.Now}
}

// UpsertInterim replaces the speaker's current interim entry, or appends one
// if none exists. Empty text is ignored.
func (b *Buffer) UpsertInterim(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.entries) - 1; i >= 0; i-- {
		e := &b.entries[i]
		if e.Speaker == speaker && !e.IsFinal {
			e.Text = text
			e.UpdatedAt = b.now()
			return
		}
	}
	b.append(Entry{Speaker: speaker, Text: text, UpdatedAt: b.now()})
}

// Finalize clears any interim entry for the speaker and appends one final
// entry. Re-finalizing the same text is idempotent.
func (b *Buffer) Finalize(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Speaker == speaker && !b.entries[i].IsFinal {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}

	if n := len(b.entries); n > 0 {
		last := b.entries[n-1]
		if last.Speaker == speaker && last.IsFinal && last.Text == text {
			return
		}
	}
	b.append(Entry{Speaker: speaker, Text: text, IsFinal: true, UpdatedAt: b.now()})
}

// Entries returns a copy of the buffer contents in arrival order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset drops all entries.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

func (b *Buffer) append(e Entry) {
	b.entries = append(b.entries, e)
	if len(b.entries) > b.limit {
		b.entries = b.entries[len(b.entries)-b.limit:]
	}
}
