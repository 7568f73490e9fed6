package caption

import "testing"

func TestInterimReplaceThenFinalize(t *testing.T) {
	b := NewBuffer(10)
	b.UpsertInterim(SpeakerUser, "how")
	b.UpsertInterim(SpeakerUser, "how was")
	b.UpsertInterim(SpeakerUser, "how was your")
	b.Finalize(SpeakerUser, "how was your day?")

	got := b.Entries()
	if len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1: %+v", len(got), got)
	}
	if !got[0].IsFinal || got[0].Text != "how was your day?" {
		t.Fatalf("entry = %+v, want final %q", got[0], "how was your day?")
	}
}

func TestDuplicateFinalIsIdempotent(t *testing.T) {
	b := NewBuffer(10)
	b.Finalize(SpeakerBot, "hello there")
	b.Finalize(SpeakerBot, "hello there")
	if got := b.Entries(); len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(got))
	}
}

func TestAtMostOneInterimPerSpeaker(t *testing.T) {
	b := NewBuffer(10)
	b.UpsertInterim(SpeakerUser, "umm")
	b.UpsertInterim(SpeakerBot, "let me")
	b.UpsertInterim(SpeakerUser, "umm so")
	b.UpsertInterim(SpeakerBot, "let me think")

	interims := map[Speaker]int{}
	for _, e := range b.Entries() {
		if !e.IsFinal {
			interims[e.Speaker]++
		}
	}
	if interims[SpeakerUser] != 1 || interims[SpeakerBot] != 1 {
		t.Fatalf("interim counts = %v, want 1 per speaker", interims)
	}
}

func TestFinalClearsOnlyOwnSpeakerInterim(t *testing.T) {
	b := NewBuffer(10)
	b.UpsertInterim(SpeakerUser, "so I was")
	b.UpsertInterim(SpeakerBot, "tell me")
	b.Finalize(SpeakerBot, "tell me more.")

	var userInterim, botFinal bool
	for _, e := range b.Entries() {
		if e.Speaker == SpeakerUser && !e.IsFinal {
			userInterim = true
		}
		if e.Speaker == SpeakerBot && e.IsFinal {
			botFinal = true
		}
	}
	if !userInterim || !botFinal {
		t.Fatalf("entries = %+v, want user interim preserved and bot final appended", b.Entries())
	}
}

func TestBufferBounded(t *testing.T) {
	b := NewBuffer(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		b.Finalize(SpeakerUser, text)
	}
	got := b.Entries()
	if len(got) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(got))
	}
	if got[0].Text != "c" || got[2].Text != "e" {
		t.Fatalf("oldest entries not evicted: %+v", got)
	}
}

func TestEmptyTextIgnored(t *testing.T) {
	b := NewBuffer(10)
	b.UpsertInterim(SpeakerUser, "   ")
	b.Finalize(SpeakerUser, "")
	if got := b.Entries(); len(got) != 0 {
		t.Fatalf("entries = %+v, want none", got)
	}
}
