package crisis

import (
	"strings"
	"time"
)

// Keywords that trigger immediate intervention. Matching is plain
// case-insensitive substring containment: "killing my free time" would match
// "kill my" if such a phrase were listed. That looseness is intentional and
// must not be tightened without product sign-off.
var Keywords = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"kill my self",
	"end my life",
	"end it all",
	"want to die",
	"better off dead",
	"no reason to live",
	"self harm",
	"self-harm",
	"hurt myself",
	"hurt my self",
}

// SafetyResponse is the fixed help text returned on any positive detection.
// It must be deliverable without touching the completion service.
const SafetyResponse = `I'm very concerned about what you've shared. Your safety is the top priority right now.

If you're in immediate danger, please reach out to crisis support:

1. Call 988 - Suicide & Crisis Lifeline (US) - Available 24/7
2. Text "HELLO" to 741741 - Crisis Text Line
3. Go to your nearest emergency room
4. International Crisis Lines: findahelpline.com

You are not alone. Help is available, and people care about you.

I'm here to support you, but I'm not equipped to handle crisis situations. Please reach out to one of these resources. They have trained professionals who can provide the help you need right now.`

// ResponseCooldown throttles repeated safety responses within one session so a
// user in distress is not spammed with the same block of text.
const ResponseCooldown = 60 * time.Second

// Detection is the result of scanning one utterance.
type Detection struct {
	IsCrisis        bool
	MatchedKeywords []string
}

// Incident is the append-only record written whenever Detect fires.
type Incident struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	Message         string    `json:"message"`
	MatchedKeywords []string  `json:"matched_keywords"`
	CreatedAt       time.Time `json:"created_at"`
}

// Detect scans text for crisis keywords. Deterministic, no I/O.
func Detect(text string) Detection {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return Detection{
		IsCrisis:        len(matched) > 0,
		MatchedKeywords: matched,
	}
}
