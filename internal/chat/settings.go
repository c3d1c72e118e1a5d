package chat

import "math/rand/v2"

// Settings are the live engagement settings. They can be swapped at runtime
// with Service.UpdateSettings.
type Settings struct {
	// BotNames trigger engagement when they appear anywhere in a message.
	BotNames         []string
	StopKeywords     []string
	Reaction         string // passive acknowledgement emoji; empty disables
	ReactOnQuestions bool
	StopAck          string
	SlowDown         string
	FallbackLines    []string
	HistoryLimit     int // earlier channel messages fetched for a follow-up
	MaxMessageLength int
	// FailClosed ignores messages when the channel allow-list cannot be read.
	FailClosed bool
}

// DefaultSettings returns the stock engagement settings.
func DefaultSettings() Settings {
	return Settings{
		BotNames:     []string{"never"},
		StopKeywords: []string{"stop", "cancel", "nevermind", "never mind", "shut up", "be quiet", "enough"},
		Reaction:     "🤔",
		StopAck:      "Fine, I'll stop. Ping me if you change your mind.",
		SlowDown:     "Whoa, slow down! Give me a minute before the next one.",
		FallbackLines: []string{
			"I tried to think of something witty, but my circuits are fried. Ask again later?",
			"Sorry, I had a moment of existential dread and couldn't come up with a response. Try again?",
			"My brain just blue-screened. Give me a second and ask again.",
			"I had a brilliant answer and then I lost it. Typical. Try me again?",
		},
		HistoryLimit:     12,
		MaxMessageLength: 2000,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.StopAck == "" {
		s.StopAck = d.StopAck
	}
	if s.SlowDown == "" {
		s.SlowDown = d.SlowDown
	}
	if len(s.FallbackLines) == 0 {
		s.FallbackLines = d.FallbackLines
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if s.MaxMessageLength <= 0 {
		s.MaxMessageLength = d.MaxMessageLength
	}
	return s
}

// Fallback picks one of the in-character failure lines.
func (s Settings) Fallback() string {
	if len(s.FallbackLines) == 0 {
		return DefaultSettings().FallbackLines[0]
	}
	return s.FallbackLines[rand.IntN(len(s.FallbackLines))]
}
