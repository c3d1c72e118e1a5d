package chat

import (
	"strings"
	"unicode"
)

// Outcome is the terminal state of one inbound message.
type Outcome string

const (
	OutcomeDuplicate   Outcome = "duplicate"    // already being handled
	OutcomeIgnored     Outcome = "ignored"      // own/bot message or disabled channel
	OutcomeIdle        Outcome = "idle"         // not addressed, no follow-up
	OutcomeCancelled   Outcome = "cancelled"    // stop keyword during a follow-up
	OutcomeRateLimited Outcome = "rate_limited" // engaged but over the actor's limit
	OutcomeEngaged     Outcome = "engaged"
)

// Signals are the facts Decide needs about one message.
type Signals struct {
	FromSelf         bool
	FromBot          bool
	ChannelEnabled   bool
	Addressed        bool // bot name or explicit mention
	FollowUp         bool // inside the follow-up window
	HasContext       bool // any context exists, expired or not
	StopIntent       bool
	EndsWithQuestion bool
	ReactOnQuestions bool
}

// Decision is what the service should do with a message.
type Decision struct {
	Outcome      Outcome
	ClearContext bool
	React        bool
}

// Decide evaluates the engagement rules in order. It has no side effects.
func Decide(s Signals) Decision {
	if s.FromSelf || s.FromBot {
		return Decision{Outcome: OutcomeIgnored}
	}
	if !s.ChannelEnabled {
		return Decision{Outcome: OutcomeIgnored}
	}
	if s.FollowUp && s.StopIntent {
		return Decision{Outcome: OutcomeCancelled, ClearContext: true}
	}
	if !s.Addressed && !s.FollowUp {
		return Decision{Outcome: OutcomeIdle, ClearContext: s.HasContext}
	}
	return Decision{
		Outcome: OutcomeEngaged,
		React:   s.Addressed && !s.FollowUp && (!s.EndsWithQuestion || s.ReactOnQuestions),
	}
}

// IsAddressed reports whether content names the bot (case-insensitive
// substring match on any of names) or mentioned is set.
func IsAddressed(content string, names []string, mentioned bool) bool {
	if mentioned {
		return true
	}
	lower := strings.ToLower(content)
	for _, n := range names {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// IsStopIntent reports whether the whole message is one of the stop
// keywords, ignoring case, surrounding whitespace and punctuation.
func IsStopIntent(content string, keywords []string) bool {
	norm := strings.ToLower(strings.TrimFunc(content, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
	if norm == "" {
		return false
	}
	for _, k := range keywords {
		if norm == strings.ToLower(strings.TrimSpace(k)) {
			return true
		}
	}
	return false
}

// EndsWithQuestion reports whether the trimmed message ends in '?'.
func EndsWithQuestion(content string) bool {
	return strings.HasSuffix(strings.TrimSpace(content), "?")
}
