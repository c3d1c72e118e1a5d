// Package chat decides whether the bot engages with plain channel messages
// and, when it does, produces and sends the reply.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
	"github.com/nextlevelbuilder/neverbot/internal/channels"
	"github.com/nextlevelbuilder/neverbot/internal/completion"
	"github.com/nextlevelbuilder/neverbot/internal/conversation"
	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/providers"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// Replier is the outbound side of a message channel.
type Replier interface {
	Send(ctx context.Context, channelID, content string) (string, error)
	Reply(ctx context.Context, channelID, replyToID, content string) (string, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	Typing(ctx context.Context, channelID string) error
	// History returns up to limit messages before beforeID, oldest first.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]bus.HistoryMessage, error)
	LatestMessageID(ctx context.Context, channelID string) (string, error)
}

// Generator produces replies. Implemented by completion.Gateway.
type Generator interface {
	GenerateReply(ctx context.Context, req completion.Request) completion.Reply
}

// Deps wires a Service.
type Deps struct {
	Conversations   *conversation.Store
	Generator       Generator
	Replier         Replier
	Servers         store.ServerStore // nil: every channel enabled
	Users           store.UserStore   // nil: no profiles
	Limiter         *channels.RateLimiter
	Dedup           *channels.DedupGuard
	Metrics         metrics.Recorder
	PlatformProfile resilience.Profile
	Settings        Settings
}

// Service handles inbound messages. Safe for concurrent use.
type Service struct {
	conv     *conversation.Store
	gen      Generator
	replier  Replier
	servers  store.ServerStore
	users    store.UserStore
	limiter  *channels.RateLimiter
	dedup    *channels.DedupGuard
	rec      metrics.Recorder
	platform resilience.Profile
	now      func() time.Time

	settings atomic.Pointer[Settings]
	identity atomic.Pointer[identity]

	rejectLog    rate.Sometimes
	reactLimiter *rate.Limiter
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Limiter == nil {
		d.Limiter = channels.NewRateLimiter(channels.DefaultRateLimitWindow, channels.DefaultRateLimitMax)
	}
	if d.Dedup == nil {
		d.Dedup = channels.NewDedupGuard()
	}
	if d.PlatformProfile == (resilience.Profile{}) {
		d.PlatformProfile = resilience.DefaultProfile()
	}
	s := &Service{
		conv:     d.Conversations,
		gen:      d.Generator,
		replier:  d.Replier,
		servers:  d.Servers,
		users:    d.Users,
		limiter:  d.Limiter,
		dedup:    d.Dedup,
		rec:      metrics.Safe(d.Metrics),
		platform: d.PlatformProfile,
		now:      time.Now,

		rejectLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		// Discord allows roughly four reactions per second per channel.
		reactLimiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
	}
	s.identity.Store(&identity{})
	s.UpdateSettings(d.Settings)
	return s
}

type identity struct {
	userID string
	name   string
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// UpdateSettings swaps the live settings. The bot's own trigger name, once
// known, is always kept in BotNames.
func (s *Service) UpdateSettings(set Settings) {
	set = set.withDefaults()
	if id := s.identity.Load(); id != nil && id.name != "" && !slices.ContainsFunc(set.BotNames, func(n string) bool {
		return strings.EqualFold(n, id.name)
	}) {
		set.BotNames = append(slices.Clone(set.BotNames), id.name)
	}
	s.settings.Store(&set)
}

// Settings returns the live settings.
func (s *Service) Settings() Settings { return *s.settings.Load() }

// SetIdentity records the bot's own user id and trigger name once the
// platform session is ready.
func (s *Service) SetIdentity(userID, name string) {
	s.identity.Store(&identity{userID: userID, name: name})
	s.UpdateSettings(s.Settings())
}

// HandleMessage runs one inbound message through dedup, the engagement
// rules, rate limiting and reply generation. Errors are logged, never
// returned.
func (s *Service) HandleMessage(ctx context.Context, ev bus.MessageEvent) Outcome {
	if !s.dedup.TryBegin(ev.ID) {
		slog.Debug("chat: duplicate message ignored", "message_id", ev.ID)
		return OutcomeDuplicate
	}
	defer s.dedup.End(ev.ID)

	set := s.Settings()
	key := conversation.Key{ChannelID: ev.ChannelID, UserID: ev.AuthorID}

	sig := Signals{
		FromSelf: ev.AuthorID == s.identity.Load().userID,
		FromBot:  ev.AuthorIsBot,
	}
	if !sig.FromSelf && !sig.FromBot {
		sig.ChannelEnabled = s.channelEnabled(ctx, ev.ServerID, ev.ChannelID, set.FailClosed)
	}
	var profile *store.UserData
	if sig.ChannelEnabled {
		profile = s.touchUser(ctx, ev)

		_, sig.HasContext = s.conv.Get(key)
		sig.FollowUp = s.conv.IsFollowUpWindow(key, s.now())
		sig.Addressed = IsAddressed(ev.Content, set.BotNames, ev.Mentioned)
		sig.StopIntent = IsStopIntent(ev.Content, set.StopKeywords)
		sig.EndsWithQuestion = EndsWithQuestion(ev.Content)
		sig.ReactOnQuestions = set.ReactOnQuestions
	}

	d := Decide(sig)
	switch d.Outcome {
	case OutcomeIgnored:
		return d.Outcome

	case OutcomeIdle:
		if d.ClearContext {
			s.conv.Clear(key)
		}
		return d.Outcome

	case OutcomeCancelled:
		s.conv.Clear(key)
		slog.Info("chat: conversation cancelled", "channel_id", ev.ChannelID, "user_id", ev.AuthorID)
		s.send(ctx, ev, set.StopAck, false)
		return d.Outcome
	}

	if !s.limiter.Allow(ev.AuthorID) {
		s.rec.RateLimitHit("message")
		s.rejectLog.Do(func() {
			slog.Info("chat: rate limited", "user_id", ev.AuthorID, "channel_id", ev.ChannelID)
		})
		s.send(ctx, ev, set.SlowDown, false)
		return OutcomeRateLimited
	}

	slog.Info("chat: engaged", "user_id", ev.AuthorID, "channel_id", ev.ChannelID,
		"addressed", sig.Addressed, "follow_up", sig.FollowUp)

	if d.React && set.Reaction != "" {
		s.react(ctx, ev, set.Reaction)
	}
	s.respond(ctx, ev, set, key, sig.FollowUp, profile)
	return OutcomeEngaged
}

func (s *Service) respond(ctx context.Context, ev bus.MessageEvent, set Settings, key conversation.Key, followUp bool, profile *store.UserData) {
	if _, err := platformCall(ctx, s, "discord.typing", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.replier.Typing(ctx, ev.ChannelID)
	}); err != nil {
		slog.Debug("chat: typing indicator failed", "error", err)
	}

	var history []providers.Message
	if followUp {
		history = s.history(ctx, ev, set.HistoryLimit)
	}

	convID := s.conv.ResolveConversationID(ctx, key, ev.ServerID)
	req := completion.Request{
		Prompt:         ev.Content,
		UserName:       ev.AuthorName,
		History:        history,
		ConversationID: convID,
	}
	if profile != nil {
		req.UserInsight = profile.PersonalitySummary
	}

	reply := s.gen.GenerateReply(ctx, req)
	text := reply.Text
	if !reply.OK() {
		text = set.Fallback()
	}

	botMsgID := s.sendParts(ctx, ev, SplitText(text, set.MaxMessageLength))
	if botMsgID == "" {
		return
	}

	nextID := reply.ConversationID
	if nextID == "" {
		nextID = convID
	}
	s.conv.RecordReply(key, botMsgID, ev.ID, nextID)

	if reply.ConversationID != "" && reply.ConversationID != convID {
		if err := s.conv.PersistConversationID(ctx, ev.ServerID, ev.ChannelID, reply.ConversationID); err != nil {
			slog.Warn("chat: persist conversation failed", "channel_id", ev.ChannelID, "error", err)
		}
	}
}

// sendParts sends the reply parts and returns the first part's message id.
// The first part is a plain send when the inbound message is still the
// latest in the channel, otherwise a quoted reply.
func (s *Service) sendParts(ctx context.Context, ev bus.MessageEvent, parts []string) string {
	latest, err := platformCall(ctx, s, "discord.latest_message", func(ctx context.Context) (string, error) {
		return s.replier.LatestMessageID(ctx, ev.ChannelID)
	})
	sendDirectly := err != nil || latest == "" || latest == ev.ID

	first := ""
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id := s.send(ctx, ev, part, i == 0 && !sendDirectly)
		if first == "" {
			first = id
		}
	}
	return first
}

// send posts content to the message's channel, quoting the message when
// quote is set. Returns the new message id, or "" on failure.
func (s *Service) send(ctx context.Context, ev bus.MessageEvent, content string, quote bool) string {
	name := "discord.send"
	op := func(ctx context.Context) (string, error) {
		return s.replier.Send(ctx, ev.ChannelID, content)
	}
	if quote {
		name = "discord.reply"
		op = func(ctx context.Context) (string, error) {
			return s.replier.Reply(ctx, ev.ChannelID, ev.ID, content)
		}
	}

	id, err := platformCall(ctx, s, name, op)
	if err != nil {
		logPlatformFailure(name, ev.ChannelID, err)
		return ""
	}
	return id
}

func (s *Service) react(ctx context.Context, ev bus.MessageEvent, emoji string) {
	if !s.reactLimiter.Allow() {
		slog.Debug("chat: reaction skipped, throttled", "message_id", ev.ID)
		return
	}
	if _, err := platformCall(ctx, s, "discord.react", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.replier.React(ctx, ev.ChannelID, ev.ID, emoji)
	}); err != nil {
		logPlatformFailure("discord.react", ev.ChannelID, err)
	}
}

func (s *Service) history(ctx context.Context, ev bus.MessageEvent, limit int) []providers.Message {
	msgs, err := platformCall(ctx, s, "discord.history", func(ctx context.Context) ([]bus.HistoryMessage, error) {
		return s.replier.History(ctx, ev.ChannelID, ev.ID, limit)
	})
	if err != nil {
		slog.Warn("chat: could not fetch follow-up history", "channel_id", ev.ChannelID, "error", err)
		return nil
	}

	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch {
		case m.FromBot:
			out = append(out, providers.Message{Role: "assistant", Content: m.Content})
		case m.AuthorID == ev.AuthorID:
			out = append(out, providers.Message{Role: "user", Content: m.Content})
		}
	}
	return out
}

func (s *Service) channelEnabled(ctx context.Context, serverID, channelID string, failClosed bool) bool {
	if s.servers == nil || serverID == "" {
		return true
	}
	allow, err := s.servers.GetEnabledChannels(ctx, serverID)
	if err != nil {
		slog.Warn("chat: allow-list lookup failed", "server_id", serverID, "fail_closed", failClosed, "error", err)
		return !failClosed
	}
	return channels.ChannelEnabled(allow, channelID)
}

func (s *Service) touchUser(ctx context.Context, ev bus.MessageEvent) *store.UserData {
	if s.users == nil {
		return nil
	}
	u, err := s.users.FindOrCreate(ctx, ev.AuthorID, ev.ServerID, ev.AuthorName)
	if err != nil {
		slog.Warn("chat: load user failed", "user_id", ev.AuthorID, "error", err)
		return nil
	}
	if err := s.users.Touch(ctx, ev.AuthorID, ev.ServerID); err != nil {
		slog.Warn("chat: touch user failed", "user_id", ev.AuthorID, "error", err)
	}
	// Samples for the personality summary.
	if strings.TrimSpace(ev.Content) != "" {
		if err := s.users.RecordMessage(ctx, ev.AuthorID, ev.ServerID, ev.Content); err != nil {
			slog.Warn("chat: record message failed", "user_id", ev.AuthorID, "error", err)
		}
	}
	return u
}

func platformCall[T any](ctx context.Context, s *Service, name string, op resilience.Operation[T]) (T, error) {
	return resilience.Execute(ctx, s.platform, op, resilience.WithName(name))
}

func logPlatformFailure(call, channelID string, err error) {
	if resilience.Classify(err) == resilience.KindPermission {
		slog.Warn("chat: missing permission", "call", call, "channel_id", channelID, "error", err)
		return
	}
	slog.Error("chat: platform call failed", "call", call, "channel_id", channelID, "error", err)
}
