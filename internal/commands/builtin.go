package commands

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/nextlevelbuilder/neverbot/internal/chat"
	"github.com/nextlevelbuilder/neverbot/internal/completion"
	"github.com/nextlevelbuilder/neverbot/internal/conversation"
	"github.com/nextlevelbuilder/neverbot/internal/insight"
	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

const (
	msgNoQuestion    = "Please provide a question!"
	msgNoAnswer      = "Sorry, I had a moment of existential dread and couldn't come up with a response. Try again?"
	msgNoServer      = "Server context unavailable."
	msgResetDone     = "Conversation state for this channel has been reset."
	msgResetFailed   = "Failed to reset conversation state."
	msgChannelsFail  = "Failed to update enabled channels. Please try again or contact an admin."
	msgChannelsReset = "Bot enabled in all channels."
	msgNoProfiles    = "User service is unavailable. Cannot fetch personality data at this moment."
	msgNoPersonality = "couldn't grab that personality summary. something broke on my end."

	// MaxBotChannels is how many channels setbotchannels accepts.
	MaxBotChannels = 3
)

// Deps are the collaborators of the built-in commands.
type Deps struct {
	Generator     chat.Generator
	Conversations *conversation.Store
	Servers       store.ServerStore
	Users         store.UserStore   // profiles for personality; may be nil
	Stats         *metrics.Registry // latency summaries for botstat; may be nil
	ServerCount   func() int        // servers the bot is in; may be nil
	StartedAt     time.Time
	// MaxMessageLength bounds each reply part. Zero means 2000.
	MaxMessageLength int
}

// Builtin returns the registry of built-in commands.
func Builtin(d Deps) *Registry {
	if d.MaxMessageLength <= 0 {
		d.MaxMessageLength = 2000
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	b := &builtins{Deps: d}

	base := resilience.DefaultProfile()
	b.registry = NewRegistry(
		&Command{
			Name:        "ping",
			Description: "Replies with Pong!",
			Profile:     base.WithTimeout(2 * time.Second).WithRetries(0),
			Handler:     b.ping,
		},
		&Command{
			Name:        "help",
			Description: "Displays all available commands",
			Handler:     b.help,
		},
		&Command{
			Name:        "ask",
			Description: "You can ask me anything!",
			Options: []Option{
				{Name: "question", Description: "The question you want to ask", Kind: OptionString},
			},
			Profile: base.WithTimeout(30 * time.Second).WithRetries(1),
			Handler: b.ask,
		},
		&Command{
			Name:        "resetconversation",
			Description: "Reset the per-channel conversation state for this channel.",
			Profile:     base.WithTimeout(8 * time.Second).WithRetries(0),
			AdminOnly:   true,
			Handler:     b.resetConversation,
		},
		&Command{
			Name:        "setbotchannels",
			Description: "Set which channels the bot is enabled in for this server.",
			Options: []Option{
				{Name: "channel1", Description: "Channel to enable", Kind: OptionChannel},
				{Name: "channel2", Description: "Channel to enable", Kind: OptionChannel},
				{Name: "channel3", Description: "Channel to enable", Kind: OptionChannel},
			},
			Profile:   base.WithTimeout(30 * time.Second).WithRetries(0),
			AdminOnly: true,
			Handler:   b.setBotChannels,
		},
		&Command{
			Name:        "personality",
			Description: "Displays a user's personality summary, if available.",
			Options: []Option{
				{Name: "target", Description: "The user whose personality you want to see.", Kind: OptionUser},
			},
			Profile: base.WithTimeout(8 * time.Second).WithRetries(0),
			Handler: b.personality,
		},
		&Command{
			Name:        "botstat",
			Description: "Display bot stats and server stats",
			Handler:     b.botStat,
		},
	)
	return b.registry
}

type builtins struct {
	Deps
	registry *Registry
}

func (b *builtins) ping(ctx context.Context, inv *Invocation) error {
	return inv.Interaction.Reply(ctx, "Pong!", false)
}

func (b *builtins) help(ctx context.Context, inv *Invocation) error {
	if err := inv.Interaction.Defer(ctx, false); err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("Here is a list of all available commands:")
	for _, c := range b.registry.List() {
		fmt.Fprintf(&sb, "\n/%s - %s", c.Name, c.Description)
	}
	return inv.Interaction.Edit(ctx, sb.String())
}

func (b *builtins) ask(ctx context.Context, inv *Invocation) error {
	ia, ev := inv.Interaction, inv.Event
	if err := ia.Defer(ctx, false); err != nil {
		return err
	}
	question, ok := ev.Option("question")
	if !ok || strings.TrimSpace(question) == "" {
		return ia.Edit(ctx, msgNoQuestion)
	}

	var convID string
	if b.Conversations != nil && ev.ServerID != "" {
		id, _, err := b.Conversations.LoadPersistedConversationID(ctx, ev.ServerID, ev.ChannelID)
		if err != nil {
			slog.Warn("ask: load conversation failed", "channel_id", ev.ChannelID, "error", err)
		}
		convID = id
	}

	req := completion.Request{Prompt: question, UserName: ev.ActorName, ConversationID: convID}
	if inv.User != nil {
		req.UserInsight = inv.User.PersonalitySummary
	}
	reply := b.Generator.GenerateReply(ctx, req)

	if reply.ConversationID != "" && b.Conversations != nil && ev.ServerID != "" {
		if err := b.Conversations.PersistConversationID(ctx, ev.ServerID, ev.ChannelID, reply.ConversationID); err != nil {
			slog.Warn("ask: persist conversation failed", "channel_id", ev.ChannelID, "error", err)
		}
	}

	if !reply.OK() {
		return ia.Edit(ctx, msgNoAnswer)
	}
	parts := chat.SplitText(reply.Text, b.MaxMessageLength)
	if err := ia.Edit(ctx, parts[0]); err != nil {
		return err
	}
	for _, p := range parts[1:] {
		if err := ia.FollowUp(ctx, p, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *builtins) resetConversation(ctx context.Context, inv *Invocation) error {
	ia, ev := inv.Interaction, inv.Event
	if err := ia.Defer(ctx, true); err != nil {
		return err
	}
	if ev.ServerID == "" || b.Conversations == nil {
		return ia.Edit(ctx, msgNoServer)
	}

	if err := b.Conversations.PersistConversationID(ctx, ev.ServerID, ev.ChannelID, ""); err != nil {
		slog.Warn("resetconversation: clear failed", "server_id", ev.ServerID, "channel_id", ev.ChannelID, "error", err)
		return ia.Edit(ctx, msgResetFailed)
	}
	n := b.Conversations.ClearChannel(ev.ChannelID)
	slog.Info("conversation reset", "server_id", ev.ServerID, "channel_id", ev.ChannelID, "hot_entries", n)
	return ia.Edit(ctx, msgResetDone)
}

func (b *builtins) setBotChannels(ctx context.Context, inv *Invocation) error {
	ia, ev := inv.Interaction, inv.Event
	if err := ia.Defer(ctx, true); err != nil {
		return err
	}
	if ev.ServerID == "" || b.Servers == nil {
		return ia.Edit(ctx, msgNoServer)
	}

	selected := make([]string, 0, MaxBotChannels)
	for i := 1; i <= MaxBotChannels; i++ {
		id, ok := ev.Option(fmt.Sprintf("channel%d", i))
		if !ok {
			continue
		}
		dup := false
		for _, s := range selected {
			dup = dup || s == id
		}
		if !dup {
			selected = append(selected, id)
		}
	}

	if inv.Server == nil {
		if _, err := b.Servers.FindOrCreate(ctx, ev.ServerID, ev.Server); err != nil {
			slog.Error("setbotchannels: load server failed", "server_id", ev.ServerID, "error", err)
			return ia.Edit(ctx, msgChannelsFail)
		}
	}
	if err := b.Servers.SetEnabledChannels(ctx, ev.ServerID, selected); err != nil {
		slog.Error("setbotchannels: update failed", "server_id", ev.ServerID, "error", err)
		return ia.Edit(ctx, msgChannelsFail)
	}

	slog.Info("enabled channels updated", "server_id", ev.ServerID, "channels", selected)
	if len(selected) == 0 {
		return ia.Edit(ctx, msgChannelsReset)
	}
	mentions := make([]string, len(selected))
	for i, id := range selected {
		mentions[i] = "<#" + id + ">"
	}
	return ia.Edit(ctx, "Bot enabled in: "+strings.Join(mentions, ", "))
}

func (b *builtins) personality(ctx context.Context, inv *Invocation) error {
	ia, ev := inv.Interaction, inv.Event
	if err := ia.Defer(ctx, false); err != nil {
		return err
	}
	if b.Users == nil {
		return ia.Edit(ctx, msgNoProfiles)
	}

	targetID, name := ev.ActorID, ev.ActorName
	if id, ok := ev.Option("target"); ok && id != ev.ActorID {
		targetID, name = id, "<@"+id+">"
	}
	profile, err := b.Users.Get(ctx, targetID, ev.ServerID)
	if err != nil {
		slog.Error("personality: load profile failed", "user_id", targetID, "error", err)
		return ia.Edit(ctx, msgNoPersonality)
	}
	if profile == nil {
		return ia.Edit(ctx, fmt.Sprintf("I don't have any information about %s yet.", name))
	}
	if profile.Username != "" {
		name = profile.Username
	}

	summary := strings.TrimSpace(profile.PersonalitySummary)
	switch {
	case summary == "":
		return ia.Edit(ctx, fmt.Sprintf("I don't have a personality summary for %s yet. I'm still observing! Perhaps they need to chat a bit more, or their summary is still being generated.", name))
	case insight.IsErrorSummary(summary):
		return ia.Edit(ctx, fmt.Sprintf("I tried to get a read on %s, but there was an issue generating their personality summary. Please try again later or ask an admin to regenerate it.", name))
	}
	return ia.Edit(ctx, fmt.Sprintf("**%s's Personality Snapshot**\n%s\n_Based on recent activity and interactions._", name, summary))
}

func (b *builtins) botStat(ctx context.Context, inv *Invocation) error {
	ia := inv.Interaction
	if err := ia.Defer(ctx, false); err != nil {
		return err
	}

	servers := 0
	if b.ServerCount != nil {
		servers = b.ServerCount()
	}
	db := "Not Connected"
	if b.Servers != nil {
		if err := b.Servers.Ping(ctx); err == nil {
			db = "Connected and Healthy"
		} else {
			slog.Warn("botstat: database ping failed", "error", err)
		}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var sb strings.Builder
	sb.WriteString("**Bot Stats**\n")
	fmt.Fprintf(&sb, "Bot is in %d servers\n", servers)
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Database: %s\n", db)
	fmt.Fprintf(&sb, "CPU Cores: %d\n", runtime.NumCPU())
	fmt.Fprintf(&sb, "Goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&sb, "Memory: %.2f MB\n", float64(mem.Alloc)/(1024*1024))
	fmt.Fprintf(&sb, "Uptime: %s", time.Since(b.StartedAt).Round(time.Second))

	if b.Stats != nil {
		if lat := b.Stats.Latencies(); len(lat) > 0 {
			sb.WriteString("\n\n**Command latency**")
			for _, l := range lat {
				fmt.Fprintf(&sb, "\n/%s: %d calls, avg %dms, max %dms",
					l.Command, l.Count, l.Mean.Milliseconds(), l.Max.Milliseconds())
			}
		}
	}
	return ia.Edit(ctx, sb.String())
}
