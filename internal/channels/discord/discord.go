// Package discord connects the bot to Discord through discordgo: gateway
// events in, REST replies out.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
	"github.com/nextlevelbuilder/neverbot/internal/channels"
	"github.com/nextlevelbuilder/neverbot/internal/chat"
	"github.com/nextlevelbuilder/neverbot/internal/commands"
)

// MessageHandler consumes plain channel messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, ev bus.MessageEvent) chat.Outcome
	SetIdentity(userID, username string)
}

// CommandHandler consumes slash-command invocations.
type CommandHandler interface {
	Dispatch(ctx context.Context, ev bus.CommandEvent, ia commands.Interaction)
	Registry() *commands.Registry
}

// Options configure the Discord channel.
type Options struct {
	Token string
	// GuildID limits slash-command registration to one guild; empty registers globally.
	GuildID          string
	RegisterCommands bool
}

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
	opts    Options

	mu       sync.RWMutex
	messages MessageHandler
	commands CommandHandler
	baseCtx  context.Context
	cancel   context.CancelFunc

	removeHandlers []func()
}

// New creates a Discord channel. Handlers are attached with Bind before Start.
func New(opts Options) (*Channel, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Retries are owned by the resilience executor.
	session.MaxRestRetries = 0

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord"),
		session:     session,
		opts:        opts,
	}, nil
}

// Replier returns the outbound message surface for the chat service.
func (c *Channel) Replier() chat.Replier { return &replier{session: c.session} }

// Bind attaches the event consumers.
func (c *Channel) Bind(messages MessageHandler, cmds CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages, c.commands = messages, cmds
}

// ServerCount returns how many guilds the bot is in.
func (c *Channel) ServerCount() int {
	if c.session.State == nil {
		return 0
	}
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	return len(c.session.State.Guilds)
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord bot")

	c.mu.Lock()
	c.baseCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	c.removeHandlers = append(c.removeHandlers,
		c.session.AddHandler(c.onReady),
		c.session.AddHandler(c.onMessageCreate),
		c.session.AddHandler(c.onInteractionCreate),
	)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.setIdentity(user)

	if c.opts.RegisterCommands {
		if err := c.registerCommands(ctx, user.ID); err != nil {
			c.session.Close()
			return err
		}
	}

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection. In-flight handlers see their
// context cancelled.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	for _, rm := range c.removeHandlers {
		rm()
	}
	c.removeHandlers = nil

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	return c.session.Close()
}

func (c *Channel) handlers() (context.Context, MessageHandler, CommandHandler) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx := c.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, c.messages, c.commands
}

func (c *Channel) setIdentity(u *discordgo.User) {
	if u == nil {
		return
	}
	if _, msgs, _ := c.handlers(); msgs != nil {
		msgs.SetIdentity(u.ID, u.Username)
	}
}

func (c *Channel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.setIdentity(r.User)
	slog.Info("discord gateway ready", "guilds", len(r.Guilds), "session_id", r.SessionID)
}

// onMessageCreate runs on its own goroutine per event.
func (c *Channel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, msgs, _ := c.handlers()
	if msgs == nil || m.Author == nil {
		return
	}
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	ev := toMessageEvent(m, botID, c.guildName(m.GuildID))

	start := time.Now()
	outcome := msgs.HandleMessage(ctx, ev)
	slog.Debug("discord message handled",
		"message_id", ev.ID,
		"channel_id", ev.ChannelID,
		"outcome", outcome,
		"preview", channels.Truncate(ev.Content, 50),
		"elapsed", time.Since(start),
	)
}

func (c *Channel) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, _, cmds := c.handlers()
	if cmds == nil {
		return
	}
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord interaction ignored", "type", i.Type.String())
		return
	}
	ev := toCommandEvent(i, c.guildName(i.GuildID))
	cmds.Dispatch(ctx, ev, &interaction{session: s, i: i.Interaction})
}

func (c *Channel) guildName(guildID string) string {
	if guildID == "" || c.session.State == nil {
		return ""
	}
	g, err := c.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return g.Name
}

func (c *Channel) registerCommands(ctx context.Context, appID string) error {
	_, _, cmds := c.handlers()
	if cmds == nil {
		return nil
	}
	defs := applicationCommands(cmds.Registry())
	if _, err := c.session.ApplicationCommandBulkOverwrite(appID, c.opts.GuildID, defs, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register slash commands: %w", translateErr(err))
	}
	slog.Info("slash commands registered", "count", len(defs), "guild_id", c.opts.GuildID)
	return nil
}

// resolveDisplayName returns the best available display name for a Discord user.
// Priority: server nickname > global display name > username.
func resolveDisplayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
