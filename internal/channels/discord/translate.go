package discord

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
	"github.com/nextlevelbuilder/neverbot/internal/commands"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

// adminPermissions are the member permissions that unlock admin-only commands.
const adminPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageGuild

func toMessageEvent(m *discordgo.MessageCreate, botID, guildName string) bus.MessageEvent {
	ev := bus.MessageEvent{
		ID:          m.ID,
		AuthorID:    m.Author.ID,
		AuthorName:  resolveDisplayName(m.Member, m.Author),
		AuthorIsBot: m.Author.Bot,
		ServerID:    m.GuildID,
		Server:      guildName,
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
	for _, a := range m.Attachments {
		ev.Attachments = append(ev.Attachments, a.URL)
	}
	if botID != "" {
		ev.Mentioned = slices.ContainsFunc(m.Mentions, func(u *discordgo.User) bool { return u.ID == botID })
	}
	return ev
}

func toCommandEvent(i *discordgo.InteractionCreate, guildName string) bus.CommandEvent {
	data := i.ApplicationCommandData()
	ev := bus.CommandEvent{
		ID:        i.ID,
		Name:      data.Name,
		ServerID:  i.GuildID,
		Server:    guildName,
		ChannelID: i.ChannelID,
	}

	user := i.User
	if i.Member != nil {
		user = i.Member.User
		ev.IsAdmin = i.Member.Permissions&adminPermissions != 0
	}
	if user != nil {
		ev.ActorID = user.ID
	}
	ev.ActorName = resolveDisplayName(i.Member, user)

	if len(data.Options) > 0 {
		ev.Options = make(map[string]string, len(data.Options))
		for _, o := range data.Options {
			ev.Options[o.Name] = optionString(o)
		}
	}
	return ev
}

func optionString(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch v := o.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// toHistory converts a newest-first page of channel messages into
// chronological history.
func toHistory(msgs []*discordgo.Message, botID string) []bus.HistoryMessage {
	out := make([]bus.HistoryMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Author == nil {
			continue
		}
		out = append(out, bus.HistoryMessage{
			AuthorID:   m.Author.ID,
			AuthorName: resolveDisplayName(m.Member, m.Author),
			FromBot:    m.Author.ID == botID,
			Content:    m.Content,
		})
	}
	return out
}

func applicationCommands(reg *commands.Registry) []*discordgo.ApplicationCommand {
	admin := int64(adminPermissions)
	var out []*discordgo.ApplicationCommand
	for _, c := range reg.List() {
		ac := &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
		if c.AdminOnly {
			ac.DefaultMemberPermissions = &admin
		}
		for _, o := range c.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			switch o.Kind {
			case commands.OptionChannel:
				opt.Type = discordgo.ApplicationCommandOptionChannel
				opt.ChannelTypes = []discordgo.ChannelType{discordgo.ChannelTypeGuildText}
			case commands.OptionUser:
				opt.Type = discordgo.ApplicationCommandOptionUser
			}
			ac.Options = append(ac.Options, opt)
		}
		out = append(out, ac)
	}
	return out
}

// restError carries the HTTP status of a failed Discord REST call.
type restError struct {
	status int
	err    error
}

func (e *restError) Error() string   { return e.err.Error() }
func (e *restError) Unwrap() error   { return e.err }
func (e *restError) StatusCode() int { return e.status }

// translateErr maps discordgo REST failures onto the resilience taxonomy:
// missing access or permissions become PermissionError, everything else
// keeps its HTTP status.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return &resilience.PermissionError{Err: err}
		}
	}
	if rest.Response == nil {
		return err
	}
	if rest.Response.StatusCode == http.StatusForbidden {
		return &resilience.PermissionError{Err: err}
	}
	return &restError{status: rest.Response.StatusCode, err: err}
}
