package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/neverbot/internal/bus"
)

// replier implements chat.Replier over the REST API.
type replier struct {
	session *discordgo.Session
}

func (r *replier) Send(ctx context.Context, channelID, content string) (string, error) {
	m, err := r.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", translateErr(err)
	}
	return m.ID, nil
}

func (r *replier) Reply(ctx context.Context, channelID, replyToID, content string) (string, error) {
	ref := &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	m, err := r.session.ChannelMessageSendReply(channelID, content, ref, discordgo.WithContext(ctx))
	if err != nil {
		return "", translateErr(err)
	}
	return m.ID, nil
}

func (r *replier) React(ctx context.Context, channelID, messageID, emoji string) error {
	return translateErr(r.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

func (r *replier) Typing(ctx context.Context, channelID string) error {
	return translateErr(r.session.ChannelTyping(channelID, discordgo.WithContext(ctx)))
}

func (r *replier) History(ctx context.Context, channelID, beforeID string, limit int) ([]bus.HistoryMessage, error) {
	msgs, err := r.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, translateErr(err)
	}
	return toHistory(msgs, r.botID()), nil
}

func (r *replier) LatestMessageID(ctx context.Context, channelID string) (string, error) {
	msgs, err := r.session.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return "", translateErr(err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].ID, nil
}

func (r *replier) botID() string {
	if r.session.State == nil || r.session.State.User == nil {
		return ""
	}
	return r.session.State.User.ID
}

// interaction implements commands.Interaction for one slash-command call.
type interaction struct {
	session *discordgo.Session
	i       *discordgo.Interaction
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (ia *interaction) Reply(ctx context.Context, content string, ephemeral bool) error {
	return translateErr(ia.session.InteractionRespond(ia.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx)))
}

func (ia *interaction) Defer(ctx context.Context, ephemeral bool) error {
	return translateErr(ia.session.InteractionRespond(ia.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx)))
}

func (ia *interaction) Edit(ctx context.Context, content string) error {
	_, err := ia.session.InteractionResponseEdit(ia.i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	return translateErr(err)
}

func (ia *interaction) FollowUp(ctx context.Context, content string, ephemeral bool) error {
	_, err := ia.session.FollowupMessageCreate(ia.i, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   flags(ephemeral),
	}, discordgo.WithContext(ctx))
	return translateErr(err)
}
