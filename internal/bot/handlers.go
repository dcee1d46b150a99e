package bot

import (
	"context"
	"fmt"
	"strings"

	"nexon-guard/internal/antinuke"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureChannelDelete, event.Channel.GuildID, event.Channel.ID, "Unauthorized channel deletion")
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureNightmodeChannelCreate, event.Channel.GuildID, event.Channel.ID, "Channel created while nightmode is active")
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureRoleDelete, event.GuildID, event.RoleID, "Unauthorized role deletion")
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureNightmodeRoleCreate, event.GuildID, event.Role.ID, "Role created while nightmode is active")
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureMemberBan, event.GuildID, event.User.ID, "Suspicious member ban")
}

// onGuildMemberRemove fires for leaves, kicks, and bans alike; only a
// matching kick audit entry inside the lookback window leads anywhere.
func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureMemberKick, event.GuildID, event.User.ID, "Suspicious member kick")
}

// onGuildEmojisUpdate carries the whole emoji list, not the deleted one,
// so attribution runs without a target id.
func (b *Bot) onGuildEmojisUpdate(session *discordgo.Session, event *discordgo.GuildEmojisUpdate) {
	if event.GuildID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureEmojiDelete, event.GuildID, "", "Unauthorized emoji deletion")
}

// onWebhooksUpdate fires for both creation and deletion; both guards run
// and the audit-log lookup decides which one actually happened.
func (b *Bot) onWebhooksUpdate(session *discordgo.Session, event *discordgo.WebhooksUpdate) {
	if event.GuildID == "" {
		return
	}
	_ = session
	b.dispatchEnforcement(antinuke.FeatureWebhookCreate, event.GuildID, "", "Unauthorized webhook creation")
	b.dispatchEnforcement(antinuke.FeatureWebhookDelete, event.GuildID, "", "Unauthorized webhook deletion")
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	if !event.User.Bot {
		b.sendGreeting(context.Background(), session, event)
		return
	}
	// Gateway member payloads can omit public flags; refetch before
	// deciding the bot is unverified.
	user, err := session.User(event.User.ID)
	if err == nil && user != nil && user.PublicFlags&discordgo.UserFlagVerifiedBot != 0 {
		return
	}
	b.dispatchEnforcement(antinuke.FeatureUnverifiedBotAdd, event.GuildID, event.User.ID, "Unverified bot added to the guild")
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	b.handleAfkReturn(ctx, session, msg)
	b.announceAfkMentions(ctx, session, msg)

	if b.isBlacklisted(msg.Author.ID) {
		return
	}

	content := strings.TrimSpace(msg.Content)
	prefix := b.guildPrefix(ctx, msg.GuildID)
	switch {
	case strings.HasPrefix(content, prefix):
		content = strings.TrimSpace(strings.TrimPrefix(content, prefix))
	case b.hasNoPrefix(msg.Author.ID):
	default:
		return
	}
	if content == "" {
		return
	}

	b.dispatchCommand(ctx, session, msg, strings.Fields(content))
}

func (b *Bot) handleAfkReturn(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	cleared, err := b.store.ClearAfkEntry(ctx, msg.GuildID, msg.Author.ID)
	if err != nil || !cleared {
		return
	}
	_, _ = session.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("Welcome back <@%s>, your AFK status has been cleared.", msg.Author.ID))
}

func (b *Bot) announceAfkMentions(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	for _, mentioned := range msg.Mentions {
		if mentioned == nil || mentioned.ID == msg.Author.ID {
			continue
		}
		entry, found, err := b.store.GetAfkEntry(ctx, msg.GuildID, mentioned.ID)
		if err != nil || !found {
			continue
		}
		reason := entry.Reason
		if reason == "" {
			reason = "AFK"
		}
		_, _ = session.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("<@%s> is AFK: %s (<t:%d:R>)", mentioned.ID, reason, entry.Since.Unix()))
	}
}
