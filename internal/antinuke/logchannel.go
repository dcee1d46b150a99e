package antinuke

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const logChannelName = "nexon-antinuke-logs"

// ChannelAPI is the slice of the Discord session the log-channel resolver
// needs. *discordgo.Session satisfies it.
type ChannelAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ConfigSource is the part of Service the resolver consumes.
type ConfigSource interface {
	GetConfig(ctx context.Context, guildID string) (ConfigState, error)
	SetLogChannelID(ctx context.Context, guildID, channelID, updatedBy string) (ConfigState, error)
}

// LogChannelResolver locates (or creates) the guild channel that receives
// enforcement and configuration cards. Resolution order: the configured
// channel id, an environment-configured fallback id, a channel already
// carrying the well-known name, and finally a freshly created hidden
// channel.
type LogChannelResolver struct {
	api        ChannelAPI
	configs    ConfigSource
	logger     *zap.Logger
	fallbackID string
	selfID     string
}

func NewLogChannelResolver(api ChannelAPI, configs ConfigSource, logger *zap.Logger, fallbackChannelID string) *LogChannelResolver {
	return &LogChannelResolver{
		api:        api,
		configs:    configs,
		logger:     logger,
		fallbackID: strings.TrimSpace(fallbackChannelID),
	}
}

func (r *LogChannelResolver) SetSelf(userID string) {
	r.selfID = userID
}

// Resolve returns the id of a usable log channel, or empty when none can
// be found and creation was not requested (or failed).
func (r *LogChannelResolver) Resolve(ctx context.Context, guildID, guildOwnerID string, createIfMissing bool, requestedByID string) string {
	if requestedByID == "" {
		requestedByID = guildOwnerID
	}

	config, err := r.configs.GetConfig(ctx, guildID)
	if err != nil {
		r.logger.Debug("antinuke log channel config unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return ""
	}

	if config.LogChannelID != "" {
		if channel := r.usableChannel(guildID, config.LogChannelID); channel != nil {
			return channel.ID
		}
	}

	if r.fallbackID != "" {
		if channel := r.usableChannel(guildID, r.fallbackID); channel != nil {
			r.persistChannelID(ctx, guildID, channel.ID, requestedByID)
			return channel.ID
		}
	}

	if channel := r.namedChannel(guildID); channel != nil {
		r.persistChannelID(ctx, guildID, channel.ID, requestedByID)
		return channel.ID
	}

	if !createIfMissing {
		return ""
	}
	return r.createHiddenChannel(ctx, guildID, guildOwnerID, config.ExtraOwnerID, requestedByID)
}

// SendCard resolves the log channel (creating it when missing) and sends
// one embed card. All failures are swallowed: a broken log channel must
// never undo or repeat the enforcement that already happened.
func (r *LogChannelResolver) SendCard(ctx context.Context, guildID, guildOwnerID, requestedByID, title string, bodyLines []string) {
	channelID := r.Resolve(ctx, guildID, guildOwnerID, true, requestedByID)
	if channelID == "" {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: strings.Join(bodyLines, "\n"),
		Color:       0x5865F2,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Nexon Antinuke"},
	}
	if _, err := r.api.ChannelMessageSendEmbed(channelID, embed); err != nil {
		r.logger.Debug("antinuke log card send failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (r *LogChannelResolver) usableChannel(guildID, channelID string) *discordgo.Channel {
	channel, err := r.api.Channel(channelID)
	if err != nil || channel == nil {
		return nil
	}
	if channel.GuildID != guildID || channel.Type != discordgo.ChannelTypeGuildText {
		return nil
	}
	return channel
}

func (r *LogChannelResolver) namedChannel(guildID string) *discordgo.Channel {
	channels, err := r.api.GuildChannels(guildID)
	if err != nil {
		return nil
	}
	for _, channel := range channels {
		if channel != nil && channel.Type == discordgo.ChannelTypeGuildText && channel.Name == logChannelName {
			return channel
		}
	}
	return nil
}

func (r *LogChannelResolver) persistChannelID(ctx context.Context, guildID, channelID, requestedByID string) {
	if _, err := r.configs.SetLogChannelID(ctx, guildID, channelID, requestedByID); err != nil {
		r.logger.Debug("antinuke log channel persist failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// createHiddenChannel creates the log channel with the default role denied
// view access and the bot, guild owner, and extra owner granted it.
func (r *LogChannelResolver) createHiddenChannel(ctx context.Context, guildID, guildOwnerID, extraOwnerID, requestedByID string) string {
	memberAllow := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	if r.selfID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: r.selfID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberAllow})
	}
	if guildOwnerID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: guildOwnerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberAllow})
	}
	if extraOwnerID != "" && extraOwnerID != guildOwnerID {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: extraOwnerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: memberAllow})
	}

	created, err := r.api.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 logChannelName,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                "Nexon antinuke security and configuration logs.",
		PermissionOverwrites: overwrites,
	})
	if err != nil || created == nil {
		r.logger.Debug("antinuke log channel create failed", zap.String("guild_id", guildID), zap.Error(err))
		return ""
	}

	r.persistChannelID(ctx, guildID, created.ID, requestedByID)
	return created.ID
}
