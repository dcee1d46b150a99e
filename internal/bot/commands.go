package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nexon-guard/internal/antinuke"
	"nexon-guard/internal/audit"
	"nexon-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	embedColorInfo  = 0x5865F2
	embedColorError = 0xED4245
)

func (b *Bot) dispatchCommand(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	command := strings.ToLower(args[0])
	args = args[1:]

	switch command {
	case "ping":
		b.replyEmbed(session, msg.ChannelID, "Pong", fmt.Sprintf("Gateway latency: %dms", session.HeartbeatLatency().Milliseconds()), embedColorInfo)
	case "prefix":
		b.cmdPrefix(ctx, session, msg, args)
	case "afk":
		b.cmdAfk(ctx, session, msg, args)
	case "antinuke", "an":
		b.cmdAntinuke(ctx, session, msg, args)
	case "blacklist":
		b.cmdBlacklist(ctx, session, msg, args)
	case "noprefix":
		b.cmdNoPrefix(ctx, session, msg, args)
	case "greet":
		b.cmdGreet(ctx, session, msg, args)
	default:
		return
	}

	b.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.Author.ID, audit.EventCommand, "command="+command)
}

func (b *Bot) cmdPrefix(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.replyEmbed(session, msg.ChannelID, "Prefix", fmt.Sprintf("Current prefix: `%s`", b.guildPrefix(ctx, msg.GuildID)), embedColorInfo)
		return
	}
	if !b.isAntinukeManager(ctx, msg.GuildID, msg.Author.ID) {
		b.replyError(session, msg.ChannelID, "Only the guild owner or extra owner can change the prefix.")
		return
	}

	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) < 2 {
			b.replyError(session, msg.ChannelID, "Usage: `prefix set <prefix>`")
			return
		}
		prefix := args[1]
		if len(prefix) > 5 {
			b.replyError(session, msg.ChannelID, "Prefix must be at most 5 characters.")
			return
		}
		if err := b.store.SetGuildPrefix(ctx, msg.GuildID, prefix); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to save the prefix.")
			return
		}
		b.setCachedPrefix(msg.GuildID, prefix)
		b.replyEmbed(session, msg.ChannelID, "Prefix", fmt.Sprintf("Prefix set to `%s`.", prefix), embedColorInfo)
	case "reset":
		if err := b.store.DeleteGuildPrefix(ctx, msg.GuildID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to reset the prefix.")
			return
		}
		b.setCachedPrefix(msg.GuildID, b.cfg.DefaultPrefix)
		b.replyEmbed(session, msg.ChannelID, "Prefix", fmt.Sprintf("Prefix reset to `%s`.", b.cfg.DefaultPrefix), embedColorInfo)
	default:
		b.replyError(session, msg.ChannelID, "Usage: `prefix [set <prefix>|reset]`")
	}
}

func (b *Bot) cmdAfk(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	reason := strings.TrimSpace(strings.Join(args, " "))
	if reason == "" {
		reason = "AFK"
	}
	if err := b.store.SetAfkEntry(ctx, storage.AfkEntry{GuildID: msg.GuildID, UserID: msg.Author.ID, Reason: reason}); err != nil {
		b.replyError(session, msg.ChannelID, "Failed to save your AFK status.")
		return
	}
	b.replyEmbed(session, msg.ChannelID, "AFK", fmt.Sprintf("<@%s> is now AFK: %s", msg.Author.ID, reason), embedColorInfo)
}

func (b *Bot) cmdAntinuke(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.replyEmbed(session, msg.ChannelID, "Antinuke",
			"Subcommands: `enable`, `disable`, `nightmode on|off`, `extraowner <user|clear>`, `logchannel [#channel]`, `whitelist <user> [features...]`, `unwhitelist <user>`, `whitelisted`, `features`, `reset`, `settings`, `stats`",
			embedColorInfo)
		return
	}
	if !b.isAntinukeManager(ctx, msg.GuildID, msg.Author.ID) {
		b.replyError(session, msg.ChannelID, "Only the guild owner or extra owner can manage the antinuke.")
		return
	}

	sub := strings.ToLower(args[0])
	args = args[1:]
	switch sub {
	case "enable", "disable":
		b.antinukeSetEnabled(ctx, session, msg, sub == "enable")
	case "nightmode":
		b.antinukeNightmode(ctx, session, msg, args)
	case "extraowner":
		b.antinukeExtraOwner(ctx, session, msg, args)
	case "logchannel":
		b.antinukeLogChannel(ctx, session, msg, args)
	case "whitelist":
		b.antinukeWhitelist(ctx, session, msg, args)
	case "unwhitelist":
		b.antinukeUnwhitelist(ctx, session, msg, args)
	case "whitelisted":
		b.antinukeWhitelisted(ctx, session, msg)
	case "features":
		b.antinukeFeatures(session, msg)
	case "reset":
		b.antinukeReset(ctx, session, msg)
	case "settings":
		b.antinukeSettings(ctx, session, msg)
	case "stats":
		b.antinukeStats(ctx, session, msg)
	default:
		b.replyError(session, msg.ChannelID, fmt.Sprintf("Unknown antinuke subcommand `%s`.", sub))
	}
}

func (b *Bot) antinukeSetEnabled(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, enabled bool) {
	state, err := b.service.SetEnabled(ctx, msg.GuildID, enabled, msg.Author.ID)
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to update the antinuke state.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventAntinukeConfig, fmt.Sprintf("enabled=%t", state.Enabled))
	verb := "disabled"
	if state.Enabled {
		verb = "enabled"
	}
	b.replyEmbed(session, msg.ChannelID, "Antinuke", fmt.Sprintf("Antinuke protection is now **%s**.", verb), embedColorInfo)
}

func (b *Bot) antinukeNightmode(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
		b.replyError(session, msg.ChannelID, "Usage: `antinuke nightmode on|off`")
		return
	}
	enabled := args[0] == "on"
	state, err := b.service.SetNightmodeEnabled(ctx, msg.GuildID, enabled, msg.Author.ID)
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to update nightmode.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventAntinukeConfig, fmt.Sprintf("nightmode=%t", state.NightmodeEnabled))
	verb := "disabled"
	if state.NightmodeEnabled {
		verb = "enabled"
	}
	b.replyEmbed(session, msg.ChannelID, "Nightmode", fmt.Sprintf("Nightmode is now **%s**. Channel and role creation guards %s.", verb, map[bool]string{true: "are active", false: "are inactive"}[state.NightmodeEnabled]), embedColorInfo)
}

func (b *Bot) antinukeExtraOwner(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if msg.Author.ID != b.guildOwnerID(msg.GuildID) && !b.enforcer.IsBotOwner(msg.Author.ID) {
		b.replyError(session, msg.ChannelID, "Only the guild owner can delegate an extra owner.")
		return
	}
	if len(args) == 0 {
		b.replyError(session, msg.ChannelID, "Usage: `antinuke extraowner <@user|clear>`")
		return
	}
	if args[0] == "clear" || args[0] == "none" {
		if _, err := b.service.ClearExtraOwner(ctx, msg.GuildID, msg.Author.ID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to clear the extra owner.")
			return
		}
		b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventAntinukeConfig, "extra_owner=cleared")
		b.replyEmbed(session, msg.ChannelID, "Extra Owner", "Extra owner cleared.", embedColorInfo)
		return
	}
	userID := parseUserArg(args[0], msg.Mentions)
	if userID == "" {
		b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
		return
	}
	if _, err := b.service.SetExtraOwner(ctx, msg.GuildID, userID, msg.Author.ID); err != nil {
		b.replyError(session, msg.ChannelID, "Failed to set the extra owner.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventAntinukeConfig, "extra_owner="+userID)
	b.replyEmbed(session, msg.ChannelID, "Extra Owner", fmt.Sprintf("<@%s> is now an extra owner and bypasses all guards.", userID), embedColorInfo)
}

func (b *Bot) antinukeLogChannel(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	channelID := msg.ChannelID
	if len(args) > 0 {
		channelID = parseChannelArg(args[0])
		if channelID == "" {
			b.replyError(session, msg.ChannelID, "Mention a channel or pass a channel id.")
			return
		}
	}
	if _, err := b.service.SetLogChannelID(ctx, msg.GuildID, channelID, msg.Author.ID); err != nil {
		b.replyError(session, msg.ChannelID, "Failed to set the log channel.")
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.Author.ID, audit.EventAntinukeConfig, "log_channel="+channelID)
	b.replyEmbed(session, msg.ChannelID, "Log Channel", fmt.Sprintf("Antinuke logs will be sent to <#%s>.", channelID), embedColorInfo)
}

func (b *Bot) antinukeWhitelist(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.replyError(session, msg.ChannelID, "Usage: `antinuke whitelist <@user> [features...]`")
		return
	}
	userID := parseUserArg(args[0], msg.Mentions)
	if userID == "" {
		b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
		return
	}

	entry, err := b.service.AddWhitelistUser(ctx, msg.GuildID, userID, msg.Author.ID, args[1:])
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to whitelist the user.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventWhitelistUpdate, fmt.Sprintf("added=%s features=%s", userID, strings.Join(entry.Features, ",")))
	b.replyEmbed(session, msg.ChannelID, "Whitelist", fmt.Sprintf("<@%s> whitelisted for: %s", userID, featureSummary(entry.Features)), embedColorInfo)
}

func (b *Bot) antinukeUnwhitelist(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.replyError(session, msg.ChannelID, "Usage: `antinuke unwhitelist <@user>`")
		return
	}
	userID := parseUserArg(args[0], msg.Mentions)
	if userID == "" {
		b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
		return
	}
	if err := b.service.RemoveWhitelistUser(ctx, msg.GuildID, userID); err != nil {
		b.replyError(session, msg.ChannelID, "Failed to remove the user from the whitelist.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventWhitelistUpdate, "removed="+userID)
	b.replyEmbed(session, msg.ChannelID, "Whitelist", fmt.Sprintf("<@%s> removed from the whitelist.", userID), embedColorInfo)
}

func (b *Bot) antinukeWhitelisted(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	entries, err := b.service.ListWhitelistUsers(ctx, msg.GuildID)
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to load the whitelist.")
		return
	}
	if len(entries) == 0 {
		b.replyEmbed(session, msg.ChannelID, "Whitelist", "No whitelisted users.", embedColorInfo)
		return
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("<@%s> - %s", entry.UserID, featureSummary(entry.Features)))
	}
	b.replyEmbed(session, msg.ChannelID, "Whitelist", strings.Join(lines, "\n"), embedColorInfo)
}

func (b *Bot) antinukeFeatures(session *discordgo.Session, msg *discordgo.MessageCreate) {
	defs := antinuke.Features()
	lines := make([]string, 0, len(defs))
	for _, def := range defs {
		suffix := ""
		if def.NightmodeOnly {
			suffix = " (nightmode)"
		}
		lines = append(lines, fmt.Sprintf("`%s` - %s%s", def.Key, def.Description, suffix))
	}
	b.replyEmbed(session, msg.ChannelID, "Antinuke Features", strings.Join(lines, "\n"), embedColorInfo)
}

func (b *Bot) antinukeReset(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	if err := b.service.ResetWhitelist(ctx, msg.GuildID); err != nil {
		b.replyError(session, msg.ChannelID, "Failed to reset the whitelist.")
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, audit.EventWhitelistUpdate, "reset=all")
	b.replyEmbed(session, msg.ChannelID, "Whitelist", "Whitelist cleared for this guild.", embedColorInfo)
}

func (b *Bot) antinukeSettings(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	state, err := b.service.GetConfig(ctx, msg.GuildID)
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to load the antinuke settings.")
		return
	}
	extraOwner := "none"
	if state.ExtraOwnerID != "" {
		extraOwner = "<@" + state.ExtraOwnerID + ">"
	}
	logChannel := "auto"
	if state.LogChannelID != "" {
		logChannel = "<#" + state.LogChannelID + ">"
	}
	b.replyEmbed(session, msg.ChannelID, "Antinuke Settings", strings.Join([]string{
		fmt.Sprintf("Enabled: **%t**", state.Enabled),
		fmt.Sprintf("Nightmode: **%t**", state.NightmodeEnabled),
		fmt.Sprintf("Extra owner: %s", extraOwner),
		fmt.Sprintf("Log channel: %s", logChannel),
	}, "\n"), embedColorInfo)
}

func (b *Bot) antinukeStats(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	report, err := b.analytics.Report(ctx, msg.GuildID, time.Now().AddDate(0, 0, -7))
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to build the report.")
		return
	}
	b.replyEmbed(session, msg.ChannelID, "Antinuke Stats (7 days)", strings.Join([]string{
		fmt.Sprintf("Total events: **%d**", report.Total),
		fmt.Sprintf("Enforcements: **%d**", report.ByEvent[audit.EventAntinukeEnforced]),
		fmt.Sprintf("Config changes: **%d**", report.ByEvent[audit.EventAntinukeConfig]),
		fmt.Sprintf("Whitelist changes: **%d**", report.ByEvent[audit.EventWhitelistUpdate]),
		fmt.Sprintf("INFO: %d | WARN: %d | CRIT: %d", report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit]),
	}, "\n"), embedColorInfo)
}

func (b *Bot) cmdBlacklist(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if !b.enforcer.IsBotOwner(msg.Author.ID) {
		return
	}
	if len(args) < 1 {
		b.replyError(session, msg.ChannelID, "Usage: `blacklist add|remove <@user>` or `blacklist list`")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		userID := parseUserArg(argAt(args, 1), msg.Mentions)
		if userID == "" {
			b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
			return
		}
		if err := b.store.AddBlacklistUser(ctx, userID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to blacklist the user.")
			return
		}
		b.mu.Lock()
		b.blacklist[userID] = struct{}{}
		b.mu.Unlock()
		b.replyEmbed(session, msg.ChannelID, "Blacklist", fmt.Sprintf("<@%s> can no longer use commands.", userID), embedColorInfo)
	case "remove":
		userID := parseUserArg(argAt(args, 1), msg.Mentions)
		if userID == "" {
			b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
			return
		}
		if err := b.store.RemoveBlacklistUser(ctx, userID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to remove the user from the blacklist.")
			return
		}
		b.mu.Lock()
		delete(b.blacklist, userID)
		b.mu.Unlock()
		b.replyEmbed(session, msg.ChannelID, "Blacklist", fmt.Sprintf("<@%s> can use commands again.", userID), embedColorInfo)
	case "list":
		ids, err := b.store.ListBlacklistUsers(ctx)
		if err != nil {
			b.replyError(session, msg.ChannelID, "Failed to load the blacklist.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Blacklist", userList(ids), embedColorInfo)
	default:
		b.replyError(session, msg.ChannelID, "Usage: `blacklist add|remove <@user>` or `blacklist list`")
	}
}

func (b *Bot) cmdNoPrefix(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if !b.enforcer.IsBotOwner(msg.Author.ID) {
		return
	}
	if len(args) < 1 {
		b.replyError(session, msg.ChannelID, "Usage: `noprefix add|remove <@user>` or `noprefix list`")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		userID := parseUserArg(argAt(args, 1), msg.Mentions)
		if userID == "" {
			b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
			return
		}
		if err := b.store.AddNoPrefixUser(ctx, userID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to grant no-prefix.")
			return
		}
		b.mu.Lock()
		b.noPrefix[userID] = struct{}{}
		b.mu.Unlock()
		b.replyEmbed(session, msg.ChannelID, "No-Prefix", fmt.Sprintf("<@%s> can use commands without a prefix.", userID), embedColorInfo)
	case "remove":
		userID := parseUserArg(argAt(args, 1), msg.Mentions)
		if userID == "" {
			b.replyError(session, msg.ChannelID, "Mention a user or pass a user id.")
			return
		}
		if err := b.store.RemoveNoPrefixUser(ctx, userID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to revoke no-prefix.")
			return
		}
		b.mu.Lock()
		delete(b.noPrefix, userID)
		b.mu.Unlock()
		b.replyEmbed(session, msg.ChannelID, "No-Prefix", fmt.Sprintf("<@%s> now needs the prefix.", userID), embedColorInfo)
	case "list":
		ids, err := b.store.ListNoPrefixUsers(ctx)
		if err != nil {
			b.replyError(session, msg.ChannelID, "Failed to load the no-prefix list.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "No-Prefix", userList(ids), embedColorInfo)
	default:
		b.replyError(session, msg.ChannelID, "Usage: `noprefix add|remove <@user>` or `noprefix list`")
	}
}

// isAntinukeManager gates the configuration surface: guild owner, extra
// owner, and bot owners only. Administrators are deliberately excluded.
func (b *Bot) isAntinukeManager(ctx context.Context, guildID, userID string) bool {
	if b.enforcer.IsBotOwner(userID) {
		return true
	}
	if b.guildOwnerID(guildID) == userID {
		return true
	}
	state, err := b.service.GetConfig(ctx, guildID)
	return err == nil && state.ExtraOwnerID != "" && state.ExtraOwnerID == userID
}

func (b *Bot) replyEmbed(session *discordgo.Session, channelID, title, description string, color int) {
	_, _ = session.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Nexon Antinuke"},
	})
}

func (b *Bot) replyError(session *discordgo.Session, channelID, message string) {
	b.replyEmbed(session, channelID, "Error", message, embedColorError)
}

func featureSummary(features []string) string {
	if len(features) == 0 {
		return "all features"
	}
	labels := make([]string, 0, len(features))
	for _, key := range features {
		labels = append(labels, antinuke.FeatureLabel(key))
	}
	return strings.Join(labels, ", ")
}

func userList(ids []string) string {
	if len(ids) == 0 {
		return "Nobody."
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "<@"+id+"> (`"+id+"`)")
	}
	return strings.Join(lines, "\n")
}

func argAt(args []string, index int) string {
	if index >= len(args) {
		return ""
	}
	return args[index]
}

// parseUserArg accepts a raw snowflake or a mention like <@123> / <@!123>.
func parseUserArg(arg string, mentions []*discordgo.User) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		if len(mentions) > 0 && mentions[0] != nil {
			return mentions[0].ID
		}
		return ""
	}
	arg = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(arg, "<@"), "!"), ">")
	if !isSnowflake(arg) {
		return ""
	}
	return arg
}

func parseChannelArg(arg string) string {
	arg = strings.TrimSpace(arg)
	arg = strings.TrimSuffix(strings.TrimPrefix(arg, "<#"), ">")
	if !isSnowflake(arg) {
		return ""
	}
	return arg
}

func isSnowflake(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
