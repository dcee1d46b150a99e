package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nexon-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const defaultGreetTemplate = "Welcome {user} to {server_name}!"

// sendGreeting posts the configured welcome message for a freshly joined
// member. Missing or disabled config is a silent no-op.
func (b *Bot) sendGreeting(ctx context.Context, session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	config, found, err := b.store.GetGreetConfig(ctx, event.GuildID)
	if err != nil || !found || !config.Enabled || config.ChannelID == "" {
		return
	}

	template := config.MessageTemplate
	if template == "" {
		template = defaultGreetTemplate
	}
	content := applyGreetPlaceholders(template, event.Member, b.guildFor(event.GuildID))

	msg, err := session.ChannelMessageSend(config.ChannelID, content)
	if err != nil || msg == nil {
		return
	}
	if config.AutoDeleteSeconds > 0 {
		channelID, messageID := config.ChannelID, msg.ID
		time.AfterFunc(time.Duration(config.AutoDeleteSeconds)*time.Second, func() {
			_ = session.ChannelMessageDelete(channelID, messageID)
		})
	}
}

// applyGreetPlaceholders substitutes the documented template tokens. Guild
// tokens stay literal when the guild is not resolvable.
func applyGreetPlaceholders(template string, member *discordgo.Member, guild *discordgo.Guild) string {
	if member == nil || member.User == nil {
		return template
	}
	user := member.User
	pairs := []string{
		"{user}", "<@" + user.ID + ">",
		"{user_name}", user.Username,
		"{user_id}", user.ID,
	}
	if guild != nil {
		pairs = append(pairs,
			"{server_name}", guild.Name,
			"{server_id}", guild.ID,
			"{server_membercount}", strconv.Itoa(guild.MemberCount),
		)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func greetPlaceholderGuide() string {
	return strings.Join([]string{
		"`{user}` - mentions the new member",
		"`{user_name}` - the member's username",
		"`{user_id}` - the member's id",
		"`{server_name}` - the guild name",
		"`{server_id}` - the guild id",
		"`{server_membercount}` - the guild member count",
	}, "\n")
}

func (b *Bot) cmdGreet(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, args []string) {
	if !b.isAntinukeManager(ctx, msg.GuildID, msg.Author.ID) {
		b.replyError(session, msg.ChannelID, "Only the guild owner or extra owner can manage greetings.")
		return
	}
	if len(args) == 0 {
		b.greetShow(ctx, session, msg)
		return
	}

	sub := strings.ToLower(args[0])
	args = args[1:]
	switch sub {
	case "enable":
		// Enabling without a channel binds the greeting to the current one.
		patch := storage.GreetConfigPatch{GuildID: msg.GuildID, Enabled: boolRef(true)}
		if config, _, err := b.store.GetGreetConfig(ctx, msg.GuildID); err == nil && config.ChannelID == "" {
			patch.ChannelID = strRef(msg.ChannelID)
		}
		config, err := b.store.UpsertGreetConfig(ctx, patch)
		if err != nil {
			b.replyError(session, msg.ChannelID, "Failed to enable greetings.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Greet", fmt.Sprintf("Greetings enabled in <#%s>.", config.ChannelID), embedColorInfo)
	case "disable":
		if _, err := b.store.UpsertGreetConfig(ctx, storage.GreetConfigPatch{GuildID: msg.GuildID, Enabled: boolRef(false)}); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to disable greetings.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Greet", "Greetings disabled.", embedColorInfo)
	case "channel":
		channelID := msg.ChannelID
		if len(args) > 0 {
			channelID = parseChannelArg(args[0])
			if channelID == "" {
				b.replyError(session, msg.ChannelID, "Mention a channel or pass a channel id.")
				return
			}
		}
		if _, err := b.store.UpsertGreetConfig(ctx, storage.GreetConfigPatch{GuildID: msg.GuildID, ChannelID: strRef(channelID)}); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to set the greet channel.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Greet", fmt.Sprintf("Greetings will be sent to <#%s>.", channelID), embedColorInfo)
	case "message":
		template := strings.TrimSpace(strings.Join(args, " "))
		if template == "" {
			b.replyEmbed(session, msg.ChannelID, "Greet Placeholders", greetPlaceholderGuide(), embedColorInfo)
			return
		}
		if _, err := b.store.UpsertGreetConfig(ctx, storage.GreetConfigPatch{GuildID: msg.GuildID, MessageTemplate: strRef(template)}); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to save the greet message.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Greet", "Greet message saved.", embedColorInfo)
	case "autodelete":
		if len(args) == 0 {
			b.replyError(session, msg.ChannelID, "Usage: `greet autodelete <seconds>` (0 disables)")
			return
		}
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds < 0 {
			b.replyError(session, msg.ChannelID, "Seconds must be a non-negative number.")
			return
		}
		if _, err := b.store.UpsertGreetConfig(ctx, storage.GreetConfigPatch{GuildID: msg.GuildID, AutoDeleteSeconds: &seconds}); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to set auto-delete.")
			return
		}
		if seconds == 0 {
			b.replyEmbed(session, msg.ChannelID, "Greet", "Auto-delete disabled.", embedColorInfo)
		} else {
			b.replyEmbed(session, msg.ChannelID, "Greet", fmt.Sprintf("Greetings auto-delete after %d seconds.", seconds), embedColorInfo)
		}
	case "test":
		config, found, err := b.store.GetGreetConfig(ctx, msg.GuildID)
		if err != nil || !found {
			b.replyError(session, msg.ChannelID, "No greet configuration yet.")
			return
		}
		template := config.MessageTemplate
		if template == "" {
			template = defaultGreetTemplate
		}
		member := msg.Member
		if member == nil || member.User == nil {
			member = &discordgo.Member{User: msg.Author}
		}
		_, _ = session.ChannelMessageSend(msg.ChannelID, applyGreetPlaceholders(template, member, b.guildFor(msg.GuildID)))
	case "reset":
		if err := b.store.DeleteGreetConfig(ctx, msg.GuildID); err != nil {
			b.replyError(session, msg.ChannelID, "Failed to reset the greet configuration.")
			return
		}
		b.replyEmbed(session, msg.ChannelID, "Greet", "Greet configuration reset.", embedColorInfo)
	default:
		b.replyError(session, msg.ChannelID, "Usage: `greet [enable|disable|channel [#channel]|message <template>|autodelete <seconds>|test|reset]`")
	}
}

func (b *Bot) greetShow(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	config, found, err := b.store.GetGreetConfig(ctx, msg.GuildID)
	if err != nil {
		b.replyError(session, msg.ChannelID, "Failed to load the greet configuration.")
		return
	}
	if !found {
		b.replyEmbed(session, msg.ChannelID, "Greet", "No greet configuration. Use `greet enable` to start.", embedColorInfo)
		return
	}
	channel := "not set"
	if config.ChannelID != "" {
		channel = "<#" + config.ChannelID + ">"
	}
	template := config.MessageTemplate
	if template == "" {
		template = defaultGreetTemplate + " (default)"
	}
	autoDelete := "off"
	if config.AutoDeleteSeconds > 0 {
		autoDelete = fmt.Sprintf("%ds", config.AutoDeleteSeconds)
	}
	b.replyEmbed(session, msg.ChannelID, "Greet Settings", strings.Join([]string{
		fmt.Sprintf("Enabled: **%t**", config.Enabled),
		fmt.Sprintf("Channel: %s", channel),
		fmt.Sprintf("Message: %s", template),
		fmt.Sprintf("Auto-delete: %s", autoDelete),
	}, "\n"), embedColorInfo)
}

func boolRef(v bool) *bool    { return &v }
func strRef(v string) *string { return &v }
