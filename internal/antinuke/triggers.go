package antinuke

import "github.com/bwmarrin/discordgo"

var triggers = map[string]Trigger{
	FeatureChannelDelete: {
		FeatureKey:     FeatureChannelDelete,
		AuditLogAction: discordgo.AuditLogActionChannelDelete,
		ActionLabel:    "Channel Delete",
	},
	FeatureRoleDelete: {
		FeatureKey:     FeatureRoleDelete,
		AuditLogAction: discordgo.AuditLogActionRoleDelete,
		ActionLabel:    "Role Delete",
	},
	FeatureMemberBan: {
		FeatureKey:     FeatureMemberBan,
		AuditLogAction: discordgo.AuditLogActionMemberBanAdd,
		ActionLabel:    "Member Ban",
	},
	FeatureMemberKick: {
		FeatureKey:     FeatureMemberKick,
		AuditLogAction: discordgo.AuditLogActionMemberKick,
		ActionLabel:    "Member Kick",
	},
	FeatureEmojiDelete: {
		FeatureKey:     FeatureEmojiDelete,
		AuditLogAction: discordgo.AuditLogActionEmojiDelete,
		ActionLabel:    "Emoji Delete",
	},
	FeatureWebhookCreate: {
		FeatureKey:     FeatureWebhookCreate,
		AuditLogAction: discordgo.AuditLogActionWebhookCreate,
		ActionLabel:    "Webhook Create",
	},
	FeatureWebhookDelete: {
		FeatureKey:     FeatureWebhookDelete,
		AuditLogAction: discordgo.AuditLogActionWebhookDelete,
		ActionLabel:    "Webhook Delete",
	},
	FeatureUnverifiedBotAdd: {
		FeatureKey:     FeatureUnverifiedBotAdd,
		AuditLogAction: discordgo.AuditLogActionBotAdd,
		ActionLabel:    "Unverified Bot Add",
	},
	FeatureNightmodeChannelCreate: {
		FeatureKey:        FeatureNightmodeChannelCreate,
		AuditLogAction:    discordgo.AuditLogActionChannelCreate,
		ActionLabel:       "Nightmode Channel Create",
		RequiresNightmode: true,
	},
	FeatureNightmodeRoleCreate: {
		FeatureKey:        FeatureNightmodeRoleCreate,
		AuditLogAction:    discordgo.AuditLogActionRoleCreate,
		ActionLabel:       "Nightmode Role Create",
		RequiresNightmode: true,
	},
}

// TriggerFor resolves the enforcement trigger for a feature key.
func TriggerFor(featureKey string) (Trigger, bool) {
	trigger, ok := triggers[featureKey]
	return trigger, ok
}
