package antinuke

import "strings"

// Feature keys for every protectable action kind. The set is closed:
// external strings are validated against it before use.
const (
	FeatureChannelDelete          = "channel_delete"
	FeatureRoleDelete             = "role_delete"
	FeatureMemberBan              = "member_ban"
	FeatureMemberKick             = "member_kick"
	FeatureEmojiDelete            = "emoji_delete"
	FeatureWebhookCreate          = "webhook_create"
	FeatureWebhookDelete          = "webhook_delete"
	FeatureUnverifiedBotAdd       = "unverified_bot_add"
	FeatureNightmodeChannelCreate = "nightmode_channel_create"
	FeatureNightmodeRoleCreate    = "nightmode_role_create"
)

type FeatureDefinition struct {
	Key           string
	Label         string
	Description   string
	NightmodeOnly bool
}

var featureDefinitions = []FeatureDefinition{
	{Key: FeatureChannelDelete, Label: "Channel Delete Guard", Description: "Punishes unauthorized channel deletion."},
	{Key: FeatureRoleDelete, Label: "Role Delete Guard", Description: "Punishes unauthorized role deletion."},
	{Key: FeatureMemberBan, Label: "Member Ban Guard", Description: "Punishes suspicious member bans."},
	{Key: FeatureMemberKick, Label: "Member Kick Guard", Description: "Punishes suspicious member kicks."},
	{Key: FeatureEmojiDelete, Label: "Emoji Delete Guard", Description: "Punishes unauthorized emoji deletion."},
	{Key: FeatureWebhookCreate, Label: "Webhook Create Guard", Description: "Punishes unauthorized webhook creation."},
	{Key: FeatureWebhookDelete, Label: "Webhook Delete Guard", Description: "Punishes unauthorized webhook deletion."},
	{Key: FeatureUnverifiedBotAdd, Label: "Unverified Bot Add Guard", Description: "Punishes unverified bot additions."},
	{Key: FeatureNightmodeChannelCreate, Label: "Nightmode Channel Create Guard", Description: "Punishes channel creation while nightmode is active.", NightmodeOnly: true},
	{Key: FeatureNightmodeRoleCreate, Label: "Nightmode Role Create Guard", Description: "Punishes role creation while nightmode is active.", NightmodeOnly: true},
}

var featureLabels = func() map[string]string {
	labels := make(map[string]string, len(featureDefinitions))
	for _, def := range featureDefinitions {
		labels[def.Key] = def.Label
	}
	return labels
}()

func Features() []FeatureDefinition {
	out := make([]FeatureDefinition, len(featureDefinitions))
	copy(out, featureDefinitions)
	return out
}

func AllFeatureKeys() []string {
	keys := make([]string, 0, len(featureDefinitions))
	for _, def := range featureDefinitions {
		keys = append(keys, def.Key)
	}
	return keys
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsFeatureKey(raw string) bool {
	_, ok := featureLabels[normalizeKey(raw)]
	return ok
}

// NormalizeFeatureKeys lower-cases and trims the raw values, drops unknown
// keys and duplicates, and preserves first-seen order.
func NormalizeFeatureKeys(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	normalized := make([]string, 0, len(raw))
	for _, value := range raw {
		key := normalizeKey(value)
		if !IsFeatureKey(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	return normalized
}

// FeatureLabel returns the display label for a key, or the key itself when
// it is unknown.
func FeatureLabel(key string) string {
	if label, ok := featureLabels[key]; ok {
		return label
	}
	return key
}
