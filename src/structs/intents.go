package structs

import (
	"fmt"
	"strings"
)

// https://discord.com/developers/docs/events/gateway#gateway-intents
type Intent uint64

const (
	GuildsIntent                      Intent = 1 << 0
	GuildMembersIntent                Intent = 1 << 1
	GuildModerationIntent             Intent = 1 << 2
	GuildExpressionIntent             Intent = 1 << 3
	GuildIntegrationsIntent           Intent = 1 << 4
	GuildWebhooksIntent               Intent = 1 << 5
	GuildInvitesIntent                Intent = 1 << 6
	GuildVoiceStatesIntent            Intent = 1 << 7
	GuildPresencesIntent              Intent = 1 << 8
	GuildMessagesIntent               Intent = 1 << 9
	GuildMessageReactionIntent        Intent = 1 << 10
	GuildMessageTypingIntent          Intent = 1 << 11
	DirectMessageIntent               Intent = 1 << 12
	DirectMessageReactionIntent       Intent = 1 << 13
	DirectMessageTypingIntent         Intent = 1 << 14
	MessageContentIntent              Intent = 1 << 15
	GuildScheduledEventsIntent        Intent = 1 << 16
	AutoModerationConfigurationIntent Intent = 1 << 20
	AutoModerationExecutionIntent     Intent = 1 << 21
	GuildMessagePollsIntent           Intent = 1 << 24
	DirectMessagePollsIntent          Intent = 1 << 25
)

var intentNames = map[string]Intent{
	"guilds":                        GuildsIntent,
	"guild_members":                 GuildMembersIntent,
	"guild_moderation":              GuildModerationIntent,
	"guild_expressions":             GuildExpressionIntent,
	"guild_integrations":            GuildIntegrationsIntent,
	"guild_webhooks":                GuildWebhooksIntent,
	"guild_invites":                 GuildInvitesIntent,
	"guild_voice_states":            GuildVoiceStatesIntent,
	"guild_presences":               GuildPresencesIntent,
	"guild_messages":                GuildMessagesIntent,
	"guild_message_reactions":       GuildMessageReactionIntent,
	"guild_message_typing":          GuildMessageTypingIntent,
	"direct_messages":               DirectMessageIntent,
	"direct_message_reactions":      DirectMessageReactionIntent,
	"direct_message_typing":         DirectMessageTypingIntent,
	"message_content":               MessageContentIntent,
	"guild_scheduled_events":        GuildScheduledEventsIntent,
	"auto_moderation_configuration": AutoModerationConfigurationIntent,
	"auto_moderation_execution":     AutoModerationExecutionIntent,
	"guild_message_polls":           GuildMessagePollsIntent,
	"direct_message_polls":          DirectMessagePollsIntent,
}

// ParseIntent resolves a snake_case intent name such as "guild_messages".
func ParseIntent(name string) (Intent, error) {
	intent, ok := intentNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown intent %q", name)
	}
	return intent, nil
}

// SumIntents adds up the bit values, counting each intent once.
func SumIntents(intents ...Intent) Intent {
	seen := make(map[Intent]struct{}, len(intents))
	var sum Intent
	for _, i := range intents {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		sum += i
	}
	return sum
}
