package discord

import (
	"maps"
	"slices"

	"github.com/bwmarrin/discordgo"
)

var (
	adminPermissions int64 = discordgo.PermissionAdministrator

	minCount      = 1.0
	maxPurgeCount = 100.0
	maxHistory    = 50.0
)

// commands mirrors the bot command table. Option order matches the
// positional arguments the bot expects.
var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "join",
		Description: "Join the dungeon list of this channel",
	},
	{
		Name:        "leave",
		Description: "Leave the dungeon list or waitlist of this channel",
	},
	{
		Name:        "list",
		Description: "Show the dungeon list of this channel",
	},
	{
		Name:        "info",
		Description: "Show your place in every dungeon",
	},
	{
		Name:                     "move",
		Description:              "Move a waitlisted member into the list (admin)",
		DefaultMemberPermissions: &adminPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "member",
				Description: "Member to move",
				Required:    true,
			},
		},
	},
	{
		Name:                     "clear",
		Description:              "Clear the dungeon list (admin)",
		DefaultMemberPermissions: &adminPermissions,
	},
	{
		Name:                     "clearwaitlist",
		Description:              "Clear the waitlist (admin)",
		DefaultMemberPermissions: &adminPermissions,
	},
	{
		Name:                     "purge",
		Description:              "Delete channel messages (admin)",
		DefaultMemberPermissions: &adminPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "How many messages, at most 100",
				MinValue:    &minCount,
				MaxValue:    maxPurgeCount,
			},
		},
	},
	{
		Name:                     "history",
		Description:              "Show recent activity of this dungeon (admin)",
		DefaultMemberPermissions: &adminPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "How many entries, at most 50",
				MinValue:    &minCount,
				MaxValue:    maxHistory,
			},
		},
	},
}

// withAliases appends a copy of the target command for every alias, so the
// alternative names show up as slash commands too. Aliases of unknown
// commands or clashing with a command name are skipped.
func withAliases(base []*discordgo.ApplicationCommand, aliases map[string]string) []*discordgo.ApplicationCommand {
	byName := make(map[string]*discordgo.ApplicationCommand, len(base))
	for _, c := range base {
		byName[c.Name] = c
	}

	all := slices.Clone(base)
	for _, alias := range slices.Sorted(maps.Keys(aliases)) {
		target, ok := byName[aliases[alias]]
		if !ok || byName[alias] != nil {
			logger.Warnf("not registering alias %s for %s", alias, aliases[alias])
			continue
		}

		c := *target
		c.Name = alias
		c.Description = target.Description + " (/" + target.Name + ")"
		all = append(all, &c)
	}

	return all
}
