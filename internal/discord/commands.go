package discord

import "github.com/bwmarrin/discordgo"

// Slash command names.
const (
	cmdPing         = "ping"
	cmdMeteo        = "meteo"
	cmdPluie        = "pluie"
	cmdDailyChannel = "meteo_quotidienne_salon"
	cmdDailyPM      = "meteo_quotidienne_mp"
	cmdFavori       = "favori"
	cmdEmoji        = "emoji"
	cmdFun          = "fun"
	cmdAbonnements  = "abonnements"
)

var (
	manageServer = int64(discordgo.PermissionManageServer)
	guildOnly    = false
	minFreq      = 0.0
)

func locationOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "lieu",
		Description: "Nom de la localisation",
		Required:    required,
	}
}

// Commands returns the slash commands registered by the bot.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdPing,
			Description: "Vérifie que le bot répond",
		},
		{
			Name:        cmdMeteo,
			Description: "Météo actuelle (lieu favori par défaut)",
			Options:     []*discordgo.ApplicationCommandOption{locationOption(false)},
		},
		{
			Name:        cmdPluie,
			Description: "Prévisions de pluie du jour (lieu favori par défaut)",
			Options:     []*discordgo.ApplicationCommandOption{locationOption(false)},
		},
		{
			Name:                     cmdDailyChannel,
			Description:              "Active ou désactive la météo quotidienne dans ce salon",
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
			Options:                  []*discordgo.ApplicationCommandOption{locationOption(true)},
		},
		{
			Name:        cmdDailyPM,
			Description: "Active ou désactive la météo quotidienne en message privé",
			Options:     []*discordgo.ApplicationCommandOption{locationOption(true)},
		},
		{
			Name:        cmdFavori,
			Description: "Définit votre lieu favori",
			Options:     []*discordgo.ApplicationCommandOption{locationOption(true)},
		},
		{
			Name:        cmdEmoji,
			Description: "Définit l'emoji avec lequel le bot réagit à vos messages",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "emoji",
					Description: "Emoji à utiliser (absent pour désactiver)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "frequence",
					Description: "Probabilité de réaction, entre 0 et 1",
					MinValue:    &minFreq,
					MaxValue:    1,
				},
			},
		},
		{
			Name:                     cmdFun,
			Description:              "Active ou désactive les réactions sur ce serveur",
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "actif",
					Description: "Réactions activées",
					Required:    true,
				},
			},
		},
		{
			Name:        cmdAbonnements,
			Description: "Liste vos abonnements à la météo quotidienne",
		},
	}
}
