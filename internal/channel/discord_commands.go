package channel

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/modclaw/internal/bus"
)

func severityOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        bus.OptSeverity,
		Description: "Tipo de strike",
		Required:    required,
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "Leve", Value: "leve"},
			{Name: "Moderado", Value: "moderado"},
			{Name: "Grave", Value: "grave"},
		},
	}
}

func userOption(desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        bus.OptUser,
		Description: desc,
		Required:    true,
	}
}

func stringOption(name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    required,
	}
}

func subcommand(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: desc,
		Options:     opts,
	}
}

// SlashCommands is the guild command set registered on start.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        bus.CmdStrike,
			Description: "Gestiona los strikes de un usuario",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand(bus.SubStrikeAdd, "Añade un strike",
					userOption("Usuario sancionado"),
					severityOption(true),
					stringOption(bus.OptReason, "Motivo del strike", true),
				),
				subcommand(bus.SubStrikeCheck, "Consulta los strikes",
					userOption("Usuario a consultar"),
				),
				subcommand(bus.SubStrikeRemove, "Elimina strikes",
					userOption("Usuario"),
					severityOption(false),
				),
			},
		},
		{
			Name:        bus.CmdAccept,
			Description: "Acepta la solicitud de un usuario",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Usuario aceptado"),
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        bus.OptRole,
					Description: "Rol a asignar",
					Required:    true,
				},
			},
		},
		{
			Name:        bus.CmdDeny,
			Description: "Deniega la solicitud de un usuario",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Usuario denegado"),
			},
		},
		{
			Name:        bus.CmdSuggest,
			Description: "Sugerencias",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand(bus.SubSuggestCreate, "Envía una sugerencia",
					stringOption(bus.OptSuggestion, "Tu sugerencia", true),
				),
				subcommand(bus.SubSuggestAccept, "Acepta una sugerencia",
					stringOption(bus.OptMessageID, "ID del mensaje de la sugerencia", true),
				),
				subcommand(bus.SubSuggestDeny, "Rechaza una sugerencia",
					stringOption(bus.OptMessageID, "ID del mensaje de la sugerencia", true),
				),
			},
		},
		{
			Name:        bus.CmdTicket,
			Description: "Tickets de soporte",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand(bus.SubTicketCreate, "Abre un ticket",
					stringOption(bus.OptReason, "Motivo del ticket", false),
				),
				subcommand(bus.SubTicketClose, "Cierra este ticket"),
				subcommand(bus.SubTicketAdd, "Añade un usuario a este ticket",
					userOption("Usuario a añadir"),
				),
			},
		},
		{
			Name:        bus.CmdTest,
			Description: "Prueba los mensajes de bienvenida y despedida",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand(bus.SubTestWelcome, "Envía el mensaje de bienvenida"),
				subcommand(bus.SubTestGoodbye, "Envía el mensaje de despedida"),
			},
		},
	}
}
