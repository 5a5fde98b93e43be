// Package render builds the Spanish-language replies the dispatcher sends
// back to members. Engines decide what happens; this package only decides
// how it reads.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/strike"
	"github.com/stellarlinkco/modclaw/internal/ticket"
)

const (
	ColorGreen  = 0x2ecc71
	ColorRed    = 0xe74c3c
	ColorBlue   = 0x3498db
	ColorOrange = 0xe67e22
	ColorWarn   = 0xff9900
	ColorInfo   = 0x0099ff
)

// embedFieldLimit is Discord's maximum field value length.
const embedFieldLimit = 1024

func Mention(userID string) string { return "<@" + userID + ">" }

func RoleMention(roleID string) string { return "<@&" + roleID + ">" }

func ChannelMention(channelID string) string { return "<#" + channelID + ">" }

// Ephemeral wraps text as a reply only the invoking member sees.
func Ephemeral(text string) bus.OutboundMessage {
	return bus.OutboundMessage{Content: text, Ephemeral: true}
}

// ErrorReply maps an engine or gateway failure to what the member is told.
func ErrorReply(err error) bus.OutboundMessage {
	return bus.OutboundMessage{Embed: ErrorEmbed(err), Ephemeral: true}
}

func ErrorEmbed(err error) *bus.Embed {
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return NoPermission()
	case errors.Is(err, apperr.ErrInvalidState):
		return &bus.Embed{Title: "❌ Acción no válida", Description: "Esta acción ya no se puede realizar: " + describe(err), Color: ColorRed}
	case errors.Is(err, apperr.ErrNotFound):
		return &bus.Embed{Title: "❌ No encontrado", Description: "No se encontró lo que buscas: " + describe(err), Color: ColorRed}
	case errors.Is(err, apperr.ErrInvalidInput):
		return &bus.Embed{Title: "❌ Error", Description: "Datos incorrectos: " + describe(err), Color: ColorRed}
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return &bus.Embed{Title: "❌ Error", Description: "No se pudo guardar la información. Inténtalo de nuevo en unos momentos.", Color: ColorRed}
	default:
		return &bus.Embed{Title: "❌ Error", Description: "Ocurrió un error al procesar la acción. Inténtalo de nuevo.", Color: ColorRed}
	}
}

// describe keeps the part of an error message before the taxonomy suffix.
func describe(err error) string {
	msg := err.Error()
	if k := apperr.Kind(err); k != nil {
		msg = strings.TrimSuffix(msg, ": "+k.Error())
	}
	return msg
}

func NoPermission() *bus.Embed {
	return &bus.Embed{
		Title:       "❌ Sin permisos",
		Description: "Solo usuarios con rol `Gerente` o `Subgerente` pueden usar este comando.",
		Color:       ColorRed,
	}
}

func SuggestionsChannelWarning(userID string) *bus.Embed {
	return &bus.Embed{
		Title:       "⚠️ Mensaje no permitido",
		Description: fmt.Sprintf("%s, solo puedes usar comandos en este canal.\n\nUsa `/suggest create` para hacer una sugerencia.", Mention(userID)),
		Color:       ColorWarn,
	}
}

func TicketChannelWarning(userID string) *bus.Embed {
	return &bus.Embed{
		Title:       "⚠️ Solo administradores pueden responder",
		Description: fmt.Sprintf("%s, solo los administradores pueden responder en los tickets.", Mention(userID)),
		Color:       ColorWarn,
	}
}

func StrikeAdded(userID, issuerID string, res strike.AddResult) *bus.Embed {
	e := &bus.Embed{
		Title:       "✅ Strike agregado",
		Description: fmt.Sprintf("Strike **%s** agregado a %s", strings.ToLower(res.Strike.Severity.Label()), Mention(userID)),
		Color:       ColorGreen,
	}
	e.AddField("Motivo", res.Strike.Reason, false)
	e.AddField("Fecha", res.Strike.Timestamp.Format("2006-01-02"), true)
	e.AddField("Por", Mention(issuerID), true)
	if res.Status.Level != strike.LevelOK {
		e.AddField("⚠️ Advertencia", res.Status.Message, false)
	}
	if res.Escalated {
		e.AddField("🚨 Límite alcanzado", fmt.Sprintf("%s alcanzó el límite de strikes %s.", Mention(userID), strings.ToLower(res.Strike.Severity.Label())), false)
	}
	return e
}

func StrikeCheck(userID string, snap strike.Snapshot) *bus.Embed {
	e := &bus.Embed{Title: "📋 Historial de strikes", Color: ColorBlue}
	if len(snap.Record.Strikes) == 0 {
		e.Description = fmt.Sprintf("%s no tiene strikes registrados.", Mention(userID))
		return e
	}
	e.Description = fmt.Sprintf("Strikes de %s", Mention(userID))
	e.AddField("📊 Resumen", fmt.Sprintf("🟢 Leves: %d\n🟡 Moderados: %d\n🔴 Graves: %d",
		snap.Counts[strike.Minor], snap.Counts[strike.Moderate], snap.Counts[strike.Severe]), true)
	if snap.Status.Level != strike.LevelOK {
		e.AddField("⚠️ Estado", snap.Status.Message, true)
	} else {
		e.AddField("✅ Estado", snap.Status.Message, true)
	}

	var b strings.Builder
	for _, s := range snap.Recent {
		issuer := s.IssuerName
		if issuer == "" {
			issuer = "N/A"
		}
		fmt.Fprintf(&b, "%s **%s** - %s\n*%s por %s*\n\n", s.Severity.Emoji(), s.Severity.Label(), s.Reason, s.Timestamp.Format("2006-01-02"), issuer)
	}
	e.AddField("📝 Últimos strikes", truncate(b.String(), embedFieldLimit), false)
	return e
}

func StrikeRemoved(userID, removerID string, res strike.RemoveResult) *bus.Embed {
	e := &bus.Embed{
		Title:       "🗑️ Strike removido",
		Description: fmt.Sprintf("Se removió el último strike de %s", Mention(userID)),
		Color:       ColorOrange,
	}
	e.AddField("Strike removido", fmt.Sprintf("**%s**: %s", res.Removed.Severity.Label(), res.Removed.Reason), false)
	e.AddField("Fecha original", res.Removed.Timestamp.Format("2006-01-02"), true)
	e.AddField("Removido por", Mention(removerID), true)
	return e
}

func ApplicationAccepted(userID, roleID, reviewerID string) *bus.Embed {
	e := &bus.Embed{
		Title: "✅ Solicitud Aceptada",
		Description: fmt.Sprintf("✨ %s, tu solicitud ha sido aceptada.\nNos ha parecido muy interesante tu propuesta.\n"+
			"A partir de ahora formas parte del equipo como %s. ¡Bienvenido/a! 🎉", Mention(userID), RoleMention(roleID)),
		Color: ColorGreen,
	}
	e.AddField("Usuario", Mention(userID), true)
	e.AddField("Rol Asignado", RoleMention(roleID), true)
	e.AddField("Aceptado por", Mention(reviewerID), true)
	return e
}

func applicationDeniedText(userID string) string {
	return fmt.Sprintf("❌ %s, tu solicitud ha sido denegada.\nTras revisarla, hemos decidido no aceptarla en esta ocasión.\n"+
		"Te animamos a seguir participando y a volver a intentarlo en el futuro. ¡Gracias por tu interés!", Mention(userID))
}

// ApplicationDeniedDM is sent privately before the ban.
func ApplicationDeniedDM(userID string) *bus.Embed {
	return &bus.Embed{Title: "❌ Solicitud Denegada", Description: applicationDeniedText(userID), Color: ColorRed}
}

func ApplicationDenied(userID, reviewerID string, dmSent bool) *bus.Embed {
	e := ApplicationDeniedDM(userID)
	e.AddField("Usuario", Mention(userID), true)
	e.AddField("Denegado por", Mention(reviewerID), true)
	if dmSent {
		e.AddField("Notificación", "✅ Usuario notificado por DM", true)
	} else {
		e.AddField("Notificación", "⚠️ No se pudo enviar DM (bloqueado)", true)
	}
	e.AddField("Estado", "🔨 Usuario baneado del servidor", false)
	return e
}

func TicketCreated(t ticket.Ticket) string {
	return fmt.Sprintf("✅ Ticket #%s creado exitosamente: %s", t.ID, ChannelMention(t.ChannelID))
}

func TicketParticipantAdded(userID, actorID string) *bus.Embed {
	return &bus.Embed{
		Title:       "👤 Usuario Añadido",
		Description: fmt.Sprintf("%s ha sido añadido al ticket por %s", Mention(userID), Mention(actorID)),
		Color:       ColorInfo,
	}
}

const (
	SuggestionSubmitted = "✅ Tu sugerencia ha sido enviada correctamente!"
	SuggestionAccepted  = "✅ Sugerencia aceptada y movida a resultados!"
	SuggestionDenied    = "❌ Sugerencia rechazada y movida a resultados!"
	TicketClosing       = "✅ Ticket cerrado. Generando transcripción..."
	NotATicketChannel   = "❌ Este comando solo se puede usar en canales de ticket."
	WelcomeTestSent     = "Mensaje de bienvenida enviado."
	GoodbyeTestSent     = "Mensaje de despedida enviado."
	NoWelcomeChannel    = "❌ No hay canal de bienvenida configurado."
	UnknownCommand      = "❌ Comando desconocido."
)

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
