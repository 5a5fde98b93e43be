package ticket

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stellarlinkco/modclaw/internal/bus"
)

const (
	lineTimeLayout    = "02/01/2006 15:04:05"
	summaryTimeLayout = "02/01/2006 15:04"
	emptyContent      = "[Embed/Archivo]"

	colorWelcome    = 0x00ff00
	colorTranscript = 0x2f3136
)

func TranscriptFileName(t Ticket) string {
	return fmt.Sprintf("ticket-%s-transcript.txt", t.ID)
}

func buildTranscript(t Ticket, history []bus.HistoryMessage) Transcript {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		content := m.Content
		if strings.TrimSpace(content) == "" {
			content = emptyContent
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format(lineTimeLayout), m.AuthorName, content))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TRANSCRIPCIÓN TICKET #%s\n", t.ID)
	fmt.Fprintf(&b, "Creador: %s\n", t.CreatorName)
	fmt.Fprintf(&b, "Motivo: %s\n", t.Reason)
	fmt.Fprintf(&b, "Creado: %s\n", t.CreatedAt.Format(lineTimeLayout))
	if t.ClosedAt != nil {
		fmt.Fprintf(&b, "Cerrado: %s\n", t.ClosedAt.Format(lineTimeLayout))
	}
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(lines, "\n"))

	return Transcript{Lines: lines, Text: b.String()}
}

func welcomeEmbed(t Ticket) *bus.Embed {
	e := &bus.Embed{
		Title:       fmt.Sprintf("🎟️ Ticket #%s", t.ID),
		Description: fmt.Sprintf("**Creado por:** <@%s>\n**Motivo:** %s", t.CreatorID, t.Reason),
		Color:       colorWelcome,
		Footer:      "Ticket creado",
		Timestamp:   t.CreatedAt,
	}
	e.AddField("📋 Instrucciones",
		"• Solo los administradores pueden responder\n"+
			"• Los admins pueden usar `/ticket add @usuario` para añadir personas\n"+
			"• Solo los admins pueden cerrar el ticket con `/ticket cerrar`\n"+
			"• Al cerrar se generará una transcripción automática",
		false)
	return e
}

func transcriptEmbed(t Ticket) *bus.Embed {
	e := &bus.Embed{
		Title: fmt.Sprintf("📄 Transcripción Ticket #%s", t.ID),
		Color: colorTranscript,
	}
	if t.ClosedAt != nil {
		e.Timestamp = *t.ClosedAt
	}
	e.AddField("Creador", fmt.Sprintf("<@%s>", t.CreatorID), true)
	e.AddField("Motivo", t.Reason, true)
	e.AddField("Cerrado por", fmt.Sprintf("<@%s>", t.ClosedBy), true)
	e.AddField("Creado", t.CreatedAt.Format(summaryTimeLayout), true)
	if t.ClosedAt != nil {
		e.AddField("Cerrado", t.ClosedAt.Format(summaryTimeLayout), true)
	}
	count := 0
	if t.Transcript != nil {
		count = len(t.Transcript.Lines)
	}
	e.AddField("Total Mensajes", strconv.Itoa(count), true)
	return e
}
