package suggestion

import (
	"fmt"

	"github.com/stellarlinkco/modclaw/internal/bus"
)

const pendingFooter = "Reacciona con 👍 o 👎 para votar • Estado: Pendiente"

func postEmbed(s Suggestion) *bus.Embed {
	return &bus.Embed{
		Title:       "💡 Nueva Sugerencia",
		Description: s.Text,
		Color:       ColorPending,
		Footer:      pendingFooter,
		AuthorName:  s.AuthorName,
		AuthorIcon:  s.AuthorIcon,
		Timestamp:   s.CreatedAt,
	}
}

func reviewedEmbed(s Suggestion) *bus.Embed {
	e := postEmbed(s)
	switch s.Status {
	case StatusAccepted:
		e.Color = ColorAccepted
		e.Footer = "Estado: ✅ ACEPTADA"
	case StatusDenied:
		e.Color = ColorDenied
		e.Footer = "Estado: ❌ RECHAZADA"
	}
	e.AddField("Revisado por", fmt.Sprintf("<@%s>", s.ReviewerID), true)
	if s.ReviewedAt != nil {
		e.AddField("Fecha de revisión", fmt.Sprintf("<t:%d:R>", s.ReviewedAt.Unix()), true)
	}
	votes := s.Votes
	if s.FinalVotes != nil {
		votes = *s.FinalVotes
	}
	e.AddField("Votos", fmt.Sprintf("%s %d | %s %d", UpvoteEmoji, votes.Up, DownvoteEmoji, votes.Down), true)
	return e
}
