package bus

// Slash command and option names shared by the adapter that registers them
// and the dispatcher that routes them.
const (
	CmdStrike  = "strike"
	CmdAccept  = "aceptar"
	CmdDeny    = "denegar"
	CmdSuggest = "suggest"
	CmdTicket  = "ticket"
	CmdTest    = "test"

	SubStrikeAdd    = "add"
	SubStrikeCheck  = "check"
	SubStrikeRemove = "remove"

	SubSuggestCreate = "create"
	SubSuggestAccept = "accept"
	SubSuggestDeny   = "deny"

	SubTicketCreate = "crear"
	SubTicketClose  = "cerrar"
	SubTicketAdd    = "add"

	SubTestWelcome = "bienvenida"
	SubTestGoodbye = "despedida"

	OptAction     = "accion"
	OptUser       = "usuario"
	OptSeverity   = "tipo"
	OptReason     = "motivo"
	OptRole       = "rol"
	OptSuggestion = "sugerencia"
	OptMessageID  = "message_id"
)

// PublicReply reports whether the command normally answers in the channel.
// Every other command answers only to the caller.
func (c *Command) PublicReply() bool {
	if c == nil {
		return false
	}
	switch c.Name {
	case CmdStrike, CmdAccept, CmdDeny:
		return true
	case CmdTicket:
		return c.Subcommand == SubTicketAdd
	}
	return false
}
