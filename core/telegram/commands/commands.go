package commands

// Command describes a bot command shown in the Telegram command menu.
// Handling is done by the conversation; the registry only names and documents commands.
type Command struct {
	Description string
	Hidden      bool
	Aliases     []string
}
