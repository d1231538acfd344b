package conversation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/m3rciful/formbot/core/telegram/format"
	"github.com/m3rciful/formbot/internal/binding"
)

// Command is a bot command shown in the chat menu.
type Command struct {
	Name        string
	Description string
	Aliases     []string
}

var commands = []Command{
	{Name: "start", Description: "Show the list of commands", Aliases: []string{"help"}},
	{Name: "connect", Description: "Bind a chat to a form"},
	{Name: "reset", Description: "Delete all data"},
	{Name: "delete", Description: "Remove a chat"},
	{Name: "list", Description: "Show all bindings"},
}

// Commands returns the commands the conversation understands, in menu order.
func Commands() []Command {
	out := make([]Command, len(commands))
	for i, c := range commands {
		c.Aliases = slices.Clone(c.Aliases)
		out[i] = c
	}
	return out
}

const (
	msgPromptChatID   = "Enter your chatId in the format -**********:"
	msgPromptDelete   = "Enter the chatId to remove, in the format -**********:"
	msgPromptFormID   = "Thanks! Now enter your formId.\nThe formId is part of the form link, as shown below:\nhttps://docs.google.com/forms/d/FormId/edit"
	msgChatRejected   = "Error: could not verify this chatId. Make sure you are a member of the chat and enter a valid chatId."
	msgFormRejected   = "Error: invalid formId. Please enter a valid formId:"
	msgConfigured     = "Thanks! The bot is configured."
	msgChatConfigured = "The bot is configured! Form responses will now arrive in this chat."
	msgResetDone      = "All data has been deleted."
	msgNoBindings     = "No chats and forms are bound."
	msgIdleHint       = "Send /connect to bind a chat to a form or /start to see all commands."
	msgStorageFailure = "Something went wrong while saving. Please try again."
)

func helpText() string {
	var b strings.Builder
	b.WriteString("Hello! Here are the commands:")
	for _, c := range commands[1:] {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return b.String()
}

func deletedText(chatID string, removed int) string {
	return fmt.Sprintf("Removed %d binding(s) for chat %s.", removed, format.Code(chatID))
}

func listText(list []binding.Binding) string {
	if len(list) == 0 {
		return msgNoBindings
	}
	var b strings.Builder
	b.WriteString("Bound chats and forms:")
	for i, it := range list {
		fmt.Fprintf(&b, "\n%d. ChatId: %s, FormId: %s", i+1, format.Escape(it.ChatID), format.Escape(it.FormID))
	}
	return b.String()
}
