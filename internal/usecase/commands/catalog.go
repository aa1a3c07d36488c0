package commands

import (
	"context"
	"fmt"
	"strings"
)

// CommandDescriptor describe un comando para la ayuda.
type CommandDescriptor struct {
	Name        string
	Description string
	Usage       string
	OwnerOnly   bool
}

// BuiltinCommandCatalog describe los comandos que vienen incluidos en el bot.
func BuiltinCommandCatalog() []CommandDescriptor {
	return []CommandDescriptor{
		{Name: "ping", Description: "Shows the current gateway latency.", Usage: "ping"},
		{Name: "tts", Description: "Replies with the message read out as an mp3.", Usage: "tts <text> | tts voices"},
		{Name: "set", Description: "Changes a server or user setting.", Usage: "set <setting> <value>"},
		{Name: "settings", Description: "Shows the current settings.", Usage: "settings"},
		{Name: "botstats", Description: "Shows how many servers the bot is in.", Usage: "botstats"},
		{Name: "help", Description: "Shows this message.", Usage: "help"},
		{Name: "loglevel", Description: "Changes the log level of every cluster.", Usage: "loglevel <level>", OwnerOnly: true},
		{Name: "reload", Description: "Reloads a module on every cluster.", Usage: "reload <module>", OwnerOnly: true},
	}
}

type HelpCommand struct {
	catalog []CommandDescriptor
}

func NewHelpCommand() *HelpCommand {
	return &HelpCommand{catalog: BuiltinCommandCatalog()}
}

func (c *HelpCommand) Name() string {
	return "help"
}

func (c *HelpCommand) Aliases() []string {
	return []string{"commands"}
}

func (c *HelpCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	var sb strings.Builder
	sb.WriteString("**Commands**")
	for _, d := range c.catalog {
		if d.OwnerOnly && !cmdCtx.Message.IsOwner {
			continue
		}
		fmt.Fprintf(&sb, "\n`%s%s`: %s", cmdCtx.Prefix, d.Usage, d.Description)
	}
	return cmdCtx.Reply(ctx, sb.String())
}
