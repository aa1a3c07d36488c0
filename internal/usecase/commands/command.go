package commands

import (
	"context"

	"ttsBotPremium/internal/domain"
)

type Command interface {
	Name() string
	Aliases() []string
	Handle(ctx context.Context, c *Context) error
}

type Context struct {
	Message domain.Message
	Out     domain.OutgoingMessagePort
	// Prefix es el prefijo con el que se invocó el comando.
	Prefix string

	Raw  string
	Args []string
}

func (c *Context) Reply(ctx context.Context, text string) error {
	return c.Out.SendMessage(ctx, c.Message.ChannelID, text)
}
