package commands

import (
	"context"
	"fmt"
	"time"
)

// Latency devuelve la latencia del gateway; puede ser nil.
type Latency func() time.Duration

type PingCommand struct {
	latency Latency
}

func NewPingCommand(latency Latency) *PingCommand {
	return &PingCommand{latency: latency}
}

func (c *PingCommand) Name() string {
	return "ping"
}

func (c *PingCommand) Aliases() []string {
	return []string{}
}

func (c *PingCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	response := "Pong!"
	if c.latency != nil {
		response = fmt.Sprintf("Current Latency: `%dms`", c.latency().Milliseconds())
	}
	return cmdCtx.Reply(ctx, response)
}
