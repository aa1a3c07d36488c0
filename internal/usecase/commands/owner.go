package commands

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/usecase/cluster"
)

// LogLevelCommand cambia el nivel de log de todos los clusters.
type LogLevelCommand struct {
	control *cluster.Control
}

func NewLogLevelCommand(control *cluster.Control) *LogLevelCommand {
	return &LogLevelCommand{control: control}
}

func (c *LogLevelCommand) Name() string {
	return "loglevel"
}

func (c *LogLevelCommand) Aliases() []string {
	return []string{"change_log_level"}
}

func (c *LogLevelCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	if !cmdCtx.Message.IsOwner {
		return nil
	}
	if len(cmdCtx.Args) != 1 {
		return cmdCtx.Reply(ctx, fmt.Sprintf("Usage: `%sloglevel <debug|info|warn|error>`", cmdCtx.Prefix))
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cmdCtx.Args[0]))); err != nil {
		return cmdCtx.Reply(ctx, fmt.Sprintf("Unknown log level `%s`.", cmdCtx.Args[0]))
	}
	if err := c.control.Broadcast(ctx, domain.OpChangeLogLevel, domain.LogLevelPayload{Level: lvl.String()}); err != nil {
		return fmt.Errorf("commands: loglevel: %w", err)
	}
	return cmdCtx.Reply(ctx, fmt.Sprintf("Changed log level to `%s`.", lvl.String()))
}

// ReloadCommand recarga un módulo en todos los clusters.
type ReloadCommand struct {
	control *cluster.Control
}

func NewReloadCommand(control *cluster.Control) *ReloadCommand {
	return &ReloadCommand{control: control}
}

func (c *ReloadCommand) Name() string {
	return "reload"
}

func (c *ReloadCommand) Aliases() []string {
	return []string{}
}

func (c *ReloadCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	if !cmdCtx.Message.IsOwner {
		return nil
	}
	if len(cmdCtx.Args) != 1 {
		return cmdCtx.Reply(ctx, fmt.Sprintf("Usage: `%sreload <module>`", cmdCtx.Prefix))
	}
	module := strings.ToLower(cmdCtx.Args[0])
	if err := c.control.Broadcast(ctx, domain.OpReload, domain.ReloadPayload{Module: module}); err != nil {
		return fmt.Errorf("commands: reload: %w", err)
	}
	target := "this process"
	if c.control.Clustered() {
		target = "all clusters"
	}
	return cmdCtx.Reply(ctx, fmt.Sprintf("Reloading `%s` on %s.", module, target))
}
