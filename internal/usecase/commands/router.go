package commands

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
)

// DefaultPrefix es el prefijo de la fila de defaults de guilds.
const DefaultPrefix = "p-"

// PrefixResolver devuelve el prefijo configurado del servidor.
type PrefixResolver func(ctx context.Context, guildID int64) (string, error)

type Router struct {
	prefixes PrefixResolver
	cmdIndex map[string]Command
	logger   *zap.Logger
}

// NewRouter acepta prefixes nil; entonces se usa DefaultPrefix.
func NewRouter(prefixes PrefixResolver, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		prefixes: prefixes,
		cmdIndex: make(map[string]Command),
		logger:   logger.With(zap.String("component", "commands")),
	}
}

func (r *Router) Register(cmd Command) {
	r.cmdIndex[strings.ToLower(cmd.Name())] = cmd
	for _, alias := range cmd.Aliases() {
		r.cmdIndex[strings.ToLower(alias)] = cmd
	}
}

func (r *Router) prefixFor(ctx context.Context, msg domain.Message) string {
	if r.prefixes == nil || msg.IsPrivate || msg.GuildID == 0 {
		return DefaultPrefix
	}
	prefix, err := r.prefixes(ctx, msg.GuildID)
	if err != nil {
		r.logger.Warn("prefix lookup failed", zap.Int64("guild_id", msg.GuildID), zap.Error(err))
		return DefaultPrefix
	}
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// Handle ejecuta el comando si el mensaje empieza con el prefijo del
// servidor. Los comandos desconocidos se ignoran.
func (r *Router) Handle(ctx context.Context, msg domain.Message, out domain.OutgoingMessagePort) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	prefix := r.prefixFor(ctx, msg)
	if !strings.HasPrefix(strings.ToLower(text), strings.ToLower(prefix)) {
		return nil
	}

	withoutPrefix := text[len(prefix):]
	parts := strings.Fields(withoutPrefix)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	cmd, ok := r.cmdIndex[cmdName]
	if !ok {
		return nil
	}

	ctxCmd := &Context{
		Message: msg,
		Out:     out,
		Prefix:  prefix,
		Raw:     strings.TrimSpace(withoutPrefix[strings.Index(withoutPrefix, parts[0])+len(parts[0]):]),
		Args:    parts[1:],
	}

	r.logger.Debug("command", zap.String("name", cmd.Name()), zap.Int64("guild_id", msg.GuildID), zap.Int64("user_id", msg.UserID))
	return cmd.Handle(ctx, ctxCmd)
}
