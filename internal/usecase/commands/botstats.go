package commands

import (
	"context"
	"fmt"
	"time"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/usecase/cluster"
)

var statsKeys = []string{domain.InfoGuildCount, domain.InfoVoiceCount, domain.InfoMemberCount}

type BotStatsCommand struct {
	// requester es nil sin launcher; entonces se cuentan solo los datos locales.
	requester domain.ClusterRequester
	local     *cluster.Responder
	timeout   time.Duration
}

func NewBotStatsCommand(requester domain.ClusterRequester, local *cluster.Responder, timeout time.Duration) *BotStatsCommand {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BotStatsCommand{requester: requester, local: local, timeout: timeout}
}

func (c *BotStatsCommand) Name() string {
	return "botstats"
}

func (c *BotStatsCommand) Aliases() []string {
	return []string{"stats", "info"}
}

func (c *BotStatsCommand) Handle(ctx context.Context, cmdCtx *Context) error {
	responses, err := c.collect(ctx)
	if err != nil {
		return cmdCtx.Reply(ctx, "Could not reach the other clusters, try again later.")
	}

	totals := make(map[string]int64, len(statsKeys))
	for _, resp := range responses {
		for _, key := range statsKeys {
			totals[key] += toInt64(resp[key])
		}
	}

	return cmdCtx.Reply(ctx, fmt.Sprintf(
		"Currently in **%d** voice channels, **%d** servers and with **%d** members across **%d** clusters.",
		totals[domain.InfoVoiceCount], totals[domain.InfoGuildCount], totals[domain.InfoMemberCount], len(responses),
	))
}

func (c *BotStatsCommand) collect(ctx context.Context) ([]map[string]any, error) {
	if c.requester == nil {
		if c.local == nil {
			return nil, nil
		}
		return []map[string]any{c.local.Collect(statsKeys)}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.requester.Request(ctx, statsKeys, domain.TargetAll)
}

// toInt64 acepta los números tal como llegan de JSON o de la respuesta local.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
