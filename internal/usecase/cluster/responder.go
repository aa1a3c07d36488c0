package cluster

import (
	"context"

	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
)

// Responder contesta los request del launcher con métricas del proceso.
type Responder struct {
	clusterID int
	stats     domain.StatsSource
	publisher domain.ControlPublisher
	logger    *zap.Logger
}

func NewResponder(clusterID int, stats domain.StatsSource, publisher domain.ControlPublisher, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		clusterID: clusterID,
		stats:     stats,
		publisher: publisher,
		logger:    logger,
	}
}

// Collect arma la respuesta para las claves pedidas. Las desconocidas van en nil.
func (r *Responder) Collect(info []string) map[string]any {
	out := make(map[string]any, len(info))
	for _, key := range info {
		out[key] = r.value(key)
	}
	return out
}

func (r *Responder) value(key string) any {
	switch key {
	case domain.InfoPing:
		return "pong"
	}
	if r.stats == nil {
		return nil
	}
	switch key {
	case domain.InfoGuildCount:
		return r.stats.GuildCount()
	case domain.InfoVoiceCount:
		return r.stats.VoiceCount()
	case domain.InfoMemberCount:
		return r.stats.MemberCount()
	case domain.InfoHasSupport:
		if r.stats.HasSupportGuild() {
			return r.clusterID
		}
		return nil
	default:
		return nil
	}
}

// Respond envía un "response" con target igual al nonce de la petición.
func (r *Responder) Respond(ctx context.Context, info []string, nonce string) error {
	env, err := domain.NewEnvelope(domain.OpResponse, nonce, r.Collect(info))
	if err != nil {
		return err
	}
	r.logger.Debug("answering request", zap.String("nonce", nonce), zap.Strings("info", info))
	return r.publisher.Send(ctx, env)
}
