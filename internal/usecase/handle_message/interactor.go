// Package handle_message
package handle_message

import (
	"context"

	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/usecase/commands"
)

// Blocklist dice si un usuario tiene bloqueado el bot (userinfo.blocked).
type Blocklist interface {
	Get(ctx context.Context, id domain.Identifier) (domain.Record, error)
}

type Interactor struct {
	router  *commands.Router
	out     domain.OutgoingMessagePort
	blocked Blocklist
	logger  *zap.Logger
}

func NewInteractor(out domain.OutgoingMessagePort, router *commands.Router, blocked Blocklist, logger *zap.Logger) *Interactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interactor{
		router:  router,
		out:     out,
		blocked: blocked,
		logger:  logger,
	}
}

func (uc *Interactor) Handle(ctx context.Context, msg domain.Message) error {
	if msg.IsBot {
		return nil
	}
	if uc.blocked != nil && msg.UserID != 0 {
		rec, err := uc.blocked.Get(ctx, domain.ID(msg.UserID))
		if err != nil {
			uc.logger.Warn("userinfo lookup failed", zap.Int64("user_id", msg.UserID), zap.Error(err))
		} else if rec.Bool("blocked") {
			return nil
		}
	}
	return uc.router.Handle(ctx, msg, uc.out)
}
