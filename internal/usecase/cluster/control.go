package cluster

import (
	"context"

	"ttsBotPremium/internal/domain"
)

// Control manda órdenes a todos los clusters a través del launcher. Sin
// launcher la orden se aplica solo en este proceso.
type Control struct {
	publisher domain.ControlPublisher
	local     *Dispatcher
}

// NewControl acepta publisher nil para el modo de un solo proceso.
func NewControl(publisher domain.ControlPublisher, local *Dispatcher) *Control {
	return &Control{publisher: publisher, local: local}
}

func (c *Control) Clustered() bool { return c.publisher != nil }

func (c *Control) Broadcast(ctx context.Context, op domain.Opcode, payload any) error {
	env, err := domain.NewEnvelope(op, domain.TargetAll, payload)
	if err != nil {
		return err
	}
	if c.publisher != nil {
		return c.publisher.Send(ctx, env)
	}
	if c.local != nil {
		c.local.Handle(ctx, env)
	}
	return nil
}
