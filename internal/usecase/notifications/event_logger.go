// Package notifications registra los eventos que llegan por el bus para su
// futura ingesta (analytics, roles en el servidor de soporte, etc.).
package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ttsBotPremium/internal/app/events"
)

type EventLogger struct {
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

func NewEventLogger(bus *events.Bus, logger *zap.Logger) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLogger{
		bus:    bus,
		logger: logger.With(zap.String("component", "events")),
		now:    time.Now,
	}
}

// Run escucha el bus hasta que el contexto se cancela o el bus se cierra.
func (l *EventLogger) Run(ctx context.Context) {
	sends, unsubSends := l.bus.Subscribe(events.TopicSend)
	defer unsubSends()
	removed, unsubRemoved := l.bus.Subscribe(events.TopicGuildRemoved)
	defer unsubRemoved()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sends:
			if !ok {
				return
			}
			if send, ok := ev.(events.SendEvent); ok {
				l.HandleSend(send)
			}
		case ev, ok := <-removed:
			if !ok {
				return
			}
			if g, ok := ev.(events.GuildRemoved); ok {
				l.HandleGuildRemoved(g)
			}
		}
	}
}

// HandleSend registra un envelope "send" de otro cluster.
func (l *EventLogger) HandleSend(ev events.SendEvent) {
	fields := []zap.Field{
		zap.String("event_type", ev.Event),
		zap.String("received_at", ev.ReceivedAt),
		zap.ByteString("payload", ev.Data),
	}
	if ev.Origin != nil {
		fields = append(fields, zap.Int("origin", *ev.Origin))
	}
	l.logger.Info("send event", fields...)
}

func (l *EventLogger) HandleGuildRemoved(ev events.GuildRemoved) {
	l.logger.Info("guild removed",
		zap.Int64("guild_id", ev.GuildID),
		zap.String("timestamp", l.now().UTC().Format(time.RFC3339Nano)))
}
