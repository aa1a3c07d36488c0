// Package cluster interpreta los envelopes que llegan del launcher.
package cluster

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"ttsBotPremium/internal/app/events"
	"ttsBotPremium/internal/domain"
)

// LevelSetter cambia el nivel de log de todo el proceso.
type LevelSetter interface {
	SetLevel(name string) error
}

// Reloader recarga un módulo en caliente.
type Reloader func(ctx context.Context) error

// ShutdownFunc termina el proceso con el estado indicado. Se invoca en su
// propia goroutine.
type ShutdownFunc func(status domain.ExitStatus)

type DispatcherConfig struct {
	ClusterID int
	Levels    LevelSetter
	Shutdown  ShutdownFunc
	Responder *Responder
	Bus       *events.Bus
	Logger    *zap.Logger
}

// Dispatcher aplica cada opcode del canal de control. Implementa
// tables.InvalidationRouter.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *zap.Logger

	tables    *xsync.MapOf[string, func(domain.Identifier)]
	reloaders *xsync.MapOf[string, Reloader]

	shutdownOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "dispatcher")),
		tables:    xsync.NewMapOf[string, func(domain.Identifier)](),
		reloaders: xsync.NewMapOf[string, Reloader](),
	}
}

func (d *Dispatcher) RegisterTable(table string, invalidate func(domain.Identifier)) {
	d.tables.Store(table, invalidate)
}

func (d *Dispatcher) RegisterReloader(module string, fn Reloader) {
	d.reloaders.Store(module, fn)
}

// Handle tiene la firma de ws.EnvelopeHandler.
func (d *Dispatcher) Handle(ctx context.Context, env domain.Envelope) {
	log := d.logger.With(zap.String("opcode", string(env.Opcode)))

	switch env.Opcode {
	case domain.OpInvalidateCache:
		d.invalidate(env, log)

	case domain.OpClose:
		d.shutdown(domain.ExitKillEverything)

	case domain.OpRestart:
		d.shutdown(domain.ExitRestartCluster)

	case domain.OpReload:
		var payload domain.ReloadPayload
		if err := env.Decode(&payload); err != nil {
			log.Warn("bad reload payload", zap.Error(err))
			return
		}
		d.reload(ctx, payload.Module, log)

	case domain.OpChangeLogLevel:
		var payload domain.LogLevelPayload
		if err := env.Decode(&payload); err != nil {
			log.Warn("bad log level payload", zap.Error(err))
			return
		}
		if d.cfg.Levels == nil {
			return
		}
		if err := d.cfg.Levels.SetLevel(payload.Level); err != nil {
			log.Warn("log level not changed", zap.Error(err))
			return
		}
		d.publish(events.TopicLogLevel, events.LogLevelChanged{Level: payload.Level})

	case domain.OpRequest:
		var payload domain.RequestPayload
		if err := env.Decode(&payload); err != nil {
			log.Warn("bad request payload", zap.Error(err))
			return
		}
		if d.cfg.Responder == nil {
			return
		}
		if err := d.cfg.Responder.Respond(ctx, payload.Info, payload.Nonce); err != nil {
			log.Warn("request not answered", zap.String("nonce", payload.Nonce), zap.Error(err))
		}

	case domain.OpSend:
		var payload domain.SendPayload
		if err := env.Decode(&payload); err != nil {
			log.Warn("bad send payload", zap.Error(err))
			return
		}
		d.publish(events.TopicSend, events.NewSendEvent(payload, env.Origin))

	case domain.OpResponse, domain.OpKill:
		// response sin petición pendiente o kill, que solo atiende el launcher

	default:
		log.Debug("unknown opcode ignored")
	}
}

func (d *Dispatcher) invalidate(env domain.Envelope, log *zap.Logger) {
	if env.Origin != nil && *env.Origin == d.cfg.ClusterID {
		return
	}
	var payload domain.InvalidateCachePayload
	if err := env.Decode(&payload); err != nil || payload.Identifier.IsZero() {
		log.Warn("bad invalidate_cache payload", zap.Error(err))
		return
	}
	fn, ok := d.tables.Load(payload.Table)
	if !ok {
		log.Debug("invalidate_cache for unknown table", zap.String("table", payload.Table))
		return
	}
	fn(payload.Identifier)
}

func (d *Dispatcher) reload(ctx context.Context, module string, log *zap.Logger) {
	fn, ok := d.reloaders.Load(module)
	if !ok {
		log.Warn("reload of unknown module", zap.String("module", module))
		return
	}
	if err := fn(ctx); err != nil {
		log.Error("reload failed", zap.String("module", module), zap.Error(err))
		return
	}
	log.Info("module reloaded", zap.String("module", module))
	d.publish(events.TopicReload, events.ReloadRequested{Module: module})
}

func (d *Dispatcher) shutdown(status domain.ExitStatus) {
	d.shutdownOnce.Do(func() {
		d.logger.Info("shutdown requested by launcher", zap.Stringer("status", status))
		if d.cfg.Shutdown != nil {
			go d.cfg.Shutdown(status)
		}
	})
}

func (d *Dispatcher) publish(topic string, payload any) {
	if d.cfg.Bus != nil {
		d.cfg.Bus.Publish(topic, payload)
	}
}
