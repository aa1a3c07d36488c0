package tables

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
)

var ErrUnknownField = errors.New("tables: unknown field")

// InvalidationRouter entrega los invalidate_cache que llegan del canal de
// control a la tabla correspondiente.
type InvalidationRouter interface {
	RegisterTable(table string, invalidate func(domain.Identifier))
}

type Config struct {
	Schema domain.TableSchema
	Store  domain.RowStore
	// Publisher es nil cuando el proceso corre sin launcher.
	Publisher     domain.ControlPublisher
	Router        InvalidationRouter
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Handler es la fachada de una tabla de settings: lecturas cacheadas,
// escrituras agrupadas e invalidación entre clusters.
type Handler struct {
	schema       domain.TableSchema
	store        domain.RowStore
	publisher    domain.ControlPublisher
	cache        *KeyedCache
	writes       *WriteCoalescer
	writeTimeout time.Duration
	logger       *zap.Logger

	deletes sync.WaitGroup
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("table", cfg.Schema.Name))
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	h := &Handler{
		schema:       cfg.Schema,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		cache:        NewKeyedCache(cfg.Schema, cfg.Store, cfg.Metrics),
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}
	h.writes = NewWriteCoalescer(CoalescerConfig{
		Table:        cfg.Schema.Name,
		Cache:        h.cache,
		Upsert:       cfg.Store.Upsert,
		OnFlushed:    h.broadcast,
		Interval:     cfg.FlushInterval,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
		Metrics:      cfg.Metrics,
	})

	if cfg.Router != nil {
		cfg.Router.RegisterTable(cfg.Schema.Name, h.Invalidate)
	}
	return h
}

func (h *Handler) Name() string { return h.schema.Name }

func (h *Handler) Schema() domain.TableSchema { return h.schema }

func (h *Handler) Get(ctx context.Context, id domain.Identifier) (domain.Record, error) {
	if err := h.checkID(id); err != nil {
		return nil, err
	}
	return h.cache.Get(ctx, id)
}

// Defaults devuelve la fila de defaults de la tabla.
func (h *Handler) Defaults(ctx context.Context) (domain.Record, error) {
	return h.cache.Defaults(ctx)
}

// Set aplica los cambios en memoria y bloquea hasta que se persistan.
func (h *Handler) Set(ctx context.Context, id domain.Identifier, changes domain.Record) error {
	pw, err := h.Enqueue(id, changes)
	if err != nil {
		return err
	}
	return pw.Wait(ctx)
}

// Enqueue es Set sin esperar el flush.
func (h *Handler) Enqueue(id domain.Identifier, changes domain.Record) (*PendingWrite, error) {
	if err := h.checkID(id); err != nil {
		return nil, err
	}
	for field := range changes {
		if !h.schema.HasColumn(field) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, h.schema.Name, field)
		}
	}
	return h.writes.Merge(id, changes.Clone()), nil
}

// Delete saca la fila del cache ya mismo, descarta su escritura en cola y la
// borra de la base en segundo plano.
func (h *Handler) Delete(id domain.Identifier) {
	h.writes.Drop(id)
	h.cache.Invalidate(id)

	h.deletes.Add(1)
	go func() {
		defer h.deletes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		defer cancel()
		// un upsert en vuelo terminaría después del delete y revive la fila
		_ = h.writes.AwaitFlush(ctx, id)
		if err := h.store.Delete(ctx, id); err != nil {
			h.logger.Error("delete failed", zap.Stringer("id", id), zap.Error(err))
		}
	}()
}

func (h *Handler) Contains(id domain.Identifier) bool { return h.cache.Contains(id) }

func (h *Handler) Cached(id domain.Identifier) (domain.Record, bool) { return h.cache.Cached(id) }

func (h *Handler) Invalidate(id domain.Identifier) {
	h.cache.Invalidate(id)
	h.logger.Debug("invalidated", zap.Stringer("id", id))
}

func (h *Handler) AwaitFlush(ctx context.Context, id domain.Identifier) error {
	return h.writes.AwaitFlush(ctx, id)
}

func (h *Handler) Flush(ctx context.Context) error { return h.writes.Flush(ctx) }

func (h *Handler) Running() bool { return h.writes.Running() }

// Close persiste lo pendiente y espera los deletes en curso.
func (h *Handler) Close(ctx context.Context) error {
	if err := h.writes.Close(ctx); err != nil {
		return fmt.Errorf("tables: %s: close: %w", h.schema.Name, err)
	}

	idle := make(chan struct{})
	go func() {
		h.deletes.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tables: %s: close: %w", h.schema.Name, ctx.Err())
	}
}

func (h *Handler) broadcast(ctx context.Context, id domain.Identifier) {
	if !h.schema.Broadcast || h.publisher == nil {
		return
	}
	env, err := domain.NewEnvelope(domain.OpInvalidateCache, domain.TargetAll, domain.InvalidateCachePayload{
		Table:      h.schema.Name,
		Identifier: id,
	})
	if err != nil {
		h.logger.Error("encode invalidation", zap.Error(err))
		return
	}
	if err := h.publisher.Send(ctx, env); err != nil {
		h.logger.Debug("invalidation not sent", zap.Stringer("id", id), zap.Error(err))
	}
}

func (h *Handler) checkID(id domain.Identifier) error {
	if id.Len() != len(h.schema.PrimaryKey) {
		return fmt.Errorf("%w: %s expects %d parts, got %s",
			domain.ErrInvalidIdentifier, h.schema.Name, len(h.schema.PrimaryKey), id)
	}
	return nil
}
