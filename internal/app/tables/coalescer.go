package tables

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
)

var ErrClosed = errors.New("tables: handler closed")

// ErrRowDeleted resuelve las escrituras que quedaron en cola cuando la fila se borró.
var ErrRowDeleted = errors.New("tables: row deleted before flush")

const (
	DefaultFlushInterval = time.Second
	DefaultWriteTimeout  = 10 * time.Second
)

// PendingWrite acumula los cambios de una clave hasta el próximo flush.
type PendingWrite struct {
	changes domain.Record
	done    chan struct{}
	err     error
}

func newPendingWrite() *PendingWrite {
	return &PendingWrite{changes: domain.Record{}, done: make(chan struct{})}
}

// Wait bloquea hasta que el upsert que incluye estos cambios termine.
func (p *PendingWrite) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PendingWrite) Done() <-chan struct{} { return p.done }

func (p *PendingWrite) resolve(err error) {
	p.err = err
	close(p.done)
}

// UpsertFunc persiste los cambios de una clave.
type UpsertFunc func(ctx context.Context, id domain.Identifier, changes domain.Record) error

// FlushedFunc se llama tras un upsert exitoso, antes de liberar a los que esperan.
type FlushedFunc func(ctx context.Context, id domain.Identifier)

type CoalescerConfig struct {
	Table        string
	Cache        *KeyedCache
	Upsert       UpsertFunc
	OnFlushed    FlushedFunc
	Interval     time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// WriteCoalescer junta las escrituras por clave y las persiste en lotes
// periódicos. El loop arranca con la primera escritura y se detiene solo
// cuando no queda nada pendiente.
type WriteCoalescer struct {
	table        string
	cache        *KeyedCache
	upsert       UpsertFunc
	onFlushed    FlushedFunc
	interval     time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu       sync.Mutex
	pending  map[domain.Identifier]*PendingWrite
	flushing map[domain.Identifier]*PendingWrite
	running  bool
	closed   bool
	stop     chan struct{}
	loopDone chan struct{}

	inflight sync.WaitGroup
}

func NewWriteCoalescer(cfg CoalescerConfig) *WriteCoalescer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &WriteCoalescer{
		table:        cfg.Table,
		cache:        cfg.Cache,
		upsert:       cfg.Upsert,
		onFlushed:    cfg.OnFlushed,
		interval:     cfg.Interval,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		pending:      make(map[domain.Identifier]*PendingWrite),
		flushing:     make(map[domain.Identifier]*PendingWrite),
		stop:         make(chan struct{}),
	}
}

// Merge aplica los cambios al cache y los suma a la escritura pendiente de
// la clave. Devuelve esa escritura para poder esperar su flush.
func (c *WriteCoalescer) Merge(id domain.Identifier, changes domain.Record) *PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		pw := newPendingWrite()
		pw.resolve(ErrClosed)
		return pw
	}

	// cache y pendiente bajo el mismo lock para que ambos vean el mismo orden
	c.cache.Merge(id, changes)

	pw, ok := c.pending[id]
	if !ok {
		pw = newPendingWrite()
		c.pending[id] = pw
	}
	pw.changes.Merge(changes)
	c.metrics.Pending(c.table, len(c.pending))

	if !c.running {
		c.running = true
		c.loopDone = make(chan struct{})
		go c.run(c.loopDone)
	}
	return pw
}

// AwaitFlush espera la escritura de id, ya sea la que sigue en cola o la que
// se está persistiendo en este momento.
func (c *WriteCoalescer) AwaitFlush(ctx context.Context, id domain.Identifier) error {
	c.mu.Lock()
	pw, ok := c.pending[id]
	if !ok {
		pw, ok = c.flushing[id]
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return pw.Wait(ctx)
}

// Drop descarta la escritura en cola de id sin persistirla. Una escritura
// que ya está en vuelo no se puede cancelar.
func (c *WriteCoalescer) Drop(id domain.Identifier) {
	c.mu.Lock()
	pw, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.metrics.Pending(c.table, len(c.pending))
	}
	c.mu.Unlock()
	if ok {
		pw.resolve(ErrRowDeleted)
	}
}

func (c *WriteCoalescer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *WriteCoalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *WriteCoalescer) run(done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		batch, ok := c.take(true)
		if !ok {
			return
		}
		c.flushBatch(context.Background(), batch)
	}
}

// take saca todas las escrituras pendientes. Con stopWhenIdle y nada
// pendiente marca el loop como detenido dentro del mismo lock, así un Merge
// concurrente siempre arranca uno nuevo.
func (c *WriteCoalescer) take(stopWhenIdle bool) (map[domain.Identifier]*PendingWrite, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		if stopWhenIdle {
			c.running = false
		}
		return nil, false
	}
	batch := c.pending
	c.pending = make(map[domain.Identifier]*PendingWrite)
	for id, pw := range batch {
		c.flushing[id] = pw
	}
	c.metrics.Pending(c.table, 0)
	c.inflight.Add(1)
	return batch, true
}

func (c *WriteCoalescer) flushBatch(ctx context.Context, batch map[domain.Identifier]*PendingWrite) {
	defer c.inflight.Done()
	started := time.Now()

	var g errgroup.Group
	for id, pw := range batch {
		id, pw := id, pw
		g.Go(func() error {
			c.flushOne(ctx, id, pw)
			// el error va a los que esperan esa clave, no al resto del lote
			return nil
		})
	}
	_ = g.Wait()

	c.metrics.Flushed(c.table, started)
}

func (c *WriteCoalescer) flushOne(ctx context.Context, id domain.Identifier, pw *PendingWrite) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	err := c.upsert(ctx, id, pw.changes)
	c.metrics.Upsert(c.table, err)
	if err != nil {
		c.logger.Warn("flush failed",
			zap.String("table", c.table),
			zap.Stringer("id", id),
			zap.Error(err),
		)
	} else if c.onFlushed != nil {
		c.onFlushed(ctx, id)
	}
	pw.resolve(err)

	c.mu.Lock()
	if c.flushing[id] == pw {
		delete(c.flushing, id)
	}
	c.mu.Unlock()
}

// Flush persiste ya todo lo pendiente, sin esperar al próximo tick.
func (c *WriteCoalescer) Flush(ctx context.Context) error {
	batch, ok := c.take(false)
	if !ok {
		return nil
	}
	c.flushBatch(ctx, batch)
	return ctx.Err()
}

// Close detiene el loop, persiste lo que quede y espera a los upserts en
// curso hasta que ctx expire.
func (c *WriteCoalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	loopDone := c.loopDone
	c.mu.Unlock()

	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.Flush(ctx); err != nil {
		return err
	}

	idle := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
