package tables

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
)

// ErrNoDefaults indica que la tabla no tiene fila de defaults (id 0). Es un
// error de configuración, no algo recuperable.
var ErrNoDefaults = errors.New("tables: default row missing")

const (
	defaultsFlightKey = "defaults"

	// DefaultLoadTimeout acota una carga compartida, que no depende del
	// contexto de ningún llamador en particular.
	DefaultLoadTimeout = 10 * time.Second
)

type entry struct {
	record domain.Record
	// fetched solo lo pone una carga real o la copia de defaults; un Set
	// sobre una clave desconocida crea la entrada sin marcarla.
	fetched bool
}

// KeyedCache guarda en memoria las filas de una tabla, cargándolas bajo
// demanda del RowStore.
type KeyedCache struct {
	schema  domain.TableSchema
	store   domain.RowStore
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[domain.Identifier]*entry

	flights    singleflight.Group
	defaultsMu sync.RWMutex
	defaults   domain.Record
}

func NewKeyedCache(schema domain.TableSchema, store domain.RowStore, m *metrics.Metrics) *KeyedCache {
	return &KeyedCache{
		schema:  schema,
		store:   store,
		metrics: m,
		entries: make(map[domain.Identifier]*entry),
	}
}

// Get devuelve una copia de la fila. Si no está cacheada la carga; si no
// existe en la base devuelve una copia de los defaults.
func (c *KeyedCache) Get(ctx context.Context, id domain.Identifier) (domain.Record, error) {
	if rec, ok := c.Cached(id); ok {
		c.metrics.CacheHit(c.schema.Name)
		return rec, nil
	}
	c.metrics.CacheMiss(c.schema.Name)

	return c.shared(ctx, id.String(), func(ctx context.Context) (domain.Record, error) {
		return c.fill(ctx, id)
	})
}

// shared corre load una sola vez por key entre llamadas concurrentes. Cada
// llamador deja de esperar cuando vence su propio ctx, sin cortar la carga
// de los demás.
func (c *KeyedCache) shared(ctx context.Context, key string, load func(context.Context) (domain.Record, error)) (domain.Record, error) {
	ch := c.flights.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultLoadTimeout)
		defer cancel()
		return load(lctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domain.Record).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *KeyedCache) fill(ctx context.Context, id domain.Identifier) (domain.Record, error) {
	rec, found, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tables: %s: load %s: %w", c.schema.Name, id, err)
	}
	if found {
		rec = c.stripKey(rec)
	} else {
		rec, err = c.Defaults(ctx)
		if err != nil {
			return nil, err
		}
		c.metrics.DefaultFallback(c.schema.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		if e.fetched {
			return e.record.Clone(), nil
		}
		// cambios locales que llegaron antes que la carga
		rec.Merge(e.record)
	}
	c.entries[id] = &entry{record: rec, fetched: true}
	return rec.Clone(), nil
}

// Defaults devuelve una copia de la fila de defaults, pidiéndola una sola vez
// por tabla. Llamadas concurrentes comparten la misma consulta.
func (c *KeyedCache) Defaults(ctx context.Context) (domain.Record, error) {
	c.defaultsMu.RLock()
	cached := c.defaults
	c.defaultsMu.RUnlock()
	if cached != nil {
		return cached.Clone(), nil
	}

	return c.shared(ctx, defaultsFlightKey, func(ctx context.Context) (domain.Record, error) {
		c.defaultsMu.RLock()
		existing := c.defaults
		c.defaultsMu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		rec, found, err := c.store.Load(ctx, domain.ZeroID(len(c.schema.PrimaryKey)))
		if err != nil {
			return nil, fmt.Errorf("tables: %s: load defaults: %w", c.schema.Name, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNoDefaults, c.schema.Name)
		}
		rec = c.stripKey(rec)

		c.defaultsMu.Lock()
		c.defaults = rec
		c.defaultsMu.Unlock()
		return rec, nil
	})
}

// Cached lee la entrada sin tocar la base. Una entrada creada solo por
// escrituras locales se reporta como ausente.
func (c *KeyedCache) Cached(id domain.Identifier) (domain.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || !e.fetched {
		return nil, false
	}
	return e.record.Clone(), true
}

func (c *KeyedCache) Contains(id domain.Identifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return ok && e.fetched
}

// Merge aplica cambios locales de inmediato, creando la entrada si hace falta.
func (c *KeyedCache) Merge(id domain.Identifier, changes domain.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{record: domain.Record{}}
		c.entries[id] = e
	}
	e.record.Merge(changes)
}

func (c *KeyedCache) Invalidate(id domain.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *KeyedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *KeyedCache) stripKey(rec domain.Record) domain.Record {
	if rec == nil {
		rec = domain.Record{}
	}
	for _, col := range c.schema.PrimaryKey {
		delete(rec, col)
	}
	return rec
}
