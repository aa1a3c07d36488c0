package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/persistence/query"
)

type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int
}

func (c Config) connString() string {
	maxConns := c.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := c.MinConns
	if minConns < 0 {
		minConns = 0
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, maxConns, minConns,
	)
}

// Store es el backend compartido por todos los clusters.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ domain.StoreBackend = (*Store)(nil)

func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info("postgres connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Migrate(ctx context.Context, schemas []domain.TableSchema) error {
	for _, schema := range schemas {
		b := query.NewBuilder(schema, query.Postgres)

		ddl, err := b.CreateTable()
		if err != nil {
			return fmt.Errorf("postgres: migrate %s: %w", schema.Name, err)
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: migrate %s: %w", schema.Name, err)
		}

		stmt, args, err := b.Upsert(domain.ZeroID(len(schema.PrimaryKey)), nil)
		if err != nil {
			return fmt.Errorf("postgres: defaults %s: %w", schema.Name, err)
		}
		if _, err := s.pool.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("postgres: defaults %s: %w", schema.Name, err)
		}
	}
	return nil
}

func (s *Store) Table(schema domain.TableSchema) domain.RowStore {
	return &table{pool: s.pool, schema: schema, b: query.NewBuilder(schema, query.Postgres)}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type table struct {
	pool   *pgxpool.Pool
	schema domain.TableSchema
	b      query.Builder
}

func (t *table) Load(ctx context.Context, id domain.Identifier) (domain.Record, bool, error) {
	rows, err := t.pool.Query(ctx, t.b.Select(), id.Args()...)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: load %s %s: %w", t.schema.Name, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("postgres: load %s %s: %w", t.schema.Name, id, err)
		}
		return nil, false, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, false, fmt.Errorf("postgres: load %s %s: %w", t.schema.Name, id, err)
	}
	return t.b.RowFromValues(values), true, nil
}

func (t *table) Upsert(ctx context.Context, id domain.Identifier, changes domain.Record) error {
	stmt, args, err := t.b.Upsert(id, changes)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", t.schema.Name, err)
	}
	if _, err := t.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("postgres: upsert %s %s: %w", t.schema.Name, id, err)
	}
	return nil
}

func (t *table) Delete(ctx context.Context, id domain.Identifier) error {
	_, err := t.pool.Exec(ctx, t.b.Delete(), id.Args()...)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: delete %s %s: %w", t.schema.Name, id, err)
	}
	return nil
}
