package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/persistence/query"
)

// Store guarda las tablas de settings en un archivo SQLite. Es el backend
// para correr un solo proceso sin Postgres.
type Store struct {
	db *sql.DB
}

var _ domain.StoreBackend = (*Store)(nil)

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate crea las tablas que falten y la fila de defaults de cada una.
func (s *Store) Migrate(ctx context.Context, schemas []domain.TableSchema) error {
	for _, schema := range schemas {
		b := query.NewBuilder(schema, query.SQLite)

		ddl, err := b.CreateTable()
		if err != nil {
			return fmt.Errorf("sqlite: migrate %s: %w", schema.Name, err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: migrate %s: %w", schema.Name, err)
		}

		stmt, args, err := b.Upsert(domain.ZeroID(len(schema.PrimaryKey)), nil)
		if err != nil {
			return fmt.Errorf("sqlite: defaults %s: %w", schema.Name, err)
		}
		if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("sqlite: defaults %s: %w", schema.Name, err)
		}
	}
	return nil
}

func (s *Store) Table(schema domain.TableSchema) domain.RowStore {
	return &table{db: s.db, schema: schema, b: query.NewBuilder(schema, query.SQLite)}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type table struct {
	db     *sql.DB
	schema domain.TableSchema
	b      query.Builder
}

func (t *table) Load(ctx context.Context, id domain.Identifier) (domain.Record, bool, error) {
	values := make([]any, len(t.schema.Columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	row := t.db.QueryRowContext(ctx, t.b.Select(), id.Args()...)
	if err := row.Scan(ptrs...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlite: load %s %s: %w", t.schema.Name, id, err)
	}
	return t.b.RowFromValues(values), true, nil
}

func (t *table) Upsert(ctx context.Context, id domain.Identifier, changes domain.Record) error {
	stmt, args, err := t.b.Upsert(id, changes)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", t.schema.Name, err)
	}
	if _, err := t.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlite: upsert %s %s: %w", t.schema.Name, id, err)
	}
	return nil
}

func (t *table) Delete(ctx context.Context, id domain.Identifier) error {
	if _, err := t.db.ExecContext(ctx, t.b.Delete(), id.Args()...); err != nil {
		return fmt.Errorf("sqlite: delete %s %s: %w", t.schema.Name, id, err)
	}
	return nil
}
