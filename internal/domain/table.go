package domain

import "context"

// TableSchema describe una tabla de settings: nombre, columnas de la clave
// primaria (en orden) y las columnas que se pueden escribir.
type TableSchema struct {
	Name       string
	PrimaryKey []string
	Columns    []string
	// Broadcast indica si cada escritura debe invalidar las caches de los
	// demás clusters.
	Broadcast bool
}

func (s TableSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (s TableSchema) IsPrimaryKey(name string) bool {
	for _, c := range s.PrimaryKey {
		if c == name {
			return true
		}
	}
	return false
}

// RowStore es el almacenamiento durable de una tabla.
type RowStore interface {
	// Load devuelve (nil, false, nil) si la fila no existe.
	Load(ctx context.Context, id Identifier) (Record, bool, error)
	Upsert(ctx context.Context, id Identifier, changes Record) error
	Delete(ctx context.Context, id Identifier) error
}

// StoreBackend abre un RowStore por tabla sobre una misma conexión.
type StoreBackend interface {
	Table(schema TableSchema) RowStore
	Migrate(ctx context.Context, schemas []TableSchema) error
	Close() error
}

var (
	GuildsTable = TableSchema{
		Name:       "guilds",
		PrimaryKey: []string{"guild_id"},
		Columns: []string{
			"channel", "xsaid", "bot_ignore", "auto_join",
			"msg_length", "repeated_chars", "prefix", "default_lang",
		},
		Broadcast: true,
	}
	UserInfoTable = TableSchema{
		Name:       "userinfo",
		PrimaryKey: []string{"user_id"},
		Columns:    []string{"blocked", "lang", "variant"},
	}
	NicknamesTable = TableSchema{
		Name:       "nicknames",
		PrimaryKey: []string{"guild_id", "user_id"},
		Columns:    []string{"name"},
	}
)

func SettingsTables() []TableSchema {
	return []TableSchema{GuildsTable, UserInfoTable, NicknamesTable}
}
