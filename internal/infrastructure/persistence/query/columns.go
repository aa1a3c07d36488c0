package query

import "ttsBotPremium/internal/domain"

type Kind int

const (
	KindBigInt Kind = iota
	KindSmallInt
	KindBool
	KindText
)

// Column es la definición física de una columna. Default nil significa sin
// DEFAULT (la columna queda NULL en la fila de defaults).
type Column struct {
	Name    string
	Kind    Kind
	Default any
}

var definitions = map[string][]Column{
	domain.GuildsTable.Name: {
		{Name: "guild_id", Kind: KindBigInt},
		{Name: "channel", Kind: KindBigInt, Default: int64(0)},
		{Name: "xsaid", Kind: KindBool, Default: true},
		{Name: "bot_ignore", Kind: KindBool, Default: true},
		{Name: "auto_join", Kind: KindBool, Default: false},
		{Name: "msg_length", Kind: KindSmallInt, Default: int64(30)},
		{Name: "repeated_chars", Kind: KindSmallInt, Default: int64(0)},
		{Name: "prefix", Kind: KindText, Default: "p-"},
		{Name: "default_lang", Kind: KindText},
	},
	domain.UserInfoTable.Name: {
		{Name: "user_id", Kind: KindBigInt},
		{Name: "blocked", Kind: KindBool, Default: false},
		{Name: "lang", Kind: KindText},
		{Name: "variant", Kind: KindText},
	},
	domain.NicknamesTable.Name: {
		{Name: "guild_id", Kind: KindBigInt},
		{Name: "user_id", Kind: KindBigInt},
		{Name: "name", Kind: KindText},
	},
}

// ColumnsOf devuelve las columnas físicas de una tabla conocida.
func ColumnsOf(table string) ([]Column, bool) {
	cols, ok := definitions[table]
	return cols, ok
}
