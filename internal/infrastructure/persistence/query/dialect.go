package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect junta lo poco que cambia entre Postgres y SQLite: placeholders y
// nombres de tipos.
type Dialect struct {
	Name        string
	Placeholder func(n int) string
	types       map[Kind]string
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		types: map[Kind]string{
			KindBigInt:   "bigint",
			KindSmallInt: "smallint",
			KindBool:     "bool",
			KindText:     "text",
		},
	}
	// SQLite usa ?N para poder repetir el mismo parámetro en VALUES y SET.
	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
		types: map[Kind]string{
			KindBigInt:   "INTEGER",
			KindSmallInt: "INTEGER",
			KindBool:     "BOOLEAN",
			KindText:     "TEXT",
		},
	}
)

func (d Dialect) typeOf(k Kind) string {
	if t, ok := d.types[k]; ok {
		return t
	}
	return "TEXT"
}

func (d Dialect) literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return fmt.Sprint(t)
	}
}
