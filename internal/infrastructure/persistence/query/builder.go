package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"ttsBotPremium/internal/domain"
)

var ErrUnknownColumn = errors.New("query: unknown column")

// Builder arma las sentencias de una tabla para un dialecto.
type Builder struct {
	schema  domain.TableSchema
	dialect Dialect
}

func NewBuilder(schema domain.TableSchema, dialect Dialect) Builder {
	return Builder{schema: schema, dialect: dialect}
}

func (b Builder) where() string {
	conds := make([]string, len(b.schema.PrimaryKey))
	for i, col := range b.schema.PrimaryKey {
		conds[i] = col + " = " + b.dialect.Placeholder(i+1)
	}
	return strings.Join(conds, " AND ")
}

// Select lee las columnas no-clave, en el orden de schema.Columns.
func (b Builder) Select() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(b.schema.Columns, ", "), b.schema.Name, b.where())
}

func (b Builder) Delete() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", b.schema.Name, b.where())
}

// Upsert arma el INSERT ... ON CONFLICT para los cambios de una clave. Sin
// cambios solo asegura que la fila exista; un campo usa "SET col = $n"; varios
// usan la forma de tupla "SET (a, b) = ($n, $m)".
func (b Builder) Upsert(id domain.Identifier, changes domain.Record) (string, []any, error) {
	if id.Len() != len(b.schema.PrimaryKey) {
		return "", nil, fmt.Errorf("%w: %s expects %d parts, got %s",
			domain.ErrInvalidIdentifier, b.schema.Name, len(b.schema.PrimaryKey), id)
	}

	fields := make([]string, 0, len(changes))
	for field := range changes {
		if !b.schema.HasColumn(field) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, b.schema.Name, field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	cols := append(append([]string(nil), b.schema.PrimaryKey...), fields...)
	args := id.Args()
	for _, field := range fields {
		args = append(args, changes[field])
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = b.dialect.Placeholder(i + 1)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		b.schema.Name,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(b.schema.PrimaryKey, ", "),
	)

	changed := placeholders[len(b.schema.PrimaryKey):]
	switch len(fields) {
	case 0:
		sb.WriteString("DO NOTHING")
	case 1:
		fmt.Fprintf(&sb, "DO UPDATE SET %s = %s", fields[0], changed[0])
	default:
		fmt.Fprintf(&sb, "DO UPDATE SET (%s) = (%s)",
			strings.Join(fields, ", "), strings.Join(changed, ", "))
	}
	return sb.String(), args, nil
}

// CreateTable devuelve el DDL idempotente de la tabla.
func (b Builder) CreateTable() (string, error) {
	cols, ok := ColumnsOf(b.schema.Name)
	if !ok {
		return "", fmt.Errorf("query: no column definitions for %s", b.schema.Name)
	}

	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		def := col.Name + " " + b.dialect.typeOf(col.Kind)
		if col.Default != nil {
			def += " DEFAULT " + b.dialect.literal(col.Default)
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(b.schema.PrimaryKey, ", ")+")")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		b.schema.Name, strings.Join(defs, ",\n\t")), nil
}

// Normalize lleva los valores que devuelven los drivers a los tipos de
// domain.Record.
func Normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case []byte:
		return string(t)
	default:
		return v
	}
}

// RowFromValues arma un Record con los valores leídos por Select.
func (b Builder) RowFromValues(values []any) domain.Record {
	rec := make(domain.Record, len(b.schema.Columns))
	for i, col := range b.schema.Columns {
		if i < len(values) {
			rec[col] = Normalize(values[i])
		}
	}
	return rec
}
