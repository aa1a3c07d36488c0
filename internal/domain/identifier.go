package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxIdentifierParts es la aridad máxima de una clave compuesta.
const MaxIdentifierParts = 4

var ErrInvalidIdentifier = errors.New("identifier: invalid")

// Identifier es la clave de una fila: un escalar (guild_id) o una tupla de
// escalares (guild_id, user_id). Es comparable, así que sirve directamente
// como clave de map; dos identificadores con los mismos elementos son iguales
// sin importar si vinieron de una lista o de argumentos sueltos.
type Identifier struct {
	n     int
	parts [MaxIdentifierParts]int64
}

// ID construye un Identifier. Entra en pánico si la aridad no es válida;
// para datos externos usar IDFromSlice.
func ID(parts ...int64) Identifier {
	id, err := IDFromSlice(parts)
	if err != nil {
		panic(err)
	}
	return id
}

func IDFromSlice(parts []int64) (Identifier, error) {
	if len(parts) == 0 || len(parts) > MaxIdentifierParts {
		return Identifier{}, fmt.Errorf("%w: arity %d", ErrInvalidIdentifier, len(parts))
	}
	var id Identifier
	id.n = len(parts)
	copy(id.parts[:], parts)
	return id, nil
}

// ZeroID es el identificador centinela de la fila de defaults.
func ZeroID(arity int) Identifier {
	return ID(make([]int64, arity)...)
}

func (id Identifier) Len() int { return id.n }

func (id Identifier) IsZero() bool { return id.n == 0 }

func (id Identifier) Parts() []int64 {
	return append([]int64(nil), id.parts[:id.n]...)
}

// Args devuelve las partes listas para pasarse como argumentos de una query.
func (id Identifier) Args() []any {
	out := make([]any, id.n)
	for i := 0; i < id.n; i++ {
		out[i] = id.parts[i]
	}
	return out
}

func (id Identifier) String() string {
	strs := make([]string, id.n)
	for i := 0; i < id.n; i++ {
		strs[i] = strconv.FormatInt(id.parts[i], 10)
	}
	if id.n == 1 {
		return strs[0]
	}
	return "(" + strings.Join(strs, ", ") + ")"
}

func (id Identifier) MarshalJSON() ([]byte, error) {
	if id.n == 0 {
		return []byte("null"), nil
	}
	if id.n == 1 {
		return json.Marshal(id.parts[0])
	}
	return json.Marshal(id.parts[:id.n])
}

// UnmarshalJSON acepta un número, un string numérico (snowflakes de Discord)
// o una lista de cualquiera de los dos.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
		}
		parts := make([]int64, 0, len(raw))
		for _, r := range raw {
			v, err := parseIDPart(r)
			if err != nil {
				return err
			}
			parts = append(parts, v)
		}
		parsed, err := IDFromSlice(parts)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}

	v, err := parseIDPart(data)
	if err != nil {
		return err
	}
	*id = ID(v)
	return nil
}

func parseIDPart(raw []byte) (int64, error) {
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	switch t := v.(type) {
	case json.Number:
		num = t
	case string:
		num = json.Number(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("%w: unexpected %T", ErrInvalidIdentifier, v)
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	return n, nil
}
