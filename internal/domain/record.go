package domain

// Record son las columnas no-clave de una fila. Los valores son int64,
// string, bool o nil (columna nullable). La fila de defaults tiene la misma
// forma, sin las columnas de la clave primaria.
type Record map[string]any

func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copia los campos de changes sobre r, el último valor gana.
func (r Record) Merge(changes Record) {
	for k, v := range changes {
		r[k] = v
	}
}

func (r Record) Int(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (r Record) Text(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	}
	return false
}
