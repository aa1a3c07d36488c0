package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Opcode selecciona el comportamiento de un Envelope en el canal de control.
type Opcode string

const (
	OpInvalidateCache Opcode = "invalidate_cache"
	OpClose           Opcode = "close"
	OpRestart         Opcode = "restart"
	OpReload          Opcode = "reload"
	OpChangeLogLevel  Opcode = "change_log_level"
	OpRequest         Opcode = "request"
	OpResponse        Opcode = "response"
	OpSend            Opcode = "send"
	OpKill            Opcode = "kill"
)

const (
	TargetAll     = "*"
	TargetSupport = "support"
)

// Envelope es el mensaje del canal de control entre el launcher y los
// clusters. Target es "*", "support", el id de un cluster o un nonce.
// Origin lo completa el launcher al retransmitir.
type Envelope struct {
	Opcode  Opcode          `json:"opcode"`
	Target  string          `json:"target,omitempty"`
	Origin  *int            `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(op Opcode, target string, payload any) (Envelope, error) {
	env := Envelope{Opcode: op, Target: target}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s: encode payload: %w", op, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode llena v con el payload. Un payload vacío no es un error.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("envelope %s: decode payload: %w", e.Opcode, err)
	}
	return nil
}

// WithOrigin devuelve una copia marcada con el cluster que la emitió.
func (e Envelope) WithOrigin(clusterID int) Envelope {
	id := clusterID
	e.Origin = &id
	return e
}

func ClusterTarget(clusterID int) string {
	return strconv.Itoa(clusterID)
}

// TargetCluster interpreta Target como id de cluster.
func (e Envelope) TargetCluster() (int, bool) {
	id, err := strconv.Atoi(e.Target)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

type InvalidateCachePayload struct {
	Table      string     `json:"table"`
	Identifier Identifier `json:"identifier"`
}

type ReloadPayload struct {
	Module string `json:"module"`
}

type LogLevelPayload struct {
	Level string `json:"level"`
}

type RequestPayload struct {
	Info  []string `json:"info"`
	Nonce string   `json:"nonce"`
}

// AggregatedResponse es lo que el launcher devuelve al cluster que pidió
// datos: una respuesta por cluster consultado.
type AggregatedResponse struct {
	Responses []map[string]any `json:"responses"`
}

type KillPayload struct {
	Signal int `json:"signal,omitempty"`
}

// SendPayload es un evento genérico para listeners arbitrarios (analytics,
// roles en el servidor de soporte, ...).
type SendPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Claves que entiende el responder de métricas.
const (
	InfoGuildCount  = "guild_count"
	InfoVoiceCount  = "voice_count"
	InfoMemberCount = "member_count"
	InfoHasSupport  = "has_support"
	InfoPing        = "ping"
)

// ExitStatus es el código con el que termina un proceso de cluster; el
// launcher decide con él si reiniciarlo.
type ExitStatus int

const (
	ExitKillEverything ExitStatus = 0
	ExitRestartCluster ExitStatus = 1
	ExitDoNotRestart   ExitStatus = 2
)

func (s ExitStatus) String() string {
	switch s {
	case ExitKillEverything:
		return "kill_everything"
	case ExitRestartCluster:
		return "restart_cluster"
	case ExitDoNotRestart:
		return "do_not_restart"
	default:
		return "exit_" + strconv.Itoa(int(s))
	}
}
