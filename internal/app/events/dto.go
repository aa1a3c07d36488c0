package events

import (
	"encoding/json"
	"time"

	"ttsBotPremium/internal/domain"
)

// SendEvent es el payload de un envelope "send" tal como lo ven los
// listeners del bus.
type SendEvent struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	Origin     *int            `json:"origin,omitempty"`
	ReceivedAt string          `json:"received_at"`
}

func NewSendEvent(payload domain.SendPayload, origin *int) SendEvent {
	return SendEvent{
		Event:      payload.Event,
		Data:       payload.Data,
		Origin:     origin,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type LogLevelChanged struct {
	Level string `json:"level"`
}

type ReloadRequested struct {
	Module string `json:"module"`
}

type GuildRemoved struct {
	GuildID int64 `json:"guild_id"`
}
