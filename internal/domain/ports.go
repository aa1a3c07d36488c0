package domain

import "context"

// OutgoingMessagePort envía respuestas al canal de chat.
type OutgoingMessagePort interface {
	SendMessage(ctx context.Context, channelID, text string) error
	SendFile(ctx context.Context, channelID, name string, data []byte) error
}

// ControlPublisher publica envelopes en el canal de control. Si no hay
// conexión el envelope se descarta.
type ControlPublisher interface {
	Send(ctx context.Context, env Envelope) error
}

// ClusterRequester pide datos a otros clusters a través del launcher.
type ClusterRequester interface {
	Request(ctx context.Context, info []string, target string) ([]map[string]any, error)
}

// StatsSource expone el estado vivo del proceso para el responder de métricas.
type StatsSource interface {
	GuildCount() int
	VoiceCount() int
	MemberCount() int
	HasSupportGuild() bool
}

// AudioCache guarda audio ya sintetizado.
type AudioCache interface {
	Get(ctx context.Context, parts ...string) ([]byte, bool, error)
	Set(ctx context.Context, audio []byte, parts ...string) error
}
