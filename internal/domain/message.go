package domain

type Message struct {
	ID        string
	GuildID   int64
	ChannelID string
	UserID    int64
	Username  string
	Text      string
	IsPrivate bool

	// Flags que rellena el adapter de Discord
	IsBot   bool
	IsOwner bool
	IsAdmin bool
}
