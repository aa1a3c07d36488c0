package handle_message

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/usecase/commands"
)

type countingOut struct {
	messages int
}

func (o *countingOut) SendMessage(context.Context, string, string) error {
	o.messages++
	return nil
}

func (o *countingOut) SendFile(context.Context, string, string, []byte) error { return nil }

type blockedUsers map[int64]bool

func (b blockedUsers) Get(_ context.Context, id domain.Identifier) (domain.Record, error) {
	return domain.Record{"blocked": b[id.Parts()[0]]}, nil
}

func TestInteractor_FiltersBotsAndBlockedUsers(t *testing.T) {
	router := commands.NewRouter(nil, nil)
	router.Register(commands.NewPingCommand(nil))
	out := &countingOut{}
	uc := NewInteractor(out, router, blockedUsers{2: true}, nil)
	ctx := context.Background()

	require.NoError(t, uc.Handle(ctx, domain.Message{GuildID: 1, UserID: 1, Text: "p-ping"}))
	require.NoError(t, uc.Handle(ctx, domain.Message{GuildID: 1, UserID: 2, Text: "p-ping"}))
	require.NoError(t, uc.Handle(ctx, domain.Message{GuildID: 1, UserID: 3, Text: "p-ping", IsBot: true}))

	assert.Equal(t, 1, out.messages)
}
