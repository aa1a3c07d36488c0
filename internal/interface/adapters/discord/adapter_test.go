package discordadapter

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
)

func adapterWithGuilds(t *testing.T, cfg Config, guilds ...*discordgo.Guild) *Adapter {
	t.Helper()
	a := NewAdapter(cfg)
	s, err := discordgo.New("Bot token")
	require.NoError(t, err)
	s.State.User = &discordgo.User{ID: "99"}
	for _, g := range guilds {
		require.NoError(t, s.State.GuildAdd(g))
	}
	a.sessions = []*discordgo.Session{s}
	return a
}

func TestAdapter_Stats(t *testing.T) {
	a := adapterWithGuilds(t, Config{SupportGuildID: 5},
		&discordgo.Guild{ID: "5", MemberCount: 10, VoiceStates: []*discordgo.VoiceState{
			{UserID: "99", ChannelID: "7", GuildID: "5"},
		}},
		&discordgo.Guild{ID: "6", MemberCount: 3, VoiceStates: []*discordgo.VoiceState{
			{UserID: "12", ChannelID: "8", GuildID: "6"},
		}},
	)

	assert.Equal(t, 2, a.GuildCount())
	assert.Equal(t, 13, a.MemberCount())
	assert.Equal(t, 1, a.VoiceCount())
	assert.True(t, a.HasSupportGuild())
}

func TestAdapter_NoSupportGuildConfigured(t *testing.T) {
	a := adapterWithGuilds(t, Config{}, &discordgo.Guild{ID: "5"})
	assert.False(t, a.HasSupportGuild())
}

func TestAdapter_MapPrivateMessage(t *testing.T) {
	a := NewAdapter(Config{Trusted: func(id int64) bool { return id == 42 }})
	s, err := discordgo.New("Bot token")
	require.NoError(t, err)

	msg := a.mapMessage(s, &discordgo.Message{
		ID:        "1",
		ChannelID: "300",
		Content:   "p-ping",
		Author:    &discordgo.User{ID: "42", Username: "owner", Bot: false},
	})

	assert.Equal(t, domain.Message{
		ID:        "1",
		ChannelID: "300",
		UserID:    42,
		Username:  "owner",
		Text:      "p-ping",
		IsPrivate: true,
		IsOwner:   true,
	}, msg)
}

func TestAdapter_MapGuildMessageAdmin(t *testing.T) {
	a := adapterWithGuilds(t, Config{}, &discordgo.Guild{
		ID:      "5",
		OwnerID: "1",
		Roles: []*discordgo.Role{
			{ID: "5"},
			{ID: "50", Permissions: discordgo.PermissionManageServer},
		},
		Channels: []*discordgo.Channel{{ID: "300", GuildID: "5"}},
		Members: []*discordgo.Member{
			{GuildID: "5", User: &discordgo.User{ID: "42"}, Roles: []string{"50"}},
			{GuildID: "5", User: &discordgo.User{ID: "43"}},
		},
	})
	s := a.sessions[0]

	manager := a.mapMessage(s, &discordgo.Message{
		ID: "1", GuildID: "5", ChannelID: "300", Content: "-set prefix !",
		Author: &discordgo.User{ID: "42", Username: "mod"},
	})
	assert.True(t, manager.IsAdmin)
	assert.False(t, manager.IsPrivate)
	assert.Equal(t, int64(5), manager.GuildID)

	member := a.mapMessage(s, &discordgo.Message{
		ID: "2", GuildID: "5", ChannelID: "300", Content: "-set prefix !",
		Author: &discordgo.User{ID: "43", Username: "user"},
	})
	assert.False(t, member.IsAdmin)
}

func TestAdapter_GuildDeleteIgnoresOutages(t *testing.T) {
	a := NewAdapter(Config{})
	var removed []int64
	a.SetGuildRemovedHandler(func(_ context.Context, guildID int64) {
		removed = append(removed, guildID)
	})

	handle := a.onGuildDelete(context.Background())
	handle(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "10", Unavailable: true}})
	handle(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "11"}})

	assert.Equal(t, []int64{11}, removed)
}

func TestAdapter_SendWithoutSession(t *testing.T) {
	a := NewAdapter(Config{})
	assert.Error(t, a.SendMessage(context.Background(), "1", "hi"))
	assert.Zero(t, a.Latency())
}
