package cluster

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
)

func TestResponder_Collect(t *testing.T) {
	r := NewResponder(7, fakeStats{guilds: 12, voice: 2, members: 340, support: true}, nil, nil)

	got := r.Collect([]string{
		domain.InfoGuildCount, domain.InfoVoiceCount, domain.InfoMemberCount,
		domain.InfoHasSupport, domain.InfoPing, "uptime",
	})

	assert.Equal(t, map[string]any{
		"guild_count":  12,
		"voice_count":  2,
		"member_count": 340,
		"has_support":  7,
		"ping":         "pong",
		"uptime":       nil,
	}, got)
}

func TestResponder_HasSupportIsNilElsewhere(t *testing.T) {
	r := NewResponder(2, fakeStats{}, nil, nil)
	got := r.Collect([]string{domain.InfoHasSupport})

	v, ok := got[domain.InfoHasSupport]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResponder_RespondTargetsNonce(t *testing.T) {
	var sent domain.Envelope
	pub := &MockPublisher{}
	pub.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(domain.Envelope)
	}).Return(nil)

	r := NewResponder(0, fakeStats{guilds: 5}, pub, nil)
	require.NoError(t, r.Respond(context.Background(), []string{domain.InfoGuildCount}, "abc"))

	assert.Equal(t, domain.OpResponse, sent.Opcode)
	assert.Equal(t, "abc", sent.Target)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(sent.Payload, &payload))
	assert.EqualValues(t, 5, payload["guild_count"])
}
