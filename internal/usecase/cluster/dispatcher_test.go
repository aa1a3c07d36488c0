package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/app/events"
	"ttsBotPremium/internal/domain"
)

type MockLevels struct {
	mock.Mock
}

func (m *MockLevels) SetLevel(name string) error {
	return m.Called(name).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Send(ctx context.Context, env domain.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

type fakeStats struct {
	guilds, voice, members int
	support                bool
}

func (s fakeStats) GuildCount() int       { return s.guilds }
func (s fakeStats) VoiceCount() int       { return s.voice }
func (s fakeStats) MemberCount() int      { return s.members }
func (s fakeStats) HasSupportGuild() bool { return s.support }

func envelope(t *testing.T, op domain.Opcode, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(op, domain.TargetAll, payload)
	require.NoError(t, err)
	return env
}

func TestDispatcher_InvalidateRoutesToTable(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{ClusterID: 1})

	var got []domain.Identifier
	d.RegisterTable("nicknames", func(id domain.Identifier) { got = append(got, id) })

	env := envelope(t, domain.OpInvalidateCache, domain.InvalidateCachePayload{
		Table: "nicknames", Identifier: domain.ID(10, 20),
	})
	d.Handle(context.Background(), env.WithOrigin(0))

	// el propio cluster ignora su broadcast
	d.Handle(context.Background(), env.WithOrigin(1))

	other := envelope(t, domain.OpInvalidateCache, domain.InvalidateCachePayload{
		Table: "unknown", Identifier: domain.ID(1),
	})
	d.Handle(context.Background(), other)

	assert.Equal(t, []domain.Identifier{domain.ID(10, 20)}, got)
}

func TestDispatcher_CloseAndRestartShutdownOnce(t *testing.T) {
	statuses := make(chan domain.ExitStatus, 2)
	d := NewDispatcher(DispatcherConfig{
		Shutdown: func(status domain.ExitStatus) { statuses <- status },
	})

	d.Handle(context.Background(), envelope(t, domain.OpRestart, nil))
	d.Handle(context.Background(), envelope(t, domain.OpClose, nil))

	select {
	case status := <-statuses:
		assert.Equal(t, domain.ExitRestartCluster, status)
	case <-time.After(time.Second):
		t.Fatal("shutdown not called")
	}
	assert.Never(t, func() bool { return len(statuses) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDispatcher_ChangeLogLevel(t *testing.T) {
	levels := &MockLevels{}
	levels.On("SetLevel", "debug").Return(nil).Once()
	levels.On("SetLevel", "loud").Return(errors.New("invalid")).Once()

	bus := events.NewBus(nil)
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(events.TopicLogLevel)
	defer unsubscribe()

	d := NewDispatcher(DispatcherConfig{Levels: levels, Bus: bus})
	d.Handle(context.Background(), envelope(t, domain.OpChangeLogLevel, domain.LogLevelPayload{Level: "debug"}))
	d.Handle(context.Background(), envelope(t, domain.OpChangeLogLevel, domain.LogLevelPayload{Level: "loud"}))

	levels.AssertExpectations(t)
	assert.Equal(t, events.LogLevelChanged{Level: "debug"}, <-ch)
	assert.Empty(t, ch)
}

func TestDispatcher_Reload(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})

	var mu sync.Mutex
	calls := 0
	d.RegisterReloader("tts", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	d.Handle(context.Background(), envelope(t, domain.OpReload, domain.ReloadPayload{Module: "tts"}))
	d.Handle(context.Background(), envelope(t, domain.OpReload, domain.ReloadPayload{Module: "missing"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDispatcher_SendPublishesOnBus(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(events.TopicSend)
	defer unsubscribe()

	d := NewDispatcher(DispatcherConfig{Bus: bus})
	env := envelope(t, domain.OpSend, domain.SendPayload{Event: "vote", Data: []byte(`{"user":1}`)})
	d.Handle(context.Background(), env.WithOrigin(4))

	got, ok := (<-ch).(events.SendEvent)
	require.True(t, ok)
	assert.Equal(t, "vote", got.Event)
	assert.JSONEq(t, `{"user":1}`, string(got.Data))
	require.NotNil(t, got.Origin)
	assert.Equal(t, 4, *got.Origin)
}

func TestDispatcher_RequestIsAnswered(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Send", mock.Anything, mock.MatchedBy(func(env domain.Envelope) bool {
		return env.Opcode == domain.OpResponse && env.Target == "nonce-1"
	})).Return(nil).Once()

	d := NewDispatcher(DispatcherConfig{
		Responder: NewResponder(0, fakeStats{guilds: 3}, pub, nil),
	})
	d.Handle(context.Background(), envelope(t, domain.OpRequest, domain.RequestPayload{
		Info: []string{domain.InfoGuildCount}, Nonce: "nonce-1",
	}))

	pub.AssertExpectations(t)
}

func TestDispatcher_IgnoresUnknownAndKill(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Shutdown: func(domain.ExitStatus) { t.Error("unexpected shutdown") },
	})
	assert.NotPanics(t, func() {
		d.Handle(context.Background(), envelope(t, domain.Opcode("ofs_add"), nil))
		d.Handle(context.Background(), envelope(t, domain.OpKill, domain.KillPayload{Signal: 9}))
		d.Handle(context.Background(), domain.Envelope{Opcode: domain.OpReload, Payload: []byte(`"x"`)})
	})
}
