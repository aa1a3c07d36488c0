package launcher

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/interface/api/ws"
)

type MockLevels struct {
	mock.Mock
}

func (m *MockLevels) SetLevel(name string) error {
	return m.Called(name).Error(0)
}

type received struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (r *received) add(env domain.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *received) opcodes() []domain.Opcode {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]domain.Opcode, 0, len(r.envs))
	for _, env := range r.envs {
		ops = append(ops, env.Opcode)
	}
	return ops
}

type answerFunc func(info []string) map[string]any

// fakeCluster es un cluster conectado que contesta los request con answer;
// answer nil no contesta nunca.
type fakeCluster struct {
	client *ws.Client
	log    *received
}

func connectCluster(t *testing.T, url string, id int, answer answerFunc) *fakeCluster {
	t.Helper()
	fc := &fakeCluster{log: &received{}}
	fc.client = ws.NewClient(ws.ClientConfig{
		URL:       url,
		ClusterID: id,
		Handler: func(ctx context.Context, env domain.Envelope) {
			if env.Opcode != domain.OpRequest {
				fc.log.add(env)
				return
			}
			if answer == nil {
				return
			}
			var req domain.RequestPayload
			if err := env.Decode(&req); err != nil {
				return
			}
			resp, err := domain.NewEnvelope(domain.OpResponse, req.Nonce, answer(req.Info))
			if err != nil {
				return
			}
			_ = fc.client.Send(ctx, resp)
		},
	})
	require.NoError(t, fc.client.Connect(context.Background()))
	t.Cleanup(func() { _ = fc.client.Close() })
	return fc
}

func serverURL(t *testing.T, m *Manager) (string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(m.Server().Handler(ctx))
	return "ws://" + strings.TrimPrefix(ts.URL, "http://"), func() {
		cancel()
		ts.Close()
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, string) {
	t.Helper()
	m := NewManager(cfg)
	url, stop := serverURL(t, m)
	t.Cleanup(stop)
	return m, url
}

func waitConnected(t *testing.T, m *Manager, ids ...int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !m.Server().IsConnected(id) {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func guildCounter(guilds int, support *int) answerFunc {
	return func(info []string) map[string]any {
		out := map[string]any{}
		for _, key := range info {
			switch key {
			case domain.InfoGuildCount:
				out[key] = guilds
			case domain.InfoHasSupport:
				if support != nil {
					out[key] = *support
				} else {
					out[key] = nil
				}
			}
		}
		return out
	}
}

func intPtr(v int) *int { return &v }

func sumGuilds(responses []map[string]any) int {
	total := 0
	for _, resp := range responses {
		if v, ok := resp[domain.InfoGuildCount].(float64); ok {
			total += int(v)
		}
	}
	return total
}

func TestDecideRestartPolicy(t *testing.T) {
	assert.Equal(t, actionShutdown, decide(int(domain.ExitKillEverything), false))
	assert.Equal(t, actionRestart, decide(int(domain.ExitRestartCluster), false))
	assert.Equal(t, actionShutdown, decide(int(domain.ExitDoNotRestart), false))
	assert.Equal(t, actionRestart, decide(77, false))
	assert.Equal(t, actionStop, decide(0, true))
}

func TestManager_RequestFanOut(t *testing.T) {
	m, url := newTestManager(t, Config{ShardCount: 3, ShardsPerCluster: 1})

	requester := connectCluster(t, url, 0, guildCounter(10, nil))
	connectCluster(t, url, 1, guildCounter(20, nil))
	connectCluster(t, url, 2, guildCounter(30, nil))
	waitConnected(t, m, 0, 1, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	responses, err := requester.client.Request(ctx, []string{domain.InfoGuildCount}, domain.TargetAll)
	require.NoError(t, err)

	assert.Len(t, responses, 3)
	assert.Equal(t, 60, sumGuilds(responses))
	assert.Zero(t, m.pending.Size())
}

func TestManager_RequestReturnsPartialOnTimeout(t *testing.T) {
	m, url := newTestManager(t, Config{RequestTimeout: 100 * time.Millisecond})

	requester := connectCluster(t, url, 0, guildCounter(1, nil))
	connectCluster(t, url, 1, guildCounter(2, nil))
	connectCluster(t, url, 2, nil)
	waitConnected(t, m, 0, 1, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	responses, err := requester.client.Request(ctx, []string{domain.InfoGuildCount}, domain.TargetAll)
	require.NoError(t, err)

	assert.Len(t, responses, 2)
	assert.Equal(t, 3, sumGuilds(responses))
}

func TestManager_RequestToSingleCluster(t *testing.T) {
	m, url := newTestManager(t, Config{})

	requester := connectCluster(t, url, 0, guildCounter(1, nil))
	connectCluster(t, url, 1, guildCounter(5, nil))
	waitConnected(t, m, 0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	responses, err := requester.client.Request(ctx, []string{domain.InfoGuildCount}, domain.ClusterTarget(1))
	require.NoError(t, err)

	require.Len(t, responses, 1)
	assert.Equal(t, 5, sumGuilds(responses))
}

func TestManager_RoutesToSupportCluster(t *testing.T) {
	m, url := newTestManager(t, Config{})

	sender := connectCluster(t, url, 0, guildCounter(0, nil))
	support := connectCluster(t, url, 1, guildCounter(0, intPtr(1)))
	other := connectCluster(t, url, 2, guildCounter(0, nil))
	waitConnected(t, m, 0, 1, 2)

	env, err := domain.NewEnvelope(domain.OpSend, domain.TargetSupport, domain.SendPayload{Event: "premium_role"})
	require.NoError(t, err)
	require.NoError(t, sender.client.Send(context.Background(), env))

	require.Eventually(t, func() bool {
		return len(support.log.opcodes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Opcode{domain.OpSend}, support.log.opcodes())
	assert.Empty(t, other.log.opcodes())

	id, err := m.supportClusterID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestManager_SupportDiscoveryFailsWithoutSupportGuild(t *testing.T) {
	m, url := newTestManager(t, Config{RequestTimeout: 200 * time.Millisecond})
	connectCluster(t, url, 0, guildCounter(0, nil))
	waitConnected(t, m, 0)

	_, err := m.supportClusterID(context.Background())
	assert.ErrorIs(t, err, ErrNoSupportCluster)
}

func TestManager_InvalidateSkipsOrigin(t *testing.T) {
	m, url := newTestManager(t, Config{})

	origin := connectCluster(t, url, 0, nil)
	peer := connectCluster(t, url, 1, nil)
	waitConnected(t, m, 0, 1)

	inv, err := domain.NewEnvelope(domain.OpInvalidateCache, domain.TargetAll,
		domain.InvalidateCachePayload{Table: "guilds", Identifier: domain.ID(4)})
	require.NoError(t, err)
	reload, err := domain.NewEnvelope(domain.OpReload, domain.TargetAll, domain.ReloadPayload{Module: "tts"})
	require.NoError(t, err)

	require.NoError(t, origin.client.Send(context.Background(), inv))
	require.NoError(t, origin.client.Send(context.Background(), reload))

	require.Eventually(t, func() bool {
		return len(origin.log.opcodes()) == 1 && len(peer.log.opcodes()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Opcode{domain.OpReload}, origin.log.opcodes())
	assert.Equal(t, []domain.Opcode{domain.OpInvalidateCache, domain.OpReload}, peer.log.opcodes())
}

func TestManager_ChangeLogLevelAppliesLocallyAndBroadcasts(t *testing.T) {
	levels := &MockLevels{}
	levels.On("SetLevel", "debug").Return(nil).Once()
	m, url := newTestManager(t, Config{Levels: levels})

	a := connectCluster(t, url, 0, nil)
	b := connectCluster(t, url, 1, nil)
	waitConnected(t, m, 0, 1)

	env, err := domain.NewEnvelope(domain.OpChangeLogLevel, domain.TargetAll, domain.LogLevelPayload{Level: "debug"})
	require.NoError(t, err)
	require.NoError(t, a.client.Send(context.Background(), env))

	require.Eventually(t, func() bool {
		return len(a.log.opcodes()) == 1 && len(b.log.opcodes()) == 1
	}, time.Second, 5*time.Millisecond)
	levels.AssertExpectations(t)
}

func TestManager_KillSignalsTargetProcess(t *testing.T) {
	m, url := newTestManager(t, Config{})
	sender := connectCluster(t, url, 0, nil)
	waitConnected(t, m, 0)

	proc := newFakeProcess(11)
	m.processes.Store(1, proc)

	env, err := domain.NewEnvelope(domain.OpKill, domain.ClusterTarget(1), nil)
	require.NoError(t, err)
	require.NoError(t, sender.client.Send(context.Background(), env))

	require.Eventually(t, func() bool {
		return len(proc.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, proc.received())
}

type exitResult struct {
	code     int
	signaled bool
}

type fakeProcess struct {
	pid  int
	exit chan exitResult

	mu      sync.Mutex
	signals []syscall.Signal
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exit: make(chan exitResult, 1)}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() (int, bool, error) {
	r := <-p.exit
	return r.code, r.signaled, nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGKILL {
		select {
		case p.exit <- exitResult{signaled: true}:
		default:
		}
	}
	return nil
}

func (p *fakeProcess) received() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

// fakeSpawner devuelve procesos que salen con los códigos programados por
// cluster; sin códigos pendientes, el proceso queda vivo.
type fakeSpawner struct {
	mu        sync.Mutex
	codes     map[int][]int
	spawned   map[int]int
	processes []*fakeProcess
}

func (s *fakeSpawner) Spawn(_ context.Context, spec ClusterSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawned == nil {
		s.spawned = map[int]int{}
	}
	s.spawned[spec.ClusterID]++

	p := newFakeProcess(100*spec.ClusterID + s.spawned[spec.ClusterID])
	if queue := s.codes[spec.ClusterID]; len(queue) > 0 {
		p.exit <- exitResult{code: queue[0]}
		s.codes[spec.ClusterID] = queue[1:]
	}
	s.processes = append(s.processes, p)
	return p, nil
}

func (s *fakeSpawner) count(clusterID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned[clusterID]
}

func TestManager_RunRestartsThenShutsDown(t *testing.T) {
	spawner := &fakeSpawner{codes: map[int][]int{
		0: {int(domain.ExitRestartCluster), int(domain.ExitDoNotRestart)},
	}}
	m := NewManager(Config{
		ShardCount:       4,
		ShardsPerCluster: 2,
		Spawner:          spawner,
		RestartDelay:     50 * time.Millisecond,
		ShutdownGrace:    100 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, 2, spawner.count(0))
	assert.Equal(t, 1, spawner.count(1))

	var killed int
	for _, p := range spawner.processes {
		for _, sig := range p.received() {
			if sig == syscall.SIGKILL {
				killed++
			}
		}
	}
	assert.Equal(t, 1, killed)
}

func TestManager_RunStopsOnContextCancel(t *testing.T) {
	spawner := &fakeSpawner{}
	m := NewManager(Config{
		ShardCount:       1,
		ShardsPerCluster: 1,
		Spawner:          spawner,
		ShutdownGrace:    50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return spawner.count(0) == 1 }, time.Second, 5*time.Millisecond)
		cancel()
	}()

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, 1, spawner.count(0))
}

func TestManager_RunWithoutShards(t *testing.T) {
	m := NewManager(Config{Spawner: &fakeSpawner{}})
	assert.Error(t, m.Run(context.Background()))
}
