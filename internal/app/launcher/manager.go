// Package launcher supervisa los procesos de cluster y enruta el canal de
// control entre ellos.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/metrics"
	"ttsBotPremium/internal/interface/api/ws"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultShutdownGrace  = 10 * time.Second
	defaultRestartDelay   = time.Second
)

var ErrNoSupportCluster = errors.New("launcher: no cluster holds the support guild")

// LevelSetter aplica el nivel de log del launcher.
type LevelSetter interface {
	SetLevel(name string) error
}

type Config struct {
	// Addr vacío: el llamador monta Handler por su cuenta.
	Addr             string
	ShardCount       int
	ShardsPerCluster int
	Spawner          Spawner
	Levels           LevelSetter
	RequestTimeout   time.Duration
	ShutdownGrace    time.Duration
	RestartDelay     time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

type action int

const (
	actionRestart action = iota
	actionShutdown
	actionStop
)

// decide aplica la política de reinicio según cómo terminó el proceso.
func decide(code int, signaled bool) action {
	if signaled {
		return actionStop
	}
	switch domain.ExitStatus(code) {
	case domain.ExitKillEverything, domain.ExitDoNotRestart:
		return actionShutdown
	default:
		return actionRestart
	}
}

type Manager struct {
	cfg    Config
	logger *zap.Logger
	server *ws.Server
	groups [][]int

	processes *xsync.MapOf[int, Process]
	pending   *xsync.MapOf[string, chan map[string]any]

	supportMu      sync.Mutex
	supportCluster *int

	shuttingDown atomic.Bool
	shutdownReq  chan struct{}
	shutdownOnce sync.Once
	watchers     sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &Manager{
		cfg:         cfg,
		logger:      cfg.Logger.With(zap.String("component", "launcher")),
		groups:      ShardGroups(cfg.ShardCount, cfg.ShardsPerCluster),
		processes:   xsync.NewMapOf[int, Process](),
		pending:     xsync.NewMapOf[string, chan map[string]any](),
		shutdownReq: make(chan struct{}),
	}
	m.server = ws.NewServer(ws.ServerConfig{
		Addr:    cfg.Addr,
		Handler: m.handle,
		OnDisconnect: func(clusterID int) {
			m.forgetSupport(clusterID)
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	return m
}

// Groups devuelve los shards asignados a cada cluster.
func (m *Manager) Groups() [][]int { return m.groups }

func (m *Manager) Server() *ws.Server { return m.server }

// Run levanta el servidor y un watcher por cluster, y bloquea hasta que el
// contexto se cancela o un cluster pide apagar todo.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.groups) == 0 {
		return errors.New("launcher: no shards to launch")
	}
	if m.cfg.Spawner == nil {
		return errors.New("launcher: no spawner configured")
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverErr := make(chan error, 1)
	if m.cfg.Addr != "" {
		go func() { serverErr <- m.server.Start(serverCtx) }()
	}

	m.logger.Info("launching clusters",
		zap.Int("clusters", len(m.groups)),
		zap.Int("shards", m.cfg.ShardCount),
		zap.Int("shards_per_cluster", m.cfg.ShardsPerCluster))

	for id, shards := range m.groups {
		spec := ClusterSpec{ClusterID: id, ShardIDs: shards, ShardCount: m.cfg.ShardCount}
		m.watchers.Add(1)
		go m.watch(ctx, spec)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-m.shutdownReq:
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("launcher: websocket server: %w", err)
		}
	}

	m.shutdown()
	return runErr
}

func (m *Manager) requestShutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdownReq) })
}

// shutdown manda close a todos y espera a los watchers; pasado el margen mata
// lo que quede.
func (m *Manager) shutdown() {
	m.shuttingDown.Store(true)
	m.requestShutdown()
	m.logger.Warn("shutting all clusters down")

	if env, err := domain.NewEnvelope(domain.OpClose, domain.TargetAll, nil); err == nil {
		m.server.Broadcast(env)
	}

	done := make(chan struct{})
	go func() {
		m.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all clusters stopped")
	case <-time.After(m.cfg.ShutdownGrace):
		m.logger.Error("timed out on shutdown, force killing")
		m.processes.Range(func(id int, p Process) bool {
			if err := p.Signal(syscall.SIGKILL); err != nil {
				m.logger.Warn("kill failed", zap.Int("cluster_id", id), zap.Error(err))
			}
			return true
		})
		<-done
	}
}

func (m *Manager) watch(ctx context.Context, spec ClusterSpec) {
	defer m.watchers.Done()
	log := m.logger.With(zap.Int("cluster_id", spec.ClusterID), zap.Ints("shards", spec.ShardIDs))

	for !m.shuttingDown.Load() {
		proc, err := m.cfg.Spawner.Spawn(ctx, spec)
		if err != nil {
			log.Error("cluster did not start, shutting everything down", zap.Error(err))
			m.requestShutdown()
			return
		}
		m.processes.Store(spec.ClusterID, proc)
		log.Info("cluster started", zap.Int("pid", proc.Pid()))

		code, signaled, err := proc.Wait()
		m.processes.Delete(spec.ClusterID)
		if err != nil {
			log.Error("wait on cluster failed", zap.Error(err))
		}
		if m.shuttingDown.Load() {
			return
		}

		switch decide(code, signaled) {
		case actionStop:
			log.Warn("cluster was killed by a signal, not restarting")
			return
		case actionShutdown:
			log.Warn("shutting down all clusters due to cluster exit", zap.Stringer("status", domain.ExitStatus(code)))
			m.requestShutdown()
			return
		default:
			if code == int(domain.ExitRestartCluster) {
				log.Warn("restarting cluster", zap.Stringer("status", domain.ExitStatus(code)))
			} else {
				log.Error("cluster returned unknown value, restarting it", zap.Int("code", code))
			}
			m.cfg.Metrics.Restarted(domain.ExitStatus(code).String())
		}

		select {
		case <-time.After(m.cfg.RestartDelay):
		case <-m.shutdownReq:
			return
		}
	}
}

// handle recibe cada envelope de un cluster; Origin ya viene marcado.
func (m *Manager) handle(ctx context.Context, clusterID int, env domain.Envelope) {
	log := m.logger.With(zap.Int("cluster_id", clusterID), zap.String("opcode", string(env.Opcode)))

	switch env.Opcode {
	case domain.OpRequest:
		// las respuestas llegan por los loops de lectura, este incluido
		go m.answerRequest(ctx, clusterID, env)

	case domain.OpResponse:
		m.deliverResponse(env, log)

	case domain.OpKill:
		m.kill(env, log)

	case domain.OpChangeLogLevel:
		var payload domain.LogLevelPayload
		if err := env.Decode(&payload); err != nil {
			log.Warn("bad log level payload", zap.Error(err))
			return
		}
		if m.cfg.Levels != nil {
			if err := m.cfg.Levels.SetLevel(payload.Level); err != nil {
				log.Warn("log level not changed", zap.Error(err))
			}
		}
		m.route(ctx, env, log)

	default:
		if env.Target == domain.TargetSupport {
			go m.route(ctx, env, log)
			return
		}
		m.route(ctx, env, log)
	}
}

// route entrega el envelope según su target.
func (m *Manager) route(ctx context.Context, env domain.Envelope, log *zap.Logger) {
	switch env.Target {
	case domain.TargetAll, "":
		var skip []int
		if env.Opcode == domain.OpInvalidateCache && env.Origin != nil {
			skip = append(skip, *env.Origin)
		}
		m.server.Broadcast(env, skip...)

	case domain.TargetSupport:
		id, err := m.supportClusterID(ctx)
		if err != nil {
			log.Warn("support cluster unknown, envelope dropped", zap.Error(err))
			return
		}
		if err := m.server.SendTo(id, env); err != nil {
			log.Warn("send to support cluster failed", zap.Error(err))
		}

	default:
		id, ok := env.TargetCluster()
		if !ok {
			log.Warn("unroutable target", zap.String("target", env.Target))
			return
		}
		if err := m.server.SendTo(id, env); err != nil {
			log.Warn("send failed", zap.Int("target_cluster", id), zap.Error(err))
		}
	}
}

func (m *Manager) answerRequest(ctx context.Context, clusterID int, env domain.Envelope) {
	var req domain.RequestPayload
	if err := env.Decode(&req); err != nil || req.Nonce == "" {
		m.logger.Warn("bad request payload", zap.Int("cluster_id", clusterID), zap.Error(err))
		return
	}

	target := env.Target
	if target == "" {
		target = domain.TargetAll
	}
	responses, err := m.Gather(ctx, req.Info, target)
	if err != nil {
		m.logger.Warn("request fan-out failed", zap.String("nonce", req.Nonce), zap.Error(err))
	}

	resp, err := domain.NewEnvelope(domain.OpResponse, req.Nonce, domain.AggregatedResponse{Responses: responses})
	if err != nil {
		m.logger.Error("encode aggregated response", zap.Error(err))
		return
	}
	if err := m.server.SendTo(clusterID, resp); err != nil {
		m.logger.Warn("aggregated response not delivered", zap.Int("cluster_id", clusterID), zap.Error(err))
	}
}

// Gather pide info a los clusters de target y junta sus respuestas. Si vence
// el timeout devuelve las que hayan llegado.
func (m *Manager) Gather(ctx context.Context, info []string, target string) ([]map[string]any, error) {
	targets, err := m.resolveTargets(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []map[string]any{}, nil
	}

	nonce := uuid.NewString()
	ch := make(chan map[string]any, len(targets))
	m.pending.Store(nonce, ch)
	defer m.pending.Delete(nonce)

	env, err := domain.NewEnvelope(domain.OpRequest, nonce, domain.RequestPayload{Info: info, Nonce: nonce})
	if err != nil {
		return nil, err
	}
	expected := 0
	for _, id := range targets {
		if err := m.server.SendTo(id, env); err != nil {
			m.logger.Warn("request not sent", zap.Int("cluster_id", id), zap.Error(err))
			continue
		}
		expected++
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	responses := make([]map[string]any, 0, expected)
	for len(responses) < expected {
		select {
		case resp := <-ch:
			responses = append(responses, resp)
		case <-ctx.Done():
			m.logger.Warn("request timed out with partial responses",
				zap.Int("expected", expected), zap.Int("received", len(responses)))
			return responses, nil
		}
	}
	return responses, nil
}

func (m *Manager) resolveTargets(ctx context.Context, target string) ([]int, error) {
	switch target {
	case domain.TargetAll, "":
		return m.server.Connected(), nil
	case domain.TargetSupport:
		id, err := m.supportClusterID(ctx)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	default:
		id, err := parseClusterTarget(target)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}
}

func parseClusterTarget(target string) (int, error) {
	id, ok := domain.Envelope{Target: target}.TargetCluster()
	if !ok {
		return 0, fmt.Errorf("launcher: invalid target %q", target)
	}
	return id, nil
}

func (m *Manager) deliverResponse(env domain.Envelope, log *zap.Logger) {
	ch, ok := m.pending.Load(env.Target)
	if !ok {
		// ya no la espera nadie
		return
	}
	payload := map[string]any{}
	if err := env.Decode(&payload); err != nil {
		log.Warn("bad response payload", zap.Error(err))
		return
	}
	select {
	case ch <- payload:
	default:
		log.Warn("unexpected extra response", zap.String("nonce", env.Target))
	}
}

// supportClusterID descubre, y recuerda, qué cluster tiene el servidor de soporte.
func (m *Manager) supportClusterID(ctx context.Context) (int, error) {
	m.supportMu.Lock()
	if m.supportCluster != nil {
		id := *m.supportCluster
		m.supportMu.Unlock()
		return id, nil
	}
	m.supportMu.Unlock()

	responses, err := m.Gather(ctx, []string{domain.InfoHasSupport}, domain.TargetAll)
	if err != nil {
		return 0, err
	}
	for _, resp := range responses {
		if v, ok := resp[domain.InfoHasSupport].(float64); ok {
			id := int(v)
			m.supportMu.Lock()
			m.supportCluster = &id
			m.supportMu.Unlock()
			m.logger.Debug("support cluster found", zap.Int("cluster_id", id))
			return id, nil
		}
	}
	return 0, ErrNoSupportCluster
}

func (m *Manager) forgetSupport(clusterID int) {
	m.supportMu.Lock()
	defer m.supportMu.Unlock()
	if m.supportCluster != nil && *m.supportCluster == clusterID {
		m.supportCluster = nil
	}
}

func (m *Manager) kill(env domain.Envelope, log *zap.Logger) {
	id, ok := env.TargetCluster()
	if !ok {
		log.Warn("kill without cluster target", zap.String("target", env.Target))
		return
	}
	var payload domain.KillPayload
	if err := env.Decode(&payload); err != nil {
		log.Warn("bad kill payload", zap.Error(err))
		return
	}
	sig := syscall.SIGTERM
	if payload.Signal != 0 {
		sig = syscall.Signal(payload.Signal)
	}

	proc, ok := m.processes.Load(id)
	if !ok {
		return
	}
	log.Warn("killing cluster", zap.Int("target_cluster", id), zap.Int("pid", proc.Pid()), zap.Stringer("signal", sig))
	if err := proc.Signal(sig); err != nil {
		log.Error("kill failed", zap.Int("target_cluster", id), zap.Error(err))
	}
}
