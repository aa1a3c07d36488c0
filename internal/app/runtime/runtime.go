// Package runtime arma un proceso de cluster: configuración, logs, tablas de
// settings, canal de control, TTS y gateway de Discord.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ttsBotPremium/internal/app/events"
	"ttsBotPremium/internal/app/tables"
	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/cache/redisaudio"
	"ttsBotPremium/internal/infrastructure/config"
	"ttsBotPremium/internal/infrastructure/logging"
	"ttsBotPremium/internal/infrastructure/metrics"
	"ttsBotPremium/internal/infrastructure/persistence/postgres"
	sqlitestorage "ttsBotPremium/internal/infrastructure/persistence/sqlite"
	discordadapter "ttsBotPremium/internal/interface/adapters/discord"
	"ttsBotPremium/internal/interface/api/ws"
	"ttsBotPremium/internal/usecase/cluster"
	"ttsBotPremium/internal/usecase/commands"
	"ttsBotPremium/internal/usecase/handle_message"
	"ttsBotPremium/internal/usecase/notifications"
	ttsusecase "ttsBotPremium/internal/usecase/tts"
)

const closeTimeout = 15 * time.Second

type Options struct {
	ConfigPath string
	Binders    []config.Binder
	// Clustered indica que el proceso lo lanzó el launcher y debe conectarse
	// a su canal de control.
	Clustered  bool
	ClusterID  int
	ShardIDs   []int
	ShardCount int
}

type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	cfg     atomic.Pointer[config.Config]
	logs    *logging.Logging
	logger  *zap.Logger
	metrics *metrics.Metrics

	store      domain.StoreBackend
	guilds     *tables.Handler
	users      *tables.Handler
	nicknames  *tables.Handler
	audio      *redisaudio.Cache
	control    *ws.Client
	dispatcher *cluster.Dispatcher
	bus        *events.Bus
	discord    *discordadapter.Adapter

	exitOnce sync.Once
	status   domain.ExitStatus
	wg       sync.WaitGroup
}

// Start arma el proceso y arranca el gateway en segundo plano.
func Start(ctx context.Context, opts Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.ConfigPath, opts.Binders...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	prefix := ""
	if opts.Clustered {
		prefix = fmt.Sprintf("[Cluster %d] ", opts.ClusterID)
	}
	logs, err := logging.New(logging.Options{
		Level:     cfg.Main.LogLevel,
		Prefix:    prefix,
		LogsURL:   cfg.Webhooks.Logs,
		ErrorsURL: cfg.Webhooks.Errors,
	})
	if err != nil {
		return nil, err
	}
	logger := logs.Logger
	if opts.Clustered {
		logger = logger.With(zap.Int("cluster_id", opts.ClusterID))
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Runtime{
		ctx:    runCtx,
		cancel: cancel,
		opts:   opts,
		logs:   logs,
		logger: logger,
		bus:    events.NewBus(logger),
		status: domain.ExitKillEverything,
	}
	r.cfg.Store(cfg)

	if err := r.build(runCtx, cfg); err != nil {
		r.Close()
		return nil, err
	}
	r.run()
	return r, nil
}

func (r *Runtime) build(ctx context.Context, cfg *config.Config) error {
	if cfg.Metrics.Enabled {
		r.metrics = metrics.NewMetrics(prometheus.DefaultRegisterer)
		srv := metrics.NewServer(metricsAddr(cfg.Metrics.Addr, r.opts), r.logger)
		srv.Start(ctx)
	}

	store, err := openStore(ctx, cfg.Database, r.logger)
	if err != nil {
		return err
	}
	r.store = store
	if err := store.Migrate(ctx, domain.SettingsTables()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// publisher y requester quedan como interfaces nil sin launcher
	var (
		publisher domain.ControlPublisher
		requester domain.ClusterRequester
	)
	if r.opts.Clustered {
		r.control = ws.NewClient(ws.ClientConfig{
			URL:       cfg.Clustering.WebsocketURL(),
			ClusterID: r.opts.ClusterID,
			Handler:   r.handleControl,
			OnLost: func(err error) {
				r.logger.Error("control channel lost for good, restarting cluster", zap.Error(err))
				r.exit(domain.ExitRestartCluster)
			},
			Logger:  r.logger,
			Metrics: r.metrics,
		})
		publisher = r.control
		requester = r.control
	}

	r.discord = discordadapter.NewAdapter(discordadapter.Config{
		Token:          cfg.Main.Token,
		ShardIDs:       r.opts.ShardIDs,
		ShardCount:     r.opts.ShardCount,
		SupportGuildID: cfg.Main.MainServer,
		Trusted:        r.isTrusted,
		Logger:         r.logger,
	})

	responder := cluster.NewResponder(r.opts.ClusterID, r.discord, publisher, r.logger)
	r.dispatcher = cluster.NewDispatcher(cluster.DispatcherConfig{
		ClusterID: r.opts.ClusterID,
		Levels:    r.logs,
		Shutdown:  r.exit,
		Responder: responder,
		Bus:       r.bus,
		Logger:    r.logger,
	})
	r.dispatcher.RegisterReloader("config", r.reloadConfig)

	newTable := func(schema domain.TableSchema) *tables.Handler {
		return tables.NewHandler(tables.Config{
			Schema:        schema,
			Store:         store.Table(schema),
			Publisher:     publisher,
			Router:        r.dispatcher,
			FlushInterval: cfg.Tables.FlushInterval,
			WriteTimeout:  cfg.Tables.WriteTimeout,
			Logger:        r.logger,
			Metrics:       r.metrics,
		})
	}
	r.guilds = newTable(domain.GuildsTable)
	r.users = newTable(domain.UserInfoTable)
	r.nicknames = newTable(domain.NicknamesTable)

	var audioCache domain.AudioCache
	if cfg.Redis.Enabled {
		cache, err := redisaudio.Open(ctx, redisaudio.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Main.Key,
			TTL:      cfg.Redis.TTL,
		}, r.logger)
		if err != nil {
			return err
		}
		r.audio = cache
		audioCache = cache
	}

	speech := ttsusecase.NewService(ttsusecase.Config{
		Guilds: r.guilds,
		Users:  r.users,
		Cache:  audioCache,
		Logger: r.logger,
	})

	settings := commands.Tables{Guilds: r.guilds, Users: r.users, Nicknames: r.nicknames}
	control := cluster.NewControl(publisher, r.dispatcher)

	router := commands.NewRouter(r.guildPrefix, r.logger)
	router.Register(commands.NewHelpCommand())
	router.Register(commands.NewPingCommand(r.discord.Latency))
	router.Register(commands.NewTTSCommand(speech))
	router.Register(commands.NewSetCommand(settings, speech))
	router.Register(commands.NewSettingsCommand(settings))
	router.Register(commands.NewBotStatsCommand(requester, responder, cfg.Clustering.RequestTimeout))
	router.Register(commands.NewLogLevelCommand(control))
	router.Register(commands.NewReloadCommand(control))

	interactor := handle_message.NewInteractor(r.discord, router, r.users, r.logger)
	r.discord.SetHandler(interactor.Handle)
	r.discord.SetGuildRemovedHandler(r.guildRemoved)

	if r.control != nil {
		if err := r.control.Connect(ctx); err != nil {
			return fmt.Errorf("control channel: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (domain.StoreBackend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return store, nil
	default:
		store, err := sqlitestorage.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, nil
	}
}

// metricsAddr desplaza el puerto por el id del cluster para que varios
// procesos en la misma máquina no choquen.
func metricsAddr(addr string, opts Options) string {
	if !opts.Clustered {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, strconv.Itoa(p+1+opts.ClusterID))
}

func (r *Runtime) run() {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		err := r.discord.Start(r.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("discord gateway stopped", zap.Error(err))
			r.exit(domain.ExitRestartCluster)
		}
	}()
	go func() {
		defer r.wg.Done()
		notifications.NewEventLogger(r.bus, r.logger).Run(r.ctx)
	}()

	r.logger.Info("cluster started",
		zap.Ints("shards", r.opts.ShardIDs),
		zap.Int("shard_count", r.opts.ShardCount),
		zap.Bool("clustered", r.opts.Clustered))
}

func (r *Runtime) handleControl(ctx context.Context, env domain.Envelope) {
	r.dispatcher.Handle(ctx, env)
}

func (r *Runtime) isTrusted(userID int64) bool {
	return r.cfg.Load().Main.IsTrusted(userID)
}

func (r *Runtime) guildPrefix(ctx context.Context, guildID int64) (string, error) {
	row, err := r.guilds.Get(ctx, domain.ID(guildID))
	if err != nil {
		return "", err
	}
	return row.Text("prefix"), nil
}

func (r *Runtime) guildRemoved(_ context.Context, guildID int64) {
	r.guilds.Delete(domain.ID(guildID))
	r.bus.Publish(events.TopicGuildRemoved, events.GuildRemoved{GuildID: guildID})
}

// reloadConfig relee la configuración: owners y nivel de log.
func (r *Runtime) reloadConfig(_ context.Context) error {
	cfg, err := config.Load(r.opts.ConfigPath, r.opts.Binders...)
	if err != nil {
		return err
	}
	if err := r.logs.SetLevel(cfg.Main.LogLevel); err != nil {
		return err
	}
	r.cfg.Store(cfg)
	return nil
}

// exit pide terminar el proceso con status; solo cuenta la primera vez.
func (r *Runtime) exit(status domain.ExitStatus) {
	r.exitOnce.Do(func() {
		r.status = status
		r.logger.Info("shutdown requested", zap.Stringer("status", status))
		r.cancel()
	})
}

// Wait bloquea hasta que el proceso debe terminar y devuelve el estado de
// salida para el launcher.
func (r *Runtime) Wait() domain.ExitStatus {
	<-r.ctx.Done()
	r.exitOnce.Do(func() {})
	return r.status
}

// Close apaga todo en orden: gateway, tablas (su último flush todavía
// invalida en los demás clusters), canal de control y por último el store.
func (r *Runtime) Close() {
	r.cancel()
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for _, h := range []*tables.Handler{r.guilds, r.users, r.nicknames} {
		if h == nil {
			continue
		}
		if err := h.Close(ctx); err != nil {
			r.logger.Error("table did not flush on close", zap.String("table", h.Name()), zap.Error(err))
		}
	}

	if r.control != nil {
		_ = r.control.Close()
	}
	if r.audio != nil {
		if err := r.audio.Close(); err != nil {
			r.logger.Warn("close audio cache", zap.Error(err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("close store", zap.Error(err))
		}
	}
	r.bus.Close()
	r.logger.Info("cluster stopped")
	_ = r.logs.Close()
}
