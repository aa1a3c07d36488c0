package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ttsBotPremium/internal/app/launcher"
	"ttsBotPremium/internal/infrastructure/config"
	"ttsBotPremium/internal/infrastructure/logging"
	"ttsBotPremium/internal/infrastructure/metrics"
	discordadapter "ttsBotPremium/internal/interface/adapters/discord"
)

type launcherFlags struct {
	configPath string
	botPath    string
}

func newRootCommand() *cobra.Command {
	flags := &launcherFlags{}
	cmd := &cobra.Command{
		Use:   "ttsbot-launcher",
		Short: "Starts and supervises the bot clusters",
		Long: `Splits the shards into clusters, runs one bot process per cluster and
relays the control channel between them. A cluster exiting with 1 is
restarted; 0 or 2 shuts every cluster down.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "config.yaml", "path to the config file")
	cmd.Flags().StringVar(&flags.botPath, "bot", "", "path to the bot binary; defaults to ./bot next to the launcher")
	cmd.Flags().Int("shard-count", 0, "overrides clustering.shard_count; 0 asks Discord")
	cmd.Flags().Int("shards-per-cluster", 0, "overrides clustering.shards_per_cluster")
	cmd.Flags().String("log-level", "", "overrides main.log_level")
	return cmd
}

func bindFlags(cmd *cobra.Command) config.Binder {
	return func(v *viper.Viper) error {
		for key, flag := range map[string]string{
			"clustering.shard_count":        "shard-count",
			"clustering.shards_per_cluster": "shards-per-cluster",
			"main.log_level":                "log-level",
		} {
			if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func run(cmd *cobra.Command, flags *launcherFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flags.configPath, bindFlags(cmd))
	if err != nil {
		return err
	}

	logs, err := logging.New(logging.Options{
		Level:     cfg.Main.LogLevel,
		Prefix:    "[Launcher] ",
		LogsURL:   cfg.Webhooks.Logs,
		ErrorsURL: cfg.Webhooks.Errors,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(prometheus.DefaultRegisterer)
		metrics.NewServer(cfg.Metrics.Addr, logger).Start(ctx)
	}

	shardCount := cfg.Clustering.ShardCount
	if shardCount <= 0 {
		shardCount, err = discordadapter.RecommendedShards(ctx, cfg.Main.Token)
		if err != nil {
			return err
		}
		logger.Info("using recommended shard count", zap.Int("shard_count", shardCount))
	}

	botPath, err := resolveBotPath(flags.botPath)
	if err != nil {
		return err
	}

	manager := launcher.NewManager(launcher.Config{
		Addr:             cfg.Clustering.ListenAddr(),
		ShardCount:       shardCount,
		ShardsPerCluster: cfg.Clustering.ShardsPerCluster,
		Spawner: launcher.ExecSpawner{
			Path: botPath,
			Args: []string{"--config", flags.configPath},
		},
		Levels:         logs,
		RequestTimeout: cfg.Clustering.RequestTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	return manager.Run(ctx)
}

func resolveBotPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate launcher binary: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "bot"), nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
