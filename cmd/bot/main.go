package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ttsBotPremium/internal/app/runtime"
	"ttsBotPremium/internal/domain"
	"ttsBotPremium/internal/infrastructure/config"
)

type botFlags struct {
	configPath string
	clusterID  int
	shards     []int
	shardCount int
}

func newRootCommand(exitCode *int) *cobra.Command {
	flags := &botFlags{}
	cmd := &cobra.Command{
		Use:   "ttsbot",
		Short: "Discord TTS bot cluster process",
		Long: `Runs one cluster of the bot. Started by the launcher it connects to the
control channel with --cluster-id; without it the process runs standalone.
Configuration comes from the config file, .env and TTSBOT_* variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := run(cmd, flags)
			*exitCode = exitCodeFor(status, err)
			return err
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "config.yaml", "path to the config file")
	cmd.Flags().IntVar(&flags.clusterID, "cluster-id", -1, "cluster id assigned by the launcher; negative runs standalone")
	cmd.Flags().IntSliceVar(&flags.shards, "shards", nil, "comma separated shard ids of this cluster")
	cmd.Flags().IntVar(&flags.shardCount, "shard-count", 0, "total shard count of the bot")
	cmd.Flags().String("log-level", "", "overrides main.log_level")
	return cmd
}

func run(cmd *cobra.Command, flags *botFlags) (domain.ExitStatus, error) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	caught := make(chan os.Signal, 1)
	go func() {
		select {
		case sig := <-signals:
			caught <- sig
			cancel()
		case <-ctx.Done():
		}
	}()

	clustered := flags.clusterID >= 0
	opts := runtime.Options{
		ConfigPath: flags.configPath,
		Binders: []config.Binder{func(v *viper.Viper) error {
			return v.BindPFlag("main.log_level", cmd.Flags().Lookup("log-level"))
		}},
		Clustered:  clustered,
		ClusterID:  max(flags.clusterID, 0),
		ShardIDs:   flags.shards,
		ShardCount: flags.shardCount,
	}

	rt, err := runtime.Start(ctx, opts)
	if err != nil {
		return domain.ExitDoNotRestart, err
	}
	status := rt.Wait()
	rt.Close()

	select {
	case sig := <-caught:
		if clustered {
			reraise(sig)
		}
		return domain.ExitKillEverything, nil
	default:
		return status, nil
	}
}

// reraise vuelve a morir por la señal para que el launcher no reinicie el
// cluster ni apague a los demás.
func reraise(sig os.Signal) {
	signal.Reset(sig)
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Signal(sig)
	}
	time.Sleep(time.Second)
}

// exitCodeFor traduce el resultado de run al código que lee el launcher. Un
// arranque fallido (config inválida, flags malos) no se arregla reiniciando.
func exitCodeFor(status domain.ExitStatus, err error) int {
	if err != nil {
		return int(domain.ExitDoNotRestart)
	}
	return int(status)
}

func main() {
	exitCode := int(domain.ExitKillEverything)
	if err := newRootCommand(&exitCode).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(domain.ExitStatus(exitCode), err))
	}
	os.Exit(exitCode)
}
