package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logscope/internal/config"
	"logscope/internal/task"

	// Store backends register their target schemes.
	_ "logscope/internal/store/jsonl"
	_ "logscope/internal/store/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured indexer unit and the query server",
		RunE:  runIndexer,
	}
	root.AddCommand(runCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored events of a stream as JSON lines",
		RunE:  runQuery,
	}
	queryCmd.Flags().String("stream", "", "stream name")
	queryCmd.Flags().String("tx", "", "only events of this transaction hash")
	queryCmd.Flags().Uint64("block", 0, "only events of this block number")
	_ = queryCmd.MarkFlagRequired("stream")
	root.AddCommand(queryCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode stored events of a stream against its ABI",
		RunE:  runDecode,
	}
	decodeCmd.Flags().String("stream", "", "stream name")
	decodeCmd.Flags().String("out", "./data/decoded_events.jsonl", "output decoded events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	_ = decodeCmd.MarkFlagRequired("stream")
	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("name", cfg.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	units, err := task.BuildUnits(ctx, cfg, logger)
	if err != nil {
		logger.Error("build units", zap.Error(err))
		return err
	}

	policy := task.BestEffort
	if cfg.Supervisor.FailFast {
		policy = task.FailFast
	}
	supervisor := task.NewSupervisor(logger,
		task.WithPolicy(policy),
		task.WithShutdownGrace(cfg.Supervisor.ShutdownGrace),
	)

	logger.Info("indexer start",
		zap.Int("indexers", len(cfg.Indexers)),
		zap.String("server", cfg.Server.ServerURL),
		zap.Stringer("policy", policy),
		zap.Duration("shutdown_grace", cfg.Supervisor.ShutdownGrace),
	)

	if err := supervisor.Run(context.Background(), units, ctx.Done()); err != nil {
		logger.Error("indexer stopped with error", zap.Error(err))
		return err
	}
	logger.Info("indexer stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
